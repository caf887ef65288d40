// Package moderation screens message text for prohibited content. The
// moderator worker runs every persisted message through the filter and
// records flags for anything it blocks.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult is the outcome of a content check. Reason values match the
// message_flags.reason column: "blocked_keyword" or "spam_pattern".
type FilterResult struct {
	Blocked bool
	Reason  string
	Term    string
}

// Filter checks text against a blocklist of words and phrases plus a set of
// spam heuristics. A Filter is immutable after construction and safe for
// concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases [][]string
}

// defaultBlockedTerms is the built-in blocklist. Single words match per
// token, multi-word entries match as consecutive token sequences. Matching
// is case-insensitive and leetspeak-aware.
var defaultBlockedTerms = []string{
	// slurs
	"nigger", "nigga", "faggot", "kike", "spic", "chink", "tranny",
	// self-harm
	"kill yourself", "kys", "go die", "neck yourself",
	// exploitation
	"child porn", "cp trade", "send nudes", "loli",
	// violence and extremism
	"heil hitler", "bomb threat", "school shooting",
	// scams
	"free bitcoin", "crypto giveaway", "cash app flip",
}

// NewFilter creates a Filter with the built-in blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultBlockedTerms)
}

// NewFilterWithTerms creates a Filter with a custom blocklist. Empty and
// whitespace-only terms are skipped.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if parts := strings.Fields(term); len(parts) > 1 {
			f.phrases = append(f.phrases, parts)
		} else {
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Check screens text and returns a blocking result for the first match.
// Keyword matching runs in two passes: plain tokens, then leetspeak-
// normalized tokens so "b@dw0rd" matches "badword". Spam heuristics run
// last.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)

	if res := f.checkTokens(tokenizePlain(lower)); res.Blocked {
		return res
	}

	leet := make([]string, 0, 8)
	for _, tok := range tokenizeLeet(lower) {
		leet = append(leet, normalizeLeet(tok))
	}
	if res := f.checkTokens(leet); res.Blocked {
		return res
	}

	return f.checkSpamPatterns(text)
}

func (f *Filter) checkTokens(tokens []string) FilterResult {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: tok}
		}
	}

	for _, phrase := range f.phrases {
		if containsSequence(tokens, phrase) {
			return FilterResult{
				Blocked: true,
				Reason:  "blocked_keyword",
				Term:    strings.Join(phrase, " "),
			}
		}
	}

	return FilterResult{}
}

// containsSequence reports whether seq appears as consecutive elements of
// tokens.
func containsSequence(tokens, seq []string) bool {
	if len(seq) == 0 || len(tokens) < len(seq) {
		return false
	}
	for i := 0; i+len(seq) <= len(tokens); i++ {
		match := true
		for j, want := range seq {
			if tokens[i+j] != want {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// leetMap maps common character substitutions back to letters.
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// normalizeLeet replaces leetspeak substitutions with their letter
// equivalents. Characters without a mapping pass through unchanged.
func normalizeLeet(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if repl, ok := leetMap[r]; ok {
			b.WriteRune(repl)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenizePlain splits text into tokens on any non-letter, non-digit rune.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits text on whitespace only, preserving symbol characters
// inside tokens so leetspeak normalization can see them.
func tokenizeLeet(text string) []string {
	return strings.Fields(text)
}
