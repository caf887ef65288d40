package message

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	MaxTextBytes = 4096 // max encoded size
	MaxTextChars = 2000 // max character count
)

// ErrInvalidText wraps all text validation failures so callers can map them
// to a client error in one check.
var ErrInvalidText = errors.New("message: invalid text")

// ValidateText checks that a non-empty message text meets content
// requirements.
func ValidateText(text string) error {
	if len(text) > MaxTextBytes {
		return fmt.Errorf("%w: exceeds %d byte limit", ErrInvalidText, MaxTextBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("%w: exceeds %d character limit", ErrInvalidText, MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidText)
	}
	return nil
}
