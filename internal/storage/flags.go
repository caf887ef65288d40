package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// validFlagReasons mirrors the CHECK constraint on the message_flags table.
var validFlagReasons = map[string]bool{
	"blocked_keyword": true,
	"spam_pattern":    true,
}

// Flag records a message the moderation worker flagged, together with a
// snapshot of the recent conversation for reviewer context.
type Flag struct {
	MessageID  string
	SenderID   string
	ReceiverID string
	Reason     string
	Term       string
	Context    []FlagContextEntry
}

// FlagContextEntry is one message in the conversation snapshot attached to a
// flag.
type FlagContextEntry struct {
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
	Ts       int64  `json:"ts"`
}

// CreateFlag inserts a moderation flag. Context messages are marshalled to
// JSONB. The reason is validated against the allowed set before insertion.
func (s *Store) CreateFlag(ctx context.Context, flag *Flag) error {
	if !validFlagReasons[flag.Reason] {
		return fmt.Errorf("storage: invalid flag reason %q", flag.Reason)
	}

	var contextJSON []byte
	if len(flag.Context) > 0 {
		var err error
		contextJSON, err = json.Marshal(flag.Context)
		if err != nil {
			return fmt.Errorf("storage: marshal flag context: %w", err)
		}
	}

	const query = `
		INSERT INTO message_flags (message_id, sender_id, receiver_id, reason, term, context)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		flag.MessageID,
		flag.SenderID,
		flag.ReceiverID,
		flag.Reason,
		flag.Term,
		contextJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: insert flag: %w", err)
	}
	return nil
}

// CountRecentFlags returns the number of flags recorded against a sender
// within the given time window. The moderation worker uses this for its
// escalating auto-ban policy.
func (s *Store) CountRecentFlags(ctx context.Context, senderID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM message_flags
		WHERE sender_id = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, senderID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count recent flags: %w", err)
	}
	return count, nil
}
