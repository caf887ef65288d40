package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one immutable chat message. Either Text or ImageURL is non-empty;
// the delivery pipeline validates this before calling CreateMessage, and the
// schema enforces it with a CHECK constraint as a second line of defense.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Text       string    `json:"text,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateMessage persists a new message and returns the full record with the
// server-assigned ID and timestamp. This is the durability point of a send.
func (s *Store) CreateMessage(ctx context.Context, senderID, receiverID, text, imageURL string) (*Message, error) {
	m := &Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		ImageURL:   imageURL,
	}

	const query = `
		INSERT INTO messages (id, sender_id, receiver_id, text, image_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query, m.ID, m.SenderID, m.ReceiverID, m.Text, m.ImageURL).
		Scan(&m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("storage: create message: %w", err)
	}
	return m, nil
}

// FindMessagesBetween returns every message exchanged between the two users,
// in creation order. The conversation is loaded in full; there is no
// pagination.
func (s *Store) FindMessagesBetween(ctx context.Context, userA, userB string) ([]Message, error) {
	const query = `
		SELECT id, sender_id, receiver_id, text, image_url, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("storage: find messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.ImageURL, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: find messages: %w", err)
	}
	return msgs, nil
}
