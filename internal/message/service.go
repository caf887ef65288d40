// Package message implements the server-side send pipeline: validate,
// resolve the image payload, persist, then best-effort push to the
// receiver's live connection. Persistence is the durability point; nothing
// that happens after it can fail a send.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/relaychat/chat-app/internal/media"
	"github.com/relaychat/chat-app/internal/messaging"
	"github.com/relaychat/chat-app/internal/metrics"
	"github.com/relaychat/chat-app/internal/protocol"
	"github.com/relaychat/chat-app/internal/storage"
)

// ErrEmptyMessage is returned when a send carries neither text nor image.
// The pipeline rejects it before any upload or persistence call is made.
var ErrEmptyMessage = errors.New("message: at least one of text or image is required")

// ErrUploadsDisabled is returned for image sends when no uploader is
// configured.
var ErrUploadsDisabled = errors.New("message: image uploads are not configured")

// Store persists messages durably.
type Store interface {
	CreateMessage(ctx context.Context, senderID, receiverID, text, imageURL string) (*storage.Message, error)
}

// Registry resolves a user to their current live connection, if any.
type Registry interface {
	Lookup(userID string) (string, bool)
}

// Pusher writes an encoded event to one live connection. Best-effort, no
// delivery confirmation.
type Pusher interface {
	Push(connID string, data []byte) error
}

// Publisher emits post-persistence events for downstream consumers (the
// moderation worker). May be nil; publishing never affects send semantics.
type Publisher interface {
	PublishMessagePersisted(data []byte) error
}

// Service is the message delivery pipeline.
type Service struct {
	store    Store
	uploader media.Uploader
	registry Registry
	pusher   Pusher
	events   Publisher
}

// NewService wires the pipeline. events may be nil.
func NewService(store Store, uploader media.Uploader, registry Registry, pusher Pusher, events Publisher) *Service {
	return &Service{
		store:    store,
		uploader: uploader,
		registry: registry,
		pusher:   pusher,
		events:   events,
	}
}

// Send validates and persists a message from senderID to receiverID, then
// pushes it to the receiver's connection if one is registered. The sender's
// identity has already been verified by the auth layer. The persisted record,
// including the server-assigned ID and timestamp, is returned regardless of
// the push outcome.
//
// Failure semantics: any error before persistence aborts the whole send with
// no partial state. After persistence, push failures are swallowed — the
// message is durable and the receiver heals via a history fetch.
func (s *Service) Send(ctx context.Context, senderID, receiverID, text, imageDataURL string) (*storage.Message, error) {
	start := time.Now()

	if text == "" && imageDataURL == "" {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyMessage
	}
	if text != "" {
		if err := ValidateText(text); err != nil {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
	}

	// Resolve the image payload to a durable URL before touching the store.
	// An upload failure aborts the send: no message, no push.
	var imageURL string
	if imageDataURL != "" {
		if s.uploader == nil {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return nil, ErrUploadsDisabled
		}
		contentType, data, err := media.ParseDataURL(imageDataURL)
		if err != nil {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
		imageURL, err = s.uploader.Upload(ctx, contentType, data)
		if err != nil {
			return nil, fmt.Errorf("message: upload image: %w", err)
		}
	}

	// Durability point. If persistence fails after a successful upload the
	// stored asset is orphaned; there is no compensating deletion.
	msg, err := s.store.CreateMessage(ctx, senderID, receiverID, text, imageURL)
	if err != nil {
		return nil, fmt.Errorf("message: persist: %w", err)
	}

	s.push(msg)
	s.publish(msg)

	metrics.SendLatency.Observe(time.Since(start).Seconds())
	return msg, nil
}

// push delivers the persisted message to the receiver's connection if one is
// registered. A receiver without a connection is not an error; they will see
// the message on their next history fetch.
func (s *Service) push(msg *storage.Message) {
	connID, ok := s.registry.Lookup(msg.ReceiverID)
	if !ok {
		metrics.MessagesTotal.WithLabelValues("missed").Inc()
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		Message: toWire(msg),
	})
	if err != nil {
		log.Printf("message: build new-message for %s: %v", msg.ID, err)
		metrics.MessagesTotal.WithLabelValues("push_failed").Inc()
		return
	}

	if err := s.pusher.Push(connID, data); err != nil {
		// The receiver likely disconnected between lookup and write. The
		// message is already durable, so no retry.
		log.Printf("message: push %s to conn=%s failed: %v", msg.ID, connID, err)
		metrics.MessagesTotal.WithLabelValues("push_failed").Inc()
		return
	}
	metrics.MessagesTotal.WithLabelValues("delivered").Inc()
}

// publish emits the persisted message for the moderation worker. Best-effort.
func (s *Service) publish(msg *storage.Message) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(messaging.MessagePersistedEvent{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		Ts:         msg.CreatedAt.Unix(),
	})
	if err != nil {
		return
	}
	if err := s.events.PublishMessagePersisted(data); err != nil {
		log.Printf("message: publish persisted event for %s: %v", msg.ID, err)
	}
}

// toWire converts a persisted message to its wire representation.
func toWire(m *storage.Message) protocol.Message {
	return protocol.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		ImageURL:   m.ImageURL,
		CreatedAt:  m.CreatedAt,
	}
}
