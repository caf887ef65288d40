// Package messaging provides a NATS client wrapper for the moderation event
// bus. The chat server publishes persisted messages for review; the
// moderator worker publishes ban events back. It handles connection
// lifecycle and subject-based subscriptions.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used across Relay services.
const (
	SubjectMessagePersisted = "message.persisted"
	SubjectUserBanned       = "user.banned"
)

// MessagePersistedEvent is published by the chat server after a message is
// written to Postgres.
type MessagePersistedEvent struct {
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Text       string `json:"text"`
	Ts         int64  `json:"ts"`
}

// UserBannedEvent is published by the moderator when a user is banned.
// Chat servers force-disconnect the user's live connection on receipt.
type UserBannedEvent struct {
	UserID          string `json:"user_id"`
	Reason          string `json:"reason"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishMessagePersisted publishes a persisted-message event for the
// moderator. Satisfies the message service's Publisher interface.
func (c *NATSClient) PublishMessagePersisted(data []byte) error {
	return c.Publish(SubjectMessagePersisted, data)
}

// SubscribeMessagePersisted subscribes to persisted-message events. Queue
// group "moderators" lets multiple moderator workers share the stream
// without double-processing.
func (c *NATSClient) SubscribeMessagePersisted(handler func(data []byte)) error {
	sub, err := c.conn.QueueSubscribe(SubjectMessagePersisted, "moderators", func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectMessagePersisted, err)
	}

	c.mu.Lock()
	c.subs[SubjectMessagePersisted] = sub
	c.mu.Unlock()
	return nil
}

// PublishUserBanned publishes a ban event for chat servers.
func (c *NATSClient) PublishUserBanned(data []byte) error {
	return c.Publish(SubjectUserBanned, data)
}

// SubscribeUserBanned subscribes to ban events. Every chat server instance
// receives every event so each can evict the user if connected locally.
func (c *NATSClient) SubscribeUserBanned(handler func(data []byte)) error {
	return c.Subscribe(SubjectUserBanned, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
