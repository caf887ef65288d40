// Package client is a Go client for the Relay chat server. It connects using
// gobwas/ws (the same library the server uses), dispatches incoming events
// to registered handlers, and transparently reconnects with backoff. ChatView
// layers conversation state on top: history fetch, live push merge, peer
// switching, and presence.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Event types mirrored from the server's wire protocol.
const (
	// Client -> Server.
	TypeTyping = "typing"
	TypePing   = "ping"

	// Server -> Client.
	TypePresenceUpdate = "presence-update"
	TypeNewMessage     = "new-message"
	TypeBanned         = "banned"
	TypeError          = "error"
	TypePong           = "pong"
)

// Message is a chat message as it appears on the wire.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Text       string    `json:"text,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PresenceUpdate carries the complete set of online user IDs.
type PresenceUpdate struct {
	UserIDs []string `json:"user_ids"`
}

// NewMessageEvent wraps a pushed message.
type NewMessageEvent struct {
	Message Message `json:"message"`
}

// TypingEvent is a typing indicator relayed from another user.
type TypingEvent struct {
	From     string `json:"from"`
	IsTyping bool   `json:"is_typing"`
}

// Reconnect backoff bounds.
const (
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 30 * time.Second
)

// Client is a live WebSocket connection to the chat server. Incoming events
// are dispatched to registered handlers from the read loop goroutine, so
// handlers should not block for extended periods.
type Client struct {
	url   string // ws URL including the token query parameter
	conn  net.Conn
	muW   sync.Mutex // serializes writes
	muC   sync.Mutex // guards conn replacement during reconnect
	muH   sync.Mutex // guards handlers
	muR   sync.Mutex // guards onReconnect

	handlers    map[string]func(json.RawMessage)
	onReconnect func()

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the server's /ws endpoint, authenticating with the given
// JWT. A background goroutine begins reading events immediately; register
// handlers with On before traffic is expected.
func Dial(ctx context.Context, wsURL, token string) (*Client, error) {
	full := wsURL + "?token=" + token

	conn, _, _, err := ws.Dial(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	c := &Client{
		url:      full,
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}

	go c.readLoop()
	return c, nil
}

// On registers a handler for a server event type. The handler receives the
// full raw JSON of the event. Only one handler per type is supported;
// registering a second handler for the same type replaces the first.
func (c *Client) On(eventType string, handler func(json.RawMessage)) {
	c.muH.Lock()
	c.handlers[eventType] = handler
	c.muH.Unlock()
}

// Off removes the handler for an event type. Events of that type are dropped
// until a new handler is registered.
func (c *Client) Off(eventType string) {
	c.muH.Lock()
	delete(c.handlers, eventType)
	c.muH.Unlock()
}

// OnReconnect registers a callback invoked after the client re-establishes a
// dropped connection. Reconnecting alone does not recover events missed while
// offline; callers refetch conversation state here (see ChatView.Resync).
func (c *Client) OnReconnect(fn func()) {
	c.muR.Lock()
	c.onReconnect = fn
	c.muR.Unlock()
}

// Send sends a JSON event to the server. Goroutine-safe.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}

	c.muC.Lock()
	conn := c.conn
	c.muC.Unlock()

	c.muW.Lock()
	defer c.muW.Unlock()
	return wsutil.WriteClientMessage(conn, ws.OpText, data)
}

// SendTyping notifies the server that this user started or stopped typing to
// the given peer.
func (c *Client) SendTyping(to string, isTyping bool) error {
	return c.Send(map[string]any{
		"type":      TypeTyping,
		"to":        to,
		"is_typing": isTyping,
	})
}

// Ping sends an application-level ping. The server answers with a pong event.
func (c *Client) Ping() error {
	return c.Send(map[string]string{"type": TypePing})
}

// Close shuts down the connection and stops the read loop. Safe to call
// multiple times. A closed client does not reconnect.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.muC.Lock()
		err = c.conn.Close()
		c.muC.Unlock()
	})
	return err
}

// readLoop reads frames and dispatches them until the client is closed. On a
// read error it attempts to reconnect with exponential backoff.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.muC.Lock()
		conn := c.conn
		c.muC.Unlock()

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if !c.redial() {
				return
			}
			continue
		}

		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}

	c.muH.Lock()
	handler, ok := c.handlers[envelope.Type]
	c.muH.Unlock()
	if ok {
		handler(json.RawMessage(data))
	}
}

// redial re-establishes the connection with exponential backoff. Returns
// false if the client was closed while retrying.
func (c *Client) redial() bool {
	delay := reconnectBaseDelay
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, _, _, err := ws.Dial(ctx, c.url)
		cancel()
		if err != nil {
			log.Printf("[client] reconnect failed: %v (retrying in %s)", err, delay)
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		c.muC.Lock()
		c.conn = conn
		c.muC.Unlock()

		log.Printf("[client] reconnected")

		c.muR.Lock()
		fn := c.onReconnect
		c.muR.Unlock()
		if fn != nil {
			fn()
		}
		return true
	}
}
