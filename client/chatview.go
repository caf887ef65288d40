package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Subscriber is the event subscription surface ChatView needs from Client.
type Subscriber interface {
	On(eventType string, handler func(json.RawMessage))
	Off(eventType string)
}

// HistoryFetcher fetches a conversation's full history, oldest first.
type HistoryFetcher interface {
	Messages(ctx context.Context, peerID string) ([]Message, error)
}

// ChatView maintains the state a chat UI renders: the active conversation's
// messages and the set of online users. Exactly one conversation is active
// at a time. Selecting a peer refetches that conversation's full history and
// subscribes to live pushes from that peer; messages from other users are
// not appended (they remain in the store and appear when their conversation
// is opened).
//
// All methods are goroutine-safe. Event handlers run on the client's read
// loop goroutine.
type ChatView struct {
	sub     Subscriber
	history HistoryFetcher

	mu       sync.Mutex
	peerID   string
	messages []Message
	online   map[string]struct{}
	onChange func()
}

// NewChatView creates a view and subscribes to presence updates. No
// conversation is active until SelectPeer is called.
func NewChatView(sub Subscriber, history HistoryFetcher) *ChatView {
	v := &ChatView{
		sub:     sub,
		history: history,
		online:  make(map[string]struct{}),
	}

	sub.On(TypePresenceUpdate, func(raw json.RawMessage) {
		var upd PresenceUpdate
		if err := json.Unmarshal(raw, &upd); err != nil {
			return
		}
		v.replaceOnline(upd.UserIDs)
	})

	return v
}

// OnChange registers a callback invoked after any state mutation, for UI
// re-rendering. May be nil.
func (v *ChatView) OnChange(fn func()) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// SelectPeer makes peerID's conversation active. The previous subscription
// is detached first, then the full history is fetched and the live
// subscription attached, so no event for the old peer can land in the new
// conversation. Selecting the already-active peer refetches history.
func (v *ChatView) SelectPeer(ctx context.Context, peerID string) error {
	v.sub.Off(TypeNewMessage)

	msgs, err := v.history.Messages(ctx, peerID)
	if err != nil {
		return fmt.Errorf("client: fetching history for %s: %w", peerID, err)
	}

	v.mu.Lock()
	v.peerID = peerID
	v.messages = msgs
	v.mu.Unlock()

	v.sub.On(TypeNewMessage, func(raw json.RawMessage) {
		var evt NewMessageEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return
		}
		v.appendFromPeer(evt.Message)
	})

	v.notify()
	return nil
}

// ClearPeer deactivates the current conversation and detaches the live
// subscription.
func (v *ChatView) ClearPeer() {
	v.sub.Off(TypeNewMessage)

	v.mu.Lock()
	v.peerID = ""
	v.messages = nil
	v.mu.Unlock()

	v.notify()
}

// Resync refetches the active conversation's history, replacing local
// state. Call it after a reconnect: pushes missed while offline are only in
// the store, and the refetched history absorbs them. No-op when no peer is
// selected.
func (v *ChatView) Resync(ctx context.Context) error {
	v.mu.Lock()
	peerID := v.peerID
	v.mu.Unlock()
	if peerID == "" {
		return nil
	}

	msgs, err := v.history.Messages(ctx, peerID)
	if err != nil {
		return fmt.Errorf("client: resyncing %s: %w", peerID, err)
	}

	v.mu.Lock()
	// The peer may have changed while the fetch was in flight; drop a stale
	// result instead of overwriting the new conversation.
	if v.peerID == peerID {
		v.messages = msgs
	}
	v.mu.Unlock()

	v.notify()
	return nil
}

// AppendOwn appends a message this user just sent, as returned by the send
// endpoint. Pushes only carry the peer's messages, so the sender's side is
// recorded here.
func (v *ChatView) AppendOwn(msg Message) {
	v.mu.Lock()
	v.messages = append(v.messages, msg)
	v.mu.Unlock()
	v.notify()
}

// Messages returns a copy of the active conversation, oldest first.
func (v *ChatView) Messages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// Peer returns the active conversation's peer ID, or an empty string.
func (v *ChatView) Peer() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.peerID
}

// IsOnline reports whether the given user is in the latest presence set.
func (v *ChatView) IsOnline(userID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.online[userID]
	return ok
}

// OnlineCount returns the size of the latest presence set.
func (v *ChatView) OnlineCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.online)
}

// appendFromPeer appends a pushed message if it belongs to the active
// conversation. A push from any other user is dropped from the view; it is
// already durable server-side and will appear when that conversation is
// selected.
func (v *ChatView) appendFromPeer(msg Message) {
	v.mu.Lock()
	if v.peerID == "" || msg.SenderID != v.peerID {
		v.mu.Unlock()
		return
	}
	v.messages = append(v.messages, msg)
	v.mu.Unlock()
	v.notify()
}

// replaceOnline swaps in a new presence set wholesale. Every broadcast
// carries the complete online set, so no diffing is needed and a missed
// broadcast heals on the next one.
func (v *ChatView) replaceOnline(userIDs []string) {
	next := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		next[id] = struct{}{}
	}
	v.mu.Lock()
	v.online = next
	v.mu.Unlock()
	v.notify()
}

func (v *ChatView) notify() {
	v.mu.Lock()
	fn := v.onChange
	v.mu.Unlock()
	if fn != nil {
		fn()
	}
}
