// Package history keeps a small in-memory window of recent messages per
// conversation. The moderator uses it to attach surrounding context to
// flags without querying Postgres for every flagged message.
package history

import "sync"

// MaxBufferMessages is the number of recent messages retained per
// conversation.
const MaxBufferMessages = 5

// Entry is a single message held in the buffer.
type Entry struct {
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
	Ts       int64  `json:"ts"`
}

// Buffer stores the last N messages per conversation. It is goroutine-safe
// and uses a fixed-size ring per conversation.
type Buffer struct {
	mu    sync.RWMutex
	rings map[string]*ring // conversation key -> ring
}

type ring struct {
	items []Entry
	pos   int
	count int
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{rings: make(map[string]*ring)}
}

// ConversationKey returns a direction-independent key for the pair of users,
// so both sides of a conversation share one buffer.
func ConversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// Add appends an entry to the conversation's ring. When the ring is full the
// oldest entry is overwritten.
func (b *Buffer) Add(key string, e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rings[key]
	if !ok {
		r = &ring{items: make([]Entry, MaxBufferMessages)}
		b.rings[key] = r
	}

	r.items[r.pos] = e
	r.pos = (r.pos + 1) % MaxBufferMessages
	if r.count < MaxBufferMessages {
		r.count++
	}
}

// Get returns the conversation's buffered entries oldest first. Returns an
// empty slice for an unknown conversation.
func (b *Buffer) Get(key string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.rings[key]
	if !ok {
		return []Entry{}
	}

	result := make([]Entry, r.count)
	start := (r.pos - r.count + MaxBufferMessages) % MaxBufferMessages
	for i := 0; i < r.count; i++ {
		result[i] = r.items[(start+i)%MaxBufferMessages]
	}
	return result
}

// Remove drops the conversation's buffer.
func (b *Buffer) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.rings, key)
}
