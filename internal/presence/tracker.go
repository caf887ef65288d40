// Package presence tracks which users currently hold a live WebSocket
// connection and keeps every connected client informed of the online set.
// The tracker is the only process-wide mutable state in the server: one
// instance per process, owned by the connection-lifecycle handlers and
// injected into whatever needs to resolve a user to a connection.
package presence

import (
	"log"
	"sort"
	"sync"

	"github.com/relaychat/chat-app/internal/metrics"
	"github.com/relaychat/chat-app/internal/protocol"
)

// Broadcaster pushes an encoded event to every live connection. Delivery is
// best-effort; failures on individual connections must not affect others.
type Broadcaster interface {
	Broadcast(data []byte)
}

// Tracker maps user IDs to their current connection ID and broadcasts the
// full online set after every mutation. At most one connection is tracked
// per user: a newer registration for the same user overwrites the older one.
type Tracker struct {
	mu     sync.RWMutex
	byUser map[string]string // user ID -> connection ID
	bc     Broadcaster
}

// NewTracker creates an empty Tracker that announces presence changes
// through bc.
func NewTracker(bc Broadcaster) *Tracker {
	return &Tracker{
		byUser: make(map[string]string),
		bc:     bc,
	}
}

// Register records connID as the user's current connection, overwriting any
// previous entry, and broadcasts the updated online set. It never fails.
func (t *Tracker) Register(userID, connID string) {
	t.mu.Lock()
	prev, had := t.byUser[userID]
	t.byUser[userID] = connID
	payload := t.snapshotLocked()
	t.mu.Unlock()

	if had {
		log.Printf("[presence] user=%s reconnected conn=%s (replaces %s)", userID, connID, prev)
	} else {
		log.Printf("[presence] user=%s online conn=%s", userID, connID)
	}
	metrics.OnlineUsers.Set(float64(t.Count()))
	t.broadcast(payload)
}

// Unregister removes the user's entry only if connID is still the current
// connection for that user. A disconnect event for a connection that has
// already been superseded by a newer registration is ignored, so a slow
// close of an old socket cannot knock a freshly reconnected user offline.
// It returns true if an entry was removed.
func (t *Tracker) Unregister(userID, connID string) bool {
	t.mu.Lock()
	current, ok := t.byUser[userID]
	if !ok || current != connID {
		t.mu.Unlock()
		if ok {
			log.Printf("[presence] stale disconnect user=%s conn=%s (current=%s), ignoring", userID, connID, current)
		}
		return false
	}
	delete(t.byUser, userID)
	payload := t.snapshotLocked()
	t.mu.Unlock()

	log.Printf("[presence] user=%s offline conn=%s", userID, connID)
	metrics.OnlineUsers.Set(float64(t.Count()))
	t.broadcast(payload)
	return true
}

// Lookup returns the connection ID currently registered for the user.
func (t *Tracker) Lookup(userID string) (string, bool) {
	t.mu.RLock()
	connID, ok := t.byUser[userID]
	t.mu.RUnlock()
	return connID, ok
}

// OnlineUserIDs returns the sorted set of user IDs with a live connection.
// The set is recomputed from the registry keys, never tracked incrementally.
func (t *Tracker) OnlineUserIDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.byUser))
	for id := range t.byUser {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of online users.
func (t *Tracker) Count() int {
	t.mu.RLock()
	n := len(t.byUser)
	t.mu.RUnlock()
	return n
}

// Rebroadcast pushes the current online set without mutating the registry.
// Broadcasting the same state twice yields byte-identical payloads.
func (t *Tracker) Rebroadcast() {
	t.mu.RLock()
	payload := t.snapshotLocked()
	t.mu.RUnlock()
	t.broadcast(payload)
}

// snapshotLocked encodes the presence-update payload for the current online
// set. Callers must hold t.mu (read or write): taking the snapshot under the
// same lock as the mutation keeps mutation and broadcast atomic from the
// point of view of any other registry reader.
func (t *Tracker) snapshotLocked() []byte {
	ids := make([]string, 0, len(t.byUser))
	for id := range t.byUser {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := protocol.NewServerMessage(protocol.TypePresenceUpdate, protocol.PresenceUpdateMsg{
		UserIDs: ids,
	})
	if err != nil {
		log.Printf("[presence] failed to build presence-update: %v", err)
		return nil
	}
	return data
}

func (t *Tracker) broadcast(payload []byte) {
	if payload == nil || t.bc == nil {
		return
	}
	metrics.PresenceBroadcasts.Inc()
	t.bc.Broadcast(payload)
}
