package client

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

// fakeSub records handlers like the real client and lets tests inject
// server events.
type fakeSub struct {
	handlers map[string]func(json.RawMessage)
}

func newFakeSub() *fakeSub {
	return &fakeSub{handlers: make(map[string]func(json.RawMessage))}
}

func (f *fakeSub) On(eventType string, handler func(json.RawMessage)) {
	f.handlers[eventType] = handler
}

func (f *fakeSub) Off(eventType string) {
	delete(f.handlers, eventType)
}

func (f *fakeSub) emit(t *testing.T, eventType string, v any) {
	t.Helper()
	handler, ok := f.handlers[eventType]
	if !ok {
		return // no subscription; event is dropped, as on the real client
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}
	handler(data)
}

// fakeHistory serves canned conversations and counts fetches.
type fakeHistory struct {
	conversations map[string][]Message
	fetches       map[string]int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		conversations: make(map[string][]Message),
		fetches:       make(map[string]int),
	}
}

func (f *fakeHistory) Messages(_ context.Context, peerID string) ([]Message, error) {
	f.fetches[peerID]++
	msgs := f.conversations[peerID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *fakeHistory) add(peerID string, msg Message) {
	f.conversations[peerID] = append(f.conversations[peerID], msg)
}

func msgFrom(senderID, text string) Message {
	return Message{
		ID:        fmt.Sprintf("%s-%s", senderID, text),
		SenderID:  senderID,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

func texts(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestSelectPeerLoadsHistory(t *testing.T) {
	sub := newFakeSub()
	hist := newFakeHistory()
	hist.add("bob", msgFrom("bob", "hello"))
	hist.add("bob", msgFrom("alice", "hi bob"))

	v := NewChatView(sub, hist)
	if err := v.SelectPeer(context.Background(), "bob"); err != nil {
		t.Fatalf("SelectPeer: %v", err)
	}

	got := texts(v.Messages())
	if len(got) != 2 || got[0] != "hello" || got[1] != "hi bob" {
		t.Fatalf("messages = %v, want [hello, hi bob]", got)
	}
}

func TestLivePushAppends(t *testing.T) {
	sub := newFakeSub()
	hist := newFakeHistory()
	hist.add("bob", msgFrom("bob", "first"))

	v := NewChatView(sub, hist)
	if err := v.SelectPeer(context.Background(), "bob"); err != nil {
		t.Fatalf("SelectPeer: %v", err)
	}

	sub.emit(t, TypeNewMessage, NewMessageEvent{Message: msgFrom("bob", "second")})

	got := texts(v.Messages())
	if len(got) != 2 || got[1] != "second" {
		t.Fatalf("messages = %v, want push appended after history", got)
	}
}

func TestPushFromOtherUserIsNotAppended(t *testing.T) {
	sub := newFakeSub()
	hist := newFakeHistory()

	v := NewChatView(sub, hist)
	if err := v.SelectPeer(context.Background(), "bob"); err != nil {
		t.Fatalf("SelectPeer: %v", err)
	}

	// Carol messages while the bob conversation is open.
	sub.emit(t, TypeNewMessage, NewMessageEvent{Message: msgFrom("carol", "hey!")})

	if n := len(v.Messages()); n != 0 {
		t.Fatalf("carol's message leaked into bob's conversation (%d messages)", n)
	}

	// It shows up when carol's conversation is opened.
	hist.add("carol", msgFrom("carol", "hey!"))
	if err := v.SelectPeer(context.Background(), "carol"); err != nil {
		t.Fatalf("SelectPeer: %v", err)
	}
	got := texts(v.Messages())
	if len(got) != 1 || got[0] != "hey!" {
		t.Fatalf("carol's conversation = %v, want [hey!]", got)
	}
}

func TestPeerSwitchDoesNotDuplicate(t *testing.T) {
	sub := newFakeSub()
	hist := newFakeHistory()
	hist.add("bob", msgFrom("bob", "b1"))
	hist.add("carol", msgFrom("carol", "c1"))

	v := NewChatView(sub, hist)

	// Switch back and forth several times; each select replaces state
	// entirely, so nothing accumulates.
	for i := 0; i < 3; i++ {
		if err := v.SelectPeer(context.Background(), "bob"); err != nil {
			t.Fatalf("SelectPeer bob: %v", err)
		}
		if err := v.SelectPeer(context.Background(), "carol"); err != nil {
			t.Fatalf("SelectPeer carol: %v", err)
		}
	}

	if err := v.SelectPeer(context.Background(), "bob"); err != nil {
		t.Fatalf("SelectPeer bob: %v", err)
	}
	got := texts(v.Messages())
	if len(got) != 1 || got[0] != "b1" {
		t.Fatalf("bob's conversation after switches = %v, want [b1]", got)
	}

	// A push is appended once: exactly one handler is live however many
	// times the conversation was selected.
	sub.emit(t, TypeNewMessage, NewMessageEvent{Message: msgFrom("bob", "b2")})
	got = texts(v.Messages())
	if len(got) != 2 {
		t.Fatalf("push appended %d times, want once (messages %v)", len(got)-1, got)
	}
}

func TestResyncRecoversMissedMessages(t *testing.T) {
	sub := newFakeSub()
	hist := newFakeHistory()
	hist.add("bob", msgFrom("bob", "before"))

	v := NewChatView(sub, hist)
	if err := v.SelectPeer(context.Background(), "bob"); err != nil {
		t.Fatalf("SelectPeer: %v", err)
	}

	// The connection drops; bob's message lands only in the store.
	hist.add("bob", msgFrom("bob", "while offline"))

	// Reconnecting by itself changes nothing: there is no replay.
	if got := texts(v.Messages()); len(got) != 1 {
		t.Fatalf("messages before resync = %v, want just [before]", got)
	}

	// Resync refetches and absorbs the missed message.
	if err := v.Resync(context.Background()); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	got := texts(v.Messages())
	if len(got) != 2 || got[1] != "while offline" {
		t.Fatalf("messages after resync = %v, want [before, while offline]", got)
	}
}

func TestResyncWithoutPeerIsNoop(t *testing.T) {
	sub := newFakeSub()
	hist := newFakeHistory()

	v := NewChatView(sub, hist)
	if err := v.Resync(context.Background()); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if len(hist.fetches) != 0 {
		t.Fatal("Resync fetched history with no active peer")
	}
}

func TestAppendOwn(t *testing.T) {
	sub := newFakeSub()
	hist := newFakeHistory()

	v := NewChatView(sub, hist)
	if err := v.SelectPeer(context.Background(), "bob"); err != nil {
		t.Fatalf("SelectPeer: %v", err)
	}

	v.AppendOwn(msgFrom("alice", "my own message"))
	sub.emit(t, TypeNewMessage, NewMessageEvent{Message: msgFrom("bob", "reply")})

	got := texts(v.Messages())
	if len(got) != 2 || got[0] != "my own message" || got[1] != "reply" {
		t.Fatalf("messages = %v, want [my own message, reply]", got)
	}
}

func TestPresenceReplacesWholesale(t *testing.T) {
	sub := newFakeSub()
	v := NewChatView(sub, newFakeHistory())

	sub.emit(t, TypePresenceUpdate, PresenceUpdate{UserIDs: []string{"alice", "bob"}})
	if !v.IsOnline("alice") || !v.IsOnline("bob") {
		t.Fatal("first broadcast not applied")
	}

	// The next broadcast replaces the set; bob is gone, carol appears.
	sub.emit(t, TypePresenceUpdate, PresenceUpdate{UserIDs: []string{"alice", "carol"}})
	if v.IsOnline("bob") {
		t.Fatal("bob still online after a broadcast without him")
	}
	if !v.IsOnline("carol") {
		t.Fatal("carol missing after broadcast")
	}
	if v.OnlineCount() != 2 {
		t.Fatalf("online count = %d, want 2", v.OnlineCount())
	}

	// An empty set empties the view.
	sub.emit(t, TypePresenceUpdate, PresenceUpdate{UserIDs: nil})
	if v.OnlineCount() != 0 {
		t.Fatalf("online count = %d after empty broadcast, want 0", v.OnlineCount())
	}
}

func TestClearPeerDetaches(t *testing.T) {
	sub := newFakeSub()
	hist := newFakeHistory()

	v := NewChatView(sub, hist)
	if err := v.SelectPeer(context.Background(), "bob"); err != nil {
		t.Fatalf("SelectPeer: %v", err)
	}
	v.ClearPeer()

	sub.emit(t, TypeNewMessage, NewMessageEvent{Message: msgFrom("bob", "late")})
	if len(v.Messages()) != 0 {
		t.Fatal("push appended after ClearPeer")
	}
	if v.Peer() != "" {
		t.Fatalf("peer = %q after ClearPeer, want empty", v.Peer())
	}
}

func TestOnChangeFires(t *testing.T) {
	sub := newFakeSub()
	hist := newFakeHistory()
	hist.add("bob", msgFrom("bob", "hello"))

	v := NewChatView(sub, hist)
	var fired int
	v.OnChange(func() { fired++ })

	if err := v.SelectPeer(context.Background(), "bob"); err != nil {
		t.Fatalf("SelectPeer: %v", err)
	}
	sub.emit(t, TypePresenceUpdate, PresenceUpdate{UserIDs: []string{"bob"}})

	if fired < 2 {
		t.Fatalf("onChange fired %d times, want at least 2", fired)
	}
}
