package storage

import (
	"strings"
	"testing"
	"time"
)

func TestCreateFlag_InvalidReason(t *testing.T) {
	store, ctx := setupTestStore(t)

	err := store.CreateFlag(ctx, &Flag{
		MessageID:  "00000000-0000-0000-0000-000000000000",
		SenderID:   "00000000-0000-0000-0000-000000000000",
		ReceiverID: "00000000-0000-0000-0000-000000000000",
		Reason:     "made_up_reason",
	})
	if err == nil || !strings.Contains(err.Error(), "invalid flag reason") {
		t.Errorf("expected invalid reason error, got %v", err)
	}
}

func TestFlags_CreateAndCount(t *testing.T) {
	store, ctx := setupTestStore(t)

	sender, err := store.CreateUser(ctx, uniqueEmail(t), "Sender", "h")
	if err != nil {
		t.Fatalf("creating sender: %v", err)
	}
	receiver, err := store.CreateUser(ctx, uniqueEmail(t), "Receiver", "h")
	if err != nil {
		t.Fatalf("creating receiver: %v", err)
	}

	count, err := store.CountRecentFlags(ctx, sender.ID, 24*time.Hour)
	if err != nil {
		t.Fatalf("counting flags: %v", err)
	}
	if count != 0 {
		t.Fatalf("fresh sender has %d flags, want 0", count)
	}

	for i := 0; i < 2; i++ {
		msg, err := store.CreateMessage(ctx, sender.ID, receiver.ID, "flagged text", "")
		if err != nil {
			t.Fatalf("creating message: %v", err)
		}
		err = store.CreateFlag(ctx, &Flag{
			MessageID:  msg.ID,
			SenderID:   sender.ID,
			ReceiverID: receiver.ID,
			Reason:     "blocked_keyword",
			Term:       "flagged",
			Context: []FlagContextEntry{
				{SenderID: sender.ID, Text: "flagged text", Ts: time.Now().Unix()},
			},
		})
		if err != nil {
			t.Fatalf("creating flag: %v", err)
		}
	}

	count, err = store.CountRecentFlags(ctx, sender.ID, 24*time.Hour)
	if err != nil {
		t.Fatalf("counting flags: %v", err)
	}
	if count != 2 {
		t.Fatalf("flag count = %d, want 2", count)
	}

	// A zero-width window excludes everything.
	count, err = store.CountRecentFlags(ctx, sender.ID, 0)
	if err != nil {
		t.Fatalf("counting flags: %v", err)
	}
	if count != 0 {
		t.Fatalf("flag count in empty window = %d, want 0", count)
	}
}
