package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseClientMessage_Typing(t *testing.T) {
	data := []byte(`{"type":"typing","to":"u-42","is_typing":true}`)

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeTyping {
		t.Errorf("expected type %q, got %q", TypeTyping, msgType)
	}

	typing, ok := msg.(TypingMsg)
	if !ok {
		t.Fatalf("expected TypingMsg, got %T", msg)
	}
	if typing.To != "u-42" {
		t.Errorf("expected to=u-42, got %q", typing.To)
	}
	if !typing.IsTyping {
		t.Error("expected is_typing=true")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"to":"u-1"}`))
	if err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	msgType, _, err := ParseClientMessage([]byte(`{"type":"presence-update"}`))
	if err == nil {
		t.Fatal("expected error for server-only message type")
	}
	if msgType != TypePresenceUpdate {
		t.Errorf("expected the offending type to be returned, got %q", msgType)
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypePresenceUpdate, PresenceUpdateMsg{
		UserIDs: []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Type    string   `json:"type"`
		UserIDs []string `json:"user_ids"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}
	if decoded.Type != TypePresenceUpdate {
		t.Errorf("expected type %q, got %q", TypePresenceUpdate, decoded.Type)
	}
	if len(decoded.UserIDs) != 2 {
		t.Errorf("expected 2 user IDs, got %v", decoded.UserIDs)
	}
}

func TestNewServerMessage_OverridesPayloadType(t *testing.T) {
	// A stale or wrong type on the payload struct must not leak to the wire.
	data, err := NewServerMessage(TypePong, ErrorMsg{Type: "error"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(data), `"type":"pong"`) {
		t.Errorf("expected injected type pong, got %s", data)
	}
}
