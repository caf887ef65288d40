package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/relaychat/chat-app/internal/auth"
	"github.com/relaychat/chat-app/internal/message"
	"github.com/relaychat/chat-app/internal/ratelimit"
	"github.com/relaychat/chat-app/internal/storage"
)

type fakeUserStore struct {
	users    map[string]*storage.User // by ID
	byEmail  map[string]*storage.User
	messages []storage.Message
	nextID   int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:   make(map[string]*storage.User),
		byEmail: make(map[string]*storage.User),
	}
}

func (f *fakeUserStore) CreateUser(_ context.Context, email, fullName, passwordHash string) (*storage.User, error) {
	if _, ok := f.byEmail[email]; ok {
		return nil, storage.ErrEmailTaken
	}
	f.nextID++
	u := &storage.User{
		ID:           fmt.Sprintf("user-%d", f.nextID),
		Email:        email,
		FullName:     fullName,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	f.users[u.ID] = u
	f.byEmail[email] = u
	return u, nil
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (*storage.User, error) {
	u, ok := f.byEmail[email]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (*storage.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserStore) ListUsersExcluding(_ context.Context, selfID string) ([]storage.User, error) {
	var out []storage.User
	for _, u := range f.users {
		if u.ID != selfID {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUserStore) UpdateAvatar(_ context.Context, userID, avatarURL string) error {
	u, ok := f.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.AvatarURL = avatarURL
	return nil
}

func (f *fakeUserStore) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	u, ok := f.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeUserStore) FindMessagesBetween(_ context.Context, userA, userB string) ([]storage.Message, error) {
	var out []storage.Message
	for _, m := range f.messages {
		if (m.SenderID == userA && m.ReceiverID == userB) ||
			(m.SenderID == userB && m.ReceiverID == userA) {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeSender struct {
	sends []sendCall
	err   error
}

type sendCall struct {
	senderID, receiverID, text, image string
}

func (f *fakeSender) Send(_ context.Context, senderID, receiverID, text, imageDataURL string) (*storage.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sends = append(f.sends, sendCall{senderID, receiverID, text, imageDataURL})
	return &storage.Message{
		ID:         "msg-1",
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		CreatedAt:  time.Now(),
	}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, ratelimit.Rule) (bool, error) {
	return false, nil
}

type alwaysBanned struct{}

func (alwaysBanned) IsBanned(context.Context, string) (bool, time.Duration, error) {
	return true, 10 * time.Minute, nil
}

func newTestHandler(t *testing.T, cfg HandlerConfig) (*Handler, *fakeUserStore) {
	t.Helper()
	store := newFakeUserStore()
	if cfg.Store == nil {
		cfg.Store = store
	}
	if cfg.Tokens == nil {
		cfg.Tokens = auth.NewTokenManager("test-secret", time.Hour)
	}
	if cfg.Sender == nil {
		cfg.Sender = &fakeSender{}
	}
	return NewHandler(cfg), store
}

func signup(t *testing.T, h *Handler, email, name, password string) (*storage.User, *http.Cookie) {
	t.Helper()

	body := fmt.Sprintf(`{"email":%q,"full_name":%q,"password":%q}`, email, name, password)
	req := httptest.NewRequest("POST", "/api/auth/signup", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("signup returned %d: %s", rec.Code, rec.Body.String())
	}

	var u storage.User
	if err := json.Unmarshal(rec.Body.Bytes(), &u); err != nil {
		t.Fatalf("unmarshaling signup response: %v", err)
	}

	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return &u, c
		}
	}
	t.Fatal("signup did not set a session cookie")
	return nil, nil
}

func TestSignupAndLogin(t *testing.T) {
	h, _ := newTestHandler(t, HandlerConfig{})
	signup(t, h, "alice@example.com", "Alice", "secret123")

	// Duplicate email is rejected.
	body := `{"email":"alice@example.com","full_name":"Imposter","password":"secret123"}`
	req := httptest.NewRequest("POST", "/api/auth/signup", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate signup returned %d, want 409", rec.Code)
	}

	// Correct credentials log in.
	body = `{"email":"alice@example.com","password":"secret123"}`
	req = httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(body))
	rec = httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}

	// Wrong password and unknown email get the same response.
	for _, body := range []string{
		`{"email":"alice@example.com","password":"wrong"}`,
		`{"email":"nobody@example.com","password":"secret123"}`,
	} {
		req = httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(body))
		rec = httptest.NewRecorder()
		h.Mux().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("bad login returned %d, want 401", rec.Code)
		}
	}
}

func TestSignupValidation(t *testing.T) {
	h, _ := newTestHandler(t, HandlerConfig{})

	tests := []struct {
		name string
		body string
	}{
		{"missing fields", `{"email":"a@b.com"}`},
		{"bad email", `{"email":"not-an-email","full_name":"X","password":"secret123"}`},
		{"short password", `{"email":"a@b.com","full_name":"X","password":"abc"}`},
		{"malformed json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/auth/signup", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Mux().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("returned %d, want 400", rec.Code)
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	h, _ := newTestHandler(t, HandlerConfig{})

	paths := []struct{ method, path string }{
		{"GET", "/api/auth/check"},
		{"GET", "/api/messages/users"},
		{"GET", "/api/messages/user-2"},
		{"POST", "/api/messages/send/user-2"},
	}

	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		h.Mux().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s returned %d without cookie, want 401", p.method, p.path, rec.Code)
		}
	}

	// Garbage token is also rejected.
	req := httptest.NewRequest("GET", "/api/auth/check", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "not.a.jwt"})
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token returned %d, want 401", rec.Code)
	}
}

func TestCheckReturnsCurrentUser(t *testing.T) {
	h, _ := newTestHandler(t, HandlerConfig{})
	u, cookie := signup(t, h, "alice@example.com", "Alice", "secret123")

	req := httptest.NewRequest("GET", "/api/auth/check", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("check returned %d", rec.Code)
	}
	var got storage.User
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshaling: %v", err)
	}
	if got.ID != u.ID || got.Email != "alice@example.com" {
		t.Fatalf("check returned wrong user: %+v", got)
	}
}

func TestListUsersExcludesSelf(t *testing.T) {
	h, _ := newTestHandler(t, HandlerConfig{})
	_, cookie := signup(t, h, "alice@example.com", "Alice", "secret123")
	signup(t, h, "bob@example.com", "Bob", "secret123")

	req := httptest.NewRequest("GET", "/api/messages/users", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("list users returned %d", rec.Code)
	}
	var entries []directoryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshaling: %v", err)
	}
	if len(entries) != 1 || entries[0].Email != "bob@example.com" {
		t.Fatalf("expected only bob, got %+v", entries)
	}
}

func TestSendMessage(t *testing.T) {
	sender := &fakeSender{}
	h, _ := newTestHandler(t, HandlerConfig{Sender: sender})
	alice, cookie := signup(t, h, "alice@example.com", "Alice", "secret123")
	bob, _ := signup(t, h, "bob@example.com", "Bob", "secret123")

	body := `{"text":"hello bob"}`
	req := httptest.NewRequest("POST", "/api/messages/send/"+bob.ID, strings.NewReader(body))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("send returned %d: %s", rec.Code, rec.Body.String())
	}
	if len(sender.sends) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.sends))
	}
	call := sender.sends[0]
	if call.senderID != alice.ID || call.receiverID != bob.ID || call.text != "hello bob" {
		t.Fatalf("send called with wrong args: %+v", call)
	}
}

func TestSendMessageRejections(t *testing.T) {
	sender := &fakeSender{err: message.ErrEmptyMessage}
	h, _ := newTestHandler(t, HandlerConfig{Sender: sender})
	alice, cookie := signup(t, h, "alice@example.com", "Alice", "secret123")
	bob, _ := signup(t, h, "bob@example.com", "Bob", "secret123")

	// Empty payload maps to 400.
	req := httptest.NewRequest("POST", "/api/messages/send/"+bob.ID, strings.NewReader(`{}`))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty send returned %d, want 400", rec.Code)
	}

	// Sending to yourself is rejected before the pipeline runs.
	req = httptest.NewRequest("POST", "/api/messages/send/"+alice.ID, strings.NewReader(`{"text":"hi"}`))
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("self send returned %d, want 400", rec.Code)
	}

	// Unknown receiver is a 404.
	req = httptest.NewRequest("POST", "/api/messages/send/no-such-user", strings.NewReader(`{"text":"hi"}`))
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown receiver returned %d, want 404", rec.Code)
	}
}

func TestGetMessagesBetween(t *testing.T) {
	h, store := newTestHandler(t, HandlerConfig{})
	alice, cookie := signup(t, h, "alice@example.com", "Alice", "secret123")
	bob, _ := signup(t, h, "bob@example.com", "Bob", "secret123")
	carol, _ := signup(t, h, "carol@example.com", "Carol", "secret123")

	store.messages = []storage.Message{
		{ID: "m1", SenderID: alice.ID, ReceiverID: bob.ID, Text: "hi bob"},
		{ID: "m2", SenderID: bob.ID, ReceiverID: alice.ID, Text: "hi alice"},
		{ID: "m3", SenderID: alice.ID, ReceiverID: carol.ID, Text: "hi carol"},
	}

	req := httptest.NewRequest("GET", "/api/messages/"+bob.ID, nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("get messages returned %d", rec.Code)
	}
	var msgs []storage.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("unmarshaling: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.ID == "m3" {
			t.Fatal("conversation with carol leaked into bob's history")
		}
	}
}

func TestLoginRateLimited(t *testing.T) {
	h, _ := newTestHandler(t, HandlerConfig{Limiter: denyLimiter{}})
	signup(t, h, "alice@example.com", "Alice", "secret123")

	body := `{"email":"alice@example.com","password":"secret123"}`
	req := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("limited login returned %d, want 429", rec.Code)
	}
}

func TestBannedUserRejected(t *testing.T) {
	h, _ := newTestHandler(t, HandlerConfig{Bans: alwaysBanned{}})
	_, cookie := signup(t, h, "alice@example.com", "Alice", "secret123")

	req := httptest.NewRequest("GET", "/api/messages/users", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("banned user request returned %d, want 403", rec.Code)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	h, _ := newTestHandler(t, HandlerConfig{})

	req := httptest.NewRequest("POST", "/api/auth/logout", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("logout returned %d", rec.Code)
	}
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("logout did not expire the session cookie")
	}
}
