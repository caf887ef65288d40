// Package httpapi implements the REST surface: signup, login, profile
// management, the user directory, conversation history, and the HTTP send
// endpoint. Handlers are mounted on the chat server's mux alongside the
// WebSocket upgrade route.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/relaychat/chat-app/internal/auth"
	"github.com/relaychat/chat-app/internal/media"
	"github.com/relaychat/chat-app/internal/ratelimit"
	"github.com/relaychat/chat-app/internal/storage"
)

// CookieName is the session cookie carrying the JWT.
const CookieName = "jwt"

// UserStore is the subset of the storage layer the API needs.
type UserStore interface {
	CreateUser(ctx context.Context, email, fullName, passwordHash string) (*storage.User, error)
	GetUserByEmail(ctx context.Context, email string) (*storage.User, error)
	GetUserByID(ctx context.Context, id string) (*storage.User, error)
	ListUsersExcluding(ctx context.Context, selfID string) ([]storage.User, error)
	UpdateAvatar(ctx context.Context, userID, avatarURL string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	FindMessagesBetween(ctx context.Context, userA, userB string) ([]storage.Message, error)
}

// Sender runs the message delivery pipeline for HTTP sends.
type Sender interface {
	Send(ctx context.Context, senderID, receiverID, text, imageDataURL string) (*storage.Message, error)
}

// RateLimiter guards login and send endpoints. May be nil (no limiting).
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// BanChecker rejects requests from banned users. May be nil (no bans).
type BanChecker interface {
	IsBanned(ctx context.Context, userID string) (bool, time.Duration, error)
}

// LastSeenStore decorates the user directory with recency. May be nil.
type LastSeenStore interface {
	GetMany(ctx context.Context, userIDs []string) map[string]time.Time
}

// Handler holds the API's dependencies.
type Handler struct {
	store    UserStore
	tokens   *auth.TokenManager
	sender   Sender
	uploader media.Uploader
	limiter  RateLimiter
	bans     BanChecker
	lastSeen LastSeenStore
	secure   bool // set Secure on cookies (behind TLS)
}

// HandlerConfig collects the dependencies for NewHandler. Limiter, Bans,
// LastSeen, and Uploader are optional.
type HandlerConfig struct {
	Store    UserStore
	Tokens   *auth.TokenManager
	Sender   Sender
	Uploader media.Uploader
	Limiter  RateLimiter
	Bans     BanChecker
	LastSeen LastSeenStore
	Secure   bool
}

// NewHandler creates the API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		store:    cfg.Store,
		tokens:   cfg.Tokens,
		sender:   cfg.Sender,
		uploader: cfg.Uploader,
		limiter:  cfg.Limiter,
		bans:     cfg.Bans,
		lastSeen: cfg.LastSeen,
		secure:   cfg.Secure,
	}
}

// Mux returns the API routes. Mount under /api/ on the server mux.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/signup", h.handleSignup)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.Handle("GET /api/auth/check", h.requireAuth(h.handleCheck))
	mux.Handle("PUT /api/auth/profile", h.requireAuth(h.handleUpdateProfile))
	mux.Handle("PUT /api/auth/password", h.requireAuth(h.handleUpdatePassword))

	mux.Handle("GET /api/messages/users", h.requireAuth(h.handleListUsers))
	mux.Handle("GET /api/messages/{id}", h.requireAuth(h.handleGetMessages))
	mux.Handle("POST /api/messages/send/{id}", h.requireAuth(h.handleSendMessage))

	return mux
}

// setSessionCookie writes the JWT cookie with the token's lifetime.
func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearSessionCookie expires the JWT cookie.
func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
}
