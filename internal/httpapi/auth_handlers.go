package httpapi

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/relaychat/chat-app/internal/auth"
	"github.com/relaychat/chat-app/internal/media"
	"github.com/relaychat/chat-app/internal/ratelimit"
	"github.com/relaychat/chat-app/internal/storage"
)

type signupRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)

	if req.Email == "" || req.FullName == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "all fields are required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid email format")
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("[api] hashing password: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Email, req.FullName, hash)
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already exists")
			return
		}
		log.Printf("[api] creating user: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		log.Printf("[api] issuing token: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	if h.limiter != nil {
		if ok, _ := h.limiter.Allow(r.Context(), req.Email, ratelimit.RuleLogin); !ok {
			writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
			return
		}
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			// Same response as a bad password so emails can't be enumerated.
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		log.Printf("[api] fetching user: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if h.bans != nil {
		if banned, ttl, _ := h.bans.IsBanned(r.Context(), user.ID); banned {
			writeError(w, http.StatusForbidden,
				fmt.Sprintf("account suspended, try again in %s", ttl.Round(time.Second)))
			return
		}
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		log.Printf("[api] issuing token: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUserByID(r.Context(), UserID(r.Context()))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "user no longer exists")
			return
		}
		log.Printf("[api] fetching user: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type updateProfileRequest struct {
	Avatar string `json:"avatar"` // data URL
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Avatar == "" {
		writeError(w, http.StatusBadRequest, "avatar is required")
		return
	}
	if h.uploader == nil {
		writeError(w, http.StatusServiceUnavailable, "image uploads are not configured")
		return
	}

	contentType, data, err := media.ParseDataURL(req.Avatar)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid image payload")
		return
	}

	url, err := h.uploader.Upload(r.Context(), contentType, data)
	if err != nil {
		log.Printf("[api] avatar upload: %v", err)
		writeError(w, http.StatusBadGateway, "image upload failed")
		return
	}

	userID := UserID(r.Context())
	if err := h.store.UpdateAvatar(r.Context(), userID, url); err != nil {
		log.Printf("[api] updating avatar: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	user, err := h.store.GetUserByID(r.Context(), userID)
	if err != nil {
		log.Printf("[api] fetching user: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.NewPassword) < auth.MinPasswordLength {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
		return
	}

	userID := UserID(r.Context())
	user, err := h.store.GetUserByID(r.Context(), userID)
	if err != nil {
		log.Printf("[api] fetching user: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		writeError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		log.Printf("[api] hashing password: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := h.store.UpdatePassword(r.Context(), userID, hash); err != nil {
		log.Printf("[api] updating password: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}
