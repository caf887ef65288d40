package httpapi

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/relaychat/chat-app/internal/media"
	"github.com/relaychat/chat-app/internal/message"
	"github.com/relaychat/chat-app/internal/ratelimit"
	"github.com/relaychat/chat-app/internal/storage"
)

// directoryEntry is a user in the sidebar listing, decorated with recency.
type directoryEntry struct {
	storage.User
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	selfID := UserID(r.Context())

	users, err := h.store.ListUsersExcluding(r.Context(), selfID)
	if err != nil {
		log.Printf("[api] listing users: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	entries := make([]directoryEntry, len(users))
	for i, u := range users {
		entries[i] = directoryEntry{User: u}
	}

	if h.lastSeen != nil {
		ids := make([]string, len(users))
		for i, u := range users {
			ids[i] = u.ID
		}
		seen := h.lastSeen.GetMany(r.Context(), ids)
		for i := range entries {
			if ts, ok := seen[entries[i].ID]; ok {
				t := ts
				entries[i].LastSeen = &t
			}
		}
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	selfID := UserID(r.Context())
	peerID := r.PathValue("id")
	if peerID == "" {
		writeError(w, http.StatusBadRequest, "peer id is required")
		return
	}

	msgs, err := h.store.FindMessagesBetween(r.Context(), selfID, peerID)
	if err != nil {
		log.Printf("[api] fetching messages: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"` // data URL, optional
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	selfID := UserID(r.Context())
	peerID := r.PathValue("id")
	if peerID == "" {
		writeError(w, http.StatusBadRequest, "receiver id is required")
		return
	}
	if peerID == selfID {
		writeError(w, http.StatusBadRequest, "cannot send a message to yourself")
		return
	}

	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if h.limiter != nil {
		if ok, _ := h.limiter.Allow(r.Context(), selfID, ratelimit.RuleSend); !ok {
			writeError(w, http.StatusTooManyRequests, "sending too fast, slow down")
			return
		}
	}

	// The receiver must exist; FK violations surface as 500s otherwise.
	if _, err := h.store.GetUserByID(r.Context(), peerID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "receiver not found")
			return
		}
		log.Printf("[api] fetching receiver: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	msg, err := h.sender.Send(r.Context(), selfID, peerID, req.Text, req.Image)
	if err != nil {
		switch {
		case errors.Is(err, message.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, "text or image is required")
		case errors.Is(err, message.ErrInvalidText):
			writeError(w, http.StatusBadRequest, "message text is too long or malformed")
		case errors.Is(err, media.ErrNotDataURL):
			writeError(w, http.StatusBadRequest, "invalid image payload")
		case errors.Is(err, message.ErrUploadsDisabled):
			writeError(w, http.StatusServiceUnavailable, "image uploads are not configured")
		default:
			log.Printf("[api] sending message: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to send message")
		}
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}
