// Package sessions serves session inspection and logout
package sessions

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/common"
	"github.com/wrale/copilot-device-gateway/internal/session"
	"github.com/wrale/copilot-device-gateway/internal/validation"
)

// Manager is the subset of session.Manager used here
type Manager interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	IsValid(ctx context.Context, id string) bool
	Invalidate(ctx context.Context, id string) error
}

var _ Manager = (*session.Manager)(nil)

// Info describes a session without exposing its tokens
type Info struct {
	SessionID string `json:"session_id"`
	Valid     bool   `json:"valid"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// Handler serves session requests. Routes must declare the {id} parameter.
type Handler struct {
	sessions Manager
	logger   *zap.SugaredLogger
}

// New creates a session handler
func New(sessions Manager, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{sessions: sessions, logger: logger}
}

// Get reports whether a session exists and is still valid
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateSessionID(id); err != nil {
		common.WriteError(w, r, err)
		return
	}

	s, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}

	common.WriteJSON(w, r, Info{
		SessionID: s.ID,
		Valid:     h.sessions.IsValid(r.Context(), id),
		CreatedAt: s.CreatedAt.Unix(),
		ExpiresAt: s.ExpiresAt().Unix(),
	})
}

// Delete logs a session out. Deleting an unknown session succeeds.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateSessionID(id); err != nil {
		common.WriteError(w, r, err)
		return
	}

	if err := h.sessions.Invalidate(r.Context(), id); err != nil {
		h.logger.Errorw("Failed to invalidate session", "sessionID", id, "error", err)
		common.WriteError(w, r, err)
		return
	}

	common.WriteJSON(w, r, "Logged out successfully")
}
