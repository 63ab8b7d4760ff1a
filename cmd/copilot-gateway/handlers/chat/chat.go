// Package chat serves chat requests made on behalf of a session
package chat

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/common"
	"github.com/wrale/copilot-device-gateway/internal/copilot"
	"github.com/wrale/copilot-device-gateway/internal/session"
	"github.com/wrale/copilot-device-gateway/internal/validation"
)

// Chatter is implemented by session.Manager
type Chatter interface {
	Chat(ctx context.Context, id, message string) (*copilot.Reply, error)
	Converse(ctx context.Context, id string, messages []copilot.Message) (*copilot.Reply, error)
}

var _ Chatter = (*session.Manager)(nil)

// Request is a single user message
type Request struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ConversationRequest carries a full message history
type ConversationRequest struct {
	SessionID string            `json:"session_id"`
	Messages  []copilot.Message `json:"messages"`
}

// Response is the assistant's answer
type Response struct {
	Response string         `json:"response"`
	Model    string         `json:"model,omitempty"`
	Usage    *copilot.Usage `json:"usage,omitempty"`
}

// Handler serves chat requests
type Handler struct {
	sessions Chatter
	logger   *zap.SugaredLogger
}

// New creates a chat handler
func New(sessions Chatter, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{sessions: sessions, logger: logger}
}

// Chat sends one user message
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if err := validation.ValidateSessionID(req.SessionID); err != nil {
		common.WriteError(w, r, err)
		return
	}
	if err := validation.ValidateMessage(req.Message); err != nil {
		common.WriteError(w, r, err)
		return
	}

	reply, err := h.sessions.Chat(r.Context(), req.SessionID, req.Message)
	h.reply(w, r, req.SessionID, reply, err)
}

// Conversation sends a caller-supplied history
func (h *Handler) Conversation(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if err := validateConversation(req); err != nil {
		common.WriteError(w, r, err)
		return
	}

	reply, err := h.sessions.Converse(r.Context(), req.SessionID, req.Messages)
	h.reply(w, r, req.SessionID, reply, err)
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, sessionID string, reply *copilot.Reply, err error) {
	if err != nil {
		h.logger.Infow("Chat request rejected", "sessionID", sessionID, "error", err)
		common.WriteError(w, r, err)
		return
	}

	common.WriteJSON(w, r, Response{
		Response: reply.Content(),
		Model:    reply.Model,
		Usage:    reply.Usage,
	})
}

func validateConversation(req ConversationRequest) error {
	if err := validation.ValidateSessionID(req.SessionID); err != nil {
		return err
	}
	if err := validation.ValidateHistoryLength(len(req.Messages)); err != nil {
		return err
	}
	for _, m := range req.Messages {
		if err := validation.ValidateRole(m.Role); err != nil {
			return err
		}
		if err := validation.ValidateMessage(m.Content); err != nil {
			return err
		}
	}
	return nil
}
