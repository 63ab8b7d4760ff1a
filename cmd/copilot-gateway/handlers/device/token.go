package device

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/common"
	"github.com/wrale/copilot-device-gateway/internal/deviceflow"
	"github.com/wrale/copilot-device-gateway/internal/validation"
)

// TokenHandler blocks until the flow resolves and returns the access token
type TokenHandler struct {
	flow   deviceflow.Flow
	logger *zap.SugaredLogger
}

// NewToken creates a token handler
func NewToken(flow deviceflow.Flow, logger *zap.SugaredLogger) *TokenHandler {
	return &TokenHandler{flow: flow, logger: nopIfNil(logger)}
}

// ServeHTTP handles token requests
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	req.DeviceCode = strings.TrimSpace(req.DeviceCode)
	if err := validation.ValidateDeviceCode(req.DeviceCode); err != nil {
		common.WriteError(w, r, err)
		return
	}

	tok, err := h.flow.PollForToken(r.Context(), req.DeviceCode)
	if err != nil {
		h.logger.Infow("Token request did not complete", "error", err)
		common.WriteError(w, r, err)
		return
	}

	common.WriteJSON(w, r, newTokenResponse(tok))
}
