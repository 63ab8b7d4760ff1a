package device

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/common"
	"github.com/wrale/copilot-device-gateway/internal/deviceflow"
)

// InitiateHandler starts a device authorization flow
type InitiateHandler struct {
	flow   deviceflow.Flow
	logger *zap.SugaredLogger
}

// NewInitiate creates a flow initiation handler
func NewInitiate(flow deviceflow.Flow, logger *zap.SugaredLogger) *InitiateHandler {
	return &InitiateHandler{flow: flow, logger: nopIfNil(logger)}
}

// ServeHTTP handles initiation requests
func (h *InitiateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code, err := h.flow.Initiate(r.Context())
	if err != nil {
		h.logger.Errorw("Failed to initiate device flow", "error", err)
		common.WriteError(w, r, err)
		return
	}

	common.WriteJSON(w, r, newCodeResponse(code))
}
