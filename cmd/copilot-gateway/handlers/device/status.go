package device

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/common"
	"github.com/wrale/copilot-device-gateway/internal/deviceflow"
	"github.com/wrale/copilot-device-gateway/internal/validation"
)

// StatusHandler probes a flow once without blocking
type StatusHandler struct {
	flow   deviceflow.Flow
	logger *zap.SugaredLogger
}

// NewStatus creates a status probe handler
func NewStatus(flow deviceflow.Flow, logger *zap.SugaredLogger) *StatusHandler {
	return &StatusHandler{flow: flow, logger: nopIfNil(logger)}
}

// ServeHTTP handles status requests. A terminal provider error is reported
// with status 400 and the provider's error code.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceCode := strings.TrimSpace(r.URL.Query().Get("device_code"))
	if err := validation.ValidateDeviceCode(deviceCode); err != nil {
		common.WriteError(w, r, err)
		return
	}

	status, err := h.flow.PollStatus(r.Context(), deviceCode)
	if err != nil {
		h.logger.Debugw("Status probe failed", "error", err)
		common.WriteError(w, r, err)
		return
	}

	resp := StatusResponse{
		Status:           status.State,
		Error:            status.Error,
		ErrorDescription: status.Description,
		Token:            newTokenResponse(status.Token),
	}

	if status.State == deviceflow.StateError {
		common.WriteStatus(w, r, http.StatusBadRequest, status.Error, status.Description, resp)
		return
	}
	common.WriteJSON(w, r, resp)
}
