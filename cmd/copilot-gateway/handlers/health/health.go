// Package health serves the readiness endpoint
package health

import (
	"context"
	"net/http"
	"sort"

	"github.com/go-chi/render"

	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/common"
)

// Checker is a component whose backing stores can be probed
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// Handler processes health check requests
type Handler struct {
	checks  map[string]Checker
	version string
}

// Response represents the health check response.
// Version is omitted when empty.
type Response struct {
	Status  string         `json:"status"`
	Version string         `json:"version,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// New creates a health handler probing each named component
func New(checks map[string]Checker) *Handler {
	return &Handler{
		checks:  checks,
		version: "unknown",
	}
}

// WithVersion sets the version for health check responses
func (h *Handler) WithVersion(version string) *Handler {
	h.version = version
	return h
}

// ServeHTTP reports 503 when any component is unhealthy
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	common.SetJSONHeaders(w)

	response := Response{
		Status:  "healthy",
		Version: h.version,
		Details: make(map[string]any, len(h.checks)),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name].CheckHealth(r.Context()); err != nil {
			response.Status = "unhealthy"
			response.Details[name] = map[string]any{
				"status":  "unhealthy",
				"message": err.Error(),
			}
			continue
		}
		response.Details[name] = map[string]any{"status": "healthy"}
	}

	if response.Status != "healthy" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, response)
}
