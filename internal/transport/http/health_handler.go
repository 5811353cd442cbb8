package http

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/render"

	"sheetledger/internal/websocket"
	contracts "sheetledger/pkg/contracts"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

const checkTimeout = 2 * time.Second

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status    string                `json:"status"`
	Build     contracts.VersionInfo `json:"build"`
	Checks    map[string]string     `json:"checks,omitempty"`
	Clients   int                   `json:"clients"`
	CheckedAt time.Time             `json:"checkedAt"`
}

// HealthHandler handles health requests
type HealthHandler struct {
	checks map[string]HealthCheck
	hub    *websocket.Hub
	logger *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checks map[string]HealthCheck, hub *websocket.Hub, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		hub:    hub,
		logger: logger.With(slog.String("handler", "health")),
	}
}

// Health handles GET /healthz. Any failing check turns the response into a 503.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Build:     contracts.GetVersionInfo(),
		CheckedAt: time.Now().UTC(),
	}
	if h.hub != nil {
		resp.Clients = h.hub.ClientCount()
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
	}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(r.Context(), "health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()))
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	if resp.Status != "ok" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}
