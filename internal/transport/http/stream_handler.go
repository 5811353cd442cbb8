package http

import (
	"log/slog"
	"net/http"

	gorilla "github.com/gorilla/websocket"

	"sheetledger/internal/middleware"
	"sheetledger/internal/websocket"
)

// StreamHandler upgrades GET /ws to a status stream for the caller
type StreamHandler struct {
	hub      *websocket.Hub
	upgrader gorilla.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(hub *websocket.Hub, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		hub:      hub,
		upgrader: websocket.Upgrader,
		logger:   logger.With(slog.String("handler", "stream")),
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		return
	}

	client := websocket.NewClient(h.hub, websocket.NewConnectionWrapper(conn), userID)
	h.logger.InfoContext(r.Context(), "websocket connected",
		slog.String("client_id", client.ID()),
		slog.Int64("user_id", userID))
	client.Serve()
}
