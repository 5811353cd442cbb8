package http

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	apperrors "sheetledger/internal/errors"
	"sheetledger/internal/middleware"
	"sheetledger/internal/operations"
	"sheetledger/internal/ranking"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	csvContentType  = "text/csv; charset=utf-8"
)

// EnqueuedResponse is returned for accepted asynchronous operations
type EnqueuedResponse struct {
	MessageID string `json:"messageId"`
}

// RankingHandler handles the ranking trigger and export
type RankingHandler struct {
	queue   OperationQueue
	ranking RankingSource
	logger  *slog.Logger
}

// NewRankingHandler creates a new ranking handler
func NewRankingHandler(queue OperationQueue, source RankingSource, logger *slog.Logger) *RankingHandler {
	return &RankingHandler{
		queue:   queue,
		ranking: source,
		logger:  logger.With(slog.String("handler", "ranking")),
	}
}

// Refresh handles POST /api/v1/ranking/refresh
func (h *RankingHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	id, err := h.queue.Enqueue(r.Context(), operations.Request{
		Kind:   operations.KindUpdateAppsTop,
		UserID: userID,
	})
	if err != nil {
		apperrors.WriteProblem(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "ranking refresh enqueued",
		slog.String("message_id", id),
		slog.Int64("user_id", userID))

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, EnqueuedResponse{MessageID: id})
}

// ExportXLSX handles GET /api/v1/ranking/export.xlsx
func (h *RankingHandler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "xlsx", xlsxContentType, ranking.WriteXLSX)
}

// ExportCSV handles GET /api/v1/ranking/export.csv
func (h *RankingHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "csv", csvContentType, ranking.WriteCSV)
}

func (h *RankingHandler) export(w http.ResponseWriter, r *http.Request, ext, contentType string,
	write func(io.Writer, ranking.Snapshot) error) {
	snap := h.ranking.Latest()

	var buf bytes.Buffer
	if err := write(&buf, snap); err != nil {
		apperrors.WriteProblem(w, r, h.logger, err)
		return
	}

	filename := "ranking." + ext
	if !snap.RefreshedAt.IsZero() {
		filename = fmt.Sprintf("ranking-%s.%s", snap.RefreshedAt.UTC().Format("20060102-150405"), ext)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
