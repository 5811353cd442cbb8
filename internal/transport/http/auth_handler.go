package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apperrors "sheetledger/internal/errors"
	"sheetledger/internal/middleware"
	"sheetledger/internal/validation"
)

// CompleteRequest is the body of POST /api/v1/auth/google/complete
type CompleteRequest struct {
	Code  string `json:"code" validate:"required"`
	State string `json:"state" validate:"required"`
}

// Bind implements render.Binder
func (c *CompleteRequest) Bind(r *http.Request) error {
	return validation.Struct(c)
}

// ConnectedResponse describes a connected account
type ConnectedResponse struct {
	Email string `json:"email"`
}

// AuthHandler handles the Google account connection endpoints
type AuthHandler struct {
	service AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(service AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "auth")),
	}
}

// Begin handles POST /api/v1/auth/google/begin
func (h *AuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	authz, err := h.service.BeginAuthorization(r.Context(), userID)
	if err != nil {
		apperrors.WriteProblem(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, authz)
}

// Complete handles POST /api/v1/auth/google/complete
func (h *AuthHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	var req CompleteRequest
	if err := render.Bind(r, &req); err != nil {
		apperrors.WriteProblem(w, r, h.logger, apperrors.Validation("auth.complete", err))
		return
	}

	cred, err := h.service.CompleteAuthorization(r.Context(), userID, req.Code, req.State)
	if err != nil {
		apperrors.WriteProblem(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "google account connected",
		slog.Int64("user_id", userID),
		slog.String("email", cred.Email))
	w.WriteHeader(http.StatusNoContent)
}

// Disconnect handles DELETE /api/v1/auth/google
func (h *AuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	if err := h.service.Disconnect(r.Context(), userID); err != nil {
		apperrors.WriteProblem(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
