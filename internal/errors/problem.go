package errors

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Problem types following RFC 7807
const (
	TypeValidation       = "/errors/validation"
	TypeNotFound         = "/errors/not-found"
	TypeUnauthorized     = "/errors/unauthorized"
	TypeRateLimit        = "/errors/rate-limit"
	TypeInternal         = "/errors/internal"
	TypeTimeout          = "/errors/timeout"
	TypeNotConnected     = "/errors/google/not-connected"
	TypeInvalidState     = "/errors/google/invalid-state"
	TypeEmailNotVerified = "/errors/google/email-not-verified"
	TypeRemoteService    = "/errors/google/remote-service"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions into the top-level object
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := map[string]interface{}{
		"type":   pd.Type,
		"title":  pd.Title,
		"status": pd.Status,
	}
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// ToProblem maps an error onto a problem document
func ToProblem(err error, instance string) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(http.StatusGatewayTimeout, TypeTimeout, "Request Timeout",
			"The request took too long to process and was cancelled", instance)
	}

	detail := err.Error()
	switch KindOf(err) {
	case KindNotConnected:
		return NewProblemDetails(http.StatusConflict, TypeNotConnected, "Google Account Not Connected",
			"Connect a Google account before using spreadsheet features", instance)
	case KindInvalidState:
		return NewProblemDetails(http.StatusBadRequest, TypeInvalidState, "Invalid Authorization State",
			"The authorization request expired or was already used. Start the connection again", instance)
	case KindEmailNotVerified:
		return NewProblemDetails(http.StatusForbidden, TypeEmailNotVerified, "Email Not Verified",
			"The Google account email must be verified", instance)
	case KindNotFound:
		return NewProblemDetails(http.StatusNotFound, TypeNotFound, "Resource Not Found", detail, instance)
	case KindDecode, KindValidation:
		return NewProblemDetails(http.StatusBadRequest, TypeValidation, "Validation Failed", detail, instance)
	case KindRemoteService:
		return NewProblemDetails(http.StatusBadGateway, TypeRemoteService, "Remote Service Error",
			"The document service request failed", instance)
	}
	return NewProblemDetails(http.StatusInternalServerError, TypeInternal, "Internal Server Error",
		"An unexpected error occurred", instance)
}

// WriteProblem logs err and renders it as RFC 7807 JSON
func WriteProblem(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	reqID := middleware.GetReqID(r.Context())
	problem := ToProblem(err, r.URL.Path)
	if reqID != "" {
		problem.WithExtension("trace_id", reqID)
	}

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	if logger != nil {
		logger.Log(r.Context(), level, "request failed",
			slog.String("error", err.Error()),
			slog.String("kind", string(KindOf(err))),
			slog.Int("status", problem.Status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	render.Render(w, r, problem)
}
