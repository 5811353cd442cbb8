package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sheetledger/internal/config"
	"sheetledger/internal/credentials"
	"sheetledger/internal/infrastructure"
	"sheetledger/internal/middleware"
	"sheetledger/internal/operations"
	"sheetledger/internal/ranking"
	"sheetledger/internal/websocket"
)

// AuthService is the credential lifecycle used by the connection endpoints
type AuthService interface {
	BeginAuthorization(ctx context.Context, userID int64) (credentials.Authorization, error)
	CompleteAuthorization(ctx context.Context, userID int64, code, state string) (credentials.Credential, error)
	Disconnect(ctx context.Context, userID int64) error
}

// OperationQueue accepts operations for asynchronous execution
type OperationQueue interface {
	Enqueue(ctx context.Context, req operations.Request) (string, error)
}

// RankingSource exposes the last completed ranking
type RankingSource interface {
	Latest() ranking.Snapshot
}

// Dependencies are the collaborators of the router
type Dependencies struct {
	Auth          AuthService
	Queue         OperationQueue
	Ranking       RankingSource
	Hub           *websocket.Hub
	Authenticator *middleware.Authenticator
	Metrics       *infrastructure.WorkerMetrics
	MetricsHTTP   http.Handler
	Checks        map[string]HealthCheck
	RateLimit     config.RateLimitConfig
	Logger        *slog.Logger
}

// NewRouter builds the chi router with the middleware chain and all routes
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.NewOTelMiddleware(deps.Metrics).Handler)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.SecurityHeaders)
	if deps.RateLimit.Enabled {
		r.Use(middleware.NewRateLimiter(deps.RateLimit.RPS, deps.RateLimit.Burst, logger).Handler)
	}

	health := NewHealthHandler(deps.Checks, deps.Hub, logger)
	r.Get("/healthz", health.Health)
	if deps.MetricsHTTP != nil {
		r.Handle("/metrics", deps.MetricsHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.Authenticator.Handler)

		if deps.Hub != nil {
			r.Get("/ws", NewStreamHandler(deps.Hub, logger).ServeHTTP)
		}

		r.Route("/api/v1", func(r chi.Router) {
			auth := NewAuthHandler(deps.Auth, logger)
			r.Route("/auth/google", func(r chi.Router) {
				r.Post("/begin", auth.Begin)
				r.Post("/complete", auth.Complete)
				r.Delete("/", auth.Disconnect)
			})

			rank := NewRankingHandler(deps.Queue, deps.Ranking, logger)
			r.Route("/ranking", func(r chi.Router) {
				r.Post("/refresh", rank.Refresh)
				r.Get("/export.xlsx", rank.ExportXLSX)
				r.Get("/export.csv", rank.ExportCSV)
			})
		})
	})

	return r
}
