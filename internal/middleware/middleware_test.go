package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetledger/internal/infrastructure"
	"sheetledger/internal/shared/testutil"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequestID(t *testing.T) {
	var seen, trace string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		trace = infrastructure.GetTraceID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
		assert.Equal(t, seen, trace)
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "req-42", seen)
		assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	})
}

func TestRecoverer(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := RequestID(Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("sheet exploded")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ranking/refresh", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/errors/internal", body["type"])
	assert.NotEmpty(t, body["trace_id"])
	testutil.AssertLogContains(t, logs, slog.LevelError, "panic recovered")
}

func TestStructuredLogger(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := RequestID(StructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("queued"))
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/ranking/refresh", nil))

	testutil.AssertLogContains(t, logs, slog.LevelInfo, "request completed")
	testutil.AssertLogAttr(t, logs, "status", int64(http.StatusAccepted))
	testutil.AssertLogAttr(t, logs, "path", "/api/v1/ranking/refresh")
}

func TestRateLimiter(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	rl := NewRateLimiter(0.001, 2, logger)
	h := rl.Handler(http.HandlerFunc(okHandler))

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = rec.Code
		if rec.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestAuthenticator(t *testing.T) {
	auth, err := NewAuthenticator("test-secret-with-enough-bytes", "marketplace", nil)
	require.NoError(t, err)
	other, err := NewAuthenticator("another-secret-entirely", "marketplace", nil)
	require.NoError(t, err)
	wrongIssuer, err := NewAuthenticator("test-secret-with-enough-bytes", "someone-else", nil)
	require.NoError(t, err)

	valid, err := auth.Sign(7, time.Hour)
	require.NoError(t, err)
	expired, err := auth.Sign(7, -time.Hour)
	require.NoError(t, err)
	forged, err := other.Sign(7, time.Hour)
	require.NoError(t, err)
	foreign, err := wrongIssuer.Sign(7, time.Hour)
	require.NoError(t, err)

	var gotUser int64
	h := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + valid, http.StatusNoContent},
		{"lowercase scheme", "bearer " + valid, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + forged, http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + foreign, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser = 0
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/google/begin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, int64(7), gotUser)
			} else {
				assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			}
		})
	}

	t.Run("query token only on upgrade", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+valid, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		req = httptest.NewRequest(http.MethodGet, "/ws?access_token="+valid, nil)
		req.Header.Set("Upgrade", "websocket")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	_, err = NewAuthenticator("", "", nil)
	assert.Error(t, err)
}

func TestOTelMiddlewareRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(NewOTelMiddleware(nil).Handler)
	var pattern string
	r.Get("/api/v1/items/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		pattern = routePattern(req)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/items/9", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/api/v1/items/{id}", pattern)
}
