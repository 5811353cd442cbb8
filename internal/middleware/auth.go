package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "sheetledger/internal/errors"
)

type userIDKey struct{}

// UserIDFromContext returns the authenticated user id
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey{}).(int64)
	return id, ok
}

// WithUserID stores an authenticated user id in ctx
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// Authenticator verifies the web tier's HS256 bearer tokens. The subject
// claim is the marketplace user id.
type Authenticator struct {
	secret []byte
	issuer string
	leeway time.Duration
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator. An empty issuer accepts any.
func NewAuthenticator(secret, issuer string, logger *slog.Logger) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 30 * time.Second,
		logger: logger,
	}, nil
}

// Sign issues a token for userID. The worker itself never needs one; it is
// used by tooling and tests.
func (a *Authenticator) Sign(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(a.secret)
}

// Parse validates raw and returns the user id in its subject
func (a *Authenticator) Parse(raw string) (int64, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return 0, err
	}
	if !parsed.Valid {
		return 0, errors.New("invalid token")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	return userID, nil
}

// Handler rejects requests without a valid bearer token
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token, ok := bearerToken(r)
		if !ok {
			a.logger.WarnContext(ctx, "missing or malformed authorization header",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			writeProblem(w, r, http.StatusUnauthorized, apperrors.TypeUnauthorized,
				"Unauthorized", "Use: Authorization: Bearer <token>")
			return
		}

		userID, err := a.Parse(token)
		if err != nil {
			a.logger.WarnContext(ctx, "authentication failed",
				slog.String("error", err.Error()),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			writeProblem(w, r, http.StatusUnauthorized, apperrors.TypeUnauthorized,
				"Unauthorized", "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(ctx, userID)))
	})
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// websocket handshakes, so upgrade requests may pass access_token instead.
func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		return token, ok && strings.EqualFold(scheme, "bearer") && token != ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		token := r.URL.Query().Get("access_token")
		return token, token != ""
	}
	return "", false
}
