package credentials

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "sheetledger/internal/errors"
	"sheetledger/internal/gateway"
	"sheetledger/internal/infrastructure"
)

const (
	// StateTTL bounds how long a handshake may stay pending
	StateTTL = 5 * time.Minute
	// ExpirySkew treats tokens about to expire as expired
	ExpirySkew = 30 * time.Second

	stateBytes = 32
)

// Authorization is returned by BeginAuthorization
type Authorization struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
}

// Manager implements the credential lifecycle
type Manager struct {
	auth    gateway.Authorizer
	creds   CredentialStore
	states  StateStore
	now     func() time.Time
	metrics *infrastructure.WorkerMetrics
	logger  *slog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records refresh outcomes
func WithMetrics(metrics *infrastructure.WorkerMetrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager over the given stores
func NewManager(auth gateway.Authorizer, creds CredentialStore, states StateStore, opts ...Option) *Manager {
	m := &Manager{
		auth:   auth,
		creds:  creds,
		states: states,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "credentials"))
	return m
}

// BeginAuthorization starts a handshake, replacing any pending one
func (m *Manager) BeginAuthorization(ctx context.Context, userID int64) (Authorization, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return Authorization{}, fmt.Errorf("failed to generate state: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(buf)

	if err := m.states.Put(ctx, AuthState{UserID: userID, Value: value, CreatedAt: m.now()}); err != nil {
		return Authorization{}, fmt.Errorf("failed to store authorization state: %w", err)
	}

	m.logger.InfoContext(ctx, "authorization started", slog.Int64("user_id", userID))
	return Authorization{AuthURL: m.auth.AuthCodeURL(value), State: value}, nil
}

// CompleteAuthorization finishes a handshake. The pending state is consumed
// before anything else, whatever the outcome.
func (m *Manager) CompleteAuthorization(ctx context.Context, userID int64, code, state string) (Credential, error) {
	const op = "credentials.complete_authorization"

	pending, ok, err := m.states.Take(ctx, userID)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to load authorization state: %w", err)
	}
	if !ok {
		return Credential{}, apperrors.InvalidState(op, "no pending authorization")
	}
	if subtle.ConstantTimeCompare([]byte(pending.Value), []byte(state)) != 1 {
		m.logger.WarnContext(ctx, "authorization state mismatch", slog.Int64("user_id", userID))
		return Credential{}, apperrors.InvalidState(op, "state mismatch")
	}
	if m.now().Sub(pending.CreatedAt) > StateTTL {
		return Credential{}, apperrors.InvalidState(op, "state expired")
	}

	tokens, err := m.auth.ExchangeAuthCode(ctx, code)
	if err != nil {
		return Credential{}, err
	}

	email, verified, err := m.auth.FetchVerifiedEmail(ctx, tokens.AccessToken)
	if err != nil {
		return Credential{}, err
	}
	if !verified {
		m.logger.WarnContext(ctx, "google email not verified",
			slog.Int64("user_id", userID),
			slog.String("email", email))
		return Credential{}, apperrors.EmailNotVerified(op, email)
	}

	cred := Credential{
		UserID:       userID,
		Email:        email,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		Scope:        tokens.Scope,
		Expiry:       tokens.Expiry,
		UpdatedAt:    m.now(),
	}

	// Re-consent may omit the refresh token; keep the one already granted
	if cred.RefreshToken == "" {
		existing, err := m.creds.Get(ctx, userID)
		switch {
		case err == nil:
			cred.RefreshToken = existing.RefreshToken
		case !errors.Is(err, apperrors.ErrNotFound):
			return Credential{}, fmt.Errorf("failed to load credential: %w", err)
		}
	}

	if err := m.creds.Upsert(ctx, cred); err != nil {
		return Credential{}, fmt.Errorf("failed to store credential: %w", err)
	}

	m.logger.InfoContext(ctx, "google account connected",
		slog.Int64("user_id", userID),
		slog.String("email", email),
		slog.Bool("has_refresh_token", cred.RefreshToken != ""))
	return cred, nil
}

// EnsureConnected returns a credential whose access token is valid, refreshing
// it when needed. Concurrent calls for the same user may both refresh.
func (m *Manager) EnsureConnected(ctx context.Context, userID int64) (Credential, error) {
	const op = "credentials.ensure_connected"

	cred, err := m.creds.Get(ctx, userID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return Credential{}, apperrors.NotConnected(op, userID)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("failed to load credential: %w", err)
	}

	now := m.now()
	if now.Add(ExpirySkew).Before(cred.Expiry) {
		return cred, nil
	}

	if cred.RefreshToken == "" {
		m.logger.InfoContext(ctx, "credential expired without refresh token, removing",
			slog.Int64("user_id", userID))
		if err := m.creds.Delete(ctx, userID); err != nil {
			return Credential{}, fmt.Errorf("failed to delete credential: %w", err)
		}
		return Credential{}, apperrors.NotConnected(op, userID)
	}

	tokens, err := m.auth.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		if gateway.IsRefreshRejected(err) {
			m.metrics.CredentialRefreshed(ctx, "rejected")
			m.logger.WarnContext(ctx, "refresh token rejected, removing credential",
				slog.Int64("user_id", userID),
				slog.String("error", err.Error()))
			if delErr := m.creds.Delete(ctx, userID); delErr != nil {
				return Credential{}, fmt.Errorf("failed to delete credential: %w", delErr)
			}
			return Credential{}, apperrors.NotConnected(op, userID)
		}
		m.metrics.CredentialRefreshed(ctx, "transient")
		return Credential{}, apperrors.Remote(op, err)
	}
	m.metrics.CredentialRefreshed(ctx, infrastructure.OutcomeSuccess)

	cred.AccessToken = tokens.AccessToken
	cred.Expiry = tokens.Expiry
	if tokens.RefreshToken != "" {
		cred.RefreshToken = tokens.RefreshToken
	}
	if tokens.TokenType != "" {
		cred.TokenType = tokens.TokenType
	}
	cred.UpdatedAt = now

	if err := m.creds.Upsert(ctx, cred); err != nil {
		return Credential{}, fmt.Errorf("failed to store credential: %w", err)
	}

	m.logger.DebugContext(ctx, "access token refreshed",
		slog.Int64("user_id", userID),
		slog.Time("expiry", cred.Expiry))
	return cred, nil
}

// Disconnect forgets the user's credential
func (m *Manager) Disconnect(ctx context.Context, userID int64) error {
	if err := m.creds.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	m.logger.InfoContext(ctx, "google account disconnected", slog.Int64("user_id", userID))
	return nil
}
