package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/forms/v1"
	"google.golang.org/api/googleapi"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"sheetledger/internal/config"
	apperrors "sheetledger/internal/errors"
	"sheetledger/internal/infrastructure"
)

// serviceScopes are requested by the service account
var serviceScopes = []string{
	sheets.SpreadsheetsScope,
	drive.DriveScope,
}

// Google implements Authorizer and Connector against Google Sheets, Drive,
// Forms and the OAuth2 endpoints. All remote calls share one rate limiter.
type Google struct {
	oauth       *oauth2.Config
	serviceJSON []byte
	limiter     *rate.Limiter
	metrics     *infrastructure.WorkerMetrics
	logger      *slog.Logger

	serviceOnce sync.Once
	serviceDocs Documents
	serviceErr  error
}

// NewGoogle creates the gateway from configuration. The service account file
// is optional; without it Service returns an error.
func NewGoogle(cfg config.GoogleConfig, metrics *infrastructure.WorkerMetrics, logger *slog.Logger) (*Google, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     google.Endpoint,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.RequestBurst, 1)),
		metrics: metrics,
		logger:  logger.With(slog.String("component", "gateway")),
	}

	if cfg.ServiceAccountFile != "" {
		data, err := os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read service account file: %w", err)
		}
		g.serviceJSON = data
	}

	return g, nil
}

// AuthCodeURL implements Authorizer
func (g *Google) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeAuthCode implements Authorizer
func (g *Google) ExchangeAuthCode(ctx context.Context, code string) (TokenSet, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return TokenSet{}, err
	}
	tok, err := g.oauth.Exchange(ctx, code)
	g.metrics.GatewayCall(ctx, "ExchangeAuthCode", err)
	if err != nil {
		return TokenSet{}, apperrors.Remote("gateway.exchange_auth_code", err)
	}
	return tokenSetFrom(tok), nil
}

// RefreshToken implements Authorizer
func (g *Google) RefreshToken(ctx context.Context, refreshToken string) (TokenSet, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return TokenSet{}, &RefreshError{Reason: RefreshTransient, Err: err}
	}
	tok, err := g.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	g.metrics.GatewayCall(ctx, "RefreshToken", err)
	if err != nil {
		return TokenSet{}, classifyRefreshError(err)
	}
	return tokenSetFrom(tok), nil
}

// FetchVerifiedEmail implements Authorizer
func (g *Google) FetchVerifiedEmail(ctx context.Context, accessToken string) (string, bool, error) {
	svc, err := oauth2api.NewService(ctx, option.WithTokenSource(staticSource(accessToken)))
	if err != nil {
		return "", false, apperrors.Remote("gateway.fetch_email", err)
	}

	var info *oauth2api.Userinfo
	err = g.call(ctx, "FetchVerifiedEmail", func() error {
		var callErr error
		info, callErr = svc.Userinfo.Get().Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", false, err
	}

	verified := info.VerifiedEmail != nil && *info.VerifiedEmail
	return info.Email, verified, nil
}

// Delegated implements Connector
func (g *Google) Delegated(ctx context.Context, tokens TokenSet) (Documents, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tokens.AccessToken,
		TokenType:   tokens.TokenType,
		Expiry:      tokens.Expiry,
	})
	return g.documents(ctx, option.WithTokenSource(ts))
}

// Service implements Connector. The client is built once and reused.
func (g *Google) Service(ctx context.Context) (Documents, error) {
	g.serviceOnce.Do(func() {
		if len(g.serviceJSON) == 0 {
			g.serviceErr = apperrors.New(apperrors.KindRemoteService, "gateway.service", "no service account configured")
			return
		}
		g.serviceDocs, g.serviceErr = g.documents(context.WithoutCancel(ctx),
			option.WithCredentialsJSON(g.serviceJSON),
			option.WithScopes(serviceScopes...),
		)
	})
	return g.serviceDocs, g.serviceErr
}

func (g *Google) documents(ctx context.Context, opts ...option.ClientOption) (Documents, error) {
	sheetsSvc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, apperrors.Remote("gateway.connect", fmt.Errorf("sheets client: %w", err))
	}
	driveSvc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, apperrors.Remote("gateway.connect", fmt.Errorf("drive client: %w", err))
	}
	formsSvc, err := forms.NewService(ctx, opts...)
	if err != nil {
		return nil, apperrors.Remote("gateway.connect", fmt.Errorf("forms client: %w", err))
	}
	return &googleDocuments{
		gateway: g,
		sheets:  sheetsSvc,
		drive:   driveSvc,
		forms:   formsSvc,
	}, nil
}

// call throttles fn, records it and wraps failures as RemoteService
func (g *Google) call(ctx context.Context, capability string, fn func() error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return apperrors.Remote("gateway."+capability, err)
	}
	err := fn()
	g.metrics.GatewayCall(ctx, capability, err)
	if err == nil {
		return nil
	}

	wrapped := apperrors.Remote("gateway."+capability, err)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		wrapped.WithContext("status", gerr.Code)
	}
	g.logger.WarnContext(ctx, "remote call failed",
		slog.String("capability", capability),
		slog.String("error", err.Error()))
	return wrapped
}

// classifyRefreshError maps token endpoint failures: invalid_grant and other
// 4xx answers mean the grant is gone; anything else may succeed later.
func classifyRefreshError(err error) *RefreshError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return &RefreshError{Reason: RefreshRejected, Err: err}
		}
		if re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
			return &RefreshError{Reason: RefreshRejected, Err: err}
		}
	}
	return &RefreshError{Reason: RefreshTransient, Err: err}
}

func tokenSetFrom(tok *oauth2.Token) TokenSet {
	ts := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}

func staticSource(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
}

// driveQuery renders q in the Drive search syntax
func driveQuery(q FileQuery) string {
	clauses := []string{"trashed = false"}
	if q.NameContains != "" {
		clauses = append(clauses, fmt.Sprintf("name contains '%s'", escapeQueryValue(q.NameContains)))
	}
	if q.MimeType != "" {
		clauses = append(clauses, fmt.Sprintf("mimeType = '%s'", escapeQueryValue(q.MimeType)))
	}
	return strings.Join(clauses, " and ")
}

func escapeQueryValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}
