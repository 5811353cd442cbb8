// Package credentials owns the lifecycle of delegated Google credentials: the
// CSRF-protected authorization handshake, storage, refresh and revocation.
package credentials

import (
	"context"
	"time"

	"sheetledger/internal/gateway"
)

// Credential is a user's delegated access
type Credential struct {
	UserID       int64
	Email        string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       time.Time
	UpdatedAt    time.Time
}

// Tokens returns the token set used to build delegated clients
func (c Credential) Tokens() gateway.TokenSet {
	return gateway.TokenSet{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Scope:        c.Scope,
		Expiry:       c.Expiry,
	}
}

// AuthState is the pending CSRF state of one user's handshake
type AuthState struct {
	UserID    int64     `json:"userId"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}

// CredentialStore persists credentials, one per user. Get returns an error
// matching errors.ErrNotFound when the user has none.
type CredentialStore interface {
	Get(ctx context.Context, userID int64) (Credential, error)
	Upsert(ctx context.Context, cred Credential) error
	Delete(ctx context.Context, userID int64) error
}

// StateStore holds at most one pending AuthState per user. Put replaces any
// earlier state; Take removes and returns it.
type StateStore interface {
	Put(ctx context.Context, state AuthState) error
	Take(ctx context.Context, userID int64) (AuthState, bool, error)
}
