package credentials

import (
	"context"
	"errors"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sheetledger/internal/errors"
	"sheetledger/internal/gateway"
	"sheetledger/internal/gateway/gatewaytest"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	fake   *gatewaytest.Fake
	creds  *MemoryCredentialStore
	states *MemoryStateStore
	clock  *clock
	mgr    *Manager
}

func newFixture() *fixture {
	f := &fixture{
		fake:   gatewaytest.New(),
		creds:  NewMemoryCredentialStore(),
		states: NewMemoryStateStore(),
		clock:  &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.mgr = NewManager(f.fake, f.creds, f.states, WithClock(f.clock.now))

	f.fake.Exchanges["good-code"] = gateway.TokenSet{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       f.clock.t.Add(time.Hour),
	}
	f.fake.Identities["access-1"] = gatewaytest.Identity{Email: "owner@example.com", Verified: true}
	return f
}

func TestBeginAuthorization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	auth, err := f.mgr.BeginAuthorization(ctx, 7)
	require.NoError(t, err)

	assert.Len(t, auth.State, 43, "32 random bytes, unpadded base64url")
	u, err := url.Parse(auth.AuthURL)
	require.NoError(t, err)
	assert.Equal(t, auth.State, u.Query().Get("state"))
	assert.Equal(t, "offline", u.Query().Get("access_type"))

	again, err := f.mgr.BeginAuthorization(ctx, 7)
	require.NoError(t, err)
	assert.NotEqual(t, auth.State, again.State)
}

func TestCompleteAuthorization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	auth, err := f.mgr.BeginAuthorization(ctx, 7)
	require.NoError(t, err)

	cred, err := f.mgr.CompleteAuthorization(ctx, 7, "good-code", auth.State)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", cred.Email)
	assert.Equal(t, "refresh-1", cred.RefreshToken)

	stored, err := f.creds.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, cred, stored)

	t.Run("replayed state is rejected", func(t *testing.T) {
		_, err := f.mgr.CompleteAuthorization(ctx, 7, "good-code", auth.State)
		assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	})
}

func TestCompleteAuthorizationRejectsState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture) string
	}{
		{
			name:  "no pending state",
			setup: func(f *fixture) string { return "anything" },
		},
		{
			name: "mismatched state",
			setup: func(f *fixture) string {
				_, err := f.mgr.BeginAuthorization(context.Background(), 7)
				require.NoError(t, err)
				return "forged"
			},
		},
		{
			name: "expired state",
			setup: func(f *fixture) string {
				auth, err := f.mgr.BeginAuthorization(context.Background(), 7)
				require.NoError(t, err)
				f.clock.advance(StateTTL + time.Second)
				return auth.State
			},
		},
		{
			name: "superseded state",
			setup: func(f *fixture) string {
				first, err := f.mgr.BeginAuthorization(context.Background(), 7)
				require.NoError(t, err)
				_, err = f.mgr.BeginAuthorization(context.Background(), 7)
				require.NoError(t, err)
				return first.State
			},
		},
		{
			name: "state of another user",
			setup: func(f *fixture) string {
				auth, err := f.mgr.BeginAuthorization(context.Background(), 8)
				require.NoError(t, err)
				return auth.State
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			state := tt.setup(f)

			_, err := f.mgr.CompleteAuthorization(context.Background(), 7, "good-code", state)
			assert.ErrorIs(t, err, apperrors.ErrInvalidState)
			assert.Empty(t, f.fake.Calls("ExchangeAuthCode"), "code must not be exchanged")

			_, err = f.creds.Get(context.Background(), 7)
			assert.ErrorIs(t, err, apperrors.ErrNotFound)
		})
	}
}

func TestCompleteAuthorizationConsumesStateOnFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	auth, err := f.mgr.BeginAuthorization(ctx, 7)
	require.NoError(t, err)

	_, err = f.mgr.CompleteAuthorization(ctx, 7, "bad-code", auth.State)
	require.ErrorIs(t, err, apperrors.ErrRemoteService)

	_, err = f.mgr.CompleteAuthorization(ctx, 7, "good-code", auth.State)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestCompleteAuthorizationWithinTTL(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	auth, err := f.mgr.BeginAuthorization(ctx, 7)
	require.NoError(t, err)
	f.clock.advance(StateTTL - time.Second)

	_, err = f.mgr.CompleteAuthorization(ctx, 7, "good-code", auth.State)
	assert.NoError(t, err)
}

func TestCompleteAuthorizationUnverifiedEmail(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fake.Identities["access-1"] = gatewaytest.Identity{Email: "owner@example.com", Verified: false}

	auth, err := f.mgr.BeginAuthorization(ctx, 7)
	require.NoError(t, err)

	_, err = f.mgr.CompleteAuthorization(ctx, 7, "good-code", auth.State)
	assert.ErrorIs(t, err, apperrors.ErrEmailNotVerified)

	_, err = f.creds.Get(ctx, 7)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCompleteAuthorizationKeepsRefreshToken(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.creds.Upsert(ctx, Credential{UserID: 7, Email: "owner@example.com", RefreshToken: "refresh-old"}))
	f.fake.Exchanges["reconsent"] = gateway.TokenSet{AccessToken: "access-1", Expiry: f.clock.t.Add(time.Hour)}

	auth, err := f.mgr.BeginAuthorization(ctx, 7)
	require.NoError(t, err)

	cred, err := f.mgr.CompleteAuthorization(ctx, 7, "reconsent", auth.State)
	require.NoError(t, err)
	assert.Equal(t, "refresh-old", cred.RefreshToken)
	assert.Equal(t, "access-1", cred.AccessToken)
}

func TestEnsureConnected(t *testing.T) {
	ctx := context.Background()

	t.Run("absent credential", func(t *testing.T) {
		f := newFixture()
		_, err := f.mgr.EnsureConnected(ctx, 7)
		assert.ErrorIs(t, err, apperrors.ErrNotConnected)
	})

	t.Run("valid token is returned untouched", func(t *testing.T) {
		f := newFixture()
		seed := Credential{UserID: 7, AccessToken: "a", RefreshToken: "r", Expiry: f.clock.t.Add(time.Minute)}
		require.NoError(t, f.creds.Upsert(ctx, seed))

		cred, err := f.mgr.EnsureConnected(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, seed, cred)
		assert.Empty(t, f.fake.Calls("RefreshToken"))
	})

	t.Run("token inside skew is refreshed", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.creds.Upsert(ctx, Credential{
			UserID: 7, AccessToken: "a", RefreshToken: "r", Expiry: f.clock.t.Add(20 * time.Second),
		}))
		f.fake.Refresh = func(rt string) (gateway.TokenSet, error) {
			assert.Equal(t, "r", rt)
			return gateway.TokenSet{AccessToken: "b", Expiry: f.clock.t.Add(time.Hour)}, nil
		}

		cred, err := f.mgr.EnsureConnected(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "b", cred.AccessToken)
		assert.Equal(t, "r", cred.RefreshToken, "refresh token kept when none issued")

		stored, err := f.creds.Get(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "b", stored.AccessToken)
	})

	t.Run("rotated refresh token is stored", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.creds.Upsert(ctx, Credential{
			UserID: 7, AccessToken: "a", RefreshToken: "r", Expiry: f.clock.t.Add(-time.Hour),
		}))
		f.fake.Refresh = func(string) (gateway.TokenSet, error) {
			return gateway.TokenSet{AccessToken: "b", RefreshToken: "r2", Expiry: f.clock.t.Add(time.Hour)}, nil
		}

		cred, err := f.mgr.EnsureConnected(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "r2", cred.RefreshToken)
	})

	t.Run("rejected refresh removes credential", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.creds.Upsert(ctx, Credential{
			UserID: 7, AccessToken: "a", RefreshToken: "r", Expiry: f.clock.t.Add(-time.Hour),
		}))
		f.fake.Refresh = func(string) (gateway.TokenSet, error) {
			return gateway.TokenSet{}, &gateway.RefreshError{Reason: gateway.RefreshRejected, Err: errors.New("invalid_grant")}
		}

		_, err := f.mgr.EnsureConnected(ctx, 7)
		assert.ErrorIs(t, err, apperrors.ErrNotConnected)

		_, err = f.creds.Get(ctx, 7)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("transient refresh failure keeps credential", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.creds.Upsert(ctx, Credential{
			UserID: 7, AccessToken: "a", RefreshToken: "r", Expiry: f.clock.t.Add(-time.Hour),
		}))
		f.fake.Refresh = func(string) (gateway.TokenSet, error) {
			return gateway.TokenSet{}, &gateway.RefreshError{Reason: gateway.RefreshTransient, Err: errors.New("503")}
		}

		_, err := f.mgr.EnsureConnected(ctx, 7)
		assert.ErrorIs(t, err, apperrors.ErrRemoteService)

		_, err = f.creds.Get(ctx, 7)
		assert.NoError(t, err)
	})

	t.Run("expired without refresh token removes credential", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.creds.Upsert(ctx, Credential{
			UserID: 7, AccessToken: "a", Expiry: f.clock.t.Add(-time.Second),
		}))

		_, err := f.mgr.EnsureConnected(ctx, 7)
		assert.ErrorIs(t, err, apperrors.ErrNotConnected)
		assert.Empty(t, f.fake.Calls("RefreshToken"))

		_, err = f.creds.Get(ctx, 7)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestDisconnect(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.creds.Upsert(ctx, Credential{UserID: 7, AccessToken: "a"}))

	require.NoError(t, f.mgr.Disconnect(ctx, 7))

	_, err := f.mgr.EnsureConnected(ctx, 7)
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
}

func TestRedisStateStore(t *testing.T) {
	redisURL := os.Getenv("LEDGER_TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("LEDGER_TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	client, err := ConnectRedis(ctx, redisURL)
	require.NoError(t, err)
	defer client.Close()

	store := NewRedisStateStore(client, "ledgertest:")
	state := AuthState{UserID: 42, Value: "v1", CreatedAt: time.Now().UTC().Truncate(time.Second)}

	require.NoError(t, store.Put(ctx, state))
	require.NoError(t, store.Put(ctx, AuthState{UserID: 42, Value: "v2", CreatedAt: state.CreatedAt}))

	got, ok, err := store.Take(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", got.Value)

	ttl, err := client.TTL(ctx, "ledgertest:auth:state:42").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Duration(0), "key is gone after take")

	_, ok, err = store.Take(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)
}
