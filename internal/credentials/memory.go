package credentials

import (
	"context"
	"sync"

	apperrors "sheetledger/internal/errors"
)

// MemoryCredentialStore keeps credentials in process memory
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[int64]Credential
}

// NewMemoryCredentialStore creates an empty store
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[int64]Credential)}
}

func (s *MemoryCredentialStore) Get(ctx context.Context, userID int64) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[userID]
	if !ok {
		return Credential{}, apperrors.NotFound("credentials.get", "credential")
	}
	return c, nil
}

func (s *MemoryCredentialStore) Upsert(ctx context.Context, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.UserID] = cred
	return nil
}

func (s *MemoryCredentialStore) Delete(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, userID)
	return nil
}

// MemoryStateStore keeps pending handshakes in process memory
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[int64]AuthState
}

// NewMemoryStateStore creates an empty store
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[int64]AuthState)}
}

func (s *MemoryStateStore) Put(ctx context.Context, state AuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = state
	return nil
}

func (s *MemoryStateStore) Take(ctx context.Context, userID int64) (AuthState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	delete(s.states, userID)
	return st, ok, nil
}
