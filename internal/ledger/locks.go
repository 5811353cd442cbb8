package ledger

import "sync"

// Locks is a keyed mutex: one lock per application id, created on demand and
// dropped when no goroutine holds or waits for it.
type Locks struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty lock set
func NewLocks() *Locks {
	return &Locks{locks: make(map[int64]*keyLock)}
}

// Lock blocks until the lock for id is held and returns its release func
func (l *Locks) Lock(id int64) func() {
	l.mu.Lock()
	k, ok := l.locks[id]
	if !ok {
		k = &keyLock{}
		l.locks[id] = k
	}
	k.refs++
	l.mu.Unlock()

	k.mu.Lock()
	return func() {
		k.mu.Unlock()
		l.mu.Lock()
		k.refs--
		if k.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *Locks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
