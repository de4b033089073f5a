package ledger

import "sync"

// Locks serializes work per user. Two calls to Do with the same key never run
// at the same time; calls with different keys do not block each other.
type Locks struct {
	locks map[string]*userLock
	mu    sync.Mutex
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*userLock)}
}

// Do runs fn while holding the lock for key.
func (l *Locks) Do(key string, fn func() error) error {
	lock := l.acquire(key)
	defer l.release(key, lock)
	return fn()
}

func (l *Locks) acquire(key string) *userLock {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &userLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (l *Locks) release(key string, lock *userLock) {
	lock.mu.Unlock()

	l.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// size returns the number of keys currently tracked.
func (l *Locks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
