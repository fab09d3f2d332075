package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/usagebill/backend/internal/domain/shared"
)

// lease represents a held lock with expiration
type lease struct {
	token     string
	expiresAt time.Time
}

// InMemoryLocker implements shared.Locker with a process-local map.
// This is suitable for single-instance deployments and testing.
type InMemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewInMemoryLocker creates a new in-memory locker
func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// TryLock acquires key for ttl without waiting. Expired leases are taken over.
func (l *InMemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (shared.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expiresAt) {
		return nil, shared.ErrLockHeld
	}
	token := uuid.NewString()
	l.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return &memoryLock{owner: l, key: key, token: token}, nil
}

// Held reports whether key is currently locked
func (l *InMemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	held, ok := l.leases[key]
	return ok && l.now().Before(held.expiresAt)
}

func (l *InMemoryLocker) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.leases[key]; ok && held.token == token {
		delete(l.leases, key)
	}
}

type memoryLock struct {
	owner *InMemoryLocker
	key   string
	token string
}

func (m *memoryLock) Key() string {
	return m.key
}

func (m *memoryLock) Release(ctx context.Context) error {
	m.owner.release(m.key, m.token)
	return nil
}

var _ shared.Locker = (*InMemoryLocker)(nil)
