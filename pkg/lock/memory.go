package lock

import (
	"context"
	"sync"
	"time"
)

type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	now   func() time.Time
	seq   uint64
	owner map[string]uint64
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]time.Time),
		owner: make(map[string]uint64),
		now:   time.Now,
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, ErrNotAcquired
	}
	l.seq++
	l.held[key] = now.Add(ttl)
	l.owner[key] = l.seq
	return &memoryLease{locker: l, key: key, id: l.seq}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	id     uint64
}

func (l *memoryLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	if l.locker.owner[l.key] == l.id {
		delete(l.locker.held, l.key)
		delete(l.locker.owner, l.key)
	}
	return nil
}
