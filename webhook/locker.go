package webhook

import (
	"context"
	"sync"
	"time"
)

// Locker guarantees that one event never has two attempts in flight.
// Acquire reports false when another holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func() error, acquired bool, err error)
}

// LocalLocker serializes attempts within a single process
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, _ time.Duration) (func() error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return func() error { return nil }, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, true, nil
}
