package lease

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when a lease cannot be obtained before the
// context ends.
var ErrNotAcquired = errors.New("lease not acquired")

// Locker grants mutually exclusive leases keyed by string.
type Locker interface {
	// Acquire blocks until the lease for key is held or ctx is done.
	// The returned release function is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// StreamKey is the lease key serializing reconciliation of one stream.
func StreamKey(streamID string) string {
	return "stream:" + streamID
}

// MemorialKey is the lease key guarding the one-live-per-memorial check.
func MemorialKey(memorialID string) string {
	return "memorial:" + memorialID
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, kl)
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.unref(key, kl)
		})
	}, nil
}

func (l *LocalLocker) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size reports the number of tracked keys.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
