package lease

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalLockerExclusive(t *testing.T) {
	l := NewLocalLocker()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), StreamKey("str-1"))
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	if maxSeen.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen.Load())
	}
	if l.size() != 0 {
		t.Errorf("tracked keys after release = %d, want 0", l.size())
	}
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	r1, err := l.Acquire(context.Background(), StreamKey("a"))
	if err != nil {
		t.Fatal(err)
	}
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r2, err := l.Acquire(ctx, StreamKey("b"))
	if err != nil {
		t.Fatalf("different key should not block: %v", err)
	}
	r2()
}

func TestLocalLockerContextTimeout(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Acquire(context.Background(), MemorialKey("m1"))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, MemorialKey("m1")); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("error = %v, want ErrNotAcquired", err)
	}

	release()
	release() // second call is a no-op

	r, err := l.Acquire(context.Background(), MemorialKey("m1"))
	if err != nil {
		t.Fatalf("Acquire after release error = %v", err)
	}
	r()
	if l.size() != 0 {
		t.Errorf("tracked keys = %d, want 0", l.size())
	}
}

func TestKeys(t *testing.T) {
	if StreamKey("x") == MemorialKey("x") {
		t.Error("stream and memorial keys must not collide")
	}
}
