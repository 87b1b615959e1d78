package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

type fakeStore struct {
	streams []*stream.Stream
	err     error
}

func (f *fakeStore) ListReconcilable(_ context.Context, limit int) ([]*stream.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && len(f.streams) > limit {
		return f.streams[:limit], nil
	}
	return f.streams, nil
}

type fakeEngine struct {
	mu       sync.Mutex
	calls    map[string]int
	results  map[string]*stream.Stream
	errs     map[string]error
	delay    time.Duration
	inflight int
	peak     int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		calls:   make(map[string]int),
		results: make(map[string]*stream.Stream),
		errs:    make(map[string]error),
	}
}

func (f *fakeEngine) Reconcile(_ context.Context, id string) (*stream.Stream, error) {
	f.mu.Lock()
	f.calls[id]++
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	delay := f.delay
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	return f.results[id], f.errs[id]
}

func (f *fakeEngine) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestRunOnceCounts(t *testing.T) {
	store := &fakeStore{streams: []*stream.Stream{
		{ID: "a", Status: stream.StatusArmed},
		{ID: "b", Status: stream.StatusLive},
		{ID: "c", Status: stream.StatusLive},
	}}
	engine := newFakeEngine()
	engine.results["a"] = &stream.Stream{ID: "a", Status: stream.StatusLive}
	engine.results["b"] = &stream.Stream{ID: "b", Status: stream.StatusLive}
	engine.errs["c"] = errors.New("vendor down")

	p := New(engine, store, Config{Concurrency: 2})
	result, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	want := Result{Checked: 3, Transitioned: 1, Failed: 1}
	if *result != want {
		t.Errorf("result = %+v, want %+v", *result, want)
	}
}

func TestRunOnceListError(t *testing.T) {
	p := New(newFakeEngine(), &fakeStore{err: errors.New("db down")}, Config{})
	if _, err := p.RunOnce(context.Background()); err == nil {
		t.Error("RunOnce() error = nil, want list error")
	}
}

func TestRunOnceBoundedConcurrency(t *testing.T) {
	var streams []*stream.Stream
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		streams = append(streams, &stream.Stream{ID: id, Status: stream.StatusLive})
	}
	engine := newFakeEngine()
	engine.delay = 20 * time.Millisecond

	p := New(engine, &fakeStore{streams: streams}, Config{Concurrency: 2})
	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if engine.peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", engine.peak)
	}
	for _, s := range streams {
		if n := engine.count(s.ID); n != 1 {
			t.Errorf("stream %s reconciled %d times, want 1", s.ID, n)
		}
	}
}

func TestRecordingBackoff(t *testing.T) {
	ended := t0
	awaiting := &stream.Stream{ID: "done", Status: stream.StatusCompleted, EndedAt: &ended, ProviderInputID: "cf-1"}
	store := &fakeStore{streams: []*stream.Stream{awaiting}}
	engine := newFakeEngine()
	engine.results["done"] = awaiting

	now := t0
	p := New(engine, store, Config{RecordingBase: 10 * time.Second, RecordingMax: 40 * time.Second})
	p.now = func() time.Time { return now }

	steps := []struct {
		at        time.Duration
		wantCalls int
	}{
		{0, 0},                 // first check is due base after ended_at
		{10 * time.Second, 1},  // due; next in 20s
		{20 * time.Second, 1},  // not yet
		{30 * time.Second, 2},  // due; next in 40s
		{60 * time.Second, 2},  // not yet
		{70 * time.Second, 3},  // due; capped at 40s
		{110 * time.Second, 4}, // due
	}
	for _, step := range steps {
		now = t0.Add(step.at)
		if _, err := p.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if got := engine.count("done"); got != step.wantCalls {
			t.Errorf("at %v calls = %d, want %d", step.at, got, step.wantCalls)
		}
	}
}

func TestRecordingCheckForgottenWhenResolved(t *testing.T) {
	ended := t0
	awaiting := &stream.Stream{ID: "done", Status: stream.StatusCompleted, EndedAt: &ended, ProviderInputID: "cf-1"}
	store := &fakeStore{streams: []*stream.Stream{awaiting}}
	engine := newFakeEngine()
	engine.results["done"] = &stream.Stream{
		ID:        "done",
		Status:    stream.StatusCompleted,
		Recording: &stream.Recording{Ready: true},
	}

	now := t0.Add(time.Minute)
	p := New(engine, store, Config{RecordingBase: time.Second, RecordingMax: time.Second})
	p.now = func() time.Time { return now }
	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if _, ok := p.checks["done"]; ok {
		t.Error("resolved stream still tracked")
	}

	store.streams = nil
	p.checks["stale"] = recordingCheck{}
	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(p.checks) != 0 {
		t.Errorf("checks = %v, want empty", p.checks)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	engine := newFakeEngine()
	p := New(engine, &fakeStore{streams: []*stream.Stream{{ID: "a", Status: stream.StatusLive}}}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(time.Second)
	for engine.count("a") < 2 {
		select {
		case <-deadline:
			t.Fatal("poller did not tick")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
