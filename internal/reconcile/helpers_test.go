package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xpadev-net/memorial-livestream/internal/config"
	"github.com/xpadev-net/memorial-livestream/internal/memstore"
	"github.com/xpadev-net/memorial-livestream/internal/playback"
	"github.com/xpadev-net/memorial-livestream/internal/provider"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeAdapter scripts vendor responses. Live reads are consumed in order;
// the last one repeats.
type fakeAdapter struct {
	mu sync.Mutex

	name       stream.Provider
	input      *provider.LiveInput
	createErr  error
	reads      []*provider.LiveStatus
	statusErr  error
	recordings func(call int) []provider.Recording
	listErr    error
	delay      time.Duration

	createCalls int
	statusCalls int
	listCalls   int
	deleted     []provider.ResourceRef
	inflight    int
	maxInflight int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		name: stream.ProviderCloudflare,
		input: &provider.LiveInput{
			InputID: "cf-123",
			Credentials: stream.IngestCredentials{
				URL:       "rtmps://live.example.com:443/live/",
				StreamKey: "key-1",
			},
		},
	}
}

func (f *fakeAdapter) Name() stream.Provider { return f.name }

func (f *fakeAdapter) CreateLiveInput(_ context.Context, _ provider.LiveInputConfig) (*provider.LiveInput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	in := *f.input
	return &in, nil
}

func (f *fakeAdapter) GetLiveStatus(_ context.Context, _ string) (*provider.LiveStatus, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if len(f.reads) == 0 {
		return &provider.LiveStatus{}, nil
	}
	st := f.reads[0]
	if len(f.reads) > 1 {
		f.reads = f.reads[1:]
	}
	c := *st
	return &c, nil
}

func (f *fakeAdapter) ListRecordings(_ context.Context, _ string) ([]provider.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.recordings == nil {
		return nil, nil
	}
	return f.recordings(f.listCalls), nil
}

func (f *fakeAdapter) DeleteResource(_ context.Context, ref provider.ResourceRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
}

func (f *fakeAdapter) setReads(reads ...*provider.LiveStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = reads
}

func (f *fakeAdapter) calls() (create, status, list int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.statusCalls, f.listCalls
}

var (
	live    = &provider.LiveStatus{IsLive: true}
	notLive = &provider.LiveStatus{}
	warned  = &provider.LiveStatus{Warning: "vendor returned HTTP 503"}
)

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, n.Type)
	}
	return out
}

type fakeProber struct {
	info *playback.Info
	err  error
	urls []string
}

func (p *fakeProber) Probe(_ context.Context, url string) (*playback.Info, error) {
	p.urls = append(p.urls, url)
	return p.info, p.err
}

type harness struct {
	engine  *Engine
	store   *memstore.Store
	adapter *fakeAdapter
	clock   *fakeClock
	notes   *recorder
	cfg     config.EngineConfig
}

var (
	t0    = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	owner = stream.Actor{ID: "user-owner", Role: stream.RoleOwner}
	admin = stream.Actor{ID: "user-admin", Role: stream.RoleAdmin}
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		LiveMissThreshold:    3,
		RecordingPollTimeout: 30 * time.Minute,
		VendorTimeout:        time.Second,
		AwaitRecordingBase:   time.Millisecond,
		AwaitRecordingMax:    2 * time.Millisecond,
		ReconnectWindow:      time.Minute,
	}
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWithConfig(t, testEngineConfig(), opts...)
}

func newHarnessWithConfig(t *testing.T, cfg config.EngineConfig, opts ...Option) *harness {
	t.Helper()
	clock := &fakeClock{t: t0}
	store := memstore.New().WithClock(clock.now)
	adapter := newFakeAdapter()
	notes := &recorder{}

	all := append([]Option{WithClock(clock.now), WithNotifier(notes)}, opts...)
	engine := New(store, provider.NewRegistry(adapter), cfg, all...)

	ctx := context.Background()
	for _, m := range []*stream.Memorial{
		{ID: "mem-1", OwnerID: owner.ID, FuneralDirectorID: "fd-1"},
		{ID: "mem-2", OwnerID: "someone-else"},
	} {
		if err := store.UpsertMemorial(ctx, m); err != nil {
			t.Fatalf("UpsertMemorial() error = %v", err)
		}
	}

	return &harness{engine: engine, store: store, adapter: adapter, clock: clock, notes: notes, cfg: cfg}
}

// seed stores a stream directly in the given state.
func (h *harness) seed(t *testing.T, s stream.Stream) *stream.Stream {
	t.Helper()
	if s.MemorialID == "" {
		s.MemorialID = "mem-1"
	}
	if s.Provider == "" {
		s.Provider = stream.ProviderCloudflare
	}
	if s.ProviderInputID == "" && s.Status != stream.StatusScheduled && s.Status != "" {
		s.ProviderInputID = "cf-123"
	}
	id, err := h.store.Create(context.Background(), &s)
	if err != nil {
		t.Fatalf("seed Create() error = %v", err)
	}
	return h.get(t, id)
}

func (h *harness) get(t *testing.T, id string) *stream.Stream {
	t.Helper()
	s, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return s
}

func (h *harness) reconcile(t *testing.T, id string) *stream.Stream {
	t.Helper()
	s, err := h.engine.Reconcile(context.Background(), id)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	return s
}

func timePtr(t time.Time) *time.Time { return &t }
