// Package poller drives scheduled reconciliation of every stream the
// vendors may still change.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// Reconciler runs one reconciliation pass for a stream.
type Reconciler interface {
	Reconcile(ctx context.Context, id string) (*stream.Stream, error)
}

// Lister returns the streams that still need polling.
type Lister interface {
	ListReconcilable(ctx context.Context, limit int) ([]*stream.Stream, error)
}

// Config controls a Poller.
type Config struct {
	Concurrency int
	BatchSize   int
	// RecordingBase and RecordingMax bound the backoff between recording
	// checks of a completed stream.
	RecordingBase time.Duration
	RecordingMax  time.Duration
}

// Result summarizes one pass.
type Result struct {
	Checked      int
	Skipped      int
	Transitioned int
	Failed       int
}

type recordingCheck struct {
	attempts int
	next     time.Time
}

// Poller reconciles reconcilable streams on a schedule.
type Poller struct {
	engine Reconciler
	store  Lister
	cfg    Config
	now    func() time.Time

	mu     sync.Mutex
	checks map[string]recordingCheck
}

// New creates a Poller.
func New(engine Reconciler, store Lister, cfg Config) *Poller {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.RecordingBase <= 0 {
		cfg.RecordingBase = 10 * time.Second
	}
	if cfg.RecordingMax < cfg.RecordingBase {
		cfg.RecordingMax = cfg.RecordingBase
	}
	return &Poller{
		engine: engine,
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		checks: make(map[string]recordingCheck),
	}
}

// Run calls RunOnce immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	log.Info("starting poller",
		zap.Duration("interval", interval),
		zap.Int("concurrency", p.cfg.Concurrency),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.runLogged(ctx)
		select {
		case <-ctx.Done():
			log.Info("poller stopped")
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) runLogged(ctx context.Context) {
	start := time.Now()
	result, err := p.RunOnce(ctx)
	if err != nil {
		log.Error("poll pass failed", zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.Int("checked", result.Checked),
		zap.Int("skipped", result.Skipped),
		zap.Int("transitioned", result.Transitioned),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(start)),
	}
	if result.Transitioned > 0 || result.Failed > 0 {
		log.Info("poll pass completed", fields...)
		return
	}
	log.Debug("poll pass completed", fields...)
}

// RunOnce reconciles every due stream with bounded concurrency. A failing
// stream is counted and logged; it never aborts the pass.
func (p *Poller) RunOnce(ctx context.Context) (*Result, error) {
	streams, err := p.store.ListReconcilable(ctx, p.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	now := p.now()
	due := p.selectDue(streams, now)
	result := &Result{Skipped: len(streams) - len(due)}

	var transitioned, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, s := range due {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			updated, err := p.engine.Reconcile(ctx, s.ID)
			if err != nil {
				failed.Add(1)
				log.Warn("reconcile failed",
					zap.String("stream_id", s.ID),
					zap.String("status", string(s.Status)),
					zap.Error(err),
				)
			}
			if updated != nil && updated.Status != s.Status {
				transitioned.Add(1)
			}
			if s.Status == stream.StatusCompleted {
				p.recordCheck(s.ID, now, updated)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Checked = len(due)
	result.Transitioned = int(transitioned.Load())
	result.Failed = int(failed.Load())
	return result, ctx.Err()
}

// selectDue filters out completed streams whose next recording check has
// not arrived yet, and forgets streams that are no longer listed.
func (p *Poller) selectDue(streams []*stream.Stream, now time.Time) []*stream.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()

	listed := make(map[string]struct{}, len(streams))
	due := make([]*stream.Stream, 0, len(streams))
	for _, s := range streams {
		listed[s.ID] = struct{}{}
		if s.Status != stream.StatusCompleted {
			due = append(due, s)
			continue
		}
		check, ok := p.checks[s.ID]
		if !ok {
			check = recordingCheck{next: p.firstCheck(s)}
			p.checks[s.ID] = check
		}
		if !now.Before(check.next) {
			due = append(due, s)
		}
	}
	for id := range p.checks {
		if _, ok := listed[id]; !ok {
			delete(p.checks, id)
		}
	}
	return due
}

func (p *Poller) firstCheck(s *stream.Stream) time.Time {
	if s.EndedAt == nil {
		return time.Time{}
	}
	return s.EndedAt.Add(p.cfg.RecordingBase)
}

func (p *Poller) recordCheck(id string, now time.Time, updated *stream.Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if updated != nil && !updated.AwaitingRecording() {
		delete(p.checks, id)
		return
	}
	check := p.checks[id]
	check.attempts++
	check.next = now.Add(p.delay(check.attempts))
	p.checks[id] = check
}

// delay returns base * 2^attempts, capped at RecordingMax.
func (p *Poller) delay(attempts int) time.Duration {
	d := p.cfg.RecordingBase
	for i := 0; i < attempts && d < p.cfg.RecordingMax; i++ {
		d *= 2
	}
	if d > p.cfg.RecordingMax {
		d = p.cfg.RecordingMax
	}
	return d
}
