package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/config"
	"github.com/xpadev-net/memorial-livestream/internal/lease"
	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/metrics"
	"github.com/xpadev-net/memorial-livestream/internal/playback"
	"github.com/xpadev-net/memorial-livestream/internal/provider"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// Prober inspects a recording playlist.
type Prober interface {
	Probe(ctx context.Context, playlistURL string) (*playback.Info, error)
}

// Engine drives streams through scheduled → armed → live → completed.
// Every write for one stream happens under that stream's lease.
type Engine struct {
	store     stream.Store
	providers *provider.Registry
	locker    lease.Locker
	notifier  Notifier
	prober    Prober
	cfg       config.EngineConfig
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker sets the lease implementation. Defaults to an in-process locker.
func WithLocker(l lease.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithNotifier sets the lifecycle notification sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithProber enables playlist probing for recordings without a duration.
func WithProber(p Prober) Option {
	return func(e *Engine) { e.prober = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a reconciliation engine.
func New(store stream.Store, providers *provider.Registry, cfg config.EngineConfig, opts ...Option) *Engine {
	if cfg.LiveMissThreshold < 1 {
		cfg.LiveMissThreshold = 1
	}
	e := &Engine{
		store:     store,
		providers: providers,
		locker:    lease.NewLocalLocker(),
		notifier:  nopNotifier{},
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// lockStream acquires the stream lease and reloads the record under it.
func (e *Engine) lockStream(ctx context.Context, id string) (*stream.Stream, func(), error) {
	release, err := e.locker.Acquire(ctx, lease.StreamKey(id))
	if err != nil {
		return nil, nil, fmt.Errorf("acquire stream lease: %w", err)
	}
	s, err := e.store.Get(ctx, id)
	if err != nil {
		release()
		return nil, nil, err
	}
	return s, release, nil
}

// authorize checks actor against the memorial owning memorialID.
func (e *Engine) authorize(ctx context.Context, memorialID string, actor stream.Actor) error {
	if actor.ID == "" {
		return fmt.Errorf("anonymous actor: %w", stream.ErrForbidden)
	}
	if actor.Role == stream.RoleAdmin || actor.Role == stream.RoleSystem {
		return nil
	}
	m, err := e.store.GetMemorial(ctx, memorialID)
	if err != nil {
		return err
	}
	if !actor.CanManage(m) {
		return fmt.Errorf("actor %s on memorial %s: %w", actor.ID, memorialID, stream.ErrForbidden)
	}
	return nil
}

// loadAuthorized loads a stream and checks actor may manage it.
func (e *Engine) loadAuthorized(ctx context.Context, id string, actor stream.Actor) (*stream.Stream, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, s.MemorialID, actor); err != nil {
		return nil, err
	}
	return s, nil
}

// write persists patch and records the transition. An empty patch is a
// no-op and returns s unchanged.
func (e *Engine) write(ctx context.Context, s *stream.Stream, patch stream.Patch, trigger string) (*stream.Stream, error) {
	if patch.Empty() {
		return s, nil
	}
	updated, err := e.store.Update(ctx, s.ID, patch)
	if err != nil {
		return s, fmt.Errorf("update stream %s: %w", s.ID, err)
	}
	if updated.Status != s.Status {
		metrics.Transitions.WithLabelValues(string(s.Status), string(updated.Status), trigger).Inc()
		log.Info("stream transition",
			zap.String("stream_id", s.ID),
			zap.String("memorial_id", s.MemorialID),
			zap.String("from", string(s.Status)),
			zap.String("to", string(updated.Status)),
			zap.String("trigger", trigger),
		)
	}
	return updated, nil
}

func (e *Engine) notify(ctx context.Context, typ EventType, s *stream.Stream, from stream.Status, actor stream.Actor, detail string) {
	e.notifier.Notify(ctx, Notification{
		Type:       typ,
		Stream:     s.Clone(),
		From:       from,
		Actor:      actor,
		Detail:     detail,
		OccurredAt: e.clock(),
	})
}

func (e *Engine) audit(ctx context.Context, s *stream.Stream, actor stream.Actor, action string, from, to stream.Status, detail string) {
	entry := &stream.AuditEntry{
		StreamID:   s.ID,
		MemorialID: s.MemorialID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		Detail:     detail,
	}
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		log.Error("failed to append audit entry",
			zap.String("stream_id", s.ID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

// goLive moves s to live under the memorial lease, refusing when another
// stream of the same memorial is already live.
func (e *Engine) goLive(ctx context.Context, s *stream.Stream, patch stream.Patch, trigger string) (*stream.Stream, error) {
	release, err := e.locker.Acquire(ctx, lease.MemorialKey(s.MemorialID))
	if err != nil {
		return s, fmt.Errorf("acquire memorial lease: %w", err)
	}
	defer release()

	live := stream.StatusLive
	siblings, _, err := e.store.ListByMemorial(ctx, s.MemorialID, stream.ListFilter{Status: &live, Limit: 100})
	if err != nil {
		return s, fmt.Errorf("list live streams: %w", err)
	}
	for _, other := range siblings {
		if other.ID == s.ID {
			continue
		}
		metrics.LiveConflicts.Inc()
		log.Warn("refusing live transition: memorial already has a live stream",
			zap.String("stream_id", s.ID),
			zap.String("memorial_id", s.MemorialID),
			zap.String("live_stream_id", other.ID),
			zap.String("trigger", trigger),
		)
		return s, fmt.Errorf("memorial %s already live on %s: %w", s.MemorialID, other.ID, stream.ErrConflict)
	}

	return e.write(ctx, s, patch, trigger)
}

func (e *Engine) adapter(s *stream.Stream) (provider.Adapter, error) {
	a, err := e.providers.Get(s.Provider)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", s.ID, err)
	}
	return a, nil
}

// fillDuration probes the playlist when the vendor reported no duration.
func (e *Engine) fillDuration(ctx context.Context, s *stream.Stream, rec *stream.Recording) {
	if rec.Duration > 0 {
		return
	}
	rec.Duration = 0
	if e.prober == nil || rec.PlaybackURL == "" {
		return
	}
	info, err := e.prober.Probe(ctx, rec.PlaybackURL)
	if err != nil {
		log.Warn("failed to probe recording playlist",
			zap.String("stream_id", s.ID),
			zap.String("playback_url", rec.PlaybackURL),
			zap.Error(err),
		)
		return
	}
	rec.Duration = info.Duration
}

func isConflict(err error) bool {
	return errors.Is(err, stream.ErrConflict)
}
