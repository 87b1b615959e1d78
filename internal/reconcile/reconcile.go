package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/ingest"
	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/metrics"
	"github.com/xpadev-net/memorial-livestream/internal/provider"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

const (
	triggerPoll    = "poll"
	triggerWebhook = "webhook"
	triggerAdmin   = "admin"
	triggerForce   = "force"
)

// Reconcile runs one pass for a stream: read the stored record, query the
// vendor, and persist the minimal change. It is safe to call repeatedly.
func (e *Engine) Reconcile(ctx context.Context, id string) (*stream.Stream, error) {
	start := time.Now()
	s, changed, err := e.reconcile(ctx, id)
	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.ReconcilePasses.WithLabelValues("error").Inc()
	case changed:
		metrics.ReconcilePasses.WithLabelValues("updated").Inc()
	default:
		metrics.ReconcilePasses.WithLabelValues("noop").Inc()
	}
	return s, err
}

func (e *Engine) reconcile(ctx context.Context, id string) (*stream.Stream, bool, error) {
	s, release, err := e.lockStream(ctx, id)
	if err != nil {
		return nil, false, err
	}
	defer release()

	before := s.UpdatedAt
	out, err := e.reconcileLocked(ctx, s)
	if out == nil {
		out = s
	}
	return out, !out.UpdatedAt.Equal(before), err
}

func (e *Engine) reconcileLocked(ctx context.Context, s *stream.Stream) (*stream.Stream, error) {
	if s.ProviderInputID == "" {
		return s, nil
	}
	switch s.Status {
	case stream.StatusArmed, stream.StatusLive:
		return e.reconcileLive(ctx, s)
	case stream.StatusCompleted:
		if !s.AwaitingRecording() {
			return s, nil
		}
		return e.checkRecording(ctx, s, false, triggerPoll)
	default:
		return s, nil
	}
}

func (e *Engine) reconcileLive(ctx context.Context, s *stream.Stream) (*stream.Stream, error) {
	a, err := e.adapter(s)
	if err != nil {
		return s, err
	}
	st, err := a.GetLiveStatus(ctx, s.ProviderInputID)
	if err != nil {
		return s, err
	}

	now := e.clock()
	action := decideLiveRead(s, st, e.cfg.LiveMissThreshold)
	if st.Warning != "" {
		log.Warn("live status read with warning",
			zap.String("stream_id", s.ID),
			zap.String("warning", st.Warning),
		)
	}

	switch action {
	case liveStart:
		updated, err := e.goLive(ctx, s, startPatch(s, now), triggerPoll)
		if err != nil {
			if isConflict(err) {
				return s, nil
			}
			return s, err
		}
		e.notify(ctx, EventStreamLive, updated, s.Status, stream.SystemActor, "")
		return updated, nil
	case liveResetMisses:
		return e.write(ctx, s, stream.Patch{LiveMissCount: stream.Ptr(0)}, triggerPoll)
	case liveMiss:
		log.Info("live stream missed a live check",
			zap.String("stream_id", s.ID),
			zap.Int("misses", s.LiveMissCount+1),
			zap.Int("threshold", e.cfg.LiveMissThreshold),
		)
		return e.write(ctx, s, stream.Patch{LiveMissCount: stream.Ptr(s.LiveMissCount + 1)}, triggerPoll)
	case liveEnd:
		return e.complete(ctx, s, now, stream.SystemActor, triggerPoll)
	default:
		return s, nil
	}
}

func (e *Engine) complete(ctx context.Context, s *stream.Stream, now time.Time, actor stream.Actor, trigger string) (*stream.Stream, error) {
	updated, err := e.write(ctx, s, completePatch(s, now), trigger)
	if err != nil {
		return s, err
	}
	e.notify(ctx, EventStreamCompleted, updated, s.Status, actor, "")
	return updated, nil
}

// checkRecording queries vendor recordings for a completed stream and
// attaches the session's asset once ready.
func (e *Engine) checkRecording(ctx context.Context, s *stream.Stream, ignoreWindow bool, trigger string) (*stream.Stream, error) {
	a, err := e.adapter(s)
	if err != nil {
		return s, err
	}
	now := e.clock()

	recs, err := a.ListRecordings(ctx, s.ProviderInputID)
	if err != nil {
		rejected := errors.Is(err, provider.ErrProviderRejected)
		if ignoreWindow || (!rejected && !recordingWaitExpired(s, now, e.cfg.RecordingPollTimeout)) {
			return s, err
		}
		patch := stream.Patch{
			NeedsManualRecordingCheck: stream.Ptr(true),
			LastError:                 stream.Ptr(err.Error()),
		}
		return e.flagManual(ctx, s, patch, "list_recordings_failed", trigger)
	}

	d := decideRecording(s, recs, now, e.cfg.RecordingPollTimeout, e.cfg.RecordingMatchSkew, ignoreWindow)
	if d.patch.Recording != nil {
		e.fillDuration(ctx, s, d.patch.Recording)
	}

	switch d.event {
	case EventRecordingReady:
		updated, err := e.write(ctx, s, d.patch, trigger)
		if err != nil {
			return s, err
		}
		log.Info("recording attached",
			zap.String("stream_id", s.ID),
			zap.String("asset_id", updated.ProviderAssetID),
			zap.Float64("duration", updated.Recording.Duration),
		)
		e.notify(ctx, EventRecordingReady, updated, s.Status, stream.SystemActor, "")
		return updated, nil
	case EventRecordingTimeout:
		return e.flagManual(ctx, s, d.patch, d.detail, trigger)
	default:
		return e.write(ctx, s, d.patch, trigger)
	}
}

func (e *Engine) flagManual(ctx context.Context, s *stream.Stream, patch stream.Patch, detail, trigger string) (*stream.Stream, error) {
	updated, err := e.write(ctx, s, patch, trigger)
	if err != nil {
		return s, err
	}
	metrics.RecordingTimeouts.Inc()
	log.Warn("recording needs manual follow-up",
		zap.String("stream_id", s.ID),
		zap.String("memorial_id", s.MemorialID),
		zap.String("reason", detail),
	)
	e.notify(ctx, EventRecordingTimeout, updated, s.Status, stream.SystemActor, detail)
	return updated, nil
}

// ApplyEvent applies a normalized vendor webhook. Replaying an event
// yields the same stored state as applying it once.
func (e *Engine) ApplyEvent(ctx context.Context, ev ingest.Event) (*stream.Stream, error) {
	found, err := e.resolve(ctx, ev)
	if err != nil {
		return nil, err
	}
	s, release, err := e.lockStream(ctx, found.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	if staleEvent(s, ev) {
		log.Info("ignoring stale vendor event",
			zap.String("stream_id", s.ID),
			zap.String("kind", string(ev.Kind)),
			zap.String("vendor_type", ev.VendorType),
			zap.Time("occurred_at", ev.OccurredAt),
		)
		return s, nil
	}

	now := e.clock()
	switch ev.Kind {
	case ingest.KindStarted:
		switch s.Status {
		case stream.StatusArmed:
			updated, err := e.goLive(ctx, s, startPatch(s, now), triggerWebhook)
			if err != nil {
				return s, err
			}
			e.notify(ctx, EventStreamLive, updated, s.Status, stream.SystemActor, ev.VendorType)
			return updated, nil
		case stream.StatusLive:
			if s.LiveMissCount == 0 {
				return s, nil
			}
			return e.write(ctx, s, stream.Patch{LiveMissCount: stream.Ptr(0)}, triggerWebhook)
		}
		return s, nil

	case ingest.KindEnded:
		// Only a live session can end; an armed input going idle is the
		// vendor's initial state.
		if s.Status == stream.StatusLive {
			return e.complete(ctx, s, now, stream.SystemActor, triggerWebhook)
		}
		return s, nil

	case ingest.KindDisconnected:
		if s.Status != stream.StatusLive {
			return s, nil
		}
		// A disconnect counts as one miss; the encoder may reconnect
		// inside the vendor's reconnect window.
		misses := max(s.LiveMissCount, 1)
		if misses >= e.cfg.LiveMissThreshold {
			return e.complete(ctx, s, now, stream.SystemActor, triggerWebhook)
		}
		if misses == s.LiveMissCount {
			return s, nil
		}
		return e.write(ctx, s, stream.Patch{LiveMissCount: stream.Ptr(misses)}, triggerWebhook)

	case ingest.KindAssetReady, ingest.KindAssetErrored:
		if s.Status != stream.StatusCompleted || s.RecordingReady() {
			return s, nil
		}
		return e.checkRecording(ctx, s, true, triggerWebhook)
	}

	return s, fmt.Errorf("event kind %q: %w", ev.Kind, stream.ErrInvalid)
}

func (e *Engine) resolve(ctx context.Context, ev ingest.Event) (*stream.Stream, error) {
	if ev.InputID != "" {
		s, err := e.store.FindByProviderInputID(ctx, ev.Provider, ev.InputID)
		if err == nil || !errors.Is(err, stream.ErrNotFound) || ev.AssetID == "" {
			return s, err
		}
	}
	if ev.AssetID != "" {
		return e.store.FindByProviderAssetID(ctx, ev.Provider, ev.AssetID)
	}
	return nil, fmt.Errorf("event without provider ids: %w", stream.ErrNotFound)
}

// AwaitRecording reconciles a completed stream with exponential backoff
// until its recording is attached or it is flagged for manual follow-up.
// The wait is bounded by the recording poll timeout; when that ceiling is
// reached the stream is flagged.
func (e *Engine) AwaitRecording(ctx context.Context, id string) (*stream.Stream, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.RecordingPollTimeout)
	defer cancel()

	policy := retrypolicy.NewBuilder[*stream.Stream]().
		HandleIf(func(s *stream.Stream, err error) bool {
			if err != nil {
				return provider.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
			}
			return s != nil && s.AwaitingRecording()
		}).
		WithBackoff(e.cfg.AwaitRecordingBase, e.cfg.AwaitRecordingMax).
		WithJitterFactor(0.1).
		WithMaxRetries(-1).
		Build()

	s, err := failsafe.With(policy).WithContext(waitCtx).Get(func() (*stream.Stream, error) {
		return e.Reconcile(waitCtx, id)
	})
	if err == nil && s != nil && !s.AwaitingRecording() {
		return s, nil
	}
	if ctx.Err() != nil {
		return s, ctx.Err()
	}
	if waitCtx.Err() == nil {
		return s, err
	}

	// Ceiling reached. Flag the stream unless something attached the
	// recording in the meantime.
	cur, release, lockErr := e.lockStream(ctx, id)
	if lockErr != nil {
		return s, lockErr
	}
	defer release()
	if !cur.AwaitingRecording() {
		return cur, nil
	}
	return e.flagManual(ctx, cur, stream.Patch{NeedsManualRecordingCheck: stream.Ptr(true)}, "await_ceiling_reached", triggerPoll)
}
