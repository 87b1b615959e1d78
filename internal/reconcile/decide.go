package reconcile

import (
	"time"

	"github.com/xpadev-net/memorial-livestream/internal/ingest"
	"github.com/xpadev-net/memorial-livestream/internal/provider"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// liveAction is what one live-status read asks the engine to do.
type liveAction int

const (
	liveNoop liveAction = iota
	liveStart
	liveResetMisses
	liveMiss
	liveEnd
)

func (a liveAction) String() string {
	switch a {
	case liveStart:
		return "start"
	case liveResetMisses:
		return "reset_misses"
	case liveMiss:
		return "miss"
	case liveEnd:
		return "end"
	default:
		return "noop"
	}
}

// decideLiveRead maps a stream and one vendor live read to an action.
// Reads carrying a warning are never counted as a negative.
func decideLiveRead(s *stream.Stream, st *provider.LiveStatus, threshold int) liveAction {
	switch s.Status {
	case stream.StatusArmed:
		if st.IsLive {
			return liveStart
		}
	case stream.StatusLive:
		if st.IsLive {
			if s.LiveMissCount > 0 {
				return liveResetMisses
			}
			return liveNoop
		}
		if st.Warning != "" {
			return liveNoop
		}
		if s.LiveMissCount+1 >= threshold {
			return liveEnd
		}
		return liveMiss
	}
	return liveNoop
}

func startPatch(s *stream.Stream, now time.Time) stream.Patch {
	p := stream.Patch{Status: stream.Ptr(stream.StatusLive)}
	if s.StartedAt == nil {
		p.StartedAt = &now
	}
	if s.LiveMissCount != 0 {
		p.LiveMissCount = stream.Ptr(0)
	}
	return p
}

func completePatch(s *stream.Stream, now time.Time) stream.Patch {
	p := stream.Patch{Status: stream.Ptr(stream.StatusCompleted)}
	if s.EndedAt == nil {
		p.EndedAt = &now
	}
	if s.LiveMissCount != 0 {
		p.LiveMissCount = stream.Ptr(0)
	}
	return p
}

// staleEvent reports whether a lifecycle event predates the session state
// it would change: a start from before the stream existed or ended, or an
// end or disconnect from before the current session started. Events
// without a timestamp and asset events are never stale.
func staleEvent(s *stream.Stream, ev ingest.Event) bool {
	if ev.OccurredAt.IsZero() {
		return false
	}
	switch ev.Kind {
	case ingest.KindStarted:
		if ev.OccurredAt.Before(s.CreatedAt) {
			return true
		}
		return s.EndedAt != nil && ev.OccurredAt.Before(*s.EndedAt)
	case ingest.KindEnded, ingest.KindDisconnected:
		return s.StartedAt != nil && ev.OccurredAt.Before(*s.StartedAt)
	}
	return false
}

// sessionStart is the reference time for matching a recording to the
// session. Streams completed without going live fall back to creation.
func sessionStart(s *stream.Stream) time.Time {
	if s.StartedAt != nil {
		return *s.StartedAt
	}
	return s.CreatedAt
}

// matchRecording picks the asset created closest on or after ref-skew.
// Assets without a creation time are never matched.
func matchRecording(recs []provider.Recording, ref time.Time, skew time.Duration) (provider.Recording, bool) {
	threshold := ref.Add(-skew)
	var (
		best  provider.Recording
		found bool
	)
	for _, r := range recs {
		if r.CreatedAt.IsZero() || r.CreatedAt.Before(threshold) {
			continue
		}
		if !found || r.CreatedAt.Before(best.CreatedAt) {
			best = r
			found = true
		}
	}
	return best, found
}

// recordingWaitExpired reports whether the poll window after the session
// ended has elapsed.
func recordingWaitExpired(s *stream.Stream, now time.Time, window time.Duration) bool {
	ref := s.UpdatedAt
	if s.EndedAt != nil {
		ref = *s.EndedAt
	}
	return now.Sub(ref) >= window
}

// playable reports whether rec can be attached as a ready recording.
// Vendors may report ready before a playback URL exists; such assets are
// still processing.
func playable(rec provider.Recording) bool {
	return rec.State == provider.RecordingReady && rec.PlaybackURL != ""
}

// recordingDecision is the outcome of inspecting a completed stream's
// vendor recordings.
type recordingDecision struct {
	patch  stream.Patch
	event  EventType
	detail string
}

// decideRecording evaluates recordings for a completed stream. When
// ignoreWindow is set the poll window is not enforced; vendor webhooks
// use it so a late asset can still be attached.
func decideRecording(s *stream.Stream, recs []provider.Recording, now time.Time, window, skew time.Duration, ignoreWindow bool) recordingDecision {
	var d recordingDecision
	if s.RecordingReady() {
		return d
	}

	rec, ok := matchRecording(recs, sessionStart(s), skew)
	if ok {
		switch {
		case playable(rec):
			d.patch.Recording = &stream.Recording{
				Ready:        true,
				PlaybackURL:  rec.PlaybackURL,
				Duration:     rec.Duration,
				ThumbnailURL: rec.ThumbnailURL,
			}
			if s.ProviderAssetID != rec.AssetID {
				d.patch.ProviderAssetID = stream.Ptr(rec.AssetID)
			}
			if s.NeedsManualRecordingCheck {
				d.patch.NeedsManualRecordingCheck = stream.Ptr(false)
			}
			d.event = EventRecordingReady
			return d
		case rec.State == provider.RecordingErrored:
			if s.NeedsManualRecordingCheck && s.ProviderAssetID == rec.AssetID {
				return d
			}
			d.patch.NeedsManualRecordingCheck = stream.Ptr(true)
			d.patch.ProviderAssetID = stream.Ptr(rec.AssetID)
			d.patch.LastError = stream.Ptr("recording asset " + rec.AssetID + " errored")
			d.event = EventRecordingTimeout
			d.detail = "asset_errored"
			return d
		default:
			if s.ProviderAssetID != rec.AssetID {
				d.patch.ProviderAssetID = stream.Ptr(rec.AssetID)
			}
		}
	}

	if !ignoreWindow && !s.NeedsManualRecordingCheck && recordingWaitExpired(s, now, window) {
		d.patch.NeedsManualRecordingCheck = stream.Ptr(true)
		d.event = EventRecordingTimeout
		d.detail = "poll_window_elapsed"
	}
	return d
}
