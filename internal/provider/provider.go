package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

var (
	// ErrProviderUnavailable covers network failures, timeouts and 5xx
	// responses. Callers may retry with backoff.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderRejected covers 4xx responses. Not retried automatically.
	ErrProviderRejected = errors.New("provider rejected request")
)

// Error carries vendor context for a failed call and unwraps to one of
// ErrProviderUnavailable or ErrProviderRejected.
type Error struct {
	Provider   stream.Provider
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// LiveInputConfig describes the ingest endpoint to allocate.
type LiveInputConfig struct {
	Name       string
	StreamID   string
	MemorialID string
	// RecordingTimeout is how long the vendor waits after a disconnect
	// before finalizing the recording.
	RecordingTimeout time.Duration
}

// LiveInput is the result of allocating an ingest endpoint.
type LiveInput struct {
	InputID     string
	Credentials stream.IngestCredentials
}

// LiveStatus is a normalized live-check result.
type LiveStatus struct {
	IsLive     bool
	PreviewURL string
	HLSURL     string
	// Warning is set when the vendor answered with something other than a
	// clean 200. IsLive is false in that case and callers should not treat
	// the read as a reliable negative.
	Warning string
}

// RecordingState is the normalized processing state of a VOD asset.
type RecordingState string

const (
	RecordingProcessing RecordingState = "processing"
	RecordingReady      RecordingState = "ready"
	RecordingErrored    RecordingState = "errored"
)

// Recording is a normalized VOD asset.
type Recording struct {
	AssetID      string
	State        RecordingState
	PlaybackURL  string
	Duration     float64
	ThumbnailURL string
	CreatedAt    time.Time
}

// ResourceKind selects what DeleteResource removes.
type ResourceKind string

const (
	ResourceInput ResourceKind = "input"
	ResourceAsset ResourceKind = "asset"
)

// ResourceRef names a vendor-side resource.
type ResourceRef struct {
	Kind ResourceKind
	ID   string
}

// Adapter hides vendor REST shapes behind one interface.
type Adapter interface {
	Name() stream.Provider
	CreateLiveInput(ctx context.Context, cfg LiveInputConfig) (*LiveInput, error)
	GetLiveStatus(ctx context.Context, inputID string) (*LiveStatus, error)
	// ListRecordings returns assets for the input, newest first.
	ListRecordings(ctx context.Context, inputID string) ([]Recording, error)
	// DeleteResource is best-effort: failures are logged, never returned.
	DeleteResource(ctx context.Context, ref ResourceRef)
}

// sortNewestFirst orders recordings by creation time, newest first.
func sortNewestFirst(recs []Recording) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
