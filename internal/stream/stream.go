package stream

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflicting state transition")
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid argument")
)

// Status represents the lifecycle state of a stream.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusArmed     Status = "armed"
	StatusLive      Status = "live"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

var statusRank = map[Status]int{
	StatusScheduled: 0,
	StatusArmed:     1,
	StatusLive:      2,
	StatusCompleted: 3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusArmed, StatusLive, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Rank returns the position of s in the forward lifecycle, or -1 for error.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether automated reconciliation stops at s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanAdvance reports whether an automated transition from -> to is allowed.
// The lifecycle only moves forward; error is reachable from any state
// that is not completed, and nothing leaves error automatically.
func CanAdvance(from, to Status) bool {
	if from == to {
		return false
	}
	if from == StatusError {
		return false
	}
	if to == StatusError {
		return from != StatusCompleted
	}
	return to.Rank() > from.Rank()
}

// Visibility is an administrative overlay independent of Status.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityHidden   Visibility = "hidden"
	VisibilityArchived Visibility = "archived"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityHidden, VisibilityArchived:
		return true
	}
	return false
}

// Provider tags the video vendor backing a stream.
type Provider string

const (
	ProviderCloudflare Provider = "cloudflare"
	ProviderMux        Provider = "mux"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	return p == ProviderCloudflare || p == ProviderMux
}

// IngestCredentials are the connection details a broadcaster needs.
type IngestCredentials struct {
	URL       string `json:"url"`
	StreamKey string `json:"stream_key"`
	SRTURL    string `json:"srt_url,omitempty"`
	WebRTCURL string `json:"webrtc_url,omitempty"`
}

// Recording describes the VOD asset produced by a live session.
type Recording struct {
	Ready        bool    `json:"ready"`
	PlaybackURL  string  `json:"playback_url,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
}

// Stream is a livestream broadcast belonging to one memorial.
type Stream struct {
	ID                        string             `json:"id"`
	MemorialID                string             `json:"memorial_id"`
	Title                     string             `json:"title,omitempty"`
	Status                    Status             `json:"status"`
	Visibility                Visibility         `json:"visibility"`
	Provider                  Provider           `json:"provider"`
	ProviderInputID           string             `json:"provider_input_id,omitempty"`
	ProviderAssetID           string             `json:"provider_asset_id,omitempty"`
	IngestCredentials         *IngestCredentials `json:"ingest_credentials,omitempty"`
	StartedAt                 *time.Time         `json:"started_at,omitempty"`
	EndedAt                   *time.Time         `json:"ended_at,omitempty"`
	Recording                 *Recording         `json:"recording,omitempty"`
	LiveMissCount             int                `json:"live_miss_count"`
	NeedsManualRecordingCheck bool               `json:"needs_manual_recording_check"`
	LastError                 string             `json:"last_error,omitempty"`
	CreatedAt                 time.Time          `json:"created_at"`
	UpdatedAt                 time.Time          `json:"updated_at"`
}

// RecordingReady reports whether a ready recording is attached.
func (s *Stream) RecordingReady() bool {
	return s.Recording != nil && s.Recording.Ready
}

// AwaitingRecording reports whether the stream still needs recording polls.
func (s *Stream) AwaitingRecording() bool {
	return s.Status == StatusCompleted && !s.RecordingReady() && !s.NeedsManualRecordingCheck
}

// Clone returns a deep copy of s.
func (s *Stream) Clone() *Stream {
	if s == nil {
		return nil
	}
	c := *s
	if s.IngestCredentials != nil {
		creds := *s.IngestCredentials
		c.IngestCredentials = &creds
	}
	if s.Recording != nil {
		rec := *s.Recording
		c.Recording = &rec
	}
	c.StartedAt = cloneTime(s.StartedAt)
	c.EndedAt = cloneTime(s.EndedAt)
	return &c
}

// Public returns a viewer-safe copy with ingest credentials and
// operational fields removed.
func (s *Stream) Public() *Stream {
	c := s.Clone()
	c.IngestCredentials = nil
	c.ProviderInputID = ""
	c.LastError = ""
	c.LiveMissCount = 0
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Memorial is the owning page of one or more streams.
type Memorial struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	FuneralDirectorID string    `json:"funeral_director_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// AuditEntry records an administrative action on a stream.
type AuditEntry struct {
	ID         string    `json:"id"`
	StreamID   string    `json:"stream_id"`
	MemorialID string    `json:"memorial_id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  Role      `json:"actor_role"`
	Action     string    `json:"action"`
	FromStatus Status    `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	AuditActionCreate     = "create"
	AuditActionForce      = "force_status"
	AuditActionVisibility = "set_visibility"
	AuditActionStop       = "stop"
	AuditActionDelete     = "delete"
)
