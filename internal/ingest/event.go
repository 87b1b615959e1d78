package ingest

import (
	"errors"
	"time"

	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

var (
	// ErrMalformed is returned for payloads that are not valid JSON.
	ErrMalformed = errors.New("malformed webhook payload")
	// ErrUnrecognized is returned for well-formed payloads that carry no
	// event the engine acts on.
	ErrUnrecognized = errors.New("unrecognized webhook event")
)

// Kind is the normalized event kind.
type Kind string

const (
	KindStarted      Kind = "started"
	KindEnded        Kind = "ended"
	KindDisconnected Kind = "disconnected"
	KindAssetReady   Kind = "asset_ready"
	KindAssetErrored Kind = "asset_errored"
)

// Event is a vendor webhook normalized to the engine's vocabulary.
type Event struct {
	Provider stream.Provider `json:"provider"`
	Kind     Kind            `json:"kind"`
	// InputID is the vendor live input the event belongs to, when known.
	InputID string `json:"input_id,omitempty"`
	// AssetID is set for asset events.
	AssetID    string    `json:"asset_id,omitempty"`
	VendorType string    `json:"vendor_type"`
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

// IsAsset reports whether e concerns a recording asset.
func (e Event) IsAsset() bool {
	return e.Kind == KindAssetReady || e.Kind == KindAssetErrored
}
