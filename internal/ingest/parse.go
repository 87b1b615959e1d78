package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// Parse normalizes a raw vendor webhook body.
func Parse(p stream.Provider, body []byte) (*Event, error) {
	switch p {
	case stream.ProviderCloudflare:
		return parseCloudflare(body)
	case stream.ProviderMux:
		return parseMux(body)
	default:
		return nil, fmt.Errorf("provider %q: %w", p, stream.ErrInvalid)
	}
}

type cloudflareNotification struct {
	Data *struct {
		EventType string `json:"event_type"`
		InputID   string `json:"input_id"`
		UpdatedAt string `json:"updated_at"`
	} `json:"data"`
	TS int64 `json:"ts"`

	// Video webhooks post the video object itself.
	UID           string `json:"uid"`
	LiveInput     string `json:"liveInput"`
	ReadyToStream bool   `json:"readyToStream"`
	Status        *struct {
		State string `json:"state"`
	} `json:"status"`
	Modified string `json:"modified"`
}

func parseCloudflare(body []byte) (*Event, error) {
	var n cloudflareNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if n.Data != nil && n.Data.EventType != "" {
		ev := &Event{
			Provider:   stream.ProviderCloudflare,
			VendorType: n.Data.EventType,
			InputID:    n.Data.InputID,
			OccurredAt: parseTime(n.Data.UpdatedAt),
		}
		if ev.OccurredAt.IsZero() && n.TS > 0 {
			ev.OccurredAt = time.Unix(n.TS, 0).UTC()
		}
		switch n.Data.EventType {
		case "live_input.connected":
			ev.Kind = KindStarted
		case "live_input.disconnected", "live_input.errored":
			ev.Kind = KindDisconnected
		default:
			return nil, fmt.Errorf("%w: cloudflare %s", ErrUnrecognized, n.Data.EventType)
		}
		if ev.InputID == "" {
			return nil, fmt.Errorf("%w: cloudflare %s without input_id", ErrUnrecognized, n.Data.EventType)
		}
		return ev, nil
	}

	if n.UID != "" {
		ev := &Event{
			Provider:   stream.ProviderCloudflare,
			AssetID:    n.UID,
			InputID:    n.LiveInput,
			OccurredAt: parseTime(n.Modified),
		}
		state := ""
		if n.Status != nil {
			state = n.Status.State
		}
		ev.VendorType = "video." + state
		switch {
		case state == "ready" || (state == "" && n.ReadyToStream):
			ev.Kind = KindAssetReady
			ev.VendorType = "video.ready"
		case state == "error":
			ev.Kind = KindAssetErrored
		default:
			return nil, fmt.Errorf("%w: cloudflare video state %q", ErrUnrecognized, state)
		}
		return ev, nil
	}

	return nil, fmt.Errorf("%w: cloudflare payload without event", ErrUnrecognized)
}

type muxWebhook struct {
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Object    *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"object"`
	Data *struct {
		ID           string `json:"id"`
		LiveStreamID string `json:"live_stream_id"`
	} `json:"data"`
}

var muxKinds = map[string]Kind{
	"video.live_stream.active":          KindStarted,
	"video.live_stream.idle":            KindEnded,
	"video.live_stream.disconnected":    KindDisconnected,
	"video.asset.live_stream_completed": KindEnded,
	"video.asset.ready":                 KindAssetReady,
	"video.asset.errored":               KindAssetErrored,
}

func parseMux(body []byte) (*Event, error) {
	var w muxWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	kind, ok := muxKinds[w.Type]
	if !ok {
		return nil, fmt.Errorf("%w: mux %q", ErrUnrecognized, w.Type)
	}

	var objectID, dataID, liveStreamID string
	if w.Object != nil {
		objectID = w.Object.ID
	}
	if w.Data != nil {
		dataID = w.Data.ID
		liveStreamID = w.Data.LiveStreamID
	}

	ev := &Event{
		Provider:   stream.ProviderMux,
		Kind:       kind,
		VendorType: w.Type,
		OccurredAt: parseTime(w.CreatedAt),
	}
	if strings.HasPrefix(w.Type, "video.asset.") {
		ev.AssetID = firstNonEmpty(objectID, dataID)
		ev.InputID = liveStreamID
	} else {
		ev.InputID = firstNonEmpty(objectID, dataID, liveStreamID)
	}

	if ev.InputID == "" && ev.AssetID == "" {
		return nil, fmt.Errorf("%w: mux %s without id", ErrUnrecognized, w.Type)
	}
	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
