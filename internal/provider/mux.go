package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

const (
	muxIngestURL    = "rtmps://global-live.mux.com:443/app"
	muxSRTHost      = "srt://global-live.mux.com:6001"
	muxPlaybackBase = "https://stream.mux.com/"
	muxImageBase    = "https://image.mux.com/"
)

// MuxConfig configures the Mux adapter.
type MuxConfig struct {
	TokenID     string
	TokenSecret string
	Client      ClientConfig
}

// Mux implements Adapter against the Mux Video API.
type Mux struct {
	client *client
}

// NewMux creates a Mux adapter.
func NewMux(cfg MuxConfig) *Mux {
	if cfg.Client.BaseURL == "" {
		cfg.Client.BaseURL = "https://api.mux.com"
	}
	id, secret := cfg.TokenID, cfg.TokenSecret
	return &Mux{
		client: newClient(stream.ProviderMux, cfg.Client, func(req *http.Request) {
			req.SetBasicAuth(id, secret)
		}),
	}
}

// Name implements Adapter.
func (m *Mux) Name() stream.Provider { return stream.ProviderMux }

type muxEnvelope[T any] struct {
	Data T `json:"data"`
}

type muxPlaybackID struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

type muxLiveStream struct {
	ID            string          `json:"id"`
	StreamKey     string          `json:"stream_key"`
	Status        string          `json:"status"`
	PlaybackIDs   []muxPlaybackID `json:"playback_ids"`
	SRTPassphrase string          `json:"srt_passphrase"`
}

type muxAsset struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	Duration     float64         `json:"duration"`
	CreatedAt    string          `json:"created_at"`
	PlaybackIDs  []muxPlaybackID `json:"playback_ids"`
	LiveStreamID string          `json:"live_stream_id"`
}

// CreateLiveInput implements Adapter.
func (m *Mux) CreateLiveInput(ctx context.Context, cfg LiveInputConfig) (*LiveInput, error) {
	body := map[string]any{
		"playback_policy": []string{"public"},
		"new_asset_settings": map[string]any{
			"playback_policy": []string{"public"},
		},
		"passthrough": cfg.StreamID,
	}
	if cfg.RecordingTimeout > 0 {
		body["reconnect_window"] = int(cfg.RecordingTimeout / time.Second)
	}

	var env muxEnvelope[muxLiveStream]
	if err := m.client.doJSON(ctx, "create_live_input", http.MethodPost, "/video/v1/live-streams", body, &env); err != nil {
		return nil, err
	}
	ls := env.Data
	if ls.ID == "" {
		return nil, &Error{Provider: stream.ProviderMux, Op: "create_live_input", Message: "response missing id", Err: ErrProviderUnavailable}
	}

	creds := stream.IngestCredentials{
		URL:       muxIngestURL,
		StreamKey: ls.StreamKey,
	}
	if ls.SRTPassphrase != "" {
		creds.SRTURL = muxSRTHost + "?streamid=" + url.QueryEscape(ls.StreamKey) + "&passphrase=" + url.QueryEscape(ls.SRTPassphrase)
	}
	return &LiveInput{InputID: ls.ID, Credentials: creds}, nil
}

// GetLiveStatus implements Adapter.
func (m *Mux) GetLiveStatus(ctx context.Context, inputID string) (*LiveStatus, error) {
	var env muxEnvelope[muxLiveStream]
	err := m.client.doJSON(ctx, "get_live_status", http.MethodGet, "/video/v1/live-streams/"+url.PathEscape(inputID), nil, &env)
	if err != nil {
		return liveStatusFromError(err)
	}

	st := &LiveStatus{IsLive: env.Data.Status == "active"}
	if pid := firstPlaybackID(env.Data.PlaybackIDs); pid != "" {
		st.HLSURL = muxPlaybackBase + pid + ".m3u8"
		st.PreviewURL = muxImageBase + pid + "/thumbnail.jpg"
	}
	return st, nil
}

// ListRecordings implements Adapter.
func (m *Mux) ListRecordings(ctx context.Context, inputID string) ([]Recording, error) {
	var env muxEnvelope[[]muxAsset]
	path := "/video/v1/assets?live_stream_id=" + url.QueryEscape(inputID)
	if err := m.client.doJSON(ctx, "list_recordings", http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}

	recs := make([]Recording, 0, len(env.Data))
	for _, a := range env.Data {
		rec := Recording{
			AssetID:   a.ID,
			State:     muxState(a.Status),
			Duration:  a.Duration,
			CreatedAt: parseUnixString(a.CreatedAt),
		}
		if pid := firstPlaybackID(a.PlaybackIDs); pid != "" {
			rec.PlaybackURL = muxPlaybackBase + pid + ".m3u8"
			rec.ThumbnailURL = muxImageBase + pid + "/thumbnail.jpg"
		}
		recs = append(recs, rec)
	}
	sortNewestFirst(recs)
	return recs, nil
}

// DeleteResource implements Adapter.
func (m *Mux) DeleteResource(ctx context.Context, ref ResourceRef) {
	var path string
	switch ref.Kind {
	case ResourceInput:
		path = "/video/v1/live-streams/" + url.PathEscape(ref.ID)
	case ResourceAsset:
		path = "/video/v1/assets/" + url.PathEscape(ref.ID)
	default:
		log.Warn("mux: unknown resource kind", zap.String("kind", string(ref.Kind)))
		return
	}

	if err := m.client.doJSON(ctx, "delete_resource", http.MethodDelete, path, nil, nil); err != nil {
		var pe *Error
		if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
			return
		}
		log.Warn("mux: delete resource failed",
			zap.String("kind", string(ref.Kind)),
			zap.String("id", ref.ID),
			zap.Error(err),
		)
	}
}

func muxState(status string) RecordingState {
	switch status {
	case "ready":
		return RecordingReady
	case "errored":
		return RecordingErrored
	default:
		return RecordingProcessing
	}
}

func firstPlaybackID(ids []muxPlaybackID) string {
	for _, p := range ids {
		if p.Policy == "" || p.Policy == "public" {
			return p.ID
		}
	}
	return ""
}

// parseUnixString parses Mux's string-encoded epoch seconds.
func parseUnixString(v string) time.Time {
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
