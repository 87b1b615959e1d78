package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// CloudflareConfig configures the Cloudflare Stream adapter.
type CloudflareConfig struct {
	AccountID string
	APIToken  string
	Client    ClientConfig
}

// Cloudflare implements Adapter against the Cloudflare Stream API.
type Cloudflare struct {
	accountID string
	client    *client
}

// NewCloudflare creates a Cloudflare Stream adapter.
func NewCloudflare(cfg CloudflareConfig) *Cloudflare {
	if cfg.Client.BaseURL == "" {
		cfg.Client.BaseURL = "https://api.cloudflare.com/client/v4"
	}
	token := cfg.APIToken
	return &Cloudflare{
		accountID: cfg.AccountID,
		client: newClient(stream.ProviderCloudflare, cfg.Client, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}),
	}
}

// Name implements Adapter.
func (c *Cloudflare) Name() stream.Provider { return stream.ProviderCloudflare }

type cfEnvelope[T any] struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result T `json:"result"`
}

func (e *cfEnvelope[T]) err(op string) error {
	if e.Success {
		return nil
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, m := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%d %s", m.Code, m.Message))
	}
	return &Error{Provider: stream.ProviderCloudflare, Op: op, Message: strings.Join(msgs, "; "), Err: ErrProviderRejected}
}

type cfLiveInput struct {
	UID   string `json:"uid"`
	RTMPS struct {
		URL       string `json:"url"`
		StreamKey string `json:"streamKey"`
	} `json:"rtmps"`
	SRT struct {
		URL        string `json:"url"`
		StreamID   string `json:"streamId"`
		Passphrase string `json:"passphrase"`
	} `json:"srt"`
	WebRTC struct {
		URL string `json:"url"`
	} `json:"webRTC"`
	Status *struct {
		Current struct {
			State string `json:"state"`
		} `json:"current"`
	} `json:"status"`
}

type cfVideo struct {
	UID           string    `json:"uid"`
	Created       time.Time `json:"created"`
	ReadyToStream bool      `json:"readyToStream"`
	Duration      float64   `json:"duration"`
	Thumbnail     string    `json:"thumbnail"`
	Preview       string    `json:"preview"`
	Status        struct {
		State string `json:"state"`
	} `json:"status"`
	Playback struct {
		HLS  string `json:"hls"`
		DASH string `json:"dash"`
	} `json:"playback"`
}

func (c *Cloudflare) accountPath(format string, args ...any) string {
	return "/accounts/" + url.PathEscape(c.accountID) + fmt.Sprintf(format, args...)
}

// CreateLiveInput implements Adapter.
func (c *Cloudflare) CreateLiveInput(ctx context.Context, cfg LiveInputConfig) (*LiveInput, error) {
	timeout := int(cfg.RecordingTimeout / time.Second)
	body := map[string]any{
		"meta": map[string]string{
			"name":        cfg.Name,
			"stream_id":   cfg.StreamID,
			"memorial_id": cfg.MemorialID,
		},
		"recording": map[string]any{
			"mode":           "automatic",
			"timeoutSeconds": timeout,
		},
	}

	var env cfEnvelope[cfLiveInput]
	if err := c.client.doJSON(ctx, "create_live_input", http.MethodPost, c.accountPath("/stream/live_inputs"), body, &env); err != nil {
		return nil, err
	}
	if err := env.err("create_live_input"); err != nil {
		return nil, err
	}
	if env.Result.UID == "" {
		return nil, &Error{Provider: stream.ProviderCloudflare, Op: "create_live_input", Message: "response missing uid", Err: ErrProviderUnavailable}
	}

	in := env.Result
	creds := stream.IngestCredentials{
		URL:       in.RTMPS.URL,
		StreamKey: in.RTMPS.StreamKey,
		WebRTCURL: in.WebRTC.URL,
	}
	if in.SRT.URL != "" {
		creds.SRTURL = fmt.Sprintf("%s?streamid=%s&passphrase=%s", in.SRT.URL, in.SRT.StreamID, in.SRT.Passphrase)
	}
	return &LiveInput{InputID: in.UID, Credentials: creds}, nil
}

// GetLiveStatus implements Adapter.
func (c *Cloudflare) GetLiveStatus(ctx context.Context, inputID string) (*LiveStatus, error) {
	var env cfEnvelope[cfLiveInput]
	err := c.client.doJSON(ctx, "get_live_status", http.MethodGet, c.accountPath("/stream/live_inputs/%s", url.PathEscape(inputID)), nil, &env)
	if err != nil {
		return liveStatusFromError(err)
	}
	if !env.Success {
		return &LiveStatus{Warning: env.err("get_live_status").Error()}, nil
	}

	st := &LiveStatus{}
	if env.Result.Status != nil {
		st.IsLive = env.Result.Status.Current.State == "connected"
	}
	return st, nil
}

// ListRecordings implements Adapter.
func (c *Cloudflare) ListRecordings(ctx context.Context, inputID string) ([]Recording, error) {
	var env cfEnvelope[[]cfVideo]
	path := c.accountPath("/stream") + "?liveInput=" + url.QueryEscape(inputID)
	if err := c.client.doJSON(ctx, "list_recordings", http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	if err := env.err("list_recordings"); err != nil {
		return nil, err
	}

	recs := make([]Recording, 0, len(env.Result))
	for _, v := range env.Result {
		recs = append(recs, Recording{
			AssetID:      v.UID,
			State:        cloudflareState(v),
			PlaybackURL:  v.Playback.HLS,
			Duration:     v.Duration,
			ThumbnailURL: v.Thumbnail,
			CreatedAt:    v.Created,
		})
	}
	sortNewestFirst(recs)
	return recs, nil
}

// DeleteResource implements Adapter.
func (c *Cloudflare) DeleteResource(ctx context.Context, ref ResourceRef) {
	var path string
	switch ref.Kind {
	case ResourceInput:
		path = c.accountPath("/stream/live_inputs/%s", url.PathEscape(ref.ID))
	case ResourceAsset:
		path = c.accountPath("/stream/%s", url.PathEscape(ref.ID))
	default:
		log.Warn("cloudflare: unknown resource kind", zap.String("kind", string(ref.Kind)))
		return
	}

	err := c.client.doJSON(ctx, "delete_resource", http.MethodDelete, path, nil, nil)
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
			return
		}
		log.Warn("cloudflare: delete resource failed",
			zap.String("kind", string(ref.Kind)),
			zap.String("id", ref.ID),
			zap.Error(err),
		)
	}
}

// cloudflareState maps status.state to the normalized recording state.
func cloudflareState(v cfVideo) RecordingState {
	switch v.Status.State {
	case "ready":
		return RecordingReady
	case "error":
		return RecordingErrored
	case "":
		if v.ReadyToStream {
			return RecordingReady
		}
	}
	return RecordingProcessing
}

// liveStatusFromError turns a vendor HTTP failure into a warned negative.
// Transport failures without any response stay errors.
func liveStatusFromError(err error) (*LiveStatus, error) {
	var pe *Error
	if errors.As(err, &pe) && pe.StatusCode != 0 {
		return &LiveStatus{Warning: err.Error()}, nil
	}
	return nil, err
}
