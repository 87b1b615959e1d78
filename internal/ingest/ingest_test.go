package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

func TestParseCloudflare(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantKind    Kind
		wantInput   string
		wantAsset   string
		wantErr     error
		wantOccured time.Time
	}{
		{
			name:        "connected",
			body:        `{"name":"x","data":{"notification_name":"Stream Live Input","input_id":"cf-1","event_type":"live_input.connected","updated_at":"2026-03-01T09:00:00Z"},"ts":1}`,
			wantKind:    KindStarted,
			wantInput:   "cf-1",
			wantOccured: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
		{
			name:      "disconnected",
			body:      `{"data":{"input_id":"cf-1","event_type":"live_input.disconnected"}}`,
			wantKind:  KindDisconnected,
			wantInput: "cf-1",
		},
		{
			name:      "errored input counts as disconnected",
			body:      `{"data":{"input_id":"cf-1","event_type":"live_input.errored"}}`,
			wantKind:  KindDisconnected,
			wantInput: "cf-1",
		},
		{
			name:      "video ready",
			body:      `{"uid":"vid-1","liveInput":"cf-1","readyToStream":true,"status":{"state":"ready"}}`,
			wantKind:  KindAssetReady,
			wantInput: "cf-1",
			wantAsset: "vid-1",
		},
		{
			name:      "video ready without status",
			body:      `{"uid":"vid-1","readyToStream":true}`,
			wantKind:  KindAssetReady,
			wantAsset: "vid-1",
		},
		{
			name:      "video error",
			body:      `{"uid":"vid-1","liveInput":"cf-1","status":{"state":"error"}}`,
			wantKind:  KindAssetErrored,
			wantInput: "cf-1",
			wantAsset: "vid-1",
		},
		{
			name:    "video still processing",
			body:    `{"uid":"vid-1","status":{"state":"inprogress"}}`,
			wantErr: ErrUnrecognized,
		},
		{
			name:    "unknown event type",
			body:    `{"data":{"input_id":"cf-1","event_type":"live_input.deleted"}}`,
			wantErr: ErrUnrecognized,
		},
		{
			name:    "missing input id",
			body:    `{"data":{"event_type":"live_input.connected"}}`,
			wantErr: ErrUnrecognized,
		},
		{
			name:    "empty object",
			body:    `{}`,
			wantErr: ErrUnrecognized,
		},
		{
			name:    "invalid json",
			body:    `{"data":`,
			wantErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse(stream.ProviderCloudflare, []byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if ev.Kind != tt.wantKind || ev.InputID != tt.wantInput || ev.AssetID != tt.wantAsset {
				t.Errorf("event = %+v", ev)
			}
			if ev.Provider != stream.ProviderCloudflare {
				t.Errorf("Provider = %s", ev.Provider)
			}
			if !tt.wantOccured.IsZero() && !ev.OccurredAt.Equal(tt.wantOccured) {
				t.Errorf("OccurredAt = %v, want %v", ev.OccurredAt, tt.wantOccured)
			}
		})
	}
}

func TestParseMux(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantKind  Kind
		wantInput string
		wantAsset string
		wantErr   error
	}{
		{
			name:      "active",
			body:      `{"type":"video.live_stream.active","object":{"type":"live","id":"ls-1"},"data":{"id":"ls-1","status":"active"}}`,
			wantKind:  KindStarted,
			wantInput: "ls-1",
		},
		{
			name:      "idle from data id",
			body:      `{"type":"video.live_stream.idle","data":{"id":"ls-1"}}`,
			wantKind:  KindEnded,
			wantInput: "ls-1",
		},
		{
			name:      "disconnected",
			body:      `{"type":"video.live_stream.disconnected","object":{"id":"ls-1"}}`,
			wantKind:  KindDisconnected,
			wantInput: "ls-1",
		},
		{
			name:      "asset ready",
			body:      `{"type":"video.asset.ready","object":{"type":"asset","id":"as-1"},"data":{"id":"as-1","live_stream_id":"ls-1"}}`,
			wantKind:  KindAssetReady,
			wantInput: "ls-1",
			wantAsset: "as-1",
		},
		{
			name:      "asset live stream completed",
			body:      `{"type":"video.asset.live_stream_completed","object":{"id":"as-1"},"data":{"live_stream_id":"ls-1"}}`,
			wantKind:  KindEnded,
			wantInput: "ls-1",
			wantAsset: "as-1",
		},
		{
			name:      "asset errored",
			body:      `{"type":"video.asset.errored","data":{"id":"as-2","live_stream_id":"ls-1"}}`,
			wantKind:  KindAssetErrored,
			wantInput: "ls-1",
			wantAsset: "as-2",
		},
		{
			name:    "unrecognized type",
			body:    `{"type":"video.upload.created","object":{"id":"u-1"}}`,
			wantErr: ErrUnrecognized,
		},
		{
			name:    "no ids",
			body:    `{"type":"video.live_stream.active"}`,
			wantErr: ErrUnrecognized,
		},
		{
			name:    "invalid json",
			body:    `not json`,
			wantErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse(stream.ProviderMux, []byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if ev.Kind != tt.wantKind || ev.InputID != tt.wantInput || ev.AssetID != tt.wantAsset {
				t.Errorf("event = %+v", ev)
			}
		})
	}
}

func TestParseUnknownProvider(t *testing.T) {
	if _, err := Parse("vimeo", []byte(`{}`)); !errors.Is(err, stream.ErrInvalid) {
		t.Errorf("error = %v, want ErrInvalid", err)
	}
}

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1772355600, 0)
	body := []byte(`{"type":"video.live_stream.active"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Sign(ts, body, "secret")

	tests := []struct {
		name     string
		provider stream.Provider
		header   string
		body     []byte
		now      time.Time
		wantErr  bool
	}{
		{"cloudflare valid", stream.ProviderCloudflare, "time=" + ts + ",sig1=" + sig, body, now, false},
		{"mux valid", stream.ProviderMux, "t=" + ts + ",v1=" + sig, body, now, false},
		{"mux with spaces and extra sig", stream.ProviderMux, "t=" + ts + ", v1=deadbeef, v1=" + sig, body, now, false},
		{"wrong field names", stream.ProviderMux, "time=" + ts + ",sig1=" + sig, body, now, true},
		{"tampered body", stream.ProviderCloudflare, "time=" + ts + ",sig1=" + sig, []byte(`{}`), now, true},
		{"expired", stream.ProviderCloudflare, "time=" + ts + ",sig1=" + sig, body, now.Add(10 * time.Minute), true},
		{"missing header", stream.ProviderCloudflare, "", body, now, true},
		{"bad timestamp", stream.ProviderCloudflare, "time=abc,sig1=" + sig, body, now, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.provider, tt.header, tt.body, "secret", tt.now, DefaultSignatureTolerance)
			if (err != nil) != tt.wantErr {
				t.Fatalf("VerifySignature() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBadSignature) {
				t.Errorf("error = %v, want ErrBadSignature", err)
			}
		})
	}
}

type fakeApplier struct {
	err    error
	events []Event
}

func (f *fakeApplier) ApplyEvent(_ context.Context, ev Event) (*stream.Stream, error) {
	f.events = append(f.events, ev)
	if f.err != nil {
		return nil, f.err
	}
	return &stream.Stream{ID: "str-1", Status: stream.StatusLive}, nil
}

func TestHandlerHandle(t *testing.T) {
	active := `{"type":"video.live_stream.active","object":{"id":"ls-1"}}`

	tests := []struct {
		name       string
		body       string
		applyErr   error
		want       Result
		wantErr    bool
		wantApplys int
	}{
		{"applied", active, nil, ResultApplied, false, 1},
		{"unknown stream", active, fmt.Errorf("lookup: %w", stream.ErrNotFound), ResultUnmatched, false, 1},
		{"state conflict", active, stream.ErrConflict, ResultIgnored, false, 1},
		{"engine failure acknowledged", active, errors.New("store down"), ResultFailed, false, 1},
		{"unrecognized", `{"type":"video.upload.created","object":{"id":"u"}}`, nil, ResultIgnored, false, 0},
		{"malformed", `{`, nil, ResultMalformed, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &fakeApplier{err: tt.applyErr}
			h := NewHandler(applier)

			got, err := h.Handle(context.Background(), stream.ProviderMux, []byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Handle() = %s, want %s", got, tt.want)
			}
			if len(applier.events) != tt.wantApplys {
				t.Errorf("ApplyEvent calls = %d, want %d", len(applier.events), tt.wantApplys)
			}
		})
	}
}
