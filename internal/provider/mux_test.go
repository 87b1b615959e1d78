package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestMux(t *testing.T, handler http.HandlerFunc) *Mux {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewMux(MuxConfig{
		TokenID:     "id",
		TokenSecret: "secret",
		Client:      testClientConfig(srv.URL),
	})
}

func TestMuxCreateLiveInput(t *testing.T) {
	m := newTestMux(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "id" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if r.Method != http.MethodPost || r.URL.Path != "/video/v1/live-streams" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"data": map[string]any{
				"id":             "mux-ls-1",
				"stream_key":     "sk",
				"status":         "idle",
				"srt_passphrase": "pp",
				"playback_ids":   []map[string]any{{"id": "pb1", "policy": "public"}},
			},
		})
	})

	in, err := m.CreateLiveInput(context.Background(), LiveInputConfig{StreamID: "str-1"})
	if err != nil {
		t.Fatalf("CreateLiveInput() error = %v", err)
	}
	if in.InputID != "mux-ls-1" {
		t.Errorf("InputID = %q", in.InputID)
	}
	if in.Credentials.URL != muxIngestURL || in.Credentials.StreamKey != "sk" {
		t.Errorf("credentials = %+v", in.Credentials)
	}
	if in.Credentials.SRTURL == "" {
		t.Error("SRTURL should be set when a passphrase is returned")
	}
}

func TestMuxCreateLiveInputUnauthorized(t *testing.T) {
	m := newTestMux(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"type": "unauthorized"}})
	})

	_, err := m.CreateLiveInput(context.Background(), LiveInputConfig{})
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("error = %v, want ErrProviderRejected", err)
	}
}

func TestMuxGetLiveStatus(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		muxStatus   string
		wantLive    bool
		wantWarning bool
	}{
		{"active", http.StatusOK, "active", true, false},
		{"idle", http.StatusOK, "idle", false, false},
		{"disabled", http.StatusOK, "disabled", false, false},
		{"rate limited", http.StatusTooManyRequests, "", false, true},
		{"gateway error", http.StatusBadGateway, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMux(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]any{
					"data": map[string]any{
						"id":           "mux-ls-1",
						"status":       tt.muxStatus,
						"playback_ids": []map[string]any{{"id": "pb1", "policy": "public"}},
					},
				})
			})

			st, err := m.GetLiveStatus(context.Background(), "mux-ls-1")
			if err != nil {
				t.Fatalf("GetLiveStatus() error = %v", err)
			}
			if st.IsLive != tt.wantLive {
				t.Errorf("IsLive = %v, want %v", st.IsLive, tt.wantLive)
			}
			if (st.Warning != "") != tt.wantWarning {
				t.Errorf("Warning = %q, wantWarning %v", st.Warning, tt.wantWarning)
			}
			if !tt.wantWarning && st.HLSURL != "https://stream.mux.com/pb1.m3u8" {
				t.Errorf("HLSURL = %q", st.HLSURL)
			}
		})
	}
}

func TestMuxListRecordings(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := newTestMux(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("live_stream_id") != "mux-ls-1" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"id": "a1", "status": "ready", "duration": 1800.5, "created_at": "1772355600", "playback_ids": []map[string]any{{"id": "pa1", "policy": "public"}}},
				{"id": "a2", "status": "preparing", "created_at": "1772359200"},
				{"id": "a3", "status": "errored", "created_at": "not-a-number"},
			},
		})
	})

	recs, err := m.ListRecordings(context.Background(), "mux-ls-1")
	if err != nil {
		t.Fatalf("ListRecordings() error = %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	if recs[0].AssetID != "a2" || recs[0].State != RecordingProcessing {
		t.Errorf("recs[0] = %+v, want a2 processing", recs[0])
	}
	if recs[1].AssetID != "a1" || recs[1].State != RecordingReady {
		t.Errorf("recs[1] = %+v, want a1 ready", recs[1])
	}
	if !recs[1].CreatedAt.Equal(t0) {
		t.Errorf("a1 CreatedAt = %v, want %v", recs[1].CreatedAt, t0)
	}
	if recs[1].PlaybackURL != "https://stream.mux.com/pa1.m3u8" || recs[1].ThumbnailURL != "https://image.mux.com/pa1/thumbnail.jpg" {
		t.Errorf("a1 urls = %q / %q", recs[1].PlaybackURL, recs[1].ThumbnailURL)
	}
	if recs[2].State != RecordingErrored || !recs[2].CreatedAt.IsZero() {
		t.Errorf("recs[2] = %+v, want errored with zero time", recs[2])
	}
}

func TestMuxDeleteResourceIgnoresNotFound(t *testing.T) {
	var got string
	m := newTestMux(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Method + " " + r.URL.Path
		w.WriteHeader(http.StatusNotFound)
	})

	m.DeleteResource(context.Background(), ResourceRef{Kind: ResourceInput, ID: "mux-ls-1"})
	if got != "DELETE /video/v1/live-streams/mux-ls-1" {
		t.Errorf("request = %q", got)
	}
}
