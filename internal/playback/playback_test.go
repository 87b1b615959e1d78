package playback

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func serve(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const vod = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PLAYLIST-TYPE:VOD
#EXTINF:10.0,
seg0.ts
#EXTINF:10.0,
seg1.ts
#EXTINF:4.5,
seg2.ts
#EXT-X-ENDLIST
`

func TestProbeMediaPlaylist(t *testing.T) {
	srv := serve(t, map[string]string{"/rec/index.m3u8": vod})

	info, err := NewProber(time.Second).Probe(context.Background(), srv.URL+"/rec/index.m3u8")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if info.Segments != 3 {
		t.Errorf("Segments = %d, want 3", info.Segments)
	}
	if math.Abs(info.Duration-24.5) > 1e-9 {
		t.Errorf("Duration = %v, want 24.5", info.Duration)
	}
	if !info.Ended {
		t.Error("Ended = false, want true for ENDLIST playlist")
	}
}

func TestProbeFollowsMasterPlaylist(t *testing.T) {
	master := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=2000000
720p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=800000
360p/index.m3u8
`
	srv := serve(t, map[string]string{
		"/rec/manifest.m3u8":   master,
		"/rec/720p/index.m3u8": vod,
	})

	info, err := NewProber(time.Second).Probe(context.Background(), srv.URL+"/rec/manifest.m3u8")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if info.Segments != 3 {
		t.Errorf("Segments = %d, want 3", info.Segments)
	}
}

func TestProbeErrors(t *testing.T) {
	empty := `#EXTM3U
#EXT-X-TARGETDURATION:10
`
	srv := serve(t, map[string]string{
		"/empty.m3u8": empty,
		"/junk.m3u8":  "not a playlist",
	})
	p := NewProber(time.Second)

	if _, err := p.Probe(context.Background(), srv.URL+"/missing.m3u8"); err == nil {
		t.Error("expected error for 404 playlist")
	}
	if _, err := p.Probe(context.Background(), srv.URL+"/junk.m3u8"); err == nil {
		t.Error("expected error for undecodable playlist")
	}
	if _, err := p.Probe(context.Background(), srv.URL+"/empty.m3u8"); !errors.Is(err, ErrNoSegments) {
		t.Errorf("error = %v, want ErrNoSegments", err)
	}
}

func TestResolveURL(t *testing.T) {
	base, _ := url.Parse("https://cdn.example.com/v/abc/manifest.m3u8?token=t1")

	tests := []struct {
		ref  string
		want string
	}{
		{"720p/index.m3u8", "https://cdn.example.com/v/abc/720p/index.m3u8?token=t1"},
		{"/other/index.m3u8", "https://cdn.example.com/other/index.m3u8?token=t1"},
		{"720p/index.m3u8?token=t2", "https://cdn.example.com/v/abc/720p/index.m3u8?token=t2"},
		{"https://edge.example.com/x.m3u8", "https://edge.example.com/x.m3u8"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := resolveURL(base, tt.ref)
			if err != nil {
				t.Fatalf("resolveURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("resolveURL() = %s, want %s", got, tt.want)
			}
		})
	}
}
