package playback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/grafov/m3u8"
)

const maxVariantDepth = 4

var (
	// ErrNoSegments is returned for a media playlist without segments.
	ErrNoSegments = errors.New("playlist has no segments")
	// ErrNoVariants is returned for a master playlist without variants.
	ErrNoVariants = errors.New("master playlist has no variants")
)

// Info summarizes a recording's HLS media playlist.
type Info struct {
	// Duration is the sum of segment durations in seconds.
	Duration float64
	Segments int
	// Ended is true when the playlist carries EXT-X-ENDLIST.
	Ended bool
}

// Prober fetches and inspects HLS playlists.
type Prober struct {
	httpClient *http.Client
}

// NewProber creates a prober whose requests are bounded by timeout.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prober{httpClient: &http.Client{Timeout: timeout}}
}

// Probe fetches playlistURL, follows a master playlist to its first
// variant, and reports the media playlist's shape.
func (p *Prober) Probe(ctx context.Context, playlistURL string) (*Info, error) {
	return p.probe(ctx, playlistURL, 0)
}

func (p *Prober) probe(ctx context.Context, playlistURL string, depth int) (*Info, error) {
	if depth > maxVariantDepth {
		return nil, fmt.Errorf("max master->media recursion depth exceeded")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("playlist fetch failed with status %d", resp.StatusCode)
	}

	playlist, listType, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}

	switch listType {
	case m3u8.MEDIA:
		return summarize(playlist.(*m3u8.MediaPlaylist))
	case m3u8.MASTER:
		masterpl := playlist.(*m3u8.MasterPlaylist)
		if len(masterpl.Variants) == 0 {
			return nil, ErrNoVariants
		}
		baseURL, err := url.Parse(playlistURL)
		if err != nil {
			return nil, fmt.Errorf("parse playlist URL: %w", err)
		}
		mediaURL, err := resolveURL(baseURL, masterpl.Variants[0].URI)
		if err != nil {
			return nil, fmt.Errorf("resolve variant URL: %w", err)
		}
		return p.probe(ctx, mediaURL, depth+1)
	default:
		return nil, fmt.Errorf("unknown playlist type")
	}
}

func summarize(mediapl *m3u8.MediaPlaylist) (*Info, error) {
	info := &Info{Ended: mediapl.Closed}
	for i := uint(0); i < mediapl.Count(); i++ {
		seg := mediapl.Segments[i]
		if seg == nil {
			continue
		}
		info.Segments++
		info.Duration += seg.Duration
	}
	if info.Segments == 0 {
		return nil, ErrNoSegments
	}
	return info, nil
}

func resolveURL(base *url.URL, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if refURL.IsAbs() {
		return refURL.String(), nil
	}
	resolved := *base
	if strings.HasPrefix(ref, "/") {
		resolved.Path = refURL.Path
	} else {
		resolved.Path = path.Join(path.Dir(base.Path), refURL.Path)
	}
	// Signed playback URLs carry their token on the playlist; keep it for
	// the variant when the variant has none of its own.
	if refURL.RawQuery != "" {
		resolved.RawQuery = refURL.RawQuery
	}
	resolved.Fragment = ""
	return resolved.String(), nil
}
