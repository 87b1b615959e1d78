// Package livefeed pushes viewer-safe stream snapshots to websocket
// subscribers of a memorial.
package livefeed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/metrics"
	"github.com/xpadev-net/memorial-livestream/internal/reconcile"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// Message types sent to viewers.
const (
	TypeSnapshot = "snapshot"
	TypeUpdate   = "update"
	TypeRemoved  = "removed" // stream is no longer publicly visible
)

// Message is one frame on the live feed.
type Message struct {
	Type     string           `json:"type"`
	Event    string           `json:"event,omitempty"`
	StreamID string           `json:"stream_id,omitempty"`
	Stream   *stream.Stream   `json:"stream,omitempty"`
	Streams  []*stream.Stream `json:"streams,omitempty"`
	SentAt   time.Time        `json:"sent_at"`
}

// Hub maintains subscribers per memorial.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	now     func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		now:     time.Now,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.memorialID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.memorialID] = set
	}
	set[c] = struct{}{}
	metrics.LiveFeedSubscribers.Inc()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	set, ok := h.clients[c.memorialID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	metrics.LiveFeedSubscribers.Dec()
	if len(set) == 0 {
		delete(h.clients, c.memorialID)
	}
}

// Subscribers returns the number of clients watching memorialID.
func (h *Hub) Subscribers(memorialID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[memorialID])
}

// Publish sends the viewer view of s to every subscriber of its memorial.
// Deleted and non-public streams are announced as removed. Clients whose
// buffer is full are disconnected.
func (h *Hub) Publish(event string, s *stream.Stream) {
	if s == nil {
		return
	}
	msg := Message{Type: TypeUpdate, Event: event, StreamID: s.ID, SentAt: h.now().UTC()}
	if s.Visibility == stream.VisibilityPublic && event != string(reconcile.EventStreamDeleted) {
		msg.Stream = s.Public()
	} else {
		msg.Type = TypeRemoved
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error("failed to marshal live feed message", zap.String("stream_id", s.ID), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[s.MemorialID] {
		select {
		case c.send <- data:
		default:
			log.Warn("live feed client too slow, disconnecting",
				zap.String("memorial_id", s.MemorialID),
			)
			h.removeLocked(c)
		}
	}
}

// Notify implements reconcile.Notifier.
func (h *Hub) Notify(_ context.Context, n reconcile.Notification) {
	h.Publish(string(n.Type), n.Stream)
}

// snapshot builds the initial frame for a new subscriber.
func (h *Hub) snapshot(streams []*stream.Stream) ([]byte, error) {
	out := make([]*stream.Stream, 0, len(streams))
	for _, s := range streams {
		if s.Visibility == stream.VisibilityPublic {
			out = append(out, s.Public())
		}
	}
	return json.Marshal(Message{Type: TypeSnapshot, Streams: out, SentAt: h.now().UTC()})
}

var _ reconcile.Notifier = (*Hub)(nil)
