package webhook

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/metrics"
	"github.com/xpadev-net/memorial-livestream/internal/reconcile"
)

const defaultQueueSize = 256

// Notifier delivers lifecycle notifications to one URL from a background
// worker. Notify never blocks; when the queue is full the notification is
// dropped and counted.
type Notifier struct {
	sender *Sender
	url    string
	queue  chan *Payload

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewNotifier creates a notifier posting to url. Call Start before use and
// Close on shutdown.
func NewNotifier(sender *Sender, url string, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Notifier{
		sender: sender,
		url:    url,
		queue:  make(chan *Payload, queueSize),
		stop:   make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go n.run(ctx)
}

// Close stops accepting work, drains what is queued and waits for the
// worker to exit.
func (n *Notifier) Close() {
	n.stopOnce.Do(func() { close(n.stop) })
	n.wg.Wait()
}

// Notify implements reconcile.Notifier.
func (n *Notifier) Notify(_ context.Context, note reconcile.Notification) {
	p := NewPayload(note)
	select {
	case <-n.stop:
		metrics.Notifications.WithLabelValues(p.EventType, "dropped").Inc()
		return
	default:
	}
	select {
	case n.queue <- p:
	default:
		metrics.Notifications.WithLabelValues(p.EventType, "dropped").Inc()
		log.Warn("notification queue full, dropping",
			zap.String("event_type", p.EventType),
			zap.String("stream_id", p.StreamID),
		)
	}
}

func (n *Notifier) run(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case p := <-n.queue:
			n.deliver(ctx, p)
		case <-n.stop:
			for {
				select {
				case p := <-n.queue:
					n.deliver(ctx, p)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, p *Payload) {
	result := n.sender.Send(ctx, n.url, p)
	outcome := "sent"
	if !result.Success {
		outcome = "failed"
	}
	metrics.Notifications.WithLabelValues(p.EventType, outcome).Inc()
}

// NewPayload converts a lifecycle notification into the wire payload.
// The embedded stream is the viewer-safe projection.
func NewPayload(note reconcile.Notification) *Payload {
	p := &Payload{
		EventType:  string(note.Type),
		FromStatus: note.From,
		Timestamp:  note.OccurredAt,
	}
	if note.Stream != nil {
		p.StreamID = note.Stream.ID
		p.MemorialID = note.Stream.MemorialID
		p.Status = note.Stream.Status
		p.Stream = note.Stream.Public()
	}
	data := map[string]any{}
	if note.Detail != "" {
		data["detail"] = note.Detail
	}
	if note.Actor.ID != "" {
		data["actor_id"] = note.Actor.ID
		data["actor_role"] = string(note.Actor.Role)
	}
	if len(data) > 0 {
		p.Data = data
	}
	return p
}

var _ reconcile.Notifier = (*Notifier)(nil)
