package reconcile

import (
	"context"
	"time"

	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// EventType names a lifecycle notification.
type EventType string

const (
	EventStreamArmed      EventType = "stream.armed"
	EventStreamLive       EventType = "stream.live"
	EventStreamCompleted  EventType = "stream.completed"
	EventRecordingReady   EventType = "recording.ready"
	EventRecordingTimeout EventType = "recording.timeout"
	EventStreamError      EventType = "stream.error"
	EventStreamForced     EventType = "stream.forced"
	EventStreamVisibility EventType = "stream.visibility"
	EventStreamDeleted    EventType = "stream.deleted"
)

// Notification is emitted after a lifecycle write has been persisted.
type Notification struct {
	Type       EventType
	Stream     *stream.Stream
	From       stream.Status
	Actor      stream.Actor
	Detail     string
	OccurredAt time.Time
}

// Notifier receives lifecycle notifications. Implementations must not
// block: Notify runs while the stream lease is held.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}
