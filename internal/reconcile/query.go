package reconcile

import (
	"context"

	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// Get returns a stream the actor may manage.
func (e *Engine) Get(ctx context.Context, id string, actor stream.Actor) (*stream.Stream, error) {
	return e.loadAuthorized(ctx, id, actor)
}

// List returns the streams of a memorial the actor may manage.
func (e *Engine) List(ctx context.Context, memorialID string, filter stream.ListFilter, actor stream.Actor) ([]*stream.Stream, int, error) {
	if err := e.authorize(ctx, memorialID, actor); err != nil {
		return nil, 0, err
	}
	filter.Normalize()
	return e.store.ListByMemorial(ctx, memorialID, filter)
}

// Audit returns the newest audit entries of a stream.
func (e *Engine) Audit(ctx context.Context, id string, limit int, actor stream.Actor) ([]*stream.AuditEntry, error) {
	if _, err := e.loadAuthorized(ctx, id, actor); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.store.ListAudit(ctx, id, limit)
}

// PublicStreams returns the viewer projection of a memorial's public
// streams. No actor is required.
func (e *Engine) PublicStreams(ctx context.Context, memorialID string) ([]*stream.Stream, error) {
	public := stream.VisibilityPublic
	filter := stream.ListFilter{Visibility: &public, Limit: 100}
	streams, _, err := e.store.ListByMemorial(ctx, memorialID, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*stream.Stream, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.Public())
	}
	return out, nil
}
