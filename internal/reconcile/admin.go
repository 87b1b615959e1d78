package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/ids"
	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/provider"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// CreateRequest describes a new stream.
type CreateRequest struct {
	MemorialID string
	Provider   stream.Provider
	Title      string
	Visibility stream.Visibility
	Actor      stream.Actor
	// Arm allocates the vendor live input right away.
	Arm bool
}

// Create persists a scheduled stream and optionally arms it. When arming
// fails the created stream is still returned alongside the error.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*stream.Stream, error) {
	if !ids.IsValidMemorialID(req.MemorialID) {
		return nil, fmt.Errorf("memorial id %q: %w", req.MemorialID, stream.ErrInvalid)
	}
	if !req.Provider.Valid() {
		return nil, fmt.Errorf("provider %q: %w", req.Provider, stream.ErrInvalid)
	}
	if _, err := e.providers.Get(req.Provider); err != nil {
		return nil, err
	}
	if req.Visibility == "" {
		req.Visibility = stream.VisibilityPublic
	}
	if !req.Visibility.Valid() {
		return nil, fmt.Errorf("visibility %q: %w", req.Visibility, stream.ErrInvalid)
	}
	if err := e.authorize(ctx, req.MemorialID, req.Actor); err != nil {
		return nil, err
	}

	id, err := e.store.Create(ctx, &stream.Stream{
		MemorialID: req.MemorialID,
		Title:      req.Title,
		Status:     stream.StatusScheduled,
		Visibility: req.Visibility,
		Provider:   req.Provider,
	})
	if err != nil {
		return nil, err
	}
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.audit(ctx, s, req.Actor, stream.AuditActionCreate, "", s.Status, string(s.Provider))
	log.Info("stream created",
		zap.String("stream_id", s.ID),
		zap.String("memorial_id", s.MemorialID),
		zap.String("provider", string(s.Provider)),
	)

	if !req.Arm {
		return s, nil
	}
	armed, err := e.Arm(ctx, id, req.Actor)
	if armed == nil {
		armed = s
	}
	return armed, err
}

// Arm allocates the vendor live input for a scheduled stream. Arming an
// armed stream is a no-op. A vendor rejection moves the stream to error;
// an unavailable vendor leaves it scheduled so the call can be retried.
func (e *Engine) Arm(ctx context.Context, id string, actor stream.Actor) (*stream.Stream, error) {
	if _, err := e.loadAuthorized(ctx, id, actor); err != nil {
		return nil, err
	}
	s, release, err := e.lockStream(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	switch s.Status {
	case stream.StatusArmed:
		return s, nil
	case stream.StatusScheduled:
	default:
		return s, fmt.Errorf("cannot arm stream in status %s: %w", s.Status, stream.ErrConflict)
	}

	a, err := e.adapter(s)
	if err != nil {
		return s, err
	}
	name := s.Title
	if name == "" {
		name = s.ID
	}
	in, err := a.CreateLiveInput(ctx, provider.LiveInputConfig{
		Name:             name,
		StreamID:         s.ID,
		MemorialID:       s.MemorialID,
		RecordingTimeout: e.cfg.ReconnectWindow,
	})
	if err != nil {
		if !errors.Is(err, provider.ErrProviderRejected) {
			log.Warn("arm failed, stream stays scheduled",
				zap.String("stream_id", s.ID),
				zap.Error(err),
			)
			return s, err
		}
		failed, werr := e.write(ctx, s, stream.Patch{
			Status:    stream.Ptr(stream.StatusError),
			LastError: stream.Ptr(err.Error()),
		}, triggerAdmin)
		if werr != nil {
			return s, errors.Join(err, werr)
		}
		e.notify(ctx, EventStreamError, failed, s.Status, actor, err.Error())
		return failed, err
	}

	creds := in.Credentials
	patch := stream.Patch{
		Status:            stream.Ptr(stream.StatusArmed),
		ProviderInputID:   stream.Ptr(in.InputID),
		IngestCredentials: &creds,
	}
	if s.LastError != "" {
		patch.LastError = stream.Ptr("")
	}
	armed, err := e.write(ctx, s, patch, triggerAdmin)
	if err != nil {
		// The vendor input exists but is not recorded; clean it up.
		a.DeleteResource(context.WithoutCancel(ctx), provider.ResourceRef{Kind: provider.ResourceInput, ID: in.InputID})
		return s, err
	}
	e.notify(ctx, EventStreamArmed, armed, s.Status, actor, "")
	return armed, nil
}

// Stop ends a stream explicitly. Live and armed streams complete;
// completed streams are returned unchanged.
func (e *Engine) Stop(ctx context.Context, id string, actor stream.Actor) (*stream.Stream, error) {
	if _, err := e.loadAuthorized(ctx, id, actor); err != nil {
		return nil, err
	}
	s, release, err := e.lockStream(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	switch s.Status {
	case stream.StatusCompleted:
		return s, nil
	case stream.StatusLive, stream.StatusArmed:
	default:
		return s, fmt.Errorf("cannot stop stream in status %s: %w", s.Status, stream.ErrConflict)
	}

	updated, err := e.complete(ctx, s, e.clock(), actor, triggerAdmin)
	if err != nil {
		return s, err
	}
	e.audit(ctx, updated, actor, stream.AuditActionStop, s.Status, updated.Status, "")
	return updated, nil
}

// SetVisibility changes the visibility overlay. Status and recording are
// never touched.
func (e *Engine) SetVisibility(ctx context.Context, id string, v stream.Visibility, actor stream.Actor) (*stream.Stream, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("visibility %q: %w", v, stream.ErrInvalid)
	}
	if _, err := e.loadAuthorized(ctx, id, actor); err != nil {
		return nil, err
	}
	s, release, err := e.lockStream(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if s.Visibility == v {
		return s, nil
	}
	updated, err := e.write(ctx, s, stream.Patch{Visibility: stream.Ptr(v)}, triggerAdmin)
	if err != nil {
		return s, err
	}
	detail := string(s.Visibility) + " -> " + string(v)
	e.audit(ctx, updated, actor, stream.AuditActionVisibility, "", "", detail)
	e.notify(ctx, EventStreamVisibility, updated, s.Status, actor, detail)
	return updated, nil
}

// ForceStatus is the administrative override. It bypasses vendor guards
// but never moves a stream backwards (except out of error) and never puts
// a second stream of a memorial live.
func (e *Engine) ForceStatus(ctx context.Context, id string, to stream.Status, actor stream.Actor, reason string) (*stream.Stream, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("status %q: %w", to, stream.ErrInvalid)
	}
	if actor.Role == stream.RoleSystem {
		return nil, fmt.Errorf("system actor cannot force status: %w", stream.ErrForbidden)
	}
	if _, err := e.loadAuthorized(ctx, id, actor); err != nil {
		return nil, err
	}
	s, release, err := e.lockStream(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	from := s.Status
	if from == to {
		return s, nil
	}
	if from != stream.StatusError && !stream.CanAdvance(from, to) {
		return s, fmt.Errorf("cannot force %s -> %s: %w", from, to, stream.ErrConflict)
	}

	now := e.clock()
	patch := stream.Patch{Status: stream.Ptr(to)}
	switch to {
	case stream.StatusLive:
		patch = startPatch(s, now)
	case stream.StatusCompleted:
		patch = completePatch(s, now)
	case stream.StatusError:
		patch.LastError = stream.Ptr("forced: " + reason)
	}
	if from == stream.StatusError && to != stream.StatusError && s.LastError != "" {
		patch.LastError = stream.Ptr("")
	}

	var updated *stream.Stream
	if to == stream.StatusLive {
		updated, err = e.goLive(ctx, s, patch, triggerForce)
	} else {
		updated, err = e.write(ctx, s, patch, triggerForce)
	}
	if err != nil {
		return s, err
	}

	log.Warn("stream status forced",
		zap.String("stream_id", s.ID),
		zap.String("actor_id", actor.ID),
		zap.String("actor_role", string(actor.Role)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
	)
	e.audit(ctx, updated, actor, stream.AuditActionForce, from, to, reason)
	e.notify(ctx, EventStreamForced, updated, from, actor, reason)
	return updated, nil
}

// Delete removes a stream and, best effort, its vendor resources.
func (e *Engine) Delete(ctx context.Context, id string, actor stream.Actor) error {
	if _, err := e.loadAuthorized(ctx, id, actor); err != nil {
		return err
	}
	s, release, err := e.lockStream(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if a, err := e.adapter(s); err != nil {
		log.Warn("skipping vendor cleanup", zap.String("stream_id", s.ID), zap.Error(err))
	} else {
		if s.ProviderInputID != "" {
			a.DeleteResource(ctx, provider.ResourceRef{Kind: provider.ResourceInput, ID: s.ProviderInputID})
		}
		if s.ProviderAssetID != "" {
			a.DeleteResource(ctx, provider.ResourceRef{Kind: provider.ResourceAsset, ID: s.ProviderAssetID})
		}
	}

	if err := e.store.Delete(ctx, s.ID); err != nil {
		return err
	}
	e.audit(ctx, s, actor, stream.AuditActionDelete, s.Status, "", "")
	e.notify(ctx, EventStreamDeleted, s, s.Status, actor, "")
	log.Info("stream deleted",
		zap.String("stream_id", s.ID),
		zap.String("memorial_id", s.MemorialID),
		zap.String("actor_id", actor.ID),
	)
	return nil
}
