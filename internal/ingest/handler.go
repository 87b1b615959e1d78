package ingest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/metrics"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// Applier applies a normalized event to the owning stream.
type Applier interface {
	ApplyEvent(ctx context.Context, ev Event) (*stream.Stream, error)
}

// Result describes how a webhook was handled.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultIgnored   Result = "ignored"
	ResultUnmatched Result = "unmatched"
	ResultFailed    Result = "failed"
	ResultMalformed Result = "malformed"
)

// Handler turns raw vendor webhooks into engine calls.
type Handler struct {
	applier Applier
}

// NewHandler creates a webhook ingestion handler.
func NewHandler(applier Applier) *Handler {
	return &Handler{applier: applier}
}

// Handle parses and applies one webhook body. Only ErrMalformed is
// returned; every other outcome is acknowledged so vendors do not retry,
// and the poller remains the fallback.
func (h *Handler) Handle(ctx context.Context, p stream.Provider, body []byte) (Result, error) {
	ev, err := Parse(p, body)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			h.observe(p, "", ResultMalformed)
			log.Warn("malformed webhook payload",
				zap.String("provider", string(p)),
				zap.Error(err),
			)
			return ResultMalformed, err
		}
		h.observe(p, "", ResultIgnored)
		log.Info("ignoring webhook",
			zap.String("provider", string(p)),
			zap.Error(err),
		)
		return ResultIgnored, nil
	}

	logger := log.With(
		zap.String("provider", string(p)),
		zap.String("kind", string(ev.Kind)),
		zap.String("vendor_type", ev.VendorType),
		zap.String("input_id", ev.InputID),
		zap.String("asset_id", ev.AssetID),
	)

	s, err := h.applier.ApplyEvent(ctx, *ev)
	switch {
	case err == nil:
		logger.Info("webhook applied",
			zap.String("stream_id", s.ID),
			zap.String("status", string(s.Status)),
		)
		h.observe(p, ev.Kind, ResultApplied)
		return ResultApplied, nil
	case errors.Is(err, stream.ErrNotFound):
		logger.Info("webhook for unknown stream")
		h.observe(p, ev.Kind, ResultUnmatched)
		return ResultUnmatched, nil
	case errors.Is(err, stream.ErrConflict):
		logger.Info("webhook ignored by state machine", zap.Error(err))
		h.observe(p, ev.Kind, ResultIgnored)
		return ResultIgnored, nil
	default:
		logger.Error("failed to apply webhook", zap.Error(err))
		h.observe(p, ev.Kind, ResultFailed)
		return ResultFailed, nil
	}
}

func (h *Handler) observe(p stream.Provider, kind Kind, result Result) {
	k := string(kind)
	if k == "" {
		k = "none"
	}
	metrics.WebhookEvents.WithLabelValues(string(p), k, string(result)).Inc()
}
