package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/auth"
	"github.com/xpadev-net/memorial-livestream/internal/httpapi"
	"github.com/xpadev-net/memorial-livestream/internal/ids"
	"github.com/xpadev-net/memorial-livestream/internal/ingest"
	"github.com/xpadev-net/memorial-livestream/internal/livefeed"
	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/reconcile"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

const maxWebhookBody = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	engine             *reconcile.Engine
	ingest             *ingest.Handler
	hub                *livefeed.Hub
	upgrader           websocket.Upgrader
	webhookSecrets     map[stream.Provider]string
	signatureTolerance time.Duration
	// awaitCtx bounds background recording waits started by Stop; nil
	// disables them.
	awaitCtx context.Context
	now      func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLiveFeed enables the viewer websocket.
func WithLiveFeed(hub *livefeed.Hub, allowedOrigins []string) Option {
	return func(h *Handler) {
		h.hub = hub
		h.upgrader = livefeed.Upgrader(allowedOrigins)
	}
}

// WithWebhookSecrets enables signature verification for the providers
// that have a non-empty secret.
func WithWebhookSecrets(secrets map[stream.Provider]string) Option {
	return func(h *Handler) { h.webhookSecrets = secrets }
}

// WithAwaitRecording makes Stop wait for the recording in the background.
func WithAwaitRecording(ctx context.Context) Option {
	return func(h *Handler) { h.awaitCtx = ctx }
}

// NewHandler creates a new API handler.
func NewHandler(engine *reconcile.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine:             engine,
		ingest:             ingest.NewHandler(engine),
		signatureTolerance: ingest.DefaultSignatureTolerance,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateStreamRequest represents the request body for creating a stream.
type CreateStreamRequest struct {
	Provider   stream.Provider   `json:"provider" binding:"required"`
	Title      string            `json:"title"`
	Visibility stream.Visibility `json:"visibility"`
	Arm        bool              `json:"arm"`
}

// StreamResponse is a stream plus the outcome of arming it on create.
type StreamResponse struct {
	*stream.Stream
	ArmError *httpapi.ErrorDetail `json:"arm_error,omitempty"`
}

// CreateStream handles POST /api/v1/memorials/:memorial_id/streams
func (h *Handler) CreateStream(c *gin.Context) {
	var req CreateStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.RespondValidationError(c, "Invalid request body: "+err.Error())
		return
	}

	s, err := h.engine.Create(c.Request.Context(), reconcile.CreateRequest{
		MemorialID: c.Param("memorial_id"),
		Provider:   req.Provider,
		Title:      req.Title,
		Visibility: req.Visibility,
		Actor:      auth.ActorFrom(c),
		Arm:        req.Arm,
	})
	if s == nil {
		httpapi.RespondDomainError(c, err)
		return
	}

	// The stream exists even when arming failed; report both.
	resp := StreamResponse{Stream: s}
	if err != nil {
		_, code := httpapi.Classify(err)
		resp.ArmError = &httpapi.ErrorDetail{
			Code:      code,
			Message:   err.Error(),
			Retryable: code == httpapi.ErrCodeProviderUnavailable,
		}
	}
	httpapi.RespondCreated(c, resp)
}

// ListStreams handles GET /api/v1/memorials/:memorial_id/streams
func (h *Handler) ListStreams(c *gin.Context) {
	var filter stream.ListFilter

	if v := c.Query("status"); v != "" {
		status := stream.Status(v)
		if !status.Valid() {
			httpapi.RespondValidationError(c, "Invalid status filter")
			return
		}
		filter.Status = &status
	}
	if v := c.Query("visibility"); v != "" {
		visibility := stream.Visibility(v)
		if !visibility.Valid() {
			httpapi.RespondValidationError(c, "Invalid visibility filter")
			return
		}
		filter.Visibility = &visibility
	}
	var ok bool
	if filter.Limit, ok = queryInt(c, "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(c, "offset"); !ok {
		return
	}
	filter.Normalize()

	streams, total, err := h.engine.List(c.Request.Context(), c.Param("memorial_id"), filter, auth.ActorFrom(c))
	if err != nil {
		httpapi.RespondDomainError(c, err)
		return
	}
	httpapi.RespondOK(c, httpapi.Page[*stream.Stream]{
		Items:  streams,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetStream handles GET /api/v1/streams/:stream_id
func (h *Handler) GetStream(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	s, err := h.engine.Get(c.Request.Context(), id, auth.ActorFrom(c))
	if err != nil {
		httpapi.RespondDomainError(c, err)
		return
	}
	httpapi.RespondOK(c, s)
}

// ArmStream handles POST /api/v1/streams/:stream_id/arm
func (h *Handler) ArmStream(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	s, err := h.engine.Arm(c.Request.Context(), id, auth.ActorFrom(c))
	if err != nil {
		httpapi.RespondDomainError(c, err)
		return
	}
	httpapi.RespondOK(c, s)
}

// ReconcileStream handles POST /api/v1/streams/:stream_id/reconcile
func (h *Handler) ReconcileStream(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	if _, err := h.engine.Get(c.Request.Context(), id, auth.ActorFrom(c)); err != nil {
		httpapi.RespondDomainError(c, err)
		return
	}
	h.reconcile(c, id)
}

// InternalReconcile handles POST /internal/v1/streams/:stream_id/reconcile
func (h *Handler) InternalReconcile(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	h.reconcile(c, id)
}

func (h *Handler) reconcile(c *gin.Context, id string) {
	s, err := h.engine.Reconcile(c.Request.Context(), id)
	if err != nil {
		httpapi.RespondDomainError(c, err)
		return
	}
	httpapi.RespondOK(c, s)
}

// StopStream handles POST /api/v1/streams/:stream_id/stop
func (h *Handler) StopStream(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	s, err := h.engine.Stop(c.Request.Context(), id, auth.ActorFrom(c))
	if err != nil {
		httpapi.RespondDomainError(c, err)
		return
	}

	if h.awaitCtx != nil && s.AwaitingRecording() {
		go func() {
			if _, err := h.engine.AwaitRecording(h.awaitCtx, id); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("background recording wait failed", zap.String("stream_id", id), zap.Error(err))
			}
		}()
	}
	httpapi.RespondOK(c, s)
}

// SetVisibilityRequest represents the request body for changing visibility.
type SetVisibilityRequest struct {
	Visibility stream.Visibility `json:"visibility" binding:"required"`
}

// SetVisibility handles PUT /api/v1/streams/:stream_id/visibility
func (h *Handler) SetVisibility(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	var req SetVisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.RespondValidationError(c, "Invalid request body: "+err.Error())
		return
	}
	s, err := h.engine.SetVisibility(c.Request.Context(), id, req.Visibility, auth.ActorFrom(c))
	if err != nil {
		httpapi.RespondDomainError(c, err)
		return
	}
	httpapi.RespondOK(c, s)
}

// ForceStatusRequest represents the request body for an administrative override.
type ForceStatusRequest struct {
	Status stream.Status `json:"status" binding:"required"`
	Reason string        `json:"reason" binding:"required"`
}

// ForceStatus handles POST /api/v1/streams/:stream_id/force
func (h *Handler) ForceStatus(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	var req ForceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.RespondValidationError(c, "Invalid request body: "+err.Error())
		return
	}
	s, err := h.engine.ForceStatus(c.Request.Context(), id, req.Status, auth.ActorFrom(c), req.Reason)
	if err != nil {
		httpapi.RespondDomainError(c, err)
		return
	}
	httpapi.RespondOK(c, s)
}

// ListAudit handles GET /api/v1/streams/:stream_id/audit
func (h *Handler) ListAudit(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	entries, err := h.engine.Audit(c.Request.Context(), id, limit, auth.ActorFrom(c))
	if err != nil {
		httpapi.RespondDomainError(c, err)
		return
	}
	httpapi.RespondOK(c, gin.H{"items": entries})
}

// DeleteStream handles DELETE /api/v1/streams/:stream_id
func (h *Handler) DeleteStream(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	if err := h.engine.Delete(c.Request.Context(), id, auth.ActorFrom(c)); err != nil {
		httpapi.RespondDomainError(c, err)
		return
	}
	httpapi.RespondNoContent(c)
}

// ProviderWebhook returns the handler for POST /webhooks/{provider}.
// Business outcomes are acknowledged with 200 so vendors do not retry.
func (h *Handler) ProviderWebhook(p stream.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
		if err != nil {
			httpapi.RespondBadRequest(c, "Failed to read body")
			return
		}
		if len(body) > maxWebhookBody {
			httpapi.RespondError(c, http.StatusRequestEntityTooLarge, httpapi.ErrCodeBadRequest, "Body too large")
			return
		}

		if secret := h.webhookSecrets[p]; secret != "" {
			header := c.GetHeader(ingest.SignatureHeader(p))
			if err := ingest.VerifySignature(p, header, body, secret, h.now(), h.signatureTolerance); err != nil {
				log.Warn("rejected webhook signature",
					zap.String("provider", string(p)),
					zap.String("client_ip", c.ClientIP()),
					zap.Error(err),
				)
				httpapi.RespondError(c, http.StatusUnauthorized, httpapi.ErrCodeInvalidSignature, "Invalid webhook signature")
				return
			}
		}

		result, err := h.ingest.Handle(c.Request.Context(), p, body)
		if err != nil {
			httpapi.RespondBadRequest(c, "Malformed webhook payload")
			return
		}
		httpapi.RespondOK(c, gin.H{"result": result})
	}
}

// PublicStreams handles GET /public/v1/memorials/:memorial_id/streams
func (h *Handler) PublicStreams(c *gin.Context) {
	memorialID := c.Param("memorial_id")
	if !ids.IsValidMemorialID(memorialID) {
		httpapi.RespondNotFound(c, "Memorial not found")
		return
	}
	streams, err := h.engine.PublicStreams(c.Request.Context(), memorialID)
	if err != nil {
		httpapi.RespondDomainError(c, err)
		return
	}
	httpapi.RespondOK(c, gin.H{"items": streams})
}

// LiveFeed handles GET /public/v1/memorials/:memorial_id/live
func (h *Handler) LiveFeed(c *gin.Context) {
	if h.hub == nil {
		httpapi.RespondNotFound(c, "Live feed is not enabled")
		return
	}
	memorialID := c.Param("memorial_id")
	if !ids.IsValidMemorialID(memorialID) {
		httpapi.RespondNotFound(c, "Memorial not found")
		return
	}
	streams, err := h.engine.PublicStreams(c.Request.Context(), memorialID)
	if err != nil {
		httpapi.RespondDomainError(c, err)
		return
	}
	if err := h.hub.Serve(h.upgrader, c.Writer, c.Request, memorialID, streams); err != nil {
		log.Debug("live feed ended", zap.String("memorial_id", memorialID), zap.Error(err))
	}
}

func streamID(c *gin.Context) (string, bool) {
	id := c.Param("stream_id")
	if !ids.IsValidStreamID(id) {
		httpapi.RespondNotFound(c, "Stream not found")
		return "", false
	}
	return id, true
}

func queryInt(c *gin.Context, key string) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		httpapi.RespondValidationError(c, "Invalid "+key)
		return 0, false
	}
	return n, true
}
