package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xpadev-net/memorial-livestream/internal/auth"
	"github.com/xpadev-net/memorial-livestream/internal/httpapi"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// RouteConfig holds the credentials guarding each route group.
type RouteConfig struct {
	JWTSecret      []byte
	InternalAPIKey string
}

func actorKey(c *gin.Context) string {
	return auth.ActorFrom(c).ID
}

// RegisterRoutes mounts every API route on router.
func RegisterRoutes(router gin.IRouter, h *Handler, cfg RouteConfig) {
	v1 := router.Group("/api/v1")
	v1.Use(auth.Bearer(cfg.JWTSecret))
	{
		write := httpapi.RateLimit(30, time.Minute, actorKey)
		read := httpapi.RateLimit(120, time.Minute, actorKey)

		v1.POST("/memorials/:memorial_id/streams", write, h.CreateStream)
		v1.GET("/memorials/:memorial_id/streams", read, h.ListStreams)
		v1.GET("/streams/:stream_id", read, h.GetStream)
		v1.POST("/streams/:stream_id/arm", write, h.ArmStream)
		v1.POST("/streams/:stream_id/reconcile", write, h.ReconcileStream)
		v1.POST("/streams/:stream_id/stop", write, h.StopStream)
		v1.PUT("/streams/:stream_id/visibility", write, h.SetVisibility)
		v1.POST("/streams/:stream_id/force", write, h.ForceStatus)
		v1.GET("/streams/:stream_id/audit", read, h.ListAudit)
		v1.DELETE("/streams/:stream_id", write, h.DeleteStream)
	}

	hooks := router.Group("/webhooks")
	hooks.Use(httpapi.RateLimit(600, time.Minute, nil))
	{
		hooks.POST("/cloudflare", h.ProviderWebhook(stream.ProviderCloudflare))
		hooks.POST("/mux", h.ProviderWebhook(stream.ProviderMux))
	}

	public := router.Group("/public/v1")
	public.Use(httpapi.RateLimit(60, time.Minute, nil))
	{
		public.GET("/memorials/:memorial_id/streams", h.PublicStreams)
		public.GET("/memorials/:memorial_id/live", h.LiveFeed)
	}

	internal := router.Group("/internal/v1")
	internal.Use(httpapi.InternalAPIKeyAuth(cfg.InternalAPIKey))
	{
		internal.POST("/streams/:stream_id/reconcile", h.InternalReconcile)
	}
}
