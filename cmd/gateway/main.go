package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/api"
	"github.com/xpadev-net/memorial-livestream/internal/bootstrap"
	"github.com/xpadev-net/memorial-livestream/internal/config"
	"github.com/xpadev-net/memorial-livestream/internal/httpapi"
	"github.com/xpadev-net/memorial-livestream/internal/livefeed"
	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/metrics"
	"github.com/xpadev-net/memorial-livestream/internal/playback"
	"github.com/xpadev-net/memorial-livestream/internal/reconcile"
	"github.com/xpadev-net/memorial-livestream/internal/webhook"
)

func main() {
	loaded := config.LoadEnv()

	// Load configuration
	cfg, err := config.LoadGatewayConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := log.Init(cfg.Environment, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting API Gateway",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.Store),
		zap.Strings("env_files", loaded),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg.Store, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	locker, err := bootstrap.NewLocker(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer locker.Close()

	providers, err := bootstrap.NewProviders(cfg.Vendors, cfg.Engine)
	if err != nil {
		log.Fatal("failed to configure providers", zap.Error(err))
	}

	// Lifecycle notifications fan out to the live feed and, when
	// configured, the outbound webhook.
	hub := livefeed.NewHub()
	notifiers := reconcile.MultiNotifier{hub}
	if cfg.NotifyWebhookURL != "" {
		notifier := webhook.NewNotifier(webhook.NewSender(cfg.WebhookSigningKey), cfg.NotifyWebhookURL, 0)
		notifier.Start(context.Background())
		defer notifier.Close()
		notifiers = append(notifiers, notifier)
	}

	engine := reconcile.New(store, providers, cfg.Engine,
		reconcile.WithLocker(locker),
		reconcile.WithNotifier(notifiers),
		reconcile.WithProber(playback.NewProber(cfg.Engine.VendorTimeout)),
	)

	opts := []api.Option{
		api.WithLiveFeed(hub, cfg.LiveFeedOrigins),
		api.WithWebhookSecrets(bootstrap.WebhookSecrets(cfg.Vendors)),
	}
	if cfg.AwaitRecordingOnStop {
		opts = append(opts, api.WithAwaitRecording(ctx))
	}
	handler := api.NewHandler(engine, opts...)

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger())
	router.Use(metrics.Middleware())

	// Health check endpoints (no auth required)
	router.GET("/healthz", healthzHandler())
	router.GET("/readyz", readyzHandler(store, locker))
	router.GET("/metrics", metrics.Handler())

	api.RegisterRoutes(router, handler, api.RouteConfig{
		JWTSecret:      []byte(cfg.JWTSecret),
		InternalAPIKey: cfg.InternalAPIKey,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		log.Info("starting HTTP server", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

type healthChecker interface {
	Health(ctx context.Context) error
}

func healthzHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func readyzHandler(store, locker healthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "database connection failed"})
			return
		}
		if err := locker.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "redis connection failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
