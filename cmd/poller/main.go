package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/bootstrap"
	"github.com/xpadev-net/memorial-livestream/internal/config"
	"github.com/xpadev-net/memorial-livestream/internal/k8s"
	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/metrics"
	"github.com/xpadev-net/memorial-livestream/internal/playback"
	"github.com/xpadev-net/memorial-livestream/internal/poller"
	"github.com/xpadev-net/memorial-livestream/internal/reconcile"
	"github.com/xpadev-net/memorial-livestream/internal/webhook"
)

func main() {
	loaded := config.LoadEnv()

	// Load configuration
	cfg, err := config.LoadPollerConfig()
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

	log.Info("starting Poller",
		zap.String("environment", cfg.Environment),
		zap.Duration("interval", cfg.Interval),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Bool("leader_election", cfg.LeaderElection),
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

	opts := []reconcile.Option{
		reconcile.WithLocker(locker),
		reconcile.WithProber(playback.NewProber(cfg.Engine.VendorTimeout)),
	}
	if cfg.NotifyWebhookURL != "" {
		notifier := webhook.NewNotifier(webhook.NewSender(cfg.WebhookSigningKey), cfg.NotifyWebhookURL, 0)
		notifier.Start(context.Background())
		defer notifier.Close()
		opts = append(opts, reconcile.WithNotifier(notifier))
	}
	engine := reconcile.New(store, providers, cfg.Engine, opts...)

	p := poller.New(engine, store, poller.Config{
		Concurrency:   cfg.Concurrency,
		BatchSize:     cfg.BatchSize,
		RecordingBase: cfg.Engine.AwaitRecordingBase,
		RecordingMax:  cfg.Engine.AwaitRecordingMax,
	})

	// Health and metrics server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		if err := store.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "database connection failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HealthPort),
		Handler: router,
	}
	go func() {
		log.Info("starting health check server", zap.Int("port", cfg.HealthPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health check server error", zap.Error(err))
		}
	}()

	if cfg.LeaderElection {
		runLeaderElected(ctx, cfg, p)
	} else {
		p.Run(ctx, cfg.Interval)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down health server", zap.Error(err))
	}

	log.Info("poller stopped")
}

func runLeaderElected(ctx context.Context, cfg *config.PollerConfig, p *poller.Poller) {
	client, err := k8s.NewClient(k8s.Config{
		InCluster:      cfg.InCluster,
		KubeConfigPath: cfg.KubeConfigPath,
		Namespace:      cfg.Namespace,
	})
	if err != nil {
		log.Fatal("failed to create k8s client", zap.Error(err))
	}

	// Owning the Lease by the Deployment removes it together with the poller.
	resolveCtx, resolveCancel := context.WithTimeout(ctx, 10*time.Second)
	owner, err := client.ResolveOwnerDeployment(resolveCtx, cfg.PodName)
	if err != nil {
		log.Warn("failed to resolve owner deployment, lease will not have ownerReferences", zap.Error(err))
	}
	if err := client.EnsureLease(resolveCtx, cfg.LeaseName, owner); err != nil {
		log.Warn("failed to pre-create election lease", zap.Error(err))
	}
	resolveCancel()

	err = client.RunLeaderElected(ctx, k8s.LeaderConfig{
		LeaseName: cfg.LeaseName,
		Identity:  k8s.Identity(cfg.PodName),
	}, func(leaderCtx context.Context) {
		p.Run(leaderCtx, cfg.Interval)
	})
	if err != nil {
		log.Fatal("leader election failed", zap.Error(err))
	}
}
