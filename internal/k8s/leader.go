package k8s

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/xpadev-net/memorial-livestream/internal/log"
)

// LeaderConfig controls Lease based leader election.
type LeaderConfig struct {
	LeaseName     string
	Identity      string
	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration
}

func (cfg *LeaderConfig) setDefaults() {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 15 * time.Second
	}
	if cfg.RenewDeadline <= 0 {
		cfg.RenewDeadline = 10 * time.Second
	}
	if cfg.RetryPeriod <= 0 {
		cfg.RetryPeriod = 2 * time.Second
	}
}

// RunLeaderElected blocks until ctx is done, calling run whenever this
// process holds the Lease. run's context is cancelled when leadership is
// lost. The Lease is released on shutdown so a standby takes over quickly.
func (c *Client) RunLeaderElected(ctx context.Context, cfg LeaderConfig, run func(ctx context.Context)) error {
	if cfg.LeaseName == "" || cfg.Identity == "" {
		return fmt.Errorf("lease name and identity are required")
	}
	cfg.setDefaults()

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      cfg.LeaseName,
			Namespace: c.namespace,
		},
		Client:     c.clientset.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: cfg.Identity},
	}

	logger := log.With(
		zap.String("lease", cfg.LeaseName),
		zap.String("identity", cfg.Identity),
	)

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   cfg.LeaseDuration,
		RenewDeadline:   cfg.RenewDeadline,
		RetryPeriod:     cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Name:            cfg.LeaseName,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(leaderCtx context.Context) {
				logger.Info("acquired leadership")
				run(leaderCtx)
			},
			OnStoppedLeading: func() {
				logger.Info("lost leadership")
			},
			OnNewLeader: func(identity string) {
				if identity != cfg.Identity {
					logger.Info("observed leader", zap.String("leader", identity))
				}
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create leader elector: %w", err)
	}

	// Run returns whenever leadership is lost; campaign again until shutdown.
	for ctx.Err() == nil {
		elector.Run(ctx)
	}
	return nil
}
