// Package bootstrap builds the shared dependencies of the gateway and
// poller binaries from configuration.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/config"
	"github.com/xpadev-net/memorial-livestream/internal/db"
	"github.com/xpadev-net/memorial-livestream/internal/lease"
	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/memstore"
	"github.com/xpadev-net/memorial-livestream/internal/provider"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// Store is a stream.Store plus its lifecycle hooks.
type Store struct {
	stream.Store
	health func(ctx context.Context) error
	close  func()
}

// Health reports whether the backing store is reachable.
func (s *Store) Health(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	return s.health(ctx)
}

// Close releases the backing store.
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStore opens the configured store. Postgres is migrated before use.
func OpenStore(ctx context.Context, kind, databaseURL string) (*Store, error) {
	switch kind {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		return &Store{Store: memstore.New()}, nil
	case "postgres":
		database, err := db.New(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return &Store{
			Store:  db.NewStreamRepository(database),
			health: database.Health,
			close:  database.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store %q", kind)
}

// Locker is a lease.Locker plus its lifecycle hooks.
type Locker struct {
	lease.Locker
	health func(ctx context.Context) error
	close  func()
}

// Health reports whether the lease backend is reachable.
func (l *Locker) Health(ctx context.Context) error {
	if l.health == nil {
		return nil
	}
	return l.health(ctx)
}

// Close releases the lease backend.
func (l *Locker) Close() {
	if l.close != nil {
		l.close()
	}
}

// NewLocker returns a Redis backed locker when redisURL is set, else a
// process-local one. Multiple replicas require Redis.
func NewLocker(ctx context.Context, redisURL string) (*Locker, error) {
	if redisURL == "" {
		log.Warn("REDIS_URL not set; stream leases are process-local")
		return &Locker{Locker: lease.NewLocalLocker()}, nil
	}
	client, err := lease.NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	return &Locker{
		Locker: lease.NewRedisLocker(client, lease.RedisConfig{}),
		health: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		close:  func() { _ = client.Close() },
	}, nil
}

// NewProviders builds the adapters that have credentials configured.
func NewProviders(v config.VendorConfig, e config.EngineConfig) (*provider.Registry, error) {
	client := func(baseURL string) provider.ClientConfig {
		return provider.ClientConfig{
			BaseURL:    baseURL,
			Timeout:    e.VendorTimeout,
			MaxRetries: e.VendorMaxRetries,
		}
	}

	var adapters []provider.Adapter
	if v.CloudflareEnabled() {
		adapters = append(adapters, provider.NewCloudflare(provider.CloudflareConfig{
			AccountID: v.CloudflareAccountID,
			APIToken:  v.CloudflareAPIToken,
			Client:    client(v.CloudflareBaseURL),
		}))
	}
	if v.MuxEnabled() {
		adapters = append(adapters, provider.NewMux(provider.MuxConfig{
			TokenID:     v.MuxTokenID,
			TokenSecret: v.MuxTokenSecret,
			Client:      client(v.MuxBaseURL),
		}))
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no streaming provider configured: set Cloudflare or Mux credentials")
	}

	registry := provider.NewRegistry(adapters...)
	names := make([]string, 0, len(adapters))
	for _, p := range registry.Providers() {
		names = append(names, string(p))
	}
	log.Info("streaming providers enabled", zap.Strings("providers", names))
	return registry, nil
}

// WebhookSecrets maps each provider to its inbound webhook secret.
func WebhookSecrets(v config.VendorConfig) map[stream.Provider]string {
	return map[stream.Provider]string{
		stream.ProviderCloudflare: v.CloudflareWebhookSecret,
		stream.ProviderMux:        v.MuxWebhookSecret,
	}
}
