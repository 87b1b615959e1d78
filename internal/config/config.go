package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EngineConfig holds reconciliation tunables shared by gateway and poller.
type EngineConfig struct {
	LiveMissThreshold    int
	RecordingPollTimeout time.Duration
	RecordingMatchSkew   time.Duration
	VendorTimeout        time.Duration
	VendorMaxRetries     int
	AwaitRecordingBase   time.Duration
	AwaitRecordingMax    time.Duration
	// ReconnectWindow is how long a vendor keeps a session open after the
	// encoder drops before it finalizes the recording.
	ReconnectWindow      time.Duration
}

// VendorConfig holds credentials for the video providers.
type VendorConfig struct {
	CloudflareAccountID     string
	CloudflareAPIToken      string
	CloudflareBaseURL       string
	CloudflareWebhookSecret string

	MuxTokenID       string
	MuxTokenSecret   string
	MuxBaseURL       string
	MuxWebhookSecret string
}

// CloudflareEnabled reports whether Cloudflare credentials are configured.
func (v VendorConfig) CloudflareEnabled() bool {
	return v.CloudflareAccountID != "" && v.CloudflareAPIToken != ""
}

// MuxEnabled reports whether Mux credentials are configured.
func (v VendorConfig) MuxEnabled() bool {
	return v.MuxTokenID != "" && v.MuxTokenSecret != ""
}

// GatewayConfig holds configuration for the API Gateway.
type GatewayConfig struct {
	// Server settings
	Port        int
	Environment string
	LogLevel    string

	// Storage
	Store       string
	DatabaseURL string
	RedisURL    string

	// Auth
	JWTSecret      string
	InternalAPIKey string

	// Outbound notifications
	NotifyWebhookURL  string
	WebhookSigningKey string

	Vendors VendorConfig
	Engine  EngineConfig

	// AwaitRecordingOnStop starts a background recording wait after a stop.
	AwaitRecordingOnStop bool

	// LiveFeedOrigins lists the browser origins allowed to open the viewer
	// websocket. Empty accepts any origin.
	LiveFeedOrigins []string

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// PollerConfig holds configuration for the scheduled poller.
type PollerConfig struct {
	Environment string
	LogLevel    string
	HealthPort  int

	Store       string
	DatabaseURL string
	RedisURL    string

	NotifyWebhookURL  string
	WebhookSigningKey string

	Vendors VendorConfig
	Engine  EngineConfig

	Interval    time.Duration
	Concurrency int
	BatchSize   int

	// Kubernetes leader election
	LeaderElection bool
	InCluster      bool
	KubeConfigPath string
	Namespace      string
	LeaseName      string
	PodName        string
}

// LoadEnv seeds the process environment from local .env files when present.
// It returns the files that were loaded.
func LoadEnv(files ...string) []string {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			continue
		}
		loaded = append(loaded, file)
	}
	return loaded
}

// LoadEngineConfig loads the reconciliation tunables.
func LoadEngineConfig() EngineConfig {
	return EngineConfig{
		LiveMissThreshold:    getEnvInt("LIVE_MISS_THRESHOLD", 3),
		RecordingPollTimeout: getEnvDuration("RECORDING_POLL_TIMEOUT", 30*time.Minute),
		RecordingMatchSkew:   getEnvDuration("RECORDING_MATCH_SKEW", 0),
		VendorTimeout:        getEnvDuration("VENDOR_TIMEOUT", 8*time.Second),
		VendorMaxRetries:     getEnvInt("VENDOR_MAX_RETRIES", 2),
		AwaitRecordingBase:   getEnvDuration("AWAIT_RECORDING_BASE", 10*time.Second),
		AwaitRecordingMax:    getEnvDuration("AWAIT_RECORDING_MAX", 2*time.Minute),
		ReconnectWindow:      getEnvDuration("INPUT_RECONNECT_WINDOW", 60*time.Second),
	}
}

// LoadVendorConfig loads provider credentials.
func LoadVendorConfig() VendorConfig {
	return VendorConfig{
		CloudflareAccountID:     getEnv("CLOUDFLARE_ACCOUNT_ID", ""),
		CloudflareAPIToken:      getEnv("CLOUDFLARE_API_TOKEN", ""),
		CloudflareBaseURL:       getEnv("CLOUDFLARE_BASE_URL", "https://api.cloudflare.com/client/v4"),
		CloudflareWebhookSecret: getEnv("CLOUDFLARE_WEBHOOK_SECRET", ""),
		MuxTokenID:              getEnv("MUX_TOKEN_ID", ""),
		MuxTokenSecret:          getEnv("MUX_TOKEN_SECRET", ""),
		MuxBaseURL:              getEnv("MUX_BASE_URL", "https://api.mux.com"),
		MuxWebhookSecret:        getEnv("MUX_WEBHOOK_SECRET", ""),
	}
}

// LoadGatewayConfig loads the gateway configuration from environment variables.
func LoadGatewayConfig() (*GatewayConfig, error) {
	cfg := &GatewayConfig{
		Port:                 getEnvInt("PORT", 8080),
		Environment:          getEnv("ENVIRONMENT", "development"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		Store:                strings.ToLower(getEnv("STORE", "postgres")),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		InternalAPIKey:       getEnv("INTERNAL_API_KEY", ""),
		NotifyWebhookURL:     getEnv("NOTIFY_WEBHOOK_URL", ""),
		WebhookSigningKey:    getEnv("WEBHOOK_SIGNING_KEY", ""),
		Vendors:              LoadVendorConfig(),
		Engine:               LoadEngineConfig(),
		AwaitRecordingOnStop: getEnvBool("AWAIT_RECORDING_ON_STOP", true),
		LiveFeedOrigins:      getEnvList("LIVEFEED_ALLOWED_ORIGINS"),
		ReadTimeout:          getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:         getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout:      getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := validateStore(cfg.Store, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.InternalAPIKey == "" {
		return nil, fmt.Errorf("INTERNAL_API_KEY is required")
	}
	if cfg.NotifyWebhookURL != "" && cfg.WebhookSigningKey == "" {
		return nil, fmt.Errorf("WEBHOOK_SIGNING_KEY is required when NOTIFY_WEBHOOK_URL is set")
	}
	if err := validateEngine(cfg.Engine); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadPollerConfig loads the poller configuration from environment variables.
func LoadPollerConfig() (*PollerConfig, error) {
	cfg := &PollerConfig{
		Environment:       getEnv("ENVIRONMENT", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		HealthPort:        getEnvInt("HEALTH_PORT", 8081),
		Store:             strings.ToLower(getEnv("STORE", "postgres")),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		NotifyWebhookURL:  getEnv("NOTIFY_WEBHOOK_URL", ""),
		WebhookSigningKey: getEnv("WEBHOOK_SIGNING_KEY", ""),
		Vendors:           LoadVendorConfig(),
		Engine:            LoadEngineConfig(),
		Interval:          getEnvDuration("POLL_INTERVAL", 30*time.Second),
		Concurrency:       getEnvInt("POLL_CONCURRENCY", 8),
		BatchSize:         getEnvInt("POLL_BATCH_SIZE", 200),
		LeaderElection:    getEnvBool("LEADER_ELECTION", false),
		InCluster:         getEnvBool("IN_CLUSTER", false),
		KubeConfigPath:    getEnv("KUBECONFIG", ""),
		Namespace:         getEnv("NAMESPACE", "default"),
		LeaseName:         getEnv("LEASE_NAME", "memorial-livestream-poller"),
		PodName:           getEnv("POD_NAME", ""),
	}

	if err := validateStore(cfg.Store, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("POLL_CONCURRENCY must be positive")
	}
	if cfg.LeaderElection && cfg.PodName == "" {
		return nil, fmt.Errorf("POD_NAME is required when LEADER_ELECTION is enabled")
	}
	if cfg.NotifyWebhookURL != "" && cfg.WebhookSigningKey == "" {
		return nil, fmt.Errorf("WEBHOOK_SIGNING_KEY is required when NOTIFY_WEBHOOK_URL is set")
	}
	if err := validateEngine(cfg.Engine); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validateStore(store, databaseURL string) error {
	switch store {
	case "postgres":
		if databaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE must be postgres or memory, got %q", store)
	}
	return nil
}

func validateEngine(e EngineConfig) error {
	if e.LiveMissThreshold < 1 {
		return fmt.Errorf("LIVE_MISS_THRESHOLD must be at least 1")
	}
	if e.RecordingPollTimeout <= 0 {
		return fmt.Errorf("RECORDING_POLL_TIMEOUT must be positive")
	}
	if e.VendorTimeout <= 0 {
		return fmt.Errorf("VENDOR_TIMEOUT must be positive")
	}
	if e.RecordingMatchSkew < 0 {
		return fmt.Errorf("RECORDING_MATCH_SKEW must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
