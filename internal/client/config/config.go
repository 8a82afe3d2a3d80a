package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/shilei2024/foodai/internal/filex"
)

// Reconciler kinds.
const (
	ReconcilerGRPC = "grpc"
	ReconcilerS3   = "s3"
	ReconcilerNone = "none"
)

// Config holds runtime settings for the FoodAI agent.
//
// Units: every interval is a time.Duration; in JSON and environment
// variables durations are written like "30s" or "168h".
type Config struct {
	// Remote reconciler selection and the gRPC endpoint.
	Reconciler          string        `env:"FOODAI_RECONCILER"`
	ServerEndpointAddr  string        `env:"FOODAI_SERVER_ADDR"`
	ClientID            string        `env:"FOODAI_CLIENT_ID"`
	ClientSecret        string        `env:"FOODAI_CLIENT_SECRET"`
	Collection          string        `env:"FOODAI_COLLECTION"`
	OnlineCheckInterval time.Duration `env:"FOODAI_ONLINE_CHECK_INTERVAL"`

	// Local storage.
	DataDir       string `env:"FOODAI_DATA_DIR"`
	DBFile        string `env:"FOODAI_DB_FILE"`
	MaxRecords    int    `env:"FOODAI_MAX_RECORDS"`
	MaxQueueItems int    `env:"FOODAI_MAX_QUEUE_ITEMS"`

	// Background sync.
	SyncInterval  time.Duration `env:"FOODAI_SYNC_INTERVAL"`
	MaxRetries    int           `env:"FOODAI_MAX_RETRIES"`
	SyncRetention time.Duration `env:"FOODAI_SYNC_RETENTION"`
	ApplyTimeout  time.Duration `env:"FOODAI_APPLY_TIMEOUT"`

	// Token and result caches.
	TokenRefreshMargin time.Duration `env:"FOODAI_TOKEN_REFRESH_MARGIN"`
	TokenSafetyMargin  time.Duration `env:"FOODAI_TOKEN_SAFETY_MARGIN"`
	ResultCacheTTL     time.Duration `env:"FOODAI_RESULT_CACHE_TTL"`
	ResultCacheSize    int           `env:"FOODAI_RESULT_CACHE_SIZE"`

	// S3 reconciler.
	S3Region    string `env:"FOODAI_S3_REGION"`
	S3Endpoint  string `env:"FOODAI_S3_ENDPOINT"`
	S3AccessKey string `env:"FOODAI_S3_ACCESS_KEY"`
	S3SecretKey string `env:"FOODAI_S3_SECRET_KEY"`
	S3Bucket    string `env:"FOODAI_S3_BUCKET"`
	S3Prefix    string `env:"FOODAI_S3_PREFIX"`

	// Recognition provider; recognition is disabled without RecognizeURL.
	ProviderTokenURL     string `env:"FOODAI_PROVIDER_TOKEN_URL"`
	ProviderClientID     string `env:"FOODAI_PROVIDER_CLIENT_ID"`
	ProviderClientSecret string `env:"FOODAI_PROVIDER_CLIENT_SECRET"`
	ProviderScope        string `env:"FOODAI_PROVIDER_SCOPE"`
	RecognizeURL         string `env:"FOODAI_RECOGNIZE_URL"`

	LogLevel  string `env:"FOODAI_LOG_LEVEL"`
	LogFormat string `env:"FOODAI_LOG_FORMAT"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Reconciler = ReconcilerGRPC
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.ClientID = "foodai-agent"
	c.ClientSecret = "foodai-agent-secret"
	c.Collection = "food_records"
	c.OnlineCheckInterval = 3 * time.Second

	c.DataDir = ".foodai"
	c.DBFile = "foodai.db"
	c.MaxRecords = 100
	c.MaxQueueItems = 1000

	c.SyncInterval = 30 * time.Second
	c.MaxRetries = 3
	c.SyncRetention = 7 * 24 * time.Hour
	c.ApplyTimeout = 15 * time.Second

	c.TokenRefreshMargin = 5 * time.Minute
	c.TokenSafetyMargin = time.Minute
	c.ResultCacheTTL = 10 * time.Minute
	c.ResultCacheSize = 128

	c.S3Region = "us-east-1"
	c.S3Bucket = "foodai"

	c.LogLevel = "info"
	c.LogFormat = "auto"
}

// Validate rejects settings the agent cannot start with.
func (c *Config) Validate() error {
	switch c.Reconciler {
	case ReconcilerGRPC:
		if c.ServerEndpointAddr == "" {
			return fmt.Errorf("server address is required for the %s reconciler", c.Reconciler)
		}
	case ReconcilerS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("bucket is required for the %s reconciler", c.Reconciler)
		}
	case ReconcilerNone:
	default:
		return fmt.Errorf("unknown reconciler %q (want %s, %s or %s)", c.Reconciler, ReconcilerGRPC, ReconcilerS3, ReconcilerNone)
	}
	if c.MaxRecords <= 0 {
		return fmt.Errorf("max records must be positive, got %d", c.MaxRecords)
	}
	if c.SyncInterval <= 0 || c.OnlineCheckInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	return nil
}

// SyncEnabled reports whether writes are queued for a remote reconciler.
func (c *Config) SyncEnabled() bool {
	return c.Reconciler != ReconcilerNone
}

// DBPath creates the data directory when needed and returns the database
// file location inside it.
func (c *Config) DBPath() (string, error) {
	dir, err := filex.EnsureDir(c.DataDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.DBFile), nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), the environment and command-line flags. Later sources
// take precedence over earlier ones. args excludes the program name.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
