// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Server holds the bookmark server configuration.
type Server struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Storage backend ("local" or "s3", default: "local")
	StorageBackend   string
	LocalStoragePath string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string

	// Watching
	WatchDebounce     time.Duration
	WatchPollInterval time.Duration
	WatchMaxWait      time.Duration

	// TLS (optional, HTTPS when both are set)
	TLSCertFile string
	TLSKeyFile  string

	// Auth
	JWTSecret           string
	TokenTTL            time.Duration
	AccountUsername     string
	AccountPassword     string
	AccountPasswordHash string

	// Uploads
	MaxUploadSize int64
}

// LoadServer reads the server configuration with defaults.
func LoadServer() (*Server, error) {
	cfg := &Server{
		ListenAddr:          envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:         envOr("METRICS_ADDR", ":9090"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFormat:           envOr("LOG_FORMAT", "json"),
		StorageBackend:      envOr("STORAGE_BACKEND", "local"),
		LocalStoragePath:    envOr("LOCAL_STORAGE_PATH", "/data/bookmarks"),
		S3Endpoint:          envOr("S3_ENDPOINT", ""),
		S3Bucket:            envOr("S3_BUCKET", "bookmarks"),
		S3Prefix:            envOr("S3_PREFIX", ""),
		S3AccessKey:         envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:         envOr("S3_SECRET_KEY", ""),
		S3Region:            envOr("S3_REGION", "us-east-1"),
		WatchDebounce:       envDuration("WATCH_DEBOUNCE", 500*time.Millisecond),
		WatchPollInterval:   envDuration("WATCH_POLL_INTERVAL", 5*time.Second),
		WatchMaxWait:        envDuration("WATCH_MAX_WAIT", 55*time.Second),
		TLSCertFile:         envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:          envOr("TLS_KEY_FILE", ""),
		JWTSecret:           envOr("JWT_SECRET", ""),
		TokenTTL:            envDuration("TOKEN_TTL", 720*time.Hour),
		AccountUsername:     envOr("ACCOUNT_USERNAME", "admin"),
		AccountPassword:     envOr("ACCOUNT_PASSWORD", ""),
		AccountPasswordHash: envOr("ACCOUNT_PASSWORD_HASH", ""),
		MaxUploadSize:       envInt64("MAX_UPLOAD_SIZE", 32*1024*1024), // 32MB default
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.AccountPassword == "" && cfg.AccountPasswordHash == "" {
		return nil, fmt.Errorf("ACCOUNT_PASSWORD or ACCOUNT_PASSWORD_HASH is required")
	}
	switch cfg.StorageBackend {
	case "local", "s3":
	default:
		return nil, fmt.Errorf("STORAGE_BACKEND %q must be local or s3", cfg.StorageBackend)
	}
	return cfg, nil
}

// Client holds the sync client configuration.
type Client struct {
	ServerURL   string
	SyncRoot    string
	TargetPath  string
	Interval    time.Duration
	Concurrency int
	Watch       bool

	Token    string
	Username string
	Password string

	LogLevel    string
	LogFormat   string
	MetricsAddr string // empty disables metrics
}

// LoadClient reads the sync client configuration with defaults. Required
// values are checked by Validate once flags have been applied.
func LoadClient() *Client {
	return &Client{
		ServerURL:   envOr("SERVER_URL", "http://localhost:8080"),
		SyncRoot:    envOr("SYNC_ROOT", "/"),
		TargetPath:  envOr("TARGET_PATH", ""),
		Interval:    envDuration("SYNC_INTERVAL", 15*time.Minute),
		Concurrency: envInt("SYNC_CONCURRENCY", 4),
		Watch:       envBool("SYNC_WATCH", true),
		Token:       envOr("SYNC_TOKEN", ""),
		Username:    envOr("SYNC_USERNAME", ""),
		Password:    envOr("SYNC_PASSWORD", ""),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "console"),
		MetricsAddr: envOr("METRICS_ADDR", ""),
	}
}

// Validate checks the values a sync needs.
func (c *Client) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}
	if c.TargetPath == "" {
		return fmt.Errorf("TARGET_PATH is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
