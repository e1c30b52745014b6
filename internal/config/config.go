package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the server settings. Values come from defaults, then the
// optional TOML file named by FLOWD_CONFIG_FILE, then FLOWD_* environment
// variables.
type Config struct {
	DatabaseURL string `toml:"database_url"` // FLOWD_DATABASE_URL (empty = in-memory store)
	GRPCAddr    string `toml:"grpc_addr"`    // FLOWD_GRPC_ADDR (default ":9090")
	HTTPAddr    string `toml:"http_addr"`    // FLOWD_HTTP_ADDR (default ":8080")
	NATSURL     string `toml:"nats_url"`     // FLOWD_NATS_URL (optional, empty = embedded broker or none)
	NATSEmbed   bool   `toml:"nats_embed"`   // FLOWD_NATS_EMBED (default true; run an in-process broker when NATSURL is empty)
	AuthToken   string `toml:"auth_token"`   // FLOWD_AUTH_TOKEN (optional, empty = auth disabled)
	LogLevel    string `toml:"log_level"`    // FLOWD_LOG_LEVEL (default "info")
	LogFormat   string `toml:"log_format"`   // FLOWD_LOG_FORMAT ("text" or "json")

	// Engine limits
	DefaultPageSize     int           `toml:"default_page_size"`     // FLOWD_DEFAULT_PAGE_SIZE (default 10)
	MaxPageSize         int           `toml:"max_page_size"`         // FLOWD_MAX_PAGE_SIZE (default 100)
	MaxDeliveryAttempts int           `toml:"max_delivery_attempts"` // FLOWD_MAX_DELIVERY_ATTEMPTS (default 5)
	DispatchTimeout     time.Duration `toml:"dispatch_timeout"`      // FLOWD_DISPATCH_TIMEOUT (default 30s)

	// Archive settings
	ArchiveInterval   time.Duration `toml:"archive_interval"`    // FLOWD_ARCHIVE_INTERVAL (default 0 = disabled)
	ArchiveS3Bucket   string        `toml:"archive_s3_bucket"`   // FLOWD_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        `toml:"archive_s3_endpoint"` // FLOWD_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        `toml:"archive_s3_region"`   // FLOWD_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Key      string        `toml:"archive_s3_key"`      // FLOWD_ARCHIVE_S3_KEY (default "flowd/flow-events.jsonl")
	ArchiveGitRepo    string        `toml:"archive_git_repo"`    // FLOWD_ARCHIVE_GIT_REPO (enables git when set; path to clone)
	ArchiveGitFile    string        `toml:"archive_git_file"`    // FLOWD_ARCHIVE_GIT_FILE (default "flow-events.jsonl")
	ArchiveGitBranch  string        `toml:"archive_git_branch"`  // FLOWD_ARCHIVE_GIT_BRANCH (default "main")
}

func defaults() *Config {
	return &Config{
		GRPCAddr:            ":9090",
		HTTPAddr:            ":8080",
		LogLevel:            "info",
		LogFormat:           "text",
		NATSEmbed:           true,
		DefaultPageSize:     10,
		MaxPageSize:         100,
		MaxDeliveryAttempts: 5,
		DispatchTimeout:     30 * time.Second,
		ArchiveS3Region:     "us-east-1",
		ArchiveS3Key:        "flowd/flow-events.jsonl",
		ArchiveGitFile:      "flow-events.jsonl",
		ArchiveGitBranch:    "main",
	}
}

// Load resolves the configuration. A missing FLOWD_DATABASE_URL is not an
// error; the server falls back to the in-memory store.
func Load() (*Config, error) {
	c := defaults()
	if path := os.Getenv("FLOWD_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("FLOWD_CONFIG_FILE: %w", err)
		}
	}

	c.DatabaseURL = envOrDefault("FLOWD_DATABASE_URL", c.DatabaseURL)
	c.GRPCAddr = envOrDefault("FLOWD_GRPC_ADDR", c.GRPCAddr)
	c.HTTPAddr = envOrDefault("FLOWD_HTTP_ADDR", c.HTTPAddr)
	c.NATSURL = envOrDefault("FLOWD_NATS_URL", c.NATSURL)
	c.AuthToken = envOrDefault("FLOWD_AUTH_TOKEN", c.AuthToken)
	c.LogLevel = envOrDefault("FLOWD_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("FLOWD_LOG_FORMAT", c.LogFormat)
	c.ArchiveS3Bucket = envOrDefault("FLOWD_ARCHIVE_S3_BUCKET", c.ArchiveS3Bucket)
	c.ArchiveS3Endpoint = envOrDefault("FLOWD_ARCHIVE_S3_ENDPOINT", c.ArchiveS3Endpoint)
	c.ArchiveS3Region = envOrDefault("FLOWD_ARCHIVE_S3_REGION", c.ArchiveS3Region)
	c.ArchiveS3Key = envOrDefault("FLOWD_ARCHIVE_S3_KEY", c.ArchiveS3Key)
	c.ArchiveGitRepo = envOrDefault("FLOWD_ARCHIVE_GIT_REPO", c.ArchiveGitRepo)
	c.ArchiveGitFile = envOrDefault("FLOWD_ARCHIVE_GIT_FILE", c.ArchiveGitFile)
	c.ArchiveGitBranch = envOrDefault("FLOWD_ARCHIVE_GIT_BRANCH", c.ArchiveGitBranch)

	var err error
	if c.DefaultPageSize, err = envInt("FLOWD_DEFAULT_PAGE_SIZE", c.DefaultPageSize); err != nil {
		return nil, err
	}
	if c.MaxPageSize, err = envInt("FLOWD_MAX_PAGE_SIZE", c.MaxPageSize); err != nil {
		return nil, err
	}
	if c.MaxDeliveryAttempts, err = envInt("FLOWD_MAX_DELIVERY_ATTEMPTS", c.MaxDeliveryAttempts); err != nil {
		return nil, err
	}
	if c.DispatchTimeout, err = envDuration("FLOWD_DISPATCH_TIMEOUT", c.DispatchTimeout); err != nil {
		return nil, err
	}
	if c.ArchiveInterval, err = envDuration("FLOWD_ARCHIVE_INTERVAL", c.ArchiveInterval); err != nil {
		return nil, err
	}
	if c.NATSEmbed, err = envBool("FLOWD_NATS_EMBED", c.NATSEmbed); err != nil {
		return nil, err
	}

	if c.DefaultPageSize <= 0 || c.MaxPageSize <= 0 {
		return nil, fmt.Errorf("page sizes must be positive")
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return nil, fmt.Errorf("default page size %d exceeds max page size %d", c.DefaultPageSize, c.MaxPageSize)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("FLOWD_LOG_FORMAT: must be text or json, got %q", c.LogFormat)
	}
	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
