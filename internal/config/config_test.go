package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envVars = []string{
	"FLOWD_CONFIG_FILE", "FLOWD_DATABASE_URL", "FLOWD_GRPC_ADDR", "FLOWD_HTTP_ADDR",
	"FLOWD_NATS_URL", "FLOWD_AUTH_TOKEN", "FLOWD_LOG_LEVEL", "FLOWD_LOG_FORMAT",
	"FLOWD_DEFAULT_PAGE_SIZE", "FLOWD_MAX_PAGE_SIZE", "FLOWD_MAX_DELIVERY_ATTEMPTS",
	"FLOWD_DISPATCH_TIMEOUT", "FLOWD_ARCHIVE_INTERVAL",
	"FLOWD_ARCHIVE_S3_BUCKET", "FLOWD_ARCHIVE_S3_ENDPOINT", "FLOWD_ARCHIVE_S3_REGION",
	"FLOWD_ARCHIVE_S3_KEY", "FLOWD_ARCHIVE_GIT_REPO", "FLOWD_ARCHIVE_GIT_FILE",
	"FLOWD_ARCHIVE_GIT_BRANCH", "FLOWD_NATS_EMBED",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantGRPCAddr string
		wantHTTPAddr string
		wantNATSURL  string
	}{
		{
			name:         "Defaults",
			env:          map[string]string{},
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
		},
		{
			name: "CustomAddresses",
			env: map[string]string{
				"FLOWD_DATABASE_URL": "postgres://db:5432/flowd",
				"FLOWD_GRPC_ADDR":    ":5050",
				"FLOWD_HTTP_ADDR":    ":3000",
				"FLOWD_NATS_URL":     "nats://localhost:4222",
			},
			wantGRPCAddr: ":5050",
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
		},
		{
			name:    "BadPageSize",
			env:     map[string]string{"FLOWD_MAX_PAGE_SIZE": "many"},
			wantErr: true,
		},
		{
			name:    "DefaultPageExceedsMax",
			env:     map[string]string{"FLOWD_DEFAULT_PAGE_SIZE": "50", "FLOWD_MAX_PAGE_SIZE": "20"},
			wantErr: true,
		},
		{
			name:    "BadLogFormat",
			env:     map[string]string{"FLOWD_LOG_FORMAT": "xml"},
			wantErr: true,
		},
		{
			name:    "BadDispatchTimeout",
			env:     map[string]string{"FLOWD_DISPATCH_TIMEOUT": "soon"},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseURL != tc.env["FLOWD_DATABASE_URL"] {
				t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, tc.env["FLOWD_DATABASE_URL"])
			}
			if cfg.GRPCAddr != tc.wantGRPCAddr {
				t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, tc.wantGRPCAddr)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoadEngineDefaults(t *testing.T) {
	clearAllEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultPageSize != 10 || cfg.MaxPageSize != 100 {
		t.Errorf("page sizes = %d/%d, want 10/100", cfg.DefaultPageSize, cfg.MaxPageSize)
	}
	if cfg.MaxDeliveryAttempts != 5 {
		t.Errorf("MaxDeliveryAttempts = %d, want 5", cfg.MaxDeliveryAttempts)
	}
	if cfg.DispatchTimeout != 30*time.Second {
		t.Errorf("DispatchTimeout = %v, want 30s", cfg.DispatchTimeout)
	}
	if cfg.ArchiveInterval != 0 {
		t.Errorf("ArchiveInterval = %v, want 0 (disabled)", cfg.ArchiveInterval)
	}
	if cfg.ArchiveS3Region != "us-east-1" {
		t.Errorf("ArchiveS3Region = %q, want %q", cfg.ArchiveS3Region, "us-east-1")
	}
	if cfg.ArchiveGitFile != "flow-events.jsonl" {
		t.Errorf("ArchiveGitFile = %q, want %q", cfg.ArchiveGitFile, "flow-events.jsonl")
	}
	if cfg.ArchiveGitBranch != "main" {
		t.Errorf("ArchiveGitBranch = %q, want %q", cfg.ArchiveGitBranch, "main")
	}
	if !cfg.NATSEmbed {
		t.Error("NATSEmbed should default to true")
	}
}

func TestLoadNATSEmbed(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("FLOWD_NATS_EMBED", "false")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NATSEmbed {
		t.Error("NATSEmbed = true, want false")
	}

	t.Setenv("FLOWD_NATS_EMBED", "sometimes")
	if _, err := Load(); err == nil {
		t.Error("expected error for unparseable FLOWD_NATS_EMBED")
	}
}

func TestLoadArchiveCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("FLOWD_ARCHIVE_INTERVAL", "10m")
	t.Setenv("FLOWD_ARCHIVE_S3_BUCKET", "my-bucket")
	t.Setenv("FLOWD_ARCHIVE_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("FLOWD_ARCHIVE_S3_REGION", "eu-west-1")
	t.Setenv("FLOWD_ARCHIVE_S3_KEY", "custom/key.jsonl")
	t.Setenv("FLOWD_ARCHIVE_GIT_REPO", "/tmp/repo")
	t.Setenv("FLOWD_ARCHIVE_GIT_FILE", "custom.jsonl")
	t.Setenv("FLOWD_ARCHIVE_GIT_BRANCH", "backup")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ArchiveInterval != 10*time.Minute {
		t.Errorf("ArchiveInterval = %v, want 10m", cfg.ArchiveInterval)
	}
	if cfg.ArchiveS3Bucket != "my-bucket" {
		t.Errorf("ArchiveS3Bucket = %q", cfg.ArchiveS3Bucket)
	}
	if cfg.ArchiveS3Endpoint != "http://minio:9000" {
		t.Errorf("ArchiveS3Endpoint = %q", cfg.ArchiveS3Endpoint)
	}
	if cfg.ArchiveS3Region != "eu-west-1" {
		t.Errorf("ArchiveS3Region = %q", cfg.ArchiveS3Region)
	}
	if cfg.ArchiveS3Key != "custom/key.jsonl" {
		t.Errorf("ArchiveS3Key = %q", cfg.ArchiveS3Key)
	}
	if cfg.ArchiveGitRepo != "/tmp/repo" {
		t.Errorf("ArchiveGitRepo = %q", cfg.ArchiveGitRepo)
	}
	if cfg.ArchiveGitFile != "custom.jsonl" {
		t.Errorf("ArchiveGitFile = %q", cfg.ArchiveGitFile)
	}
	if cfg.ArchiveGitBranch != "backup" {
		t.Errorf("ArchiveGitBranch = %q", cfg.ArchiveGitBranch)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearAllEnv(t)
	path := filepath.Join(t.TempDir(), "flowd.toml")
	data := `
http_addr = ":7070"
nats_url = "nats://broker:4222"
max_delivery_attempts = 9
dispatch_timeout = "5s"
archive_interval = "1h"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FLOWD_CONFIG_FILE", path)
	t.Setenv("FLOWD_NATS_URL", "nats://override:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("HTTPAddr = %q, want file value", cfg.HTTPAddr)
	}
	if cfg.NATSURL != "nats://override:4222" {
		t.Errorf("NATSURL = %q, environment should win over the file", cfg.NATSURL)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, default should survive the file", cfg.GRPCAddr)
	}
	if cfg.MaxDeliveryAttempts != 9 {
		t.Errorf("MaxDeliveryAttempts = %d, want 9", cfg.MaxDeliveryAttempts)
	}
	if cfg.DispatchTimeout != 5*time.Second {
		t.Errorf("DispatchTimeout = %v, want 5s", cfg.DispatchTimeout)
	}
	if cfg.ArchiveInterval != time.Hour {
		t.Errorf("ArchiveInterval = %v, want 1h", cfg.ArchiveInterval)
	}
}

func TestLoadConfigFile_Missing(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("FLOWD_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.toml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}
