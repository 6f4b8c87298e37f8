// Package config loads relay server settings from RELAY_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string // RELAY_DATABASE_URL (required)
	GRPCAddr    string // RELAY_GRPC_ADDR (default ":9090")
	HTTPAddr    string // RELAY_HTTP_ADDR (default ":8080")
	NATSURL     string // RELAY_NATS_URL (optional, empty = single node)
	AuthToken   string // RELAY_AUTH_TOKEN (optional, empty = auth disabled)
	TokenSecret string // RELAY_TOKEN_SECRET (required, at least 32 bytes)
	NodeID      string // RELAY_NODE_ID (default: generated at startup)

	ActorIdleTimeout  time.Duration // RELAY_ACTOR_IDLE_TIMEOUT (default 2m)
	PresenceThreshold time.Duration // RELAY_PRESENCE_THRESHOLD (default 60s)
	PresenceWriteBack bool          // RELAY_PRESENCE_WRITE_BACK (default false; presence is read-only)
	AllowedOrigins    []string      // RELAY_ALLOWED_ORIGINS (comma-separated; empty = any)

	// Archive settings
	ArchiveInterval   time.Duration // RELAY_ARCHIVE_INTERVAL (default 10m; 0 = disabled)
	ArchiveS3Bucket   string        // RELAY_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        // RELAY_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // RELAY_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Key      string        // RELAY_ARCHIVE_S3_KEY (default "relay/assignments.jsonl")
	ArchiveGitRepo    string        // RELAY_ARCHIVE_GIT_REPO (enables git when set; path to clone)
	ArchiveGitFile    string        // RELAY_ARCHIVE_GIT_FILE (default "assignments.jsonl")
	ArchiveGitBranch  string        // RELAY_ARCHIVE_GIT_BRANCH (default "main")
}

// MinTokenSecretLength matches the token service's minimum secret size.
const MinTokenSecretLength = 32

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("RELAY_DATABASE_URL"),
		GRPCAddr:          envOrDefault("RELAY_GRPC_ADDR", ":9090"),
		HTTPAddr:          envOrDefault("RELAY_HTTP_ADDR", ":8080"),
		NATSURL:           os.Getenv("RELAY_NATS_URL"),
		AuthToken:         os.Getenv("RELAY_AUTH_TOKEN"),
		TokenSecret:       os.Getenv("RELAY_TOKEN_SECRET"),
		NodeID:            os.Getenv("RELAY_NODE_ID"),
		AllowedOrigins:    splitList(os.Getenv("RELAY_ALLOWED_ORIGINS")),
		ArchiveS3Bucket:   os.Getenv("RELAY_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("RELAY_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("RELAY_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Key:      envOrDefault("RELAY_ARCHIVE_S3_KEY", "relay/assignments.jsonl"),
		ArchiveGitRepo:    os.Getenv("RELAY_ARCHIVE_GIT_REPO"),
		ArchiveGitFile:    envOrDefault("RELAY_ARCHIVE_GIT_FILE", "assignments.jsonl"),
		ArchiveGitBranch:  envOrDefault("RELAY_ARCHIVE_GIT_BRANCH", "main"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("RELAY_DATABASE_URL is required")
	}
	if len(c.TokenSecret) < MinTokenSecretLength {
		return nil, fmt.Errorf("RELAY_TOKEN_SECRET must be at least %d bytes", MinTokenSecretLength)
	}

	var err error
	if c.ActorIdleTimeout, err = envDuration("RELAY_ACTOR_IDLE_TIMEOUT", "2m"); err != nil {
		return nil, err
	}
	if c.PresenceThreshold, err = envDuration("RELAY_PRESENCE_THRESHOLD", "60s"); err != nil {
		return nil, err
	}
	if c.ArchiveInterval, err = envDuration("RELAY_ARCHIVE_INTERVAL", "10m"); err != nil {
		return nil, err
	}
	if c.PresenceWriteBack, err = envBool("RELAY_PRESENCE_WRITE_BACK", false); err != nil {
		return nil, err
	}
	return c, nil
}

// ArchiveEnabled reports whether any archive destination is configured
// and the interval is positive.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveInterval > 0 && (c.ArchiveS3Bucket != "" || c.ArchiveGitRepo != "")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
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

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
