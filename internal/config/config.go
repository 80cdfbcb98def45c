// Package config loads the blob server's environment configuration and
// the CLI's device profile.
package config

import (
	"fmt"
	"os"
	"time"
)

// Blob backends.
const (
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

type Config struct {
	BlobBackend string // CONFSYNC_BLOB_BACKEND (default "postgres")
	DatabaseURL string // CONFSYNC_DATABASE_URL (required for postgres)
	GRPCAddr    string // CONFSYNC_GRPC_ADDR (default ":9090")
	HTTPAddr    string // CONFSYNC_HTTP_ADDR (default ":8080")
	NATSURL     string // CONFSYNC_NATS_URL (optional, empty = no events)
	AuthToken   string // CONFSYNC_AUTH_TOKEN (optional, empty = auth disabled)

	// S3 blob backend
	S3Bucket   string // CONFSYNC_S3_BUCKET (required for s3)
	S3Endpoint string // CONFSYNC_S3_ENDPOINT (custom endpoint for MinIO)
	S3Region   string // CONFSYNC_S3_REGION (default "us-east-1")
	S3Prefix   string // CONFSYNC_S3_PREFIX (default "blobs")

	// Backup settings
	BackupInterval time.Duration // CONFSYNC_BACKUP_INTERVAL (default 1h; 0 = disabled)
	BackupS3Bucket string        // CONFSYNC_BACKUP_S3_BUCKET (enables backups when set)
	BackupS3Key    string        // CONFSYNC_BACKUP_S3_KEY (default "confsync/backup.jsonl"; "{time}" is expanded, ".zst" compresses)

	PresenceTTL time.Duration // CONFSYNC_PRESENCE_TTL (default 10m)
}

func Load() (*Config, error) {
	c := &Config{
		BlobBackend:    envOrDefault("CONFSYNC_BLOB_BACKEND", BackendPostgres),
		DatabaseURL:    os.Getenv("CONFSYNC_DATABASE_URL"),
		GRPCAddr:       envOrDefault("CONFSYNC_GRPC_ADDR", ":9090"),
		HTTPAddr:       envOrDefault("CONFSYNC_HTTP_ADDR", ":8080"),
		NATSURL:        os.Getenv("CONFSYNC_NATS_URL"),
		AuthToken:      os.Getenv("CONFSYNC_AUTH_TOKEN"),
		S3Bucket:       os.Getenv("CONFSYNC_S3_BUCKET"),
		S3Endpoint:     os.Getenv("CONFSYNC_S3_ENDPOINT"),
		S3Region:       envOrDefault("CONFSYNC_S3_REGION", "us-east-1"),
		S3Prefix:       envOrDefault("CONFSYNC_S3_PREFIX", "blobs"),
		BackupS3Bucket: os.Getenv("CONFSYNC_BACKUP_S3_BUCKET"),
		BackupS3Key:    envOrDefault("CONFSYNC_BACKUP_S3_KEY", "confsync/backup.jsonl"),
	}

	switch c.BlobBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return nil, fmt.Errorf("CONFSYNC_DATABASE_URL is required for the postgres backend")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return nil, fmt.Errorf("CONFSYNC_S3_BUCKET is required for the s3 backend")
		}
	default:
		return nil, fmt.Errorf("CONFSYNC_BLOB_BACKEND: unknown backend %q", c.BlobBackend)
	}

	var err error
	if c.BackupInterval, err = durationEnv("CONFSYNC_BACKUP_INTERVAL", "1h"); err != nil {
		return nil, err
	}
	if c.PresenceTTL, err = durationEnv("CONFSYNC_PRESENCE_TTL", "10m"); err != nil {
		return nil, err
	}
	return c, nil
}

func durationEnv(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
