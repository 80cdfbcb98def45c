package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alfredjeanlab/confsync/internal/hooks"
)

// allEnvVars lists every env var Load reads; each test clears them.
var allEnvVars = []string{
	"CONFSYNC_BLOB_BACKEND", "CONFSYNC_DATABASE_URL", "CONFSYNC_GRPC_ADDR",
	"CONFSYNC_HTTP_ADDR", "CONFSYNC_NATS_URL", "CONFSYNC_AUTH_TOKEN",
	"CONFSYNC_S3_BUCKET", "CONFSYNC_S3_ENDPOINT", "CONFSYNC_S3_REGION", "CONFSYNC_S3_PREFIX",
	"CONFSYNC_BACKUP_INTERVAL", "CONFSYNC_BACKUP_S3_BUCKET", "CONFSYNC_BACKUP_S3_KEY",
	"CONFSYNC_PRESENCE_TTL",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantBackend  string
		wantGRPCAddr string
		wantHTTPAddr string
		wantNATSURL  string
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:    "S3MissingBucket",
			env:     map[string]string{"CONFSYNC_BLOB_BACKEND": "s3"},
			wantErr: true,
		},
		{
			name:    "UnknownBackend",
			env:     map[string]string{"CONFSYNC_BLOB_BACKEND": "redis"},
			wantErr: true,
		},
		{
			name:         "DefaultAddresses",
			env:          map[string]string{"CONFSYNC_DATABASE_URL": "postgres://localhost/confsync"},
			wantBackend:  BackendPostgres,
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
		},
		{
			name: "S3Backend",
			env: map[string]string{
				"CONFSYNC_BLOB_BACKEND": "s3",
				"CONFSYNC_S3_BUCKET":    "blobs",
			},
			wantBackend:  BackendS3,
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
		},
		{
			name: "CustomAddresses",
			env: map[string]string{
				"CONFSYNC_DATABASE_URL": "postgres://db:5432/confsync",
				"CONFSYNC_GRPC_ADDR":    ":5050",
				"CONFSYNC_HTTP_ADDR":    ":3000",
				"CONFSYNC_NATS_URL":     "nats://localhost:4222",
			},
			wantBackend:  BackendPostgres,
			wantGRPCAddr: ":5050",
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
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
			if cfg.BlobBackend != tc.wantBackend {
				t.Errorf("BlobBackend = %q, want %q", cfg.BlobBackend, tc.wantBackend)
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

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CONFSYNC_DATABASE_URL", "postgres://localhost/confsync")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BackupInterval != time.Hour {
		t.Errorf("BackupInterval = %v, want 1h", cfg.BackupInterval)
	}
	if cfg.PresenceTTL != 10*time.Minute {
		t.Errorf("PresenceTTL = %v, want 10m", cfg.PresenceTTL)
	}
	if cfg.S3Region != "us-east-1" {
		t.Errorf("S3Region = %q", cfg.S3Region)
	}
	if cfg.S3Prefix != "blobs" {
		t.Errorf("S3Prefix = %q", cfg.S3Prefix)
	}
	if cfg.BackupS3Key != "confsync/backup.jsonl" {
		t.Errorf("BackupS3Key = %q", cfg.BackupS3Key)
	}
}

func TestLoadBackupCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CONFSYNC_DATABASE_URL", "postgres://localhost/confsync")
	t.Setenv("CONFSYNC_BACKUP_INTERVAL", "10m")
	t.Setenv("CONFSYNC_BACKUP_S3_BUCKET", "my-bucket")
	t.Setenv("CONFSYNC_BACKUP_S3_KEY", "custom/key.jsonl")
	t.Setenv("CONFSYNC_S3_ENDPOINT", "http://minio:9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BackupInterval != 10*time.Minute {
		t.Errorf("BackupInterval = %v, want 10m", cfg.BackupInterval)
	}
	if cfg.BackupS3Bucket != "my-bucket" {
		t.Errorf("BackupS3Bucket = %q", cfg.BackupS3Bucket)
	}
	if cfg.BackupS3Key != "custom/key.jsonl" {
		t.Errorf("BackupS3Key = %q", cfg.BackupS3Key)
	}
	if cfg.S3Endpoint != "http://minio:9000" {
		t.Errorf("S3Endpoint = %q", cfg.S3Endpoint)
	}
}

func TestLoadInvalidDurations(t *testing.T) {
	for _, key := range []string{"CONFSYNC_BACKUP_INTERVAL", "CONFSYNC_PRESENCE_TTL"} {
		t.Run(key, func(t *testing.T) {
			clearAllEnv(t)
			t.Setenv("CONFSYNC_DATABASE_URL", "postgres://localhost/confsync")
			t.Setenv(key, "not-a-duration")
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for invalid %s", key)
			}
		})
	}
}

func TestLoadBackupDisabled(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CONFSYNC_DATABASE_URL", "postgres://localhost/confsync")
	t.Setenv("CONFSYNC_BACKUP_INTERVAL", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BackupInterval != 0 {
		t.Errorf("BackupInterval = %v, want 0 (disabled)", cfg.BackupInterval)
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

func TestProfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "confsync", "profile.toml")
	if _, err := LoadProfile(path); !errors.Is(err, ErrNoProfile) {
		t.Fatalf("LoadProfile on missing file = %v", err)
	}

	p := &Profile{
		Device:    "dev-abc",
		Identity:  "alice",
		ServerURL: "http://localhost:8080",
		Keys:      map[string][]string{"alice": {"00ff"}},
		Hooks:     []hooks.Hook{{Command: "notify-send changed", Namespace: "userprofile", Timeout: "5s"}},
	}
	if err := p.Save(path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("profile mode = %v", info.Mode().Perm())
	}

	got, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Device != "dev-abc" || got.Identity != "alice" || got.Transport != TransportHTTP {
		t.Errorf("loaded %+v", got)
	}
	if got.StateDir != filepath.Join(filepath.Dir(path), "state") {
		t.Errorf("StateDir = %q", got.StateDir)
	}
	keys, err := got.OwnerKeys("alice")
	if err != nil || len(keys) != 1 || keys[0][1] != 0xff {
		t.Errorf("OwnerKeys = %v, %v", keys, err)
	}
	if len(got.Hooks) != 1 || got.Hooks[0].Command != "notify-send changed" || got.Hooks[0].Timeout != "5s" {
		t.Errorf("Hooks = %+v", got.Hooks)
	}
}

func TestProfileValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		p    Profile
	}{
		{"no device", Profile{Identity: "a", Transport: TransportHTTP}},
		{"no identity", Profile{Device: "d", Transport: TransportHTTP}},
		{"bad transport", Profile{Device: "d", Identity: "a", Transport: "smtp"}},
		{"bad key", Profile{Device: "d", Identity: "a", Transport: TransportGRPC, Keys: map[string][]string{"a": {"zz"}}}},
		{"bad hook", Profile{Device: "d", Identity: "a", Transport: TransportHTTP, Hooks: []hooks.Hook{{Command: "true", OnFailure: "panic"}}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.p.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
