package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confsync/internal/config"
	"github.com/alfredjeanlab/confsync/internal/events"
	"github.com/alfredjeanlab/confsync/internal/presence"
	"github.com/alfredjeanlab/confsync/internal/server"
	"github.com/alfredjeanlab/confsync/internal/store"
	"github.com/alfredjeanlab/confsync/internal/store/postgres"
	"github.com/alfredjeanlab/confsync/internal/store/s3store"
	csync "github.com/alfredjeanlab/confsync/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	RunE:  runServe,
}

// openBlobStore connects the backend named by cfg.BlobBackend.
func openBlobStore(ctx context.Context, cfg *config.Config) (store.BlobStore, error) {
	switch cfg.BlobBackend {
	case config.BackendPostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	case config.BackendS3:
		client, err := s3store.NewClient(ctx, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			return nil, err
		}
		return s3store.New(client, cfg.S3Bucket, cfg.S3Prefix), nil
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
}

// backupScheduler returns a scheduler exporting bs to S3, or nil when
// backups are not configured.
func backupScheduler(ctx context.Context, cfg *config.Config, bs store.BlobStore, logger *slog.Logger) (*csync.Scheduler, error) {
	if cfg.BackupInterval <= 0 || cfg.BackupS3Bucket == "" {
		return nil, nil
	}
	dest, err := csync.NewS3Destination(ctx, cfg.BackupS3Bucket, cfg.BackupS3Key, cfg.S3Region, cfg.S3Endpoint)
	if err != nil {
		return nil, fmt.Errorf("backup destination: %w", err)
	}
	logger.Info("backups enabled", "bucket", cfg.BackupS3Bucket, "key", cfg.BackupS3Key, "interval", cfg.BackupInterval)
	return csync.NewScheduler(csync.NewBackupJob(bs, dest), cfg.BackupInterval, logger), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	bs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := bs.Close(); err != nil {
			logger.Error("error closing store", "error", err)
		}
	}()
	logger.Info("blob store ready", "backend", cfg.BlobBackend)

	var publisher events.Publisher
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		publisher = pub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	} else {
		publisher = events.NoopPublisher{}
		logger.Info("events disabled (CONFSYNC_NATS_URL not set)")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "error", err)
		}
	}()

	blobServer := server.NewBlobServer(bs, publisher, logger)
	blobServer.Presence.StartReaper(&presence.ReaperConfig{
		DeadThreshold: cfg.PresenceTTL,
		Logger:        logger,
	})
	defer blobServer.Presence.Stop()

	grpcServer := server.NewGRPCServer(blobServer, cfg.AuthToken)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           blobServer.NewHTTPHandler(cfg.AuthToken),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	scheduler, err := backupScheduler(ctx, cfg, bs, logger)
	if err != nil {
		logger.Error("backups disabled", "error", err)
	}
	if scheduler != nil {
		scheduler.Start()
	}

	if cfg.AuthToken == "" {
		logger.Warn("auth disabled (CONFSYNC_AUTH_TOKEN not set)")
	}
	logger.Info("confsync server started", "grpc_addr", cfg.GRPCAddr, "http_addr", cfg.HTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	if scheduler != nil {
		scheduler.Stop()
		logger.Info("backup scheduler stopped")
	}

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
