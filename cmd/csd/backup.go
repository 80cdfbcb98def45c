package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confsync/internal/config"
	csync "github.com/alfredjeanlab/confsync/internal/sync"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export every stored blob once, as JSONL",
	Long: `backup writes all blobs to the configured S3 backup destination, or to
stdout with --stdout.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		ctx := cmd.Context()
		toStdout, _ := cmd.Flags().GetBool("stdout")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		bs, err := openBlobStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer bs.Close()

		if toStdout {
			return csync.ExportJSONL(ctx, bs, cmd.OutOrStdout())
		}
		if cfg.BackupS3Bucket == "" {
			return errors.New("CONFSYNC_BACKUP_S3_BUCKET is not set (use --stdout to print instead)")
		}
		dest, err := csync.NewS3Destination(ctx, cfg.BackupS3Bucket, cfg.BackupS3Key, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			return err
		}
		if err := csync.NewBackupJob(bs, dest).Run(ctx); err != nil {
			return err
		}
		logger.Info("backup written", "bucket", cfg.BackupS3Bucket, "key", cfg.BackupS3Key)
		return nil
	},
}

func init() {
	backupCmd.Flags().Bool("stdout", false, "write JSONL to stdout instead of S3")
}
