package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alfredjeanlab/confsync/internal/engine"
	"github.com/alfredjeanlab/confsync/internal/store"
)

// Syncer is the part of engine.Engine an EngineJob drives.
type Syncer interface {
	SyncAll(ctx context.Context) ([]engine.SyncResult, error)
}

// EngineJob syncs every open config. Transport failures are retried with
// exponential backoff inside one run; other failures end the run.
type EngineJob struct {
	syncer Syncer
	logger *slog.Logger

	// newBackOff builds the retry policy for one run.
	newBackOff func() backoff.BackOff
}

// NewEngineJob returns a job that syncs s. maxElapsed bounds how long one
// run keeps retrying transport errors.
func NewEngineJob(s Syncer, maxElapsed time.Duration, logger *slog.Logger) *EngineJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &EngineJob{
		syncer: s,
		logger: logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = maxElapsed
			return b
		},
	}
}

func (j *EngineJob) Name() string { return "engine-sync" }

// Run calls SyncAll until it succeeds, fails with a non-transport error,
// or the backoff gives up.
func (j *EngineJob) Run(ctx context.Context) error {
	attempt := 0
	op := func() error {
		attempt++
		results, err := j.syncer.SyncAll(ctx)
		changed := 0
		for _, r := range results {
			changed += len(r.Changed)
		}
		if err == nil {
			j.logger.Debug("engine sync completed", "configs", len(results), "changed", changed, "attempt", attempt)
			return nil
		}
		var te *store.TransportError
		if errors.As(err, &te) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		j.logger.Warn("engine sync failed, retrying", "error", err, "wait", wait)
	}
	return backoff.RetryNotify(op, backoff.WithContext(j.newBackOff(), ctx), notify)
}
