package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confsync/internal/engine"
	"github.com/alfredjeanlab/confsync/internal/events"
	csync "github.com/alfredjeanlab/confsync/internal/sync"
	"github.com/alfredjeanlab/confsync/internal/ui"
)

// retryWindow bounds how long one sync keeps retrying an unreachable
// server before waiting for the next trigger.
const retryWindow = 2 * time.Minute

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep configs in sync while other devices push",
	Long: `Watch syncs the owner's configs, then syncs again whenever another device
pushes. Pushes are announced over NATS when the profile (or
CONFSYNC_NATS_URL) names a server; otherwise watch polls every --interval.
With NATS, --interval still drives a slow safety poll.`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			return fmt.Errorf("--interval must be positive")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withSession(func(s *session) error {
			if err := openAll(ctx, s, nil); err != nil {
				return err
			}
			job := csync.NewEngineJob(&reportingSyncer{session: s, w: cmd.OutOrStdout()}, retryWindow, logger)

			natsURL := os.Getenv("CONFSYNC_NATS_URL")
			if natsURL == "" {
				natsURL = profile.NATSURL
			}
			if natsURL != "" {
				return watchNATS(ctx, natsURL, job, interval)
			}
			return watchPoll(ctx, job, interval)
		})
	},
}

// reportingSyncer prints every config a sync changed and runs the change
// hooks for it. Runs from the scheduler and from events are serialized.
type reportingSyncer struct {
	session *session
	w       io.Writer

	mu sync.Mutex
}

func (r *reportingSyncer) SyncAll(ctx context.Context) ([]engine.SyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	results, err := r.session.engine.SyncAll(ctx)
	r.session.runHooks(ctx, results)
	for _, res := range results {
		if len(res.Changed) == 0 {
			continue
		}
		if jsonOutput {
			_ = printJSON(r.w, res)
			continue
		}
		fmt.Fprintf(r.w, "%s %s/%s changed: %s\n", ui.RenderMuted(time.Now().Format("15:04:05")),
			res.Namespace, res.Owner, strings.Join(res.Changed, ", "))
	}
	return results, err
}

// watchNATS syncs on every announced push from another device, debounced,
// and immediately after a NATS reconnect. A scheduler at interval covers
// pushes announced while disconnected.
func watchNATS(ctx context.Context, natsURL string, job csync.Job, interval time.Duration) error {
	// Signalled when the client reconnects, so missed pushes are picked up.
	reconnectCh := make(chan struct{}, 1)

	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
			select {
			case reconnectCh <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	changes, cancel, err := events.WatchChanges(sub, owner, profile.Device, logger)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	sched := csync.NewScheduler(job, interval, logger)
	sched.Start()
	defer sched.Stop()

	debounce := time.NewTimer(0)
	debounce.Stop()
	select {
	case <-debounce.C:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			logger.Debug("change announced", "topic", c.Topic, "namespace", c.Namespace, "device", c.Device)
			debounce.Reset(200 * time.Millisecond)
		case <-reconnectCh:
			debounce.Reset(0)
		case <-debounce.C:
			if err := job.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("sync failed", "error", err)
			}
		}
	}
}

// watchPoll syncs every interval until ctx is done.
func watchPoll(ctx context.Context, job csync.Job, interval time.Duration) error {
	sched := csync.NewScheduler(job, interval, logger)
	sched.Start()
	<-ctx.Done()
	sched.Stop()
	return nil
}

func init() {
	watchCmd.Flags().Duration("interval", 30*time.Second, "poll interval (safety poll interval with NATS)")
}
