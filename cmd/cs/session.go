package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/confsync/internal/client"
	"github.com/alfredjeanlab/confsync/internal/engine"
	"github.com/alfredjeanlab/confsync/internal/hooks"
	"github.com/alfredjeanlab/confsync/internal/namespace"
	"github.com/alfredjeanlab/confsync/internal/store"
	"github.com/alfredjeanlab/confsync/internal/store/badger"
)

// closeTimeout bounds the final dump when a command exits.
const closeTimeout = 10 * time.Second

// session is what one command needs to work on configs: a server client,
// the local dump database, and an engine over both.
type session struct {
	engine *engine.Engine
	client client.BlobClient
	dumps  *badger.DumpStore
	hooks  *hooks.Runner
}

func openSession() (*session, error) {
	runner, err := hooks.NewRunner(profile.Hooks, logger)
	if err != nil {
		return nil, err
	}
	bc, err := client.New(profile.Transport, client.Options{
		Addr:   profile.ServerURL,
		Token:  profile.Token,
		Device: profile.Device,
	})
	if err != nil {
		return nil, err
	}
	cfg := badger.DefaultConfig(profile.StateDir)
	cfg.Logger = logger
	dumps, err := badger.Open(cfg)
	if err != nil {
		_ = bc.Close()
		return nil, fmt.Errorf("open state: %w", err)
	}
	eng, err := engine.New(engine.Options{
		Device:  profile.Device,
		Adapter: bc,
		Dumps:   dumps,
		Logger:  logger,
	})
	if err != nil {
		_ = dumps.Close()
		_ = bc.Close()
		return nil, err
	}
	s := &session{engine: eng, client: bc, dumps: dumps, hooks: runner}
	for o := range profile.Keys {
		if err := s.loadKeys(o); err != nil {
			_ = s.close()
			return nil, err
		}
	}
	return s, nil
}

// loadKeys fills the engine's keyring for o from the profile. The first
// profile key seals.
func (s *session) loadKeys(o string) error {
	keys, err := profile.OwnerKeys(o)
	if err != nil {
		return err
	}
	kr := s.engine.Keyring(o)
	for _, k := range keys {
		if err := kr.Add(k, false); err != nil {
			return fmt.Errorf("key for %s: %w", o, err)
		}
	}
	return nil
}

// close dumps unsaved state and releases the database and connection.
func (s *session) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return errors.Join(s.engine.Close(ctx), s.dumps.Close(), s.client.Close())
}

// withSession runs fn against a fresh session and closes it afterwards,
// reporting close errors alongside fn's.
func withSession(fn func(*session) error) (err error) {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.close())
	}()
	return fn(s)
}

// open returns a handle for the config nsArg of the current owner.
func (s *session) open(ctx context.Context, nsArg string) (*engine.Handle, error) {
	ns, err := namespace.Parse(nsArg)
	if err != nil {
		return nil, err
	}
	return s.engine.Open(ctx, ns, owner)
}

// runHooks runs the profile's change hooks for every result that changed
// visible values. Hook failures are logged, never returned.
func (s *session) runHooks(ctx context.Context, results []engine.SyncResult) {
	if s.hooks.Len() == 0 {
		return
	}
	for _, res := range results {
		rep := s.hooks.Handle(ctx, hooks.Event{Namespace: res.Namespace, Owner: res.Owner, Changed: res.Changed})
		for _, w := range rep.Warnings {
			logger.Warn(w)
		}
		if rep.Stopped {
			logger.Warn("change hooks stopped", "namespace", res.Namespace, "owner", res.Owner, "reason", rep.Reason)
		}
	}
}

// pull syncs h before a read. Transport failures fall back to local
// state with a warning; other failures are returned.
func pull(ctx context.Context, h *engine.Handle) error {
	_, err := h.Sync(ctx)
	var te *store.TransportError
	if errors.As(err, &te) {
		logger.Warn("sync failed, showing local state", "error", err)
		return nil
	}
	return err
}
