// Package badger implements store.DumpStore on an embedded BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/alfredjeanlab/confsync/internal/namespace"
	"github.com/alfredjeanlab/confsync/internal/store"
)

// Config holds configuration for a dump database.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is
	// true.
	Path string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns a durable configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DumpStore keeps one dump per (namespace, owner) pair.
type DumpStore struct {
	db *badger.DB
}

var _ store.DumpStore = (*DumpStore)(nil)

// Open opens or creates the dump database.
func Open(cfg Config) (*DumpStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &DumpStore{db: db}, nil
}

func dumpKey(ns namespace.Namespace, owner string) []byte {
	return []byte("dump/" + strconv.Itoa(int(ns.WireCode())) + "/" + owner)
}

func (s *DumpStore) LoadDump(_ context.Context, ns namespace.Namespace, owner string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dumpKey(ns, owner))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load dump: %w", err)
	}
	return out, nil
}

func (s *DumpStore) SaveDump(_ context.Context, ns namespace.Namespace, owner string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dumpKey(ns, owner), data)
	})
	if err != nil {
		return fmt.Errorf("save dump: %w", err)
	}
	return nil
}

func (s *DumpStore) DeleteDump(_ context.Context, ns namespace.Namespace, owner string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dumpKey(ns, owner))
	})
	if err != nil {
		return fmt.Errorf("delete dump: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *DumpStore) Close() error {
	return s.db.Close()
}
