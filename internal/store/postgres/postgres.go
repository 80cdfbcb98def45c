// Package postgres implements store.BlobStore on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/confsync/internal/namespace"
	"github.com/alfredjeanlab/confsync/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

const connectTimeout = 10 * time.Second

// Store keeps blobs in a single blobs table.
type Store struct {
	db *sql.DB
}

var _ store.BlobStore = (*Store)(nil)

// New connects to databaseURL and brings the schema up to date.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	drv, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) PutBlob(ctx context.Context, b *store.Blob) error {
	return queryPutBlob(ctx, s.db, b)
}

func (s *Store) ListBlobs(ctx context.Context, ns namespace.Namespace, owner string) ([]*store.Blob, error) {
	return queryListBlobs(ctx, s.db, ns, owner)
}

func (s *Store) DeleteBlobs(ctx context.Context, ns namespace.Namespace, owner string) (int, error) {
	return queryDeleteBlobs(ctx, s.db, ns, owner)
}

func (s *Store) ListAllBlobs(ctx context.Context) ([]*store.Blob, error) {
	return queryListAllBlobs(ctx, s.db)
}

// ReplaceBlobs swaps the pair's oldest replaced blobs for b atomically. A
// transaction-scoped advisory lock on the pair keeps two devices
// compacting at once from deleting each other's blob.
func (s *Store) ReplaceBlobs(ctx context.Context, b *store.Blob, replaced int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := queryLockPair(ctx, tx, b.Namespace, b.Owner); err != nil {
		return err
	}
	if err := queryReplaceBlobs(ctx, tx, b, replaced); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
