package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alfredjeanlab/confsync/internal/namespace"
	"github.com/alfredjeanlab/confsync/internal/store"
)

// blobColumns is the column list used for SELECT statements on the blobs table.
const blobColumns = `id, namespace, owner, device, data, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func queryPutBlob(ctx context.Context, db executor, b *store.Blob) error {
	if b.ID == "" {
		return fmt.Errorf("put blob: missing id")
	}
	return db.QueryRowContext(ctx, `
		INSERT INTO blobs (id, namespace, owner, device, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		b.ID, b.Namespace.WireCode(), b.Owner, b.Device, b.Data,
	).Scan(&b.CreatedAt)
}

func queryListBlobs(ctx context.Context, db executor, ns namespace.Namespace, owner string) ([]*store.Blob, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+blobColumns+`
		FROM blobs WHERE owner = $1 AND namespace = $2
		ORDER BY id`, owner, ns.WireCode())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBlobs(rows)
}

func queryListAllBlobs(ctx context.Context, db executor) ([]*store.Blob, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+blobColumns+`
		FROM blobs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBlobs(rows)
}

func queryDeleteBlobs(ctx context.Context, db executor, ns namespace.Namespace, owner string) (int, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM blobs WHERE owner = $1 AND namespace = $2`, owner, ns.WireCode())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// queryLockPair takes a transaction-scoped advisory lock on one
// (namespace, owner) pair.
func queryLockPair(ctx context.Context, db executor, ns namespace.Namespace, owner string) error {
	if _, err := db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), $2)`, owner, ns.WireCode()); err != nil {
		return fmt.Errorf("lock %s/%s: %w", ns, owner, err)
	}
	return nil
}

func queryReplaceBlobs(ctx context.Context, db executor, b *store.Blob, replaced int) error {
	_, err := db.ExecContext(ctx, `
		DELETE FROM blobs WHERE id IN (
			SELECT id FROM blobs WHERE owner = $1 AND namespace = $2
			ORDER BY id LIMIT $3
		)`, b.Owner, b.Namespace.WireCode(), replaced)
	if err != nil {
		return fmt.Errorf("delete old blobs: %w", err)
	}
	if err := queryPutBlob(ctx, db, b); err != nil {
		return fmt.Errorf("insert compacted blob: %w", err)
	}
	return nil
}

// scanBlob scans a single row into a store.Blob.
// The row must contain columns in the order defined by blobColumns.
func scanBlob(row scannable) (*store.Blob, error) {
	var b store.Blob
	var code int16
	if err := row.Scan(&b.ID, &code, &b.Owner, &b.Device, &b.Data, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Namespace = namespace.Namespace(code)
	return &b, nil
}

// scanBlobs scans multiple rows into a slice of store.Blob pointers.
func scanBlobs(rows *sql.Rows) ([]*store.Blob, error) {
	var blobs []*store.Blob
	for rows.Next() {
		b, err := scanBlob(rows)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return blobs, nil
}
