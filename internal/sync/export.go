package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/confsync/internal/store"
)

// Destination is the interface for a backup target.
type Destination interface {
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// BlobLister is the part of a store.BlobStore a backup reads.
type BlobLister interface {
	ListAllBlobs(ctx context.Context) ([]*store.Blob, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version   string    `json:"version"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	BlobCount int       `json:"blob_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every stored blob as JSONL to w, after a header
// line. Blobs are sorted by owner, namespace, then ID. Blob data stays
// sealed; the backup never needs keys.
func ExportJSONL(ctx context.Context, s BlobLister, w io.Writer) error {
	blobs, err := s.ListAllBlobs(ctx)
	if err != nil {
		return fmt.Errorf("list blobs: %w", err)
	}
	sort.Slice(blobs, func(i, j int) bool {
		a, b := blobs[i], blobs[j]
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		return a.ID < b.ID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:   "1",
		Type:      "header",
		Timestamp: time.Now().UTC(),
		BlobCount: len(blobs),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, b := range blobs {
		if err := enc.Encode(record{Type: "blob", Data: b}); err != nil {
			return fmt.Errorf("encode blob %s: %w", b.ID, err)
		}
	}
	return nil
}

// BackupJob exports the blob store to every destination.
type BackupJob struct {
	store        BlobLister
	destinations []Destination
}

// NewBackupJob returns a job that backs s up to destinations.
func NewBackupJob(s BlobLister, destinations ...Destination) *BackupJob {
	return &BackupJob{store: s, destinations: destinations}
}

func (j *BackupJob) Name() string { return "backup" }

// Run exports once and writes the payload to each destination. A failing
// destination does not stop the others.
func (j *BackupJob) Run(ctx context.Context) error {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, j.store, &buf); err != nil {
		return err
	}
	data := buf.Bytes()

	var failed int
	var lastErr error
	for i, dest := range j.destinations {
		if err := dest.Write(ctx, data); err != nil {
			failed++
			lastErr = fmt.Errorf("destination %d: %w", i, err)
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%d of %d destinations failed, last: %w", failed, len(j.destinations), lastErr)
	}
	return nil
}
