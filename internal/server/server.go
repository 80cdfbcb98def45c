// Package server exposes a store.BlobStore to devices over HTTP and gRPC.
//
// The server never sees plaintext: blobs are sealed by the devices and
// stored as given. It assigns blob ids, tracks which devices are pushing,
// and announces every change on the event bus so idle devices know to
// sync.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/confsync/internal/events"
	"github.com/alfredjeanlab/confsync/internal/idgen"
	"github.com/alfredjeanlab/confsync/internal/namespace"
	"github.com/alfredjeanlab/confsync/internal/presence"
	"github.com/alfredjeanlab/confsync/internal/store"
)

// MaxBlobSize bounds a single pushed blob.
const MaxBlobSize = 4 << 20

// BlobServer holds the state shared by the HTTP and gRPC front ends.
type BlobServer struct {
	store     store.BlobStore
	publisher events.Publisher
	sseHub    *sseHub
	logger    *slog.Logger
	Presence  *presence.Tracker
}

// NewBlobServer returns a BlobServer backed by s that announces changes
// through p.
func NewBlobServer(s store.BlobStore, p events.Publisher, logger *slog.Logger) *BlobServer {
	if p == nil {
		p = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BlobServer{
		store:     s,
		publisher: p,
		sseHub:    newSSEHub(),
		logger:    logger,
		Presence:  presence.New(),
	}
}

// inputError indicates invalid caller input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

func checkPair(ns namespace.Namespace, owner string) error {
	if !ns.Known() {
		return fmt.Errorf("namespace %d: %w", ns.WireCode(), namespace.ErrNotFound)
	}
	if owner == "" {
		return inputError("owner is required")
	}
	return nil
}

func checkBlob(data []byte) error {
	if len(data) == 0 {
		return inputError("blob is empty")
	}
	if len(data) > MaxBlobSize {
		return inputError(fmt.Sprintf("blob is %d bytes, limit %d", len(data), MaxBlobSize))
	}
	return nil
}

// fetch returns the pair's blobs, oldest first. An unknown pair yields an
// empty list.
func (s *BlobServer) fetch(ctx context.Context, ns namespace.Namespace, owner string) ([][]byte, error) {
	if err := checkPair(ns, owner); err != nil {
		return nil, err
	}
	blobs, err := s.store.ListBlobs(ctx, ns, owner)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	out := make([][]byte, len(blobs))
	for i, b := range blobs {
		out[i] = b.Data
	}
	blobsServed.Add(float64(len(out)))
	return out, nil
}

// push appends one blob and returns its id.
func (s *BlobServer) push(ctx context.Context, ns namespace.Namespace, owner, device string, data []byte) (string, error) {
	if err := checkPair(ns, owner); err != nil {
		return "", err
	}
	if err := checkBlob(data); err != nil {
		return "", err
	}
	b := s.newBlob(ns, owner, device, data)
	if err := s.store.PutBlob(ctx, b); err != nil {
		blobsStored.WithLabelValues("push", "error").Inc()
		return "", fmt.Errorf("put blob: %w", err)
	}
	blobsStored.WithLabelValues("push", "ok").Inc()
	s.Presence.RecordPush(presence.Push{Device: device, Namespace: ns, Owner: owner})
	s.announce(ctx, events.TopicBlobPushed, owner, events.BlobPushed{
		ID:        b.ID,
		Namespace: ns.WireCode(),
		Owner:     owner,
		Device:    device,
		Size:      len(data),
	})
	return b.ID, nil
}

// compact stores data in place of the pair's oldest replaced blobs.
func (s *BlobServer) compact(ctx context.Context, ns namespace.Namespace, owner, device string, data []byte, replaced int) (string, error) {
	if err := checkPair(ns, owner); err != nil {
		return "", err
	}
	if err := checkBlob(data); err != nil {
		return "", err
	}
	if replaced < 0 {
		return "", inputError("replaced must not be negative")
	}
	b := s.newBlob(ns, owner, device, data)
	if err := s.store.ReplaceBlobs(ctx, b, replaced); err != nil {
		blobsStored.WithLabelValues("compact", "error").Inc()
		return "", fmt.Errorf("replace blobs: %w", err)
	}
	blobsStored.WithLabelValues("compact", "ok").Inc()
	s.Presence.RecordPush(presence.Push{Device: device, Namespace: ns, Owner: owner})
	s.announce(ctx, events.TopicBlobCompacted, owner, events.BlobCompacted{
		ID:        b.ID,
		Namespace: ns.WireCode(),
		Owner:     owner,
		Device:    device,
	})
	return b.ID, nil
}

// remove deletes every blob for the pair and returns how many there were.
func (s *BlobServer) remove(ctx context.Context, ns namespace.Namespace, owner string) (int, error) {
	if err := checkPair(ns, owner); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteBlobs(ctx, ns, owner)
	if err != nil {
		return 0, fmt.Errorf("delete blobs: %w", err)
	}
	s.announce(ctx, events.TopicBlobsRemoved, owner, events.BlobsRemoved{
		Namespace: ns.WireCode(),
		Owner:     owner,
		Count:     n,
	})
	return n, nil
}

func (s *BlobServer) newBlob(ns namespace.Namespace, owner, device string, data []byte) *store.Blob {
	return &store.Blob{
		ID:        idgen.BlobID(),
		Namespace: ns,
		Owner:     owner,
		Device:    device,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// announce publishes an event to NATS and the SSE hub. Both are
// best-effort; failures are logged but do not fail the request.
func (s *BlobServer) announce(ctx context.Context, topic, owner string, event any) {
	if err := s.publisher.Publish(ctx, topic, owner, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal event for SSE broadcast", "topic", topic, "error", err)
		return
	}
	s.sseHub.broadcast(topic, owner, payload)
}
