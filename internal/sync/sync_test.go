package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/zstd"

	"github.com/alfredjeanlab/confsync/internal/engine"
	"github.com/alfredjeanlab/confsync/internal/namespace"
	"github.com/alfredjeanlab/confsync/internal/store"
	"github.com/alfredjeanlab/confsync/internal/store/s3store"
)

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// mockDestination records calls to Write.
type mockDestination struct {
	writes atomic.Int64
	last   atomic.Value // []byte
	err    error
}

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	cp := make([]byte, len(data))
	copy(cp, data)
	d.last.Store(cp)
	return d.err
}

// countingJob counts runs.
type countingJob struct {
	runs atomic.Int64
	err  error
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	ctx := context.Background()
	for _, b := range []*store.Blob{
		{ID: "01b", Namespace: namespace.UserProfile, Owner: "zed", Device: "dev-a", Data: []byte{1}},
		{ID: "01a", Namespace: namespace.ClosedGroupInfo, Owner: "amy", Device: "dev-b", Data: []byte{2}},
		{ID: "01c", Namespace: namespace.UserProfile, Owner: "amy", Device: "dev-b", Data: []byte{3}},
	} {
		if err := ms.PutBlob(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	return ms
}

func TestSchedulerStartStop(t *testing.T) {
	job := &countingJob{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sched := NewScheduler(job, 50*time.Millisecond, logger)
	sched.Start()

	// Wait for at least the initial run + one tick.
	time.Sleep(120 * time.Millisecond)
	sched.Stop()

	if runs := job.runs.Load(); runs < 2 {
		t.Fatalf("expected at least 2 runs, got %d", runs)
	}
}

func TestSchedulerStop_NoStart(t *testing.T) {
	sched := NewScheduler(&countingJob{}, time.Minute, nil)
	// Stop without Start should not panic.
	sched.Stop()
}

func TestSchedulerKeepsRunningAfterFailure(t *testing.T) {
	job := &countingJob{err: errors.New("boom")}
	sched := NewScheduler(job, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sched.Start()
	time.Sleep(70 * time.Millisecond)
	sched.Stop()
	if runs := job.runs.Load(); runs < 2 {
		t.Fatalf("expected runs after a failure, got %d", runs)
	}
}

func TestExportJSONL(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), seededStore(t), &buf); err != nil {
		t.Fatal(err)
	}
	lines := nonEmptyLines(buf.String())
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), buf.String())
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatal(err)
	}
	if h.Version != "1" || h.Type != "header" || h.BlobCount != 3 {
		t.Errorf("unexpected header: %+v", h)
	}

	var ids []string
	for _, l := range lines[1:] {
		var rec struct {
			Type string     `json:"type"`
			Data store.Blob `json:"data"`
		}
		if err := json.Unmarshal([]byte(l), &rec); err != nil {
			t.Fatal(err)
		}
		if rec.Type != "blob" {
			t.Errorf("record type = %q", rec.Type)
		}
		ids = append(ids, rec.Data.Owner+"/"+rec.Data.ID)
	}
	want := []string{"amy/01c", "amy/01a", "zed/01b"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("order = %v, want %v", ids, want)
			break
		}
	}
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), store.NewMemoryStore(), &buf); err != nil {
		t.Fatal(err)
	}
	if lines := nonEmptyLines(buf.String()); len(lines) != 1 {
		t.Fatalf("expected header only, got %d lines", len(lines))
	}
}

func TestBackupJobDestinations(t *testing.T) {
	ok := &mockDestination{}
	bad := &mockDestination{err: errors.New("disk full")}
	job := NewBackupJob(seededStore(t), bad, ok)

	err := job.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Run = %v", err)
	}
	if ok.writes.Load() != 1 || bad.writes.Load() != 1 {
		t.Errorf("writes: ok=%d bad=%d", ok.writes.Load(), bad.writes.Load())
	}
	if data, _ := ok.last.Load().([]byte); len(nonEmptyLines(string(data))) != 4 {
		t.Errorf("payload = %q", data)
	}
}

// fakeSyncer fails with the queued errors, then succeeds.
type fakeSyncer struct {
	errs  []error
	calls int
}

func (f *fakeSyncer) SyncAll(context.Context) ([]engine.SyncResult, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return []engine.SyncResult{{Owner: "o", Changed: []string{"n"}}}, nil
}

func testEngineJob(s Syncer) *EngineJob {
	j := NewEngineJob(s, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	j.newBackOff = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5) }
	return j
}

func TestEngineJob(t *testing.T) {
	transport := errors.Join(&store.TransportError{Op: "push", Err: errors.New("refused")})
	for _, tc := range []struct {
		name      string
		errs      []error
		wantErr   bool
		wantCalls int
	}{
		{"success", nil, false, 1},
		{"transport retried", []error{transport, transport}, false, 3},
		{"permanent not retried", []error{errors.New("no keys")}, true, 1},
		{"gives up", []error{transport, transport, transport, transport, transport, transport, transport}, true, 6},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := &fakeSyncer{errs: tc.errs}
			err := testEngineJob(s).Run(context.Background())
			if (err != nil) != tc.wantErr {
				t.Errorf("Run = %v", err)
			}
			if s.calls != tc.wantCalls {
				t.Errorf("calls = %d, want %d", s.calls, tc.wantCalls)
			}
		})
	}
}

// fakeS3 records PutObject calls. Other methods are not used.
type fakeS3 struct {
	s3store.API
	key      string
	encoding string
	body     []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.key = *in.Key
	if in.ContentEncoding != nil {
		f.encoding = *in.ContentEncoding
	}
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Destination(t *testing.T) {
	client := &fakeS3{}
	d := NewS3DestinationWithClient(client, "bucket", "confsync/backup.jsonl")
	if err := d.Write(context.Background(), []byte("{}\n")); err != nil {
		t.Fatal(err)
	}
	if client.key != "confsync/backup.jsonl" || string(client.body) != "{}\n" || client.encoding != "" {
		t.Errorf("put %q (%q) = %q", client.key, client.encoding, client.body)
	}
}

func TestS3Destination_TimestampedCompressed(t *testing.T) {
	client := &fakeS3{}
	d := NewS3DestinationWithClient(client, "bucket", "backups/{time}.jsonl.zst")
	d.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600)) }

	payload := []byte(strings.Repeat(`{"type":"blob"}`+"\n", 50))
	if err := d.Write(context.Background(), payload); err != nil {
		t.Fatal(err)
	}
	if client.key != "backups/20260304T040607Z.jsonl.zst" {
		t.Errorf("key = %q", client.key)
	}
	if client.encoding != "zstd" {
		t.Errorf("content encoding = %q", client.encoding)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	got, err := dec.DecodeAll(client.body, nil)
	if err != nil {
		t.Fatalf("decoding upload: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip mismatch: %d bytes, want %d", len(got), len(payload))
	}
}
