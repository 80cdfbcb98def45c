package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/confsync/internal/events"
	"github.com/alfredjeanlab/confsync/internal/namespace"
	"github.com/alfredjeanlab/confsync/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer() (*BlobServer, *store.MemoryStore, http.Handler) {
	ms := store.NewMemoryStore()
	srv := NewBlobServer(ms, events.NoopPublisher{}, quietLogger())
	return srv, ms, srv.NewHTTPHandler("")
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	owners []string
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, topic, owner string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.owners = append(p.owners, owner)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// failingStore fails every operation.
type failingStore struct{ store.MemoryStore }

var errBackend = errors.New("backend down")

func (*failingStore) PutBlob(context.Context, *store.Blob) error { return errBackend }
func (*failingStore) ListBlobs(context.Context, namespace.Namespace, string) ([]*store.Blob, error) {
	return nil, errBackend
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHTTP_PushFetch(t *testing.T) {
	_, ms, h := newTestServer()
	dev := http.Header{DeviceHeader: {"dev-a"}}

	for _, blob := range []string{"one", "two"} {
		rec := do(t, h, "POST", "/v1/blobs/UserProfile/alice", []byte(blob), dev)
		if rec.Code != http.StatusCreated {
			t.Fatalf("push: status %d, body %s", rec.Code, rec.Body.String())
		}
		if id := decode[map[string]string](t, rec)["id"]; id == "" {
			t.Fatal("push returned no id")
		}
	}

	rec := do(t, h, "GET", "/v1/blobs/UserProfile/alice", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch: status %d", rec.Code)
	}
	got := decode[struct{ Blobs [][]byte }](t, rec)
	if len(got.Blobs) != 2 || string(got.Blobs[0]) != "one" || string(got.Blobs[1]) != "two" {
		t.Fatalf("blobs = %q", got.Blobs)
	}

	stored, _ := ms.ListBlobs(context.Background(), namespace.UserProfile, "alice")
	if len(stored) != 2 || stored[0].Device != "dev-a" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestHTTP_NamespaceByWireCode(t *testing.T) {
	_, _, h := newTestServer()
	path := "/v1/blobs/" + strconv.Itoa(int(namespace.ClosedGroupInfo.WireCode())) + "/g1"
	if rec := do(t, h, "POST", path, []byte("x"), nil); rec.Code != http.StatusCreated {
		t.Fatalf("push by wire code: status %d", rec.Code)
	}
	rec := do(t, h, "GET", "/v1/blobs/closedgroupinfo/g1", nil, nil)
	if got := decode[struct{ Blobs [][]byte }](t, rec); len(got.Blobs) != 1 {
		t.Fatalf("blobs = %q", got.Blobs)
	}
}

func TestHTTP_FetchEmpty(t *testing.T) {
	_, _, h := newTestServer()
	rec := do(t, h, "GET", "/v1/blobs/UserProfile/nobody", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if got := decode[struct{ Blobs [][]byte }](t, rec); len(got.Blobs) != 0 {
		t.Fatalf("blobs = %q", got.Blobs)
	}
}

func TestHTTP_Errors(t *testing.T) {
	_, _, h := newTestServer()
	for _, tc := range []struct {
		name   string
		method string
		path   string
		body   []byte
		want   int
	}{
		{"unknown namespace", "GET", "/v1/blobs/Nope/alice", nil, http.StatusNotFound},
		{"unknown wire code", "POST", "/v1/blobs/999/alice", []byte("x"), http.StatusNotFound},
		{"empty blob", "POST", "/v1/blobs/UserProfile/alice", nil, http.StatusBadRequest},
		{"too large", "POST", "/v1/blobs/UserProfile/alice", make([]byte, MaxBlobSize+1), http.StatusRequestEntityTooLarge},
		{"compact without replaced", "PUT", "/v1/blobs/UserProfile/alice", []byte("x"), http.StatusBadRequest},
		{"compact negative replaced", "PUT", "/v1/blobs/UserProfile/alice?replaced=-1", []byte("x"), http.StatusBadRequest},
		{"bad stale", "GET", "/v1/devices?stale=soon", nil, http.StatusBadRequest},
		{"wrong method", "PATCH", "/v1/blobs/UserProfile/alice", nil, http.StatusMethodNotAllowed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.body, nil)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestHTTP_StoreFailure(t *testing.T) {
	srv := NewBlobServer(&failingStore{}, nil, quietLogger())
	h := srv.NewHTTPHandler("")

	rec := do(t, h, "POST", "/v1/blobs/UserProfile/alice", []byte("x"), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("push status = %d", rec.Code)
	}
	if msg := decode[map[string]string](t, rec)["error"]; strings.Contains(msg, "backend down") {
		t.Errorf("internal error leaked: %q", msg)
	}
	if rec := do(t, h, "GET", "/v1/blobs/UserProfile/alice", nil, nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("fetch status = %d", rec.Code)
	}
}

func TestHTTP_CompactKeepsLaterPushes(t *testing.T) {
	_, ms, h := newTestServer()
	for _, b := range []string{"a", "b", "c"} {
		do(t, h, "POST", "/v1/blobs/UserProfile/alice", []byte(b), nil)
	}
	// A push the compacting device never fetched.
	do(t, h, "POST", "/v1/blobs/UserProfile/alice", []byte("late"), nil)

	rec := do(t, h, "PUT", "/v1/blobs/UserProfile/alice?replaced=3", []byte("full"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("compact: status %d, body %s", rec.Code, rec.Body.String())
	}

	stored, _ := ms.ListBlobs(context.Background(), namespace.UserProfile, "alice")
	var got []string
	for _, b := range stored {
		got = append(got, string(b.Data))
	}
	if strings.Join(got, ",") != "late,full" {
		t.Fatalf("after compaction: %v", got)
	}
}

func TestHTTP_Remove(t *testing.T) {
	_, _, h := newTestServer()
	do(t, h, "POST", "/v1/blobs/UserProfile/alice", []byte("a"), nil)
	do(t, h, "POST", "/v1/blobs/UserProfile/alice", []byte("b"), nil)

	rec := do(t, h, "DELETE", "/v1/blobs/UserProfile/alice", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if n := decode[map[string]int](t, rec)["removed"]; n != 2 {
		t.Fatalf("removed = %d", n)
	}
	rec = do(t, h, "GET", "/v1/blobs/UserProfile/alice", nil, nil)
	if got := decode[struct{ Blobs [][]byte }](t, rec); len(got.Blobs) != 0 {
		t.Fatalf("blobs after remove = %q", got.Blobs)
	}
}

func TestHTTP_PublishesEvents(t *testing.T) {
	pub := &recordingPublisher{}
	srv := NewBlobServer(store.NewMemoryStore(), pub, quietLogger())
	h := srv.NewHTTPHandler("")

	do(t, h, "POST", "/v1/blobs/UserProfile/alice", []byte("abc"), http.Header{DeviceHeader: {"dev-a"}})
	do(t, h, "PUT", "/v1/blobs/UserProfile/alice?replaced=1", []byte("full"), http.Header{DeviceHeader: {"dev-b"}})
	do(t, h, "DELETE", "/v1/blobs/UserProfile/alice", nil, nil)

	want := []string{events.TopicBlobPushed, events.TopicBlobCompacted, events.TopicBlobsRemoved}
	if strings.Join(pub.topics, " ") != strings.Join(want, " ") {
		t.Fatalf("topics = %v", pub.topics)
	}
	if strings.Join(pub.owners, " ") != "alice alice alice" {
		t.Fatalf("owners = %v", pub.owners)
	}
	pushed := pub.events[0].(events.BlobPushed)
	if pushed.Owner != "alice" || pushed.Device != "dev-a" || pushed.Size != 3 ||
		pushed.Namespace != namespace.UserProfile.WireCode() {
		t.Errorf("pushed = %+v", pushed)
	}
	if removed := pub.events[2].(events.BlobsRemoved); removed.Count != 1 {
		t.Errorf("removed = %+v", removed)
	}
}

func TestHTTP_Devices(t *testing.T) {
	_, _, h := newTestServer()
	do(t, h, "POST", "/v1/blobs/UserProfile/alice", []byte("a"), http.Header{DeviceHeader: {"dev-a"}})
	time.Sleep(2 * time.Millisecond)
	do(t, h, "POST", "/v1/blobs/ClosedGroupInfo/g1", []byte("b"), http.Header{DeviceHeader: {"dev-b"}})
	do(t, h, "POST", "/v1/blobs/UserProfile/alice", []byte("c"), nil)

	rec := do(t, h, "GET", "/v1/devices", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	got := decode[struct {
		Devices []struct {
			Device    string `json:"device"`
			PushCount int64  `json:"push_count"`
		}
	}](t, rec)
	if len(got.Devices) != 2 {
		t.Fatalf("devices = %+v", got.Devices)
	}
	if got.Devices[0].Device != "dev-b" {
		t.Errorf("most recent device = %q", got.Devices[0].Device)
	}
}

func TestHTTP_HealthAndMetrics(t *testing.T) {
	_, _, h := newTestServer()
	rec := do(t, h, "GET", "/v1/health", nil, nil)
	if rec.Code != http.StatusOK || decode[map[string]string](t, rec)["status"] != "ok" {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}

	do(t, h, "POST", "/v1/blobs/UserProfile/alice", []byte("a"), nil)
	rec = do(t, h, "GET", "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "confsync_server_blob_writes_total") {
		t.Error("metrics output missing confsync_server_blob_writes_total")
	}
}

func TestHTTP_Auth(t *testing.T) {
	srv := NewBlobServer(store.NewMemoryStore(), nil, quietLogger())
	h := srv.NewHTTPHandler("secret")

	for _, tc := range []struct {
		name   string
		method string
		path   string
		auth   string
		want   int
	}{
		{"health exempt", "GET", "/v1/health", "", http.StatusOK},
		{"metrics exempt", "GET", "/metrics", "", http.StatusOK},
		{"missing token", "GET", "/v1/blobs/UserProfile/alice", "", http.StatusUnauthorized},
		{"wrong scheme", "GET", "/v1/blobs/UserProfile/alice", "Basic secret", http.StatusUnauthorized},
		{"wrong token", "GET", "/v1/blobs/UserProfile/alice", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "GET", "/v1/blobs/UserProfile/alice", "Bearer secret", http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			if tc.auth != "" {
				header.Set("Authorization", tc.auth)
			}
			if rec := do(t, h, tc.method, tc.path, nil, header); rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}
