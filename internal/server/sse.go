package server

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// sseReplayLimit is how many recent events a reconnecting client can
	// catch up on through Last-Event-ID.
	sseReplayLimit = 1000

	sseKeepalive  = 15 * time.Second
	sseClientBuf  = 64
	sseRetryDelay = 3 * time.Second
)

type sseEvent struct {
	ID    uint64
	Topic string
	Owner string
	Data  []byte
}

func (e *sseEvent) writeTo(w io.Writer) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", e.ID, e.Topic, e.Data)
}

// sseFilter selects events by topic pattern and owner. Empty lists match
// everything.
type sseFilter struct {
	topics []string
	owners []string
}

func (f sseFilter) matches(e *sseEvent) bool {
	if len(f.owners) > 0 && !slices.Contains(f.owners, e.Owner) {
		return false
	}
	if len(f.topics) == 0 {
		return true
	}
	return slices.ContainsFunc(f.topics, func(p string) bool { return matchTopicPattern(p, e.Topic) })
}

type sseClient struct {
	sseFilter
	ch chan *sseEvent
}

// sseHub fans blob events out to streaming clients and remembers the most
// recent ones for replay.
type sseHub struct {
	mu      sync.Mutex
	lastID  uint64
	recent  []*sseEvent // oldest first, at most sseReplayLimit
	clients map[*sseClient]struct{}
}

func newSSEHub() *sseHub {
	return &sseHub{clients: make(map[*sseClient]struct{})}
}

// broadcast records an event and offers it to every matching client. A
// client whose buffer is full misses the event; it can recover it through
// Last-Event-ID when it reconnects.
func (h *sseHub) broadcast(topic, owner string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastID++
	e := &sseEvent{ID: h.lastID, Topic: topic, Owner: owner, Data: payload}
	if len(h.recent) == sseReplayLimit {
		copy(h.recent, h.recent[1:])
		h.recent = h.recent[:sseReplayLimit-1]
	}
	h.recent = append(h.recent, e)
	for c := range h.clients {
		if !c.matches(e) {
			continue
		}
		select {
		case c.ch <- e:
		default:
			sseDropped.Inc()
		}
	}
}

func (h *sseHub) subscribe(topics, owners []string) *sseClient {
	c := &sseClient{
		sseFilter: sseFilter{topics: topics, owners: owners},
		ch:        make(chan *sseEvent, sseClientBuf),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	sseClients.Inc()
	return c
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		sseClients.Dec()
	}
}

// eventsSince returns the remembered events newer than lastID, oldest
// first.
func (h *sseHub) eventsSince(lastID uint64) []*sseEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	i, _ := slices.BinarySearchFunc(h.recent, lastID+1, func(e *sseEvent, id uint64) int {
		switch {
		case e.ID < id:
			return -1
		case e.ID > id:
			return 1
		}
		return 0
	})
	return slices.Clone(h.recent[i:])
}

// matchTopicPattern matches a dot-separated topic against a NATS-style
// pattern: "*" matches one segment and a trailing ">" matches one or more.
func matchTopicPattern(pattern, topic string) bool {
	for {
		p, prest, pmore := strings.Cut(pattern, ".")
		if p == ">" {
			return topic != ""
		}
		t, trest, tmore := strings.Cut(topic, ".")
		if t == "" || (p != "*" && p != t) {
			return false
		}
		if !pmore || !tmore {
			return pmore == tmore
		}
		pattern, topic = prest, trest
	}
}

// handleEventStream handles GET /v1/events/stream. The optional topics and
// owners query parameters are comma-separated filters.
func (s *BlobServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	q := r.URL.Query()
	client := s.sseHub.subscribe(splitList(q.Get("topics")), splitList(q.Get("owners")))
	defer s.sseHub.unsubscribe(client)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry:%d\n\n", sseRetryDelay.Milliseconds())

	// Events broadcast between subscribe and replay can arrive twice; the
	// ids let the client discard the repeat.
	var replayedTo uint64
	if last, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		for _, e := range s.sseHub.eventsSince(last) {
			if client.matches(e) {
				e.writeTo(w)
			}
			replayedTo = e.ID
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-client.ch:
			if e.ID <= replayedTo {
				continue
			}
			e.writeTo(w)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func splitList(q string) []string {
	var out []string
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
