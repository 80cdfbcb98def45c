package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alfredjeanlab/confsync/internal/namespace"
)

// DeviceHeader names the pushing device on HTTP requests.
const DeviceHeader = "X-Confsync-Device"

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health and
// GET /metrics) must include a valid Authorization: Bearer <token> header.
func (s *BlobServer) NewHTTPHandler(authToken string) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /v1/blobs/{ns}/{owner}", s.handleFetch)
	api.HandleFunc("POST /v1/blobs/{ns}/{owner}", s.handlePush)
	api.HandleFunc("PUT /v1/blobs/{ns}/{owner}", s.handleCompact)
	api.HandleFunc("DELETE /v1/blobs/{ns}/{owner}", s.handleRemove)
	api.HandleFunc("GET /v1/devices", s.handleDevices)
	api.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	api.HandleFunc("GET /v1/health", s.handleHealth)

	root := http.NewServeMux()
	root.Handle("GET /metrics", promhttp.Handler())
	root.Handle("/", AuthMiddleware(authToken, api))
	return root
}

// handleHealth handles GET /v1/health.
func (s *BlobServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleFetch handles GET /v1/blobs/{ns}/{owner}.
func (s *BlobServer) handleFetch(w http.ResponseWriter, r *http.Request) {
	ns, ok := pathNamespace(w, r)
	if !ok {
		return
	}
	blobs, err := s.fetch(r.Context(), ns, r.PathValue("owner"))
	if err != nil {
		s.writeServiceError(w, "fetch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blobs": blobs})
}

// handlePush handles POST /v1/blobs/{ns}/{owner}. The body is the raw blob.
func (s *BlobServer) handlePush(w http.ResponseWriter, r *http.Request) {
	ns, ok := pathNamespace(w, r)
	if !ok {
		return
	}
	data, ok := readBlob(w, r)
	if !ok {
		return
	}
	id, err := s.push(r.Context(), ns, r.PathValue("owner"), r.Header.Get(DeviceHeader), data)
	if err != nil {
		s.writeServiceError(w, "push", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleCompact handles PUT /v1/blobs/{ns}/{owner}?replaced=N.
func (s *BlobServer) handleCompact(w http.ResponseWriter, r *http.Request) {
	ns, ok := pathNamespace(w, r)
	if !ok {
		return
	}
	replaced, err := strconv.Atoi(r.URL.Query().Get("replaced"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "replaced must be an integer")
		return
	}
	data, ok := readBlob(w, r)
	if !ok {
		return
	}
	id, err := s.compact(r.Context(), ns, r.PathValue("owner"), r.Header.Get(DeviceHeader), data, replaced)
	if err != nil {
		s.writeServiceError(w, "compact", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// handleRemove handles DELETE /v1/blobs/{ns}/{owner}.
func (s *BlobServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	ns, ok := pathNamespace(w, r)
	if !ok {
		return
	}
	n, err := s.remove(r.Context(), ns, r.PathValue("owner"))
	if err != nil {
		s.writeServiceError(w, "remove", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// handleDevices handles GET /v1/devices. The optional stale query
// parameter (a duration) hides devices idle longer than that.
func (s *BlobServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	var stale time.Duration
	if v := r.URL.Query().Get("stale"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid stale duration: %v", err))
			return
		}
		stale = d
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": s.Presence.Roster(stale)})
}

func pathNamespace(w http.ResponseWriter, r *http.Request) (namespace.Namespace, bool) {
	ns, err := namespace.Parse(r.PathValue("ns"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return 0, false
	}
	return ns, true
}

func readBlob(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBlobSize))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("blob exceeds %d bytes", MaxBlobSize))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return nil, false
	}
	return data, true
}

// writeServiceError maps an error from the shared operations to an HTTP
// status.
func (s *BlobServer) writeServiceError(w http.ResponseWriter, op string, err error) {
	var ie inputError
	switch {
	case errors.As(err, &ie):
		writeError(w, http.StatusBadRequest, ie.Error())
	case errors.Is(err, namespace.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s failed", op))
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	requestsTotal.WithLabelValues("http", strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
