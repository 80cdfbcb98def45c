package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/confsync/internal/namespace"
	"github.com/alfredjeanlab/confsync/internal/presence"
	"github.com/alfredjeanlab/confsync/internal/store"
)

// DeviceHeader carries the pushing device id. It matches the server's.
const DeviceHeader = "X-Confsync-Device"

// HTTPClient talks to the blob server's HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	device     string
	httpClient *http.Client
}

// NewHTTPClient creates a client targeting opts.Addr
// (e.g. "http://localhost:8080").
func NewHTTPClient(opts Options) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(opts.Addr, "/"),
		token:      opts.Token,
		device:     opts.Device,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func blobPath(ns namespace.Namespace, owner string) string {
	return fmt.Sprintf("/v1/blobs/%d/%s", ns.WireCode(), url.PathEscape(owner))
}

func (c *HTTPClient) Fetch(ctx context.Context, ns namespace.Namespace, owner string) ([][]byte, error) {
	var resp struct {
		Blobs [][]byte `json:"blobs"`
	}
	if err := c.do(ctx, http.MethodGet, blobPath(ns, owner), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Blobs) == 0 {
		return nil, store.ErrNotFound
	}
	return resp.Blobs, nil
}

func (c *HTTPClient) Push(ctx context.Context, ns namespace.Namespace, owner string, blob []byte) error {
	return c.do(ctx, http.MethodPost, blobPath(ns, owner), blob, nil)
}

func (c *HTTPClient) Compact(ctx context.Context, ns namespace.Namespace, owner string, blob []byte, replaced int) error {
	path := blobPath(ns, owner) + "?replaced=" + strconv.Itoa(replaced)
	return c.do(ctx, http.MethodPut, path, blob, nil)
}

func (c *HTTPClient) Remove(ctx context.Context, ns namespace.Namespace, owner string) error {
	return c.do(ctx, http.MethodDelete, blobPath(ns, owner), nil, nil)
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Devices returns the server's device roster. stale hides devices idle
// longer than that; zero returns all of them.
func (c *HTTPClient) Devices(ctx context.Context, stale time.Duration) ([]presence.Entry, error) {
	path := "/v1/devices"
	if stale > 0 {
		path += "?stale=" + url.QueryEscape(stale.String())
	}
	var resp struct {
		Devices []presence.Entry `json:"devices"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// do sends body as a raw blob (when non-nil) and decodes a JSON response
// into result (when non-nil). Connection failures and 5xx responses are
// returned as *store.TransportError so the caller can retry.
func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.device != "" {
		req.Header.Set(DeviceHeader, c.device)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return store.Transport(method+" "+path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return store.Transport(method+" "+path, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
		}
		if resp.StatusCode >= 500 {
			return store.Transport(method+" "+path, apiErr)
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
