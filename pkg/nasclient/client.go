// Package nasclient talks to the NithronOS storage API used by the pool
// wizard: disk listing, pool configuration and the SnapRAID initial sync.
package nasclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	PathDisks        = "/api/storage/disks"
	PathConfigure    = "/api/storage/pool/configure"
	PathSync         = "/api/storage/snapraid/sync"
	PathSyncProgress = "/api/storage/snapraid/sync/progress"
)

type Client struct {
	baseURL string
	token   string
	HTTP    *http.Client
}

type Option func(*Client)

// WithSocket routes every request over a unix socket; the base URL host is
// then ignored.
func WithSocket(path string) Option {
	return func(c *Client) {
		c.HTTP.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		}
		c.baseURL = "http://unix"
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTP.Timeout = d }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// HTTPError captures non-2xx responses. Message is the server supplied error
// text when the body carried one.
type HTTPError struct {
	Status  int
	Message string
	Body    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("storage api %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("storage api %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// Disk as listed by the storage API.
type Disk struct {
	ID    string   `json:"id"`
	Model string   `json:"model"`
	Size  string   `json:"size"`
	Type  string   `json:"type"`
	Temp  *float64 `json:"temp,omitempty"`
}

// PoolDisk assigns a role to one disk in a configure request.
type PoolDisk struct {
	ID     string `json:"id"`
	Role   string `json:"role"`
	Format bool   `json:"format"`
}

type ConfigureRequest struct {
	Disks []PoolDisk `json:"disks"`
}

type ConfigureResult struct {
	PoolMount string `json:"poolMount,omitempty"`
	Error     string `json:"error,omitempty"`
}

type SyncProgress struct {
	Running  bool    `json:"running"`
	Progress float64 `json:"progress"`
	Status   string  `json:"status"`
	Error    string  `json:"error,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, v any) error {
	var rd io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &HTTPError{Status: res.StatusCode, Message: errorMessage(b), Body: string(b)}
	}
	if v != nil && len(bytes.TrimSpace(b)) > 0 {
		if err := json.Unmarshal(b, v); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

// errorMessage accepts both {"error":"text"} and the nosd envelope
// {"error":{"code","message"}}.
func errorMessage(b []byte) string {
	var flat struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(b, &flat) != nil {
		return ""
	}
	var s string
	if json.Unmarshal(flat.Error, &s) == nil && s != "" {
		return s
	}
	var nested struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(flat.Error, &nested) == nil && nested.Message != "" {
		return nested.Message
	}
	return flat.Message
}

// ListDisks accepts either a bare array or {"disks":[...]}.
func (c *Client) ListDisks(ctx context.Context) ([]Disk, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, PathDisks, nil, &raw); err != nil {
		return nil, err
	}
	var disks []Disk
	if err := json.Unmarshal(raw, &disks); err == nil {
		return disks, nil
	}
	var wrapped struct {
		Disks []Disk `json:"disks"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode disks: %w", err)
	}
	return wrapped.Disks, nil
}

// ConfigurePool formats, mounts and wires the pool in one call. A 2xx body
// carrying an error field is reported as an *HTTPError too.
func (c *Client) ConfigurePool(ctx context.Context, req ConfigureRequest) (*ConfigureResult, error) {
	var out ConfigureResult
	if err := c.do(ctx, http.MethodPost, PathConfigure, req, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, &HTTPError{Status: http.StatusOK, Message: out.Error}
	}
	return &out, nil
}

func (c *Client) TriggerSync(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, PathSync, struct{}{}, nil)
}

func (c *Client) SyncProgress(ctx context.Context) (*SyncProgress, error) {
	var out SyncProgress
	if err := c.do(ctx, http.MethodGet, PathSyncProgress, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
