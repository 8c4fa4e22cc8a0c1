// Package gateway is the request/response side of the sync engine: a
// partition-aware JSON client for the remote attendance store. It owns the
// batching strategy (one round trip per record kind, chunked batch lookups)
// and the retry policy; it never touches the local cache.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/rollcall-project/rollcall/internal/record"
	"github.com/rollcall-project/rollcall/internal/util"
)

const (
	defaultChunkSize  = 30 // ids per batched attendance lookup
	defaultMaxRetries = 4
	healthTimeout     = 3 * time.Second
)

// Config is the runtime-changeable part of the client.
type Config struct {
	BaseURL string
	APIKey  string
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithMaxRetries bounds the retry loop (attempts = retries + 1).
func WithMaxRetries(n uint64) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithChunkSize overrides the batch-lookup chunk size.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// Client talks to the remote store. Safe for concurrent use; Reconfigure may
// swap credentials at any time.
type Client struct {
	mu     sync.RWMutex
	base   *url.URL
	apiKey string

	http       *http.Client
	log        zerolog.Logger
	maxRetries uint64
	chunkSize  int
}

func New(cfg Config, log zerolog.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	c := &Client{
		base:       base,
		apiKey:     cfg.APIKey,
		http:       &http.Client{},
		log:        log,
		maxRetries: defaultMaxRetries,
		chunkSize:  defaultChunkSize,
	}
	for _, fn := range opts {
		fn(c)
	}
	return c, nil
}

// Reconfigure atomically swaps base URL and API key. In-flight requests
// finish against the old credentials.
func (c *Client) Reconfigure(cfg Config) error {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing base url: %w", err)
	}
	c.mu.Lock()
	c.base = base
	c.apiKey = cfg.APIKey
	c.mu.Unlock()
	return nil
}

// Employees fetches the employees of the scope in a single round trip.
func (c *Client) Employees(ctx context.Context, scope record.Scope) ([]record.Employee, error) {
	path := "/api/employees"
	if cluster, ok := scope.Cluster(); ok {
		path = "/api/clusters/" + url.PathEscape(string(cluster)) + "/employees"
	}
	var out []record.Employee
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EmployeeByID fetches a single employee. ErrNotFound on unknown id.
func (c *Client) EmployeeByID(ctx context.Context, id string) (record.Employee, error) {
	var out record.Employee
	err := c.do(ctx, http.MethodGet, "/api/employees/"+url.PathEscape(id), nil, &out)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return record.Employee{}, fmt.Errorf("employee %q: %w", id, ErrNotFound)
	}
	return out, err
}

// Attendance fetches all attendance records of the scope, keyed by employee
// id, in a single round trip.
func (c *Client) Attendance(ctx context.Context, scope record.Scope) (map[string]record.AttendanceRecord, error) {
	path := "/api/attendance"
	if cluster, ok := scope.Cluster(); ok {
		path = "/api/clusters/" + url.PathEscape(string(cluster)) + "/attendance"
	}
	out := make(map[string]record.AttendanceRecord)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AttendanceForIDs batch-fetches records for the given ids. The id list is
// chunked so a request never exceeds the transport's batch limit; 65 ids with
// the default chunk size of 30 cost three round trips, not 65.
func (c *Client) AttendanceForIDs(ctx context.Context, ids []string) (map[string]record.AttendanceRecord, error) {
	out := make(map[string]record.AttendanceRecord, len(ids))
	for _, chunk := range util.Chunk(ids, c.chunkSize) {
		part := make(map[string]record.AttendanceRecord)
		body := map[string][]string{"ids": chunk}
		if err := c.do(ctx, http.MethodPost, "/api/attendance/query", body, &part); err != nil {
			return nil, err
		}
		for id, rec := range part {
			out[id] = rec
		}
	}
	return out, nil
}

// saveAttendancePayload is what the merge endpoint accepts. Fields absent
// from the payload are left untouched server-side.
type saveAttendancePayload struct {
	record.AttendanceRecord
	Cluster record.Cluster `json:"cluster,omitempty"`
}

// SaveAttendance merges rec into the remote record for id. The kid-name map
// is sanitized first; the transport rejects empty entries.
func (c *Client) SaveAttendance(ctx context.Context, id string, rec record.AttendanceRecord, cluster record.Cluster) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.KidNames = rec.SanitizedKidNames()
	payload := saveAttendancePayload{AttendanceRecord: rec, Cluster: cluster}
	return c.do(ctx, http.MethodPost, "/api/employees/"+url.PathEscape(id)+"/attendance", payload, nil)
}

// ClusterStats fetches the server-side aggregate for one cluster.
func (c *Client) ClusterStats(ctx context.Context, cluster record.Cluster) (record.Stats, error) {
	var out record.Stats
	err := c.do(ctx, http.MethodGet, "/api/stats/clusters/"+url.PathEscape(string(cluster)), nil, &out)
	return out, err
}

// OverallStats fetches the server-side aggregate across all clusters.
func (c *Client) OverallStats(ctx context.Context) (record.Stats, error) {
	var out record.Stats
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out)
	return out, err
}

// Health probes the remote store once, bounded by a short timeout, and
// returns the round-trip time. No retries: a health check that needs a
// retry has already answered the question.
func (c *Client) Health(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	start := time.Now()
	if err := c.doOnce(ctx, http.MethodGet, "/api/healthz", nil, nil); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// do runs one logical request through the retry loop: exponential backoff
// with jitter for transient failures, immediate error for permanent ones.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	attempt := 0
	op := func() error {
		attempt++
		err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		c.log.Debug().Err(err).Int("attempt", attempt).Str("path", path).Msg("transient remote error, will retry")
		return err
	}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries),
		ctx,
	)
	return backoff.Retry(op, bo)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	c.mu.RLock()
	base, apiKey := c.base, c.apiKey
	c.mu.RUnlock()

	u := base.JoinPath(path)
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err != nil {
		return ""
	}
	return body.Error
}
