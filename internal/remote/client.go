// Package remote replays queued mutations against the ERP API.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/pharmasync/internal/models"
)

const (
	DefaultTimeout    = 15 * time.Second
	DefaultHealthPath = "/"

	// maxErrorBody caps how much of a rejection body ends up in HTTPError.
	maxErrorBody = 512
)

var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pharmasync/sync-queue"))

type Client struct {
	baseURL    string
	healthPath string
	timeout    time.Duration
	httpClient *http.Client
}

type Option func(*Client)

// WithTimeout sets the deadline applied to each replayed request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHealthPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.healthPath = path
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		healthPath: DefaultHealthPath,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IdempotencyKey is stable for an entry across replays, which lets the remote
// API discard a mutation it already applied.
func IdempotencyKey(entry *models.QueueEntry) string {
	name := strconv.FormatInt(entry.ID, 10) + ":" + strconv.FormatInt(entry.Timestamp, 10)
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}

// Replay issues exactly one request for the entry. It returns nil for a 2xx
// response, *HTTPError for any other status and *TransportError when no
// response arrived.
func (c *Client) Replay(ctx context.Context, entry *models.QueueEntry) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.resolve(entry.Endpoint)
	method := string(entry.Method)

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(entry.Payload))
	if err != nil {
		return fmt.Errorf("failed to build request for entry %d: %w", entry.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", IdempotencyKey(entry))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &HTTPError{StatusCode: resp.StatusCode, URL: target, Message: msg}
}

// Ping reports whether the remote API is reachable. Any response counts; only
// a transport failure means offline.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.resolve(c.healthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build ping request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Method: http.MethodHead, URL: target, Err: err}
	}
	resp.Body.Close()
	return nil
}

func (c *Client) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.baseURL + endpoint
}
