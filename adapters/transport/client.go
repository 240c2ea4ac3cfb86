// Package transport implements the identity API client.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cosync/appkey-go/core"
	"github.com/cosync/appkey-go/ports"
)

const defaultTimeout = 30 * time.Second

// Client issues JSON requests to the identity API. Each request carries
// exactly one credential header, chosen from the session by precedence:
// access-token, then signup-token, then the pre-shared app-token. A
// partially completed signup must never authenticate with a stale access
// token, and an authenticated session must never fall back to the app token.
type Client struct {
	baseURL  string
	appToken string
	session  *core.Session
	http     *http.Client
	log      *slog.Logger

	mu      sync.Mutex
	lastErr error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the request logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates an identity API client. The session supplies the credential
// header for each request.
func New(baseURL, appToken string, session *core.Session, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		appToken: appToken,
		session:  session,
		http:     &http.Client{Timeout: defaultTimeout},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ports.API = (*Client)(nil)

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs a request and records any error in the last-error slot.
func (c *Client) Do(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	return c.request(ctx, method, endpoint, body, true)
}

// DoQuiet performs a request without touching the last-error slot.
func (c *Client) DoQuiet(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	return c.request(ctx, method, endpoint, body, false)
}

func (c *Client) request(ctx context.Context, method, endpoint string, body any, record bool) (json.RawMessage, error) {
	var reader io.Reader
	if method != http.MethodGet && method != http.MethodDelete && body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, c.fail(record, fmt.Errorf("encode request body: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	url := c.baseURL + "/api/" + endpoint
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, c.fail(record, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	switch cred := c.session.Credential(); cred.Kind() {
	case core.CredentialAccess:
		req.Header.Set("access-token", cred.Token())
	case core.CredentialSignup:
		req.Header.Set("signup-token", cred.Token())
	default:
		req.Header.Set("app-token", c.appToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(record, fmt.Errorf("%s %s: %w", method, endpoint, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(record, fmt.Errorf("read response from %s: %w", endpoint, err))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &core.APIError{}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr = &core.APIError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		c.log.DebugContext(ctx, "api error", "endpoint", endpoint, "status", resp.StatusCode, "code", apiErr.Code)
		c.record(record, apiErr)
		return nil, apiErr
	}

	if !json.Valid(data) {
		return nil, c.fail(record, fmt.Errorf("malformed response from %s", endpoint))
	}
	c.log.DebugContext(ctx, "api request", "method", method, "endpoint", endpoint, "status", resp.StatusCode)
	return json.RawMessage(data), nil
}

// fail wraps a transport-level fault and optionally records it.
func (c *Client) fail(record bool, err error) *core.APIError {
	apiErr := core.NewTransportError(err)
	c.record(record, apiErr)
	return apiErr
}

func (c *Client) record(record bool, err error) {
	if !record {
		return
	}
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// LastError returns the most recent recorded request error.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ClearLastError empties the last-error slot.
func (c *Client) ClearLastError() {
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
}
