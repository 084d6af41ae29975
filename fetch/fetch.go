// Package fetch is the HTTP transport shared by every provider client. One
// Client is built per run and handed to each connector.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Config configures a Client.
type Config struct {
	Timeout   time.Duration // per request, default 15s
	UserAgent string
	MaxBytes  int64 // response body cap, default 10MB
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "bloomberg-lite/1.0"
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
}

// Client performs GET requests against JSON APIs.
type Client struct {
	http   *http.Client
	config Config
}

// New creates a Client with its own http.Client.
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

// NewWithHTTPClient wraps an existing http.Client (for testing).
func NewWithHTTPClient(hc *http.Client, cfg Config) *Client {
	cfg.defaults()
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{http: hc, config: cfg}
}

// Error describes a failed request. Status is zero when no response was
// received.
type Error struct {
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure may succeed on a later run:
// network errors, timeouts, 5xx and 429.
func (e *Error) Transient() bool {
	if e.Status == 0 {
		return true
	}
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Auth reports a rejected credential.
func (e *Error) Auth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// Timeout reports whether the request ran out of time.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// GetJSON issues a GET with the given query and returns the body of a 2xx
// response.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse url %q: %w", rawURL, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	display := redact(u)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{URL: display, Err: stripURL(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &Error{URL: display, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBytes))
	if err != nil {
		return nil, &Error{URL: display, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// redact hides credentials passed as query parameters.
func redact(u *url.URL) string {
	c := *u
	q := c.Query()
	for _, k := range []string{"api_key", "apikey", "key", "token"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	c.RawQuery = q.Encode()
	return c.String()
}

// stripURL drops the *url.Error wrapper, whose message repeats the raw URL
// including any api key.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
