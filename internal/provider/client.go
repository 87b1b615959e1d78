package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/xpadev-net/memorial-livestream/internal/metrics"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

const maxErrorBody = 4 << 10

// ClientConfig configures the HTTP transport shared by the vendor adapters.
type ClientConfig struct {
	BaseURL string
	// Timeout bounds one adapter call, retries included.
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	HTTPClient *http.Client
}

func (c ClientConfig) normalize() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay * 10
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// shouldRetry retries network errors, 5xx and 429.
func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if resp == nil {
		return true
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

// client is the vendor-neutral HTTP layer: auth, retries, timeouts and
// status classification.
type client struct {
	provider  stream.Provider
	baseURL   string
	http      *http.Client
	timeout   time.Duration
	executor  failsafe.Executor[*http.Response]
	authorize func(req *http.Request)
}

//nolint:bodyclose // *http.Response is a type parameter here
func newClient(p stream.Provider, cfg ClientConfig, authorize func(*http.Request)) *client {
	cfg = cfg.normalize()
	policy := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(shouldRetry).
		Build()

	return &client{
		provider:  p,
		baseURL:   cfg.BaseURL,
		http:      cfg.HTTPClient,
		timeout:   cfg.Timeout,
		executor:  failsafe.With(policy),
		authorize: authorize,
	}
}

// do sends one request through the retry executor. A non-nil error means
// the vendor could not be reached in time and is always classified as
// ErrProviderUnavailable. The caller owns the response body.
func (c *client) do(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
	}

	url := c.baseURL + path
	lastStatus := 0
	resp, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.authorize(req)

		resp, err := c.http.Do(req)
		if resp != nil {
			lastStatus = resp.StatusCode
		}
		if shouldRetry(resp, err) && resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return resp, err
	})
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, &Error{Provider: c.provider, Op: op, StatusCode: lastStatus, Message: err.Error(), Err: ErrProviderUnavailable}
	}
	return resp, nil
}

// doJSON performs a call and decodes a 2xx body into out. 4xx maps to
// ErrProviderRejected, everything else non-2xx to ErrProviderUnavailable.
func (c *client) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.roundTrip(ctx, op, method, path, body, out)
	metrics.ObserveVendorCall(string(c.provider), op, outcome(err), time.Since(start))
	return err
}

func (c *client) roundTrip(ctx context.Context, op, method, path string, body, out any) error {
	resp, err := c.do(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.classify(op, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Provider: c.provider, Op: op, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error(), Err: ErrProviderUnavailable}
	}
	return nil
}

// classify maps a response status to the provider error taxonomy.
func (c *client) classify(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &Error{
		Provider:   c.provider,
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(snippet)),
		Err:        ErrProviderUnavailable,
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		e.Err = ErrProviderRejected
	}
	return e
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrProviderRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}
