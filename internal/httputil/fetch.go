package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/achesucatas/auditor/internal/log"
)

// Backoff and size defaults for the shared fetch client.
const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultMaxBody    = 50 << 20 // 50 MiB, some editais ship scanned annexes
)

// ErrCircuitOpen is carried in Outcome.Err when the host's breaker
// rejects the request without attempting it.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrorClass categorizes a failed fetch for logging and pipeline events.
type ErrorClass string

const (
	// ErrorClassConnection covers dial failures, resets and DNS errors.
	ErrorClassConnection ErrorClass = "connection"
	// ErrorClassTimeout covers deadline and read timeouts.
	ErrorClassTimeout ErrorClass = "timeout"
	// ErrorClassHTTP covers non-2xx responses.
	ErrorClassHTTP ErrorClass = "http_error"
	// ErrorClassCircuitOpen means the host breaker rejected the call.
	ErrorClassCircuitOpen ErrorClass = "circuit_open"
	// ErrorClassTooLarge means the response exceeded the body limit.
	ErrorClassTooLarge ErrorClass = "too_large"
	// ErrorClassDecode means the body could not be parsed as requested.
	ErrorClassDecode ErrorClass = "decode"
)

// Outcome is the result of a fetch, returned on success and failure
// alike. Callers branch on OK and Status instead of unwrapping
// transport errors; expected HTTP errors such as 404 never surface as
// Go errors across the pipeline boundary.
type Outcome struct {
	OK         bool
	Status     int
	Body       []byte
	Header     http.Header
	ErrorClass ErrorClass
	Err        error
}

// FetchOptions configures the shared fetch client.
type FetchOptions struct {
	// HTTPClient performs the actual requests. If nil, a secure client
	// with default options is used.
	HTTPClient *http.Client

	// MaxRetries is the number of retry attempts after the first try.
	// Default: 5.
	MaxRetries int

	// BaseDelay is the first backoff step. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff. Default: 30s.
	MaxDelay time.Duration

	// HostInterval is the minimum spacing between calls to the same
	// host. Default: 600ms. Zero disables rate limiting.
	HostInterval time.Duration

	// BreakerThreshold and BreakerReset configure the per-host circuit
	// breakers. Defaults: 8 consecutive failures, 60s reset.
	BreakerThreshold int
	BreakerReset     time.Duration

	// MaxBody caps response sizes in bytes. Default: 50 MiB.
	MaxBody int64

	// UserAgent is sent with every request unless the caller sets one.
	UserAgent string

	// Logger for debug output. If nil, uses log.Default().
	Logger log.Logger

	// OnBreakerOpen is invoked once each time a host breaker trips.
	OnBreakerOpen func(host string)

	// OnFailure is invoked when a fetch gives up: retries exhausted,
	// breaker open, or a transport failure. Clean non-retryable HTTP
	// responses (404 and friends) do not fire it.
	OnFailure func(url string, class ErrorClass, status int)
}

// Client is the process-wide fetching client: one connection pool, one
// rate limiter and one breaker per remote host, shared by discovery and
// document download.
type Client struct {
	http       *http.Client
	limiter    *HostLimiter
	breakers   *BreakerSet
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	maxBody    int64
	userAgent  string
	logger     log.Logger
	onFailure  func(url string, class ErrorClass, status int)

	// sleep is injectable for testing the retry loop.
	sleep func(context.Context, time.Duration) error
}

// NewClient creates a fetch client. Zero-valued options get defaults.
func NewClient(opts FetchOptions) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewSecureClient(DefaultOptions())
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = DefaultMaxBody
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Client{
		http:       opts.HTTPClient,
		limiter:    NewHostLimiter(opts.HostInterval),
		breakers:   NewBreakerSet(opts.BreakerThreshold, opts.BreakerReset, opts.OnBreakerOpen),
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		maxBody:    opts.MaxBody,
		userAgent:  opts.UserAgent,
		logger:     opts.Logger,
		onFailure:  opts.OnFailure,
		sleep:      sleepContext,
	}
}

// Get performs a rate-limited GET with retry, backoff and circuit
// breaking. params are merged into the URL's query string; header
// entries are added to the request.
//
// Transient failures (connection errors, timeouts, 429/502/503/504) are
// retried with exponential backoff: base * 2^n capped at MaxDelay, then
// multiplied by a jitter factor in [0.85, 1.15]. Other HTTP errors
// return immediately.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, header http.Header) Outcome {
	return c.roundTrip(ctx, http.MethodGet, rawURL, params, header, nil)
}

// Post performs a POST with the same rate limiting, retry and circuit
// breaking as Get. The body is replayed on every attempt.
func (c *Client) Post(ctx context.Context, rawURL string, header http.Header, body []byte) Outcome {
	return c.roundTrip(ctx, http.MethodPost, rawURL, nil, header, body)
}

func (c *Client) roundTrip(ctx context.Context, method, rawURL string, params url.Values, header http.Header, body []byte) Outcome {
	u, err := url.Parse(rawURL)
	if err != nil {
		return c.fail(rawURL, Outcome{ErrorClass: ErrorClassConnection, Err: fmt.Errorf("parse url: %w", err)})
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	host := u.Hostname()
	breaker := c.breakers.For(host)
	target := u.String()

	var last Outcome
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with jitter: base * 2^(attempt-1),
			// capped, times a factor in [0.85, 1.15].
			baseWait := c.baseDelay * time.Duration(1<<(attempt-1))
			if baseWait > c.maxDelay {
				baseWait = c.maxDelay
			}
			jitter := 0.85 + rand.Float64()*0.3
			delay := time.Duration(float64(baseWait) * jitter)

			c.logger.Debug("retrying fetch",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"delay", delay.String(),
				"url", target,
			)

			if err := c.sleep(ctx, delay); err != nil {
				last.Err = err
				if last.ErrorClass == "" {
					last.ErrorClass = ErrorClassTimeout
				}
				return c.fail(target, last)
			}
		}

		if !breaker.Allow() {
			return c.fail(target, Outcome{ErrorClass: ErrorClassCircuitOpen, Err: ErrCircuitOpen})
		}

		if err := c.limiter.Wait(ctx, host); err != nil {
			return c.fail(target, Outcome{ErrorClass: ErrorClassTimeout, Err: err})
		}

		out := c.do(ctx, method, target, header, body)
		if out.OK {
			breaker.RecordSuccess()
			return out
		}
		last = out

		if ctx.Err() != nil {
			return c.fail(target, last)
		}

		// A clean HTTP response that is not worth retrying still proves
		// the host is alive: reset the breaker and hand the status back.
		if !retryable(out) {
			breaker.RecordSuccess()
			if out.ErrorClass == ErrorClassHTTP {
				return out
			}
			return c.fail(target, out)
		}

		breaker.RecordFailure()
	}

	return c.fail(target, last)
}

// GetJSON fetches rawURL and unmarshals the response body into v. A 2xx
// response with an empty body (204 from search endpoints) leaves v
// untouched.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, v any) Outcome {
	out := c.Get(ctx, rawURL, params, http.Header{"Accept": []string{"application/json"}})
	if !out.OK || len(out.Body) == 0 {
		return out
	}
	if err := json.Unmarshal(out.Body, v); err != nil {
		out.OK = false
		out.ErrorClass = ErrorClassDecode
		out.Err = fmt.Errorf("parse response: %w", err)
	}
	return out
}

// GetBytes fetches rawURL without extra query parameters or headers.
func (c *Client) GetBytes(ctx context.Context, rawURL string) Outcome {
	return c.Get(ctx, rawURL, nil, nil)
}

// PostJSON marshals payload, POSTs it as application/json and
// unmarshals the response body into v when it is non-nil.
func (c *Client) PostJSON(ctx context.Context, rawURL string, header http.Header, payload, v any) Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return c.fail(rawURL, Outcome{ErrorClass: ErrorClassDecode, Err: fmt.Errorf("encode request: %w", err)})
	}
	h := http.Header{
		"Content-Type": []string{"application/json"},
		"Accept":       []string{"application/json"},
	}
	for k, vs := range header {
		h[k] = vs
	}
	out := c.Post(ctx, rawURL, h, body)
	if !out.OK || v == nil || len(out.Body) == 0 {
		return out
	}
	if err := json.Unmarshal(out.Body, v); err != nil {
		out.OK = false
		out.ErrorClass = ErrorClassDecode
		out.Err = fmt.Errorf("parse response: %w", err)
	}
	return out
}

// BreakerStates reports the breaker state for every host contacted so
// far, for end-of-run diagnostics.
func (c *Client) BreakerStates() map[string]State {
	return c.breakers.States()
}

// do performs a single request attempt.
func (c *Client) do(ctx context.Context, method, target string, header http.Header, body []byte) Outcome {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return Outcome{ErrorClass: ErrorClassConnection, Err: fmt.Errorf("create request: %w", err)}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Outcome{ErrorClass: classifyTransport(err), Err: err}
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return Outcome{
			Status:     resp.StatusCode,
			Header:     resp.Header,
			ErrorClass: classifyTransport(err),
			Err:        fmt.Errorf("read response: %w", err),
		}
	}
	if int64(len(body)) > c.maxBody {
		return Outcome{
			Status:     resp.StatusCode,
			Header:     resp.Header,
			ErrorClass: ErrorClassTooLarge,
			Err:        fmt.Errorf("response body exceeds %d bytes", c.maxBody),
		}
	}

	out := Outcome{Status: resp.StatusCode, Body: body, Header: resp.Header}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.OK = true
		return out
	}
	out.ErrorClass = ErrorClassHTTP
	out.Err = fmt.Errorf("%s returned status %d", req.URL.Host, resp.StatusCode)
	return out
}

// fail logs the terminal failure, notifies the OnFailure hook and
// returns the outcome unchanged.
func (c *Client) fail(target string, out Outcome) Outcome {
	c.logger.Warn("fetch failed",
		"url", target,
		"error_class", string(out.ErrorClass),
		"status", out.Status,
		"error", out.Err,
	)
	if c.onFailure != nil {
		c.onFailure(target, out.ErrorClass, out.Status)
	}
	return out
}

// retryable reports whether a failed attempt is worth repeating.
func retryable(out Outcome) bool {
	switch out.ErrorClass {
	case ErrorClassConnection, ErrorClassTimeout:
		return true
	case ErrorClassHTTP:
		switch out.Status {
		case http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// classifyTransport maps a transport error to its fetch error class.
func classifyTransport(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrorClassTimeout
	}
	return ErrorClassConnection
}
