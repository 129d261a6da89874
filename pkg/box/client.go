// Package box is a small REST client for the Box endpoints the bridge uses:
// metadata templates, AI extraction, file metadata instances and file access
// statistics.
package box

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/otherjamesbrown/boxbridge/pkg/buildinfo"
	bberrors "github.com/otherjamesbrown/boxbridge/pkg/errors"
)

// Default client settings.
const (
	DefaultBaseURL           = "https://api.box.com/2.0"
	DefaultRequestTimeout    = 60 * time.Second
	DefaultRequestsPerSecond = 10.0
	DefaultBurst             = 10
	DefaultMaxRetries        = 2
)

// Request id headers. Box sets the first on success and the second on some errors.
const (
	HeaderRequestID    = "Box-Request-Id"
	HeaderAltRequestID = "X-Box-Request-Id"
)

// Options configures the Client.
type Options struct {
	// BaseURL is the API root, without a trailing slash.
	BaseURL string

	// Token is the bearer access token.
	Token string

	// Timeout bounds every individual request.
	Timeout time.Duration

	// RequestsPerSecond and Burst configure the client-side token bucket.
	RequestsPerSecond float64
	Burst             int

	// MaxRetries applies to GET requests only. Writes are never retried.
	MaxRetries int

	// Debug enables resty request/response dumps.
	Debug bool
}

// DefaultOptions returns Options with default values and no token.
func DefaultOptions() *Options {
	return &Options{
		BaseURL:           DefaultBaseURL,
		Timeout:           DefaultRequestTimeout,
		RequestsPerSecond: DefaultRequestsPerSecond,
		Burst:             DefaultBurst,
		MaxRetries:        DefaultMaxRetries,
	}
}

// Client talks to the Box API.
type Client struct {
	http    *resty.Client
	limiter *RateLimiter
	opts    *Options
}

// New creates a Client. A token is required.
func New(opts *Options) (*Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Token == "" {
		return nil, bberrors.Configuration("BOX_API_TOKEN")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}

	limiter := NewRateLimiter(opts.RequestsPerSecond, opts.Burst)

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetAuthToken(opts.Token).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", buildinfo.UserAgent()).
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetDebug(opts.Debug)

	httpClient.AddRetryCondition(retryCondition)
	httpClient.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		return limiter.Wait(r.Context())
	})
	httpClient.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
		if r.StatusCode() == http.StatusTooManyRequests {
			retryAfter, _ := strconv.Atoi(r.Header().Get("Retry-After"))
			limiter.RecordRateLimitError(retryAfter)
		}
		return nil
	})

	return &Client{http: httpClient, limiter: limiter, opts: opts}, nil
}

// retryCondition retries idempotent reads on transport errors, throttling and 5xx.
func retryCondition(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return true
	}
	code := r.StatusCode()
	return code == http.StatusTooManyRequests || code >= 500
}

// APIError is a non-2xx response from Box.
type APIError struct {
	StatusCode int    `json:"status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("box api: status %d", e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += " (request_id " + e.RequestID + ")"
	}
	return msg
}

// Unwrap maps well-known statuses onto the shared sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return bberrors.ErrNotFound
	case http.StatusConflict:
		return bberrors.ErrConflict
	case http.StatusPreconditionFailed:
		return bberrors.ErrPreconditionFailed
	case http.StatusUnauthorized:
		return bberrors.ErrUnauthorized
	}
	return nil
}

// RequestIDOf extracts the Box request id from an error returned by Client.
func RequestIDOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RequestID
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetError(&APIError{})
}

// check turns a resty outcome into an error, filling in the request id.
func check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsSuccess() {
		return nil
	}

	apiErr, _ := resp.Error().(*APIError)
	if apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.StatusCode = resp.StatusCode()
	if apiErr.RequestID == "" {
		apiErr.RequestID = resp.Header().Get(HeaderAltRequestID)
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(resp.String())
	}
	return fmt.Errorf("%s: %w", op, apiErr)
}

func requestID(resp *resty.Response) string {
	if resp == nil {
		return ""
	}
	if id := resp.Header().Get(HeaderRequestID); id != "" {
		return id
	}
	return resp.Header().Get(HeaderAltRequestID)
}
