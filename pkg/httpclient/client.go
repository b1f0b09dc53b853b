// Package httpclient provides the resty-backed HTTP client used for feeds, pages
// and robots.txt.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultRetryWait    = 500 * time.Millisecond
	defaultRetryMaxWait = 5 * time.Second
	maxRedirects        = 5
	snippetLen          = 512
)

// ErrNotModified is returned by callers that issued a conditional request and
// received 304.
var ErrNotModified = errors.New("not modified")

// Response is the subset of a response the harvester reads.
type Response interface {
	StatusCode() int
	Body() []byte
	Header() http.Header
}

// Client performs GET requests with optional extra headers.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string) (Response, error)
}

// Option customizes a resty client.
type Option func(*options)

type options struct {
	retryCount   int
	retryWait    time.Duration
	retryMaxWait time.Duration
	userAgent    string
	transport    http.RoundTripper
}

// WithRetryCount sets how many times transient failures are retried.
func WithRetryCount(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retryCount = n
		}
	}
}

// WithRetryWait sets the initial and maximum backoff between retries.
func WithRetryWait(wait, maxWait time.Duration) Option {
	return func(o *options) {
		o.retryWait = wait
		o.retryMaxWait = maxWait
	}
}

// WithUserAgent sets the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = strings.TrimSpace(ua) }
}

// WithTransport overrides the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

type restyClient struct {
	rc *resty.Client
}

// NewRestyClient builds a Client with the given timeout and options.
func NewRestyClient(timeout time.Duration, opts ...Option) Client {
	o := options{
		retryWait:    defaultRetryWait,
		retryMaxWait: defaultRetryMaxWait,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rc := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects)).
		SetRetryCount(o.retryCount).
		SetRetryWaitTime(o.retryWait).
		SetRetryMaxWaitTime(o.retryMaxWait).
		AddRetryCondition(shouldRetry)
	if o.transport != nil {
		rc.SetTransport(o.transport)
	}
	if o.userAgent != "" {
		rc.SetHeader("User-Agent", o.userAgent)
	}

	return &restyClient{rc: rc}
}

// Get issues a GET request. Non-2xx statuses are returned as responses, not
// errors; callers decide how to classify them with CheckStatus.
func (c *restyClient) Get(ctx context.Context, url string, headers map[string]string) (Response, error) {
	req := c.rc.R().SetContext(ctx)
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}
	resp, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	return resp, nil
}

// shouldRetry retries transient network errors and 429/5xx statuses.
func shouldRetry(resp *resty.Response, err error) bool {
	if err != nil {
		return IsTransient(err)
	}
	if resp == nil {
		return false
	}
	return transientStatus(resp.StatusCode())
}
