// Package deliveryclient is the pooled HTTP client used to execute one
// webhook delivery attempt: single-attempt per call (retries are
// modeled as new RequestAttempt rows, not client-level retries) and
// redirect-aware, re-validating every hop against the target package
// before following it.
package deliveryclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/relayforge/relayforge/log"
	"github.com/relayforge/relayforge/target"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxRedirects     = 5
	defaultMaxResponseBytes = 1 << 20 // 1 MiB
)

// Client executes signed webhook deliveries under a shared connection
// pool, a bounded redirect policy, and a response body size cap.
type Client struct {
	httpClient       *http.Client
	validator        *target.Validator
	maxRedirects     int
	maxResponseBytes int64
	log              log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default 30s overall request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxRedirects overrides the default bound of 5 redirects.
func WithMaxRedirects(n int) Option {
	return func(c *Client) { c.maxRedirects = n }
}

// WithMaxResponseBytes overrides the default 1 MiB response body cap.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) { c.maxResponseBytes = n }
}

// New returns a Client that validates every target (including redirect
// hops) against validator before dialing it.
func New(validator *target.Validator, logger log.Logger, opts ...Option) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		validator:        validator,
		maxRedirects:     defaultMaxRedirects,
		maxResponseBytes: defaultMaxResponseBytes,
		log:              logger,
	}
	c.httpClient = &http.Client{
		Timeout:   defaultTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= c.maxRedirects {
				return fmt.Errorf("stopped after %d redirects", c.maxRedirects)
			}
			if err := validator.Validate(req.Context(), req.URL.String()); err != nil {
				return err
			}
			return nil
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request is one outbound delivery attempt.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Result is the outcome of a dispatched Request.
type Result struct {
	StatusCode    int
	Headers       map[string]string
	Body          []byte
	ElapsedTimeMS int32
}

// Deliver validates req.URL, then executes exactly one HTTP request (plus
// any redirects the validator allows), recording elapsed wall-clock time
// from send to final byte. Body bytes beyond maxResponseBytes are
// dropped; the delivery itself is not failed for oversize.
func (c *Client) Deliver(ctx context.Context, req Request) (Result, error) {
	if err := c.validator.Validate(ctx, req.URL); err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes))
	elapsed := time.Since(start)
	if err != nil {
		return Result{}, fmt.Errorf("read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	return Result{
		StatusCode:    resp.StatusCode,
		Headers:       headers,
		Body:          body,
		ElapsedTimeMS: int32(elapsed.Milliseconds()),
	}, nil
}
