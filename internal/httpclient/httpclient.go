// Package httpclient is the uniform request primitive every integration
// adapter is built on (§4.1): exponential backoff, Retry-After and
// X-RateLimit-Remaining honoring, retries on 5xx/network errors, and
// immediate return on 4xx (except 429).
//
// Grounded on the backoff/retry shape used across the example pack's
// infra tooling (github.com/cenkalti/backoff/v4, an indirect dependency
// of butlerdotdev-butler-api and owulveryck-agenthub, promoted here to a
// direct one since this package's whole job is the retry core the spec
// calls for) plus golang.org/x/time/rate for the per-client limiter every
// attempt waits on, the shape GoogleCloudPlatform-prometheus-engine uses
// in pkg/export/gce_token_source.go. The limiter is unbounded; the
// X-RateLimit-Remaining throttling is done by fixed sleeps.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures one logical request (§4.1).
type Options struct {
	Headers     map[string]string
	Query       url.Values
	Body        []byte
	Timeout     time.Duration
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.InitialWait <= 0 {
		o.InitialWait = time.Second
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 60 * time.Second
	}
	return o
}

// Client is the shared HTTP core. It never stores credentials beyond the
// call frame — callers pass auth headers in per-request Options.
type Client struct {
	http     *http.Client
	log      *zap.SugaredLogger
	limiter  *rate.Limiter
	sleeper  func(time.Duration)
	nowFn    func() time.Time
}

// New builds a Client. Its local limiter is unbounded (rate.Inf), so
// throttling comes only from the vendor rate-limit headers.
func New(log *zap.SugaredLogger) *Client {
	return &Client{
		http:    &http.Client{},
		log:     log,
		limiter: rate.NewLimiter(rate.Inf, 1),
		sleeper: time.Sleep,
		nowFn:   time.Now,
	}
}

// Result is the outcome of Request: a response with its body already
// drained, or an error. 4xx/5xx responses are returned, not treated as Go
// errors, so callers can inspect StatusCode.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Request executes method/url with retry per §4.1's table. The supplied
// context governs the whole call including retries; each individual
// attempt additionally respects Options.Timeout.
func (c *Client) Request(ctx context.Context, method, rawURL string, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	reqURL := rawURL
	if len(opts.Query) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("httpclient: invalid url %q: %w", rawURL, err)
		}
		q := u.Query()
		for k, vs := range opts.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.InitialWait
	bo.MaxInterval = opts.MaxWait
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	var lastErr error
	attempt := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		res, retryAfter, err := c.attempt(ctx, method, reqURL, opts)
		if err == nil && res != nil {
			if res.StatusCode == http.StatusTooManyRequests {
				attempt++
				if attempt > opts.MaxRetries {
					return res, nil
				}
				wait := retryAfter
				if wait <= 0 {
					wait = bo.NextBackOff()
				}
				c.log.Warnw("httpclient: rate limited, retrying", "url", reqURL, "wait", wait)
				if !c.sleepCtx(ctx, wait) {
					return nil, ctx.Err()
				}
				continue
			}
			if res.StatusCode >= 500 {
				attempt++
				if attempt > opts.MaxRetries {
					return res, nil
				}
				wait := bo.NextBackOff()
				c.log.Warnw("httpclient: server error, retrying", "url", reqURL, "status", res.StatusCode, "wait", wait)
				if !c.sleepCtx(ctx, wait) {
					return nil, ctx.Err()
				}
				continue
			}
			c.throttleFromHeaders(res.Header)
			return res, nil
		}

		lastErr = err
		attempt++
		if attempt > opts.MaxRetries {
			return nil, lastErr
		}
		wait := bo.NextBackOff()
		c.log.Warnw("httpclient: network error, retrying", "url", reqURL, "err", err, "wait", wait)
		if !c.sleepCtx(ctx, wait) {
			return nil, ctx.Err()
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, reqURL string, opts Options) (*Result, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if opts.Body != nil {
		bodyReader = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, reqURL, bodyReader)
	if err != nil {
		return nil, 0, err
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}

	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}

	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, retryAfter, nil
}

// throttleFromHeaders sleeps briefly when the vendor's rate-limit headroom
// runs low (§4.1): <10 remaining -> 0.5s, <5 remaining -> 1s.
func (c *Client) throttleFromHeaders(h http.Header) {
	remaining := h.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return
	}
	n, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}
	switch {
	case n < 5:
		c.sleeper(time.Second)
	case n < 10:
		c.sleeper(500 * time.Millisecond)
	}
}

func (c *Client) sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Transport is an http.RoundTripper implementing the same retry/backoff/
// rate-limit policy as Client.Request, for wiring into library clients
// (e.g. google/go-github) that want to own request construction but still
// go through the shared retry core. Only safe for requests without a body
// (GET/HEAD), since a retried attempt re-sends the original *http.Request.
type Transport struct {
	Base    http.RoundTripper
	Log     *zap.SugaredLogger
	sleeper func(time.Duration)
}

// NewTransport builds a Transport using http.DefaultTransport as its base.
func NewTransport(log *zap.SugaredLogger) *Transport {
	return &Transport{Base: http.DefaultTransport, Log: log, sleeper: time.Sleep}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	sleeper := t.sleeper
	if sleeper == nil {
		sleeper = time.Sleep
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	const maxRetries = 3
	attempt := 0
	for {
		resp, err := base.RoundTrip(req)
		if err != nil {
			attempt++
			if attempt > maxRetries {
				return nil, err
			}
			wait := bo.NextBackOff()
			t.Log.Warnw("httpclient.Transport: network error, retrying", "url", req.URL.String(), "err", err, "wait", wait)
			sleeper(wait)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			attempt++
			if attempt > maxRetries {
				return resp, nil
			}
			wait := parseRetryAfter(resp.Header.Get("Retry-After"))
			if wait <= 0 {
				wait = bo.NextBackOff()
			}
			resp.Body.Close()
			t.Log.Warnw("httpclient.Transport: rate limited, retrying", "url", req.URL.String(), "wait", wait)
			sleeper(wait)
			continue
		}
		if resp.StatusCode >= 500 {
			attempt++
			if attempt > maxRetries {
				return resp, nil
			}
			wait := bo.NextBackOff()
			resp.Body.Close()
			t.Log.Warnw("httpclient.Transport: server error, retrying", "url", req.URL.String(), "status", resp.StatusCode, "wait", wait)
			sleeper(wait)
			continue
		}
		if n, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining")); err == nil {
			switch {
			case n < 5:
				sleeper(time.Second)
			case n < 10:
				sleeper(500 * time.Millisecond)
			}
		}
		return resp, nil
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}
