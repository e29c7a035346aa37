// Package network is the shared HTTP layer for remote conversion services:
// request dedup, retry with backoff, circuit breaking and adaptive throttling.
package network

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

// Config tunes one provider's client.
type Config struct {
	RequestTimeout time.Duration
	MaxRetries     int

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64

	BreakerThreshold int
	BreakerCooldown  time.Duration

	// CacheSize bounds the in-run response cache.
	CacheSize int
	// MaxConcurrent caps simultaneous requests. Zero means no cap.
	MaxConcurrent int
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 200 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Second
	}
	if c.BackoffJitterFrac < 0 {
		c.BackoffJitterFrac = 0
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 10
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 4096
	}
	return c
}

// DefaultConfig is the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, BackoffJitterFrac: 0.2}.withDefaults()
}

// Observer receives request and state-change events, e.g. for metrics.
type Observer interface {
	ObserveRequest(providerID, outcome string, d time.Duration)
	ObserveBreaker(providerID string, s BreakerState)
	ObserveThrottle(providerID string, permits int)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, time.Duration) {}
func (nopObserver) ObserveBreaker(string, BreakerState)          {}
func (nopObserver) ObserveThrottle(string, int)                  {}

// ResponseStore persists successful response bodies across runs.
type ResponseStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, body string) error
}

// Request is one call against a named endpoint. Args is appended to the
// endpoint URL as is; callers escape path segments themselves.
type Request struct {
	Endpoint string
	Args     string
	Method   string
	Form     url.Values
	Body     string
	Headers  map[string]string
}

type Option func(*Client)

// WithThrottler puts every attempt behind an adaptive throttler.
func WithThrottler(t *Throttler) Option { return func(c *Client) { c.throttle = t } }

// WithStore enables the cross-run response store.
func WithStore(s ResponseStore) Option { return func(c *Client) { c.store = s } }

// WithResponseHook is called with the headers of every upstream response.
func WithResponseHook(fn func(http.Header)) Option { return func(c *Client) { c.onResponse = fn } }

func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithClock replaces the breaker clock.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// Client performs requests for one provider.
type Client struct {
	id        string
	http      *http.Client
	endpoints map[string]string
	cfg       Config

	breaker    *Breaker
	throttle   *Throttler
	sem        *semaphore.Weighted
	store      ResponseStore
	onResponse func(http.Header)
	observer   Observer
	log        zerolog.Logger
	now        func() time.Time

	group singleflight.Group
	cache *lru.Cache[string, string]
}

// NewClient builds a client. endpoints maps endpoint names to base URLs.
func NewClient(id string, hc *http.Client, endpoints map[string]string, cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	if hc == nil {
		hc = http.DefaultClient
	}
	c := &Client{
		id:        id,
		http:      hc,
		endpoints: endpoints,
		cfg:       cfg,
		observer:  nopObserver{},
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, c.now)
	c.breaker.OnChange(func(s BreakerState) {
		c.log.Warn().Str("provider", c.id).Str("state", s.String()).Msg("circuit breaker state changed")
		c.observer.ObserveBreaker(c.id, s)
	})
	if c.throttle != nil {
		c.throttle.OnChange(func(n int) { c.observer.ObserveThrottle(c.id, n) })
		c.observer.ObserveThrottle(c.id, c.throttle.Rate())
	}
	if cfg.MaxConcurrent > 0 {
		c.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	// CacheSize is positive after withDefaults, so New cannot fail.
	c.cache, _ = lru.New[string, string](cfg.CacheSize)
	return c
}

func (c *Client) ID() string { return c.id }

// Breaker exposes the circuit breaker, mostly for diagnostics.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Throttler returns the adaptive throttler, or nil.
func (c *Client) Throttler() *Throttler { return c.throttle }

// BaseURL is scheme://host of the first endpoint in name order.
func (c *Client) BaseURL() string {
	names := make([]string, 0, len(c.endpoints))
	for n := range c.endpoints {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		u, err := url.Parse(c.endpoints[n])
		if err == nil && u.Scheme != "" && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	return ""
}

// Query performs req and returns the response body.
//
// Identical requests share one in-flight call, and successful bodies are
// served from cache for the rest of the run.
func (c *Client) Query(ctx context.Context, req Request) (string, error) {
	base, ok := c.endpoints[req.Endpoint]
	if !ok {
		return "", fmt.Errorf("%s: unknown endpoint %q", c.id, req.Endpoint)
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target := base + req.Args
	key := c.cacheKey(method, target, req)

	if body, ok := c.cache.Get(key); ok {
		return body, nil
	}
	// The shared call outlives any single caller; RequestTimeout and the
	// retry budget bound it instead.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if body, ok := c.cache.Get(key); ok {
			return body, nil
		}
		if c.store != nil {
			body, ok, err := c.store.Get(shared, key)
			if err != nil {
				c.log.Debug().Err(err).Str("provider", c.id).Msg("response store read failed")
			} else if ok {
				c.cache.Add(key, body)
				return body, nil
			}
		}
		body, err := c.loop(shared, method, target, req)
		if err != nil {
			return "", err
		}
		c.cache.Add(key, body)
		if c.store != nil {
			if err := c.store.Put(shared, key, body); err != nil {
				c.log.Debug().Err(err).Str("provider", c.id).Msg("response store write failed")
			}
		}
		return body, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) cacheKey(method, target string, req Request) string {
	var b strings.Builder
	b.WriteString(c.id)
	b.WriteByte(0)
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(target)
	if len(req.Form) > 0 {
		b.WriteByte(0)
		b.WriteString(req.Form.Encode())
	}
	if req.Body != "" {
		b.WriteByte(0)
		b.WriteString(req.Body)
	}
	if len(req.Headers) > 0 {
		names := make([]string, 0, len(req.Headers))
		for k := range req.Headers {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			b.WriteByte(0)
			b.WriteString(k + ":" + req.Headers[k])
		}
	}
	return b.String()
}

func (c *Client) loop(ctx context.Context, method, target string, req Request) (string, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := c.acquire(ctx); err != nil {
			return "", err
		}
		permit, ok := c.breaker.Allow()
		if !ok {
			c.release()
			return "", provider.NewError(provider.KindServiceNotAvailable, c.id, "circuit open", nil)
		}
		body, err := c.do(ctx, method, target, req)
		c.release()

		switch {
		case err == nil:
			c.breaker.Success(permit)
			return body, nil
		case ctx.Err() != nil:
			c.breaker.Cancel(permit)
			return "", ctx.Err()
		case provider.KindOf(err) == provider.KindServiceNotAvailable:
			c.breaker.Failure(permit)
			return "", err
		case !isTransient(err):
			// the service answered, so it is up
			c.breaker.Success(permit)
			return "", err
		}

		c.breaker.Failure(permit)
		if attempt >= maxExtraRetries(c.cfg.MaxRetries, err) {
			return "", provider.NewError(provider.KindServiceNotAvailable, c.id,
				fmt.Sprintf("giving up after %d attempts", attempt+1), err)
		}
		sleep := backoffSleep(c.cfg.BackoffInitial, c.cfg.BackoffMax, c.cfg.BackoffJitterFrac, attempt)
		c.log.Debug().Str("provider", c.id).Int("attempt", attempt+1).Dur("sleep", sleep).Err(err).Msg("retrying")
		if err := sleepCtx(ctx, sleep); err != nil {
			return "", err
		}
	}
}

func (c *Client) acquire(ctx context.Context) error {
	if c.throttle != nil {
		if err := c.throttle.Acquire(ctx); err != nil {
			var pe *provider.Error
			if errors.As(err, &pe) && pe.Provider == "" {
				pe.Provider = c.id
			}
			return err
		}
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) release() {
	if c.sem != nil {
		c.sem.Release(1)
	}
}

// maxBody bounds how much of a response is read.
const maxBody = 8 << 20

func (c *Client) do(ctx context.Context, method, target string, req Request) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var body io.Reader
	switch {
	case len(req.Form) > 0:
		body = strings.NewReader(req.Form.Encode())
	case req.Body != "":
		body = strings.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", c.id, err)
	}
	if len(req.Form) > 0 {
		hreq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}

	op := method + " " + target
	start := time.Now()
	resp, err := c.http.Do(hreq)
	if err != nil {
		c.observer.ObserveRequest(c.id, "error", time.Since(start))
		if transportTransient(err) {
			return "", &core.TransientError{Err: fmt.Errorf("%s: %w", c.id, err)}
		}
		return "", provider.NewError(provider.KindServiceNotAvailable, c.id, "request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	c.observer.ObserveRequest(c.id, strconv.Itoa(resp.StatusCode), time.Since(start))
	if c.onResponse != nil {
		c.onResponse(resp.Header)
	}
	if err != nil {
		return "", &core.TransientError{Err: fmt.Errorf("%s: read body: %w", c.id, err)}
	}

	switch {
	case resp.StatusCode/100 == 2:
		return string(b), nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &core.LimitedTransientError{Err: newHTTPError(op, resp, b), ExtraRetries: 1}
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return "", &core.TransientError{Err: newHTTPError(op, resp, b)}
	default:
		return "", provider.NewError(provider.KindUnknownResponse, c.id, "", newHTTPError(op, resp, b))
	}
}

// NewHTTPClient returns the transport shared by all providers of a batch.
// caPath optionally replaces the system trust store with a PEM bundle.
func NewHTTPClient(caPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 16
	if strings.TrimSpace(caPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(caPath))
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse CA bundle: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: tr}, nil
}
