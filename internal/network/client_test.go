package network_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metaenhancer/metaenhancer/internal/network"
	"github.com/metaenhancer/metaenhancer/internal/provider"
)

func fastConfig() network.Config {
	return network.Config{
		RequestTimeout:   time.Second,
		MaxRetries:       3,
		BackoffInitial:   time.Millisecond,
		BackoffMax:       2 * time.Millisecond,
		BreakerThreshold: 10,
		BreakerCooldown:  time.Minute,
	}
}

func TestQuery_CachesAndDedups(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = io.WriteString(w, "CCO\n")
	}))
	defer srv.Close()

	c := network.NewClient("cir", srv.Client(), map[string]string{"api": srv.URL + "/structure/"}, fastConfig())

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, err := c.Query(context.Background(), network.Request{Endpoint: "api", Args: "ethanol/smiles"})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = body
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if _, err := c.Query(context.Background(), network.Request{Endpoint: "api", Args: "ethanol/smiles"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single upstream call, got %d", got)
	}
	for _, r := range results {
		if r != "CCO\n" {
			t.Fatalf("unexpected body %q", r)
		}
	}
}

func TestQuery_SharedCallSurvivesCallerTimeout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = io.WriteString(w, "InChI=1S/C2H6O/c1-2-3/h3H,2H2,1H3")
	}))
	defer srv.Close()

	c := network.NewClient("pubchem", srv.Client(), map[string]string{"api": srv.URL + "/"}, fastConfig())
	req := network.Request{Endpoint: "api", Args: "name/ethanol/inchi"}

	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	errA := make(chan error, 1)
	go func() {
		_, err := c.Query(shortCtx, req)
		errA <- err
	}()

	type result struct {
		body string
		err  error
	}
	resB := make(chan result, 1)
	time.Sleep(10 * time.Millisecond)
	go func() {
		body, err := c.Query(context.Background(), req)
		resB <- result{body, err}
	}()

	if err := <-errA; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the short caller to time out, got %v", err)
	}
	close(release)

	b := <-resB
	if b.err != nil {
		t.Fatalf("live caller must not inherit another caller's deadline: %v (kind %s)", b.err, provider.KindOf(b.err))
	}
	if !strings.HasPrefix(b.body, "InChI=") {
		t.Fatalf("unexpected body %q", b.body)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one shared upstream call, got %d", got)
	}
}

func TestQuery_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c := network.NewClient("p", srv.Client(), map[string]string{"api": srv.URL + "/"}, fastConfig())
	body, err := c.Query(context.Background(), network.Request{Endpoint: "api", Args: "x"})
	if err != nil || body != "ok" {
		t.Fatalf("unexpected result %q, %v", body, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestQuery_GivesUpAsServiceNotAvailable(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.MaxRetries = 2
	c := network.NewClient("p", srv.Client(), map[string]string{"api": srv.URL + "/"}, cfg)
	_, err := c.Query(context.Background(), network.Request{Endpoint: "api", Args: "x"})
	if !errors.Is(err, provider.ErrServiceNotAvailable) {
		t.Fatalf("expected ServiceNotAvailable, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d", calls.Load())
	}
}

func TestQuery_UnknownResponseIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "no such compound\napi_key=hunter2")
	}))
	defer srv.Close()

	c := network.NewClient("p", srv.Client(), map[string]string{"api": srv.URL + "/"}, fastConfig())
	_, err := c.Query(context.Background(), network.Request{Endpoint: "api", Args: "x"})
	if !errors.Is(err, provider.ErrUnknownResponse) {
		t.Fatalf("expected UnknownResponse, got %v", err)
	}
	var he *network.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusNotFound {
		t.Fatalf("expected wrapped HTTPError, got %#v", err)
	}
	if strings.Contains(err.Error(), "hunter2") || strings.Contains(he.Snippet, "\n") {
		t.Fatalf("snippet must be redacted and single-line: %q", he.Snippet)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retries, got %d calls", calls.Load())
	}
	if c.Breaker().State() != network.BreakerClosed {
		t.Fatalf("an answered request keeps the breaker closed")
	}
}

func TestQuery_OpenBreakerSkipsIO(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.BreakerThreshold = 2
	cfg.MaxRetries = 5
	c := network.NewClient("p", srv.Client(), map[string]string{"api": srv.URL + "/"}, cfg)

	_, err := c.Query(context.Background(), network.Request{Endpoint: "api", Args: "a"})
	if !errors.Is(err, provider.ErrServiceNotAvailable) {
		t.Fatalf("expected ServiceNotAvailable, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("breaker should stop retries at threshold, got %d calls", calls.Load())
	}

	_, err = c.Query(context.Background(), network.Request{Endpoint: "api", Args: "b"})
	if !errors.Is(err, provider.ErrServiceNotAvailable) {
		t.Fatalf("expected ServiceNotAvailable, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("open breaker must not hit the network, got %d calls", calls.Load())
	}
}

func TestQuery_HalfOpenTrialCloses(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	clock := newFakeClock()
	cfg := fastConfig()
	cfg.BreakerThreshold = 1
	cfg.MaxRetries = 0
	c := network.NewClient("p", srv.Client(), map[string]string{"api": srv.URL + "/"}, cfg, network.WithClock(clock.Now))

	if _, err := c.Query(context.Background(), network.Request{Endpoint: "api", Args: "a"}); err == nil {
		t.Fatalf("expected failure")
	}
	if c.Breaker().State() != network.BreakerOpen {
		t.Fatalf("expected open breaker")
	}

	healthy.Store(true)
	clock.Advance(cfg.BreakerCooldown)
	body, err := c.Query(context.Background(), network.Request{Endpoint: "api", Args: "b"})
	if err != nil || body != "ok" {
		t.Fatalf("unexpected trial result %q, %v", body, err)
	}
	if c.Breaker().State() != network.BreakerClosed {
		t.Fatalf("successful trial must close the breaker")
	}
}

func TestQuery_PostFormAndHooks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("query") != "SELECT 1" || r.Header.Get("Accept") != "application/json" {
			t.Errorf("unexpected request: %v %v", r.PostForm, r.Header)
		}
		w.Header().Set("X-Load", "green")
		_, _ = io.WriteString(w, "{}")
	}))
	defer srv.Close()

	var seen atomic.Value
	store := newMemStore()
	c := network.NewClient("idsm", srv.Client(), map[string]string{"sparql": srv.URL + "/sparql"}, fastConfig(),
		network.WithResponseHook(func(h http.Header) { seen.Store(h.Get("X-Load")) }),
		network.WithStore(store),
	)
	req := network.Request{
		Endpoint: "sparql",
		Method:   http.MethodPost,
		Form:     url.Values{"query": {"SELECT 1"}},
		Headers:  map[string]string{"Accept": "application/json"},
	}
	if _, err := c.Query(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen.Load() != "green" {
		t.Fatalf("response hook not called")
	}
	if store.Len() != 1 {
		t.Fatalf("expected the body to be stored")
	}

	// a fresh client served purely from the store
	srv.Close()
	c2 := network.NewClient("idsm", srv.Client(), map[string]string{"sparql": srv.URL + "/sparql"}, fastConfig(), network.WithStore(store))
	body, err := c2.Query(context.Background(), req)
	if err != nil || body != "{}" {
		t.Fatalf("expected stored body, got %q, %v", body, err)
	}
}

func TestQuery_UnknownEndpoint(t *testing.T) {
	t.Parallel()

	c := network.NewClient("p", nil, map[string]string{}, fastConfig())
	if _, err := c.Query(context.Background(), network.Request{Endpoint: "nope"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBaseURL(t *testing.T) {
	t.Parallel()

	c := network.NewClient("p", nil, map[string]string{
		"b": "https://other.example/x",
		"a": "https://pubchem.ncbi.nlm.nih.gov/rest/pug/compound/",
	}, fastConfig())
	if got := c.BaseURL(); got != "https://pubchem.ncbi.nlm.nih.gov" {
		t.Fatalf("unexpected base url %q", got)
	}
}

type memStore struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemStore() *memStore { return &memStore{m: map[string]string{}} }

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *memStore) Put(_ context.Context, key, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = body
	return nil
}

func (s *memStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
