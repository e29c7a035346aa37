// Package monitor periodically probes remote providers and flips their
// availability flags.
package monitor

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/worker"
)

type Options struct {
	// Interval between probe rounds. Default 10s.
	Interval time.Duration
	// Timeout for a single probe. Default 5s.
	Timeout time.Duration
	// Client is used for probes; it must not be the resolution client.
	Client *http.Client
	Logger zerolog.Logger
	// OnProbe, when set, is called after every probe.
	OnProbe func(providerID string, up bool)
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: o.Timeout}
	}
	return o
}

// Monitor runs a background probe loop. A provider is available iff its base
// URL answers 200.
type Monitor struct {
	targets []provider.Prober
	opts    Options

	first     chan struct{}
	firstOnce sync.Once

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func New(targets []provider.Prober, opts Options) *Monitor {
	return &Monitor{
		targets: targets,
		opts:    opts.withDefaults(),
		first:   make(chan struct{}),
	}
}

// Start launches the probe loop. Calling Start twice, or after Stop, does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil || m.stopped {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx, m.done)
}

// FirstCheck is closed once the first probe round has completed (or the
// monitor was stopped before it could).
func (m *Monitor) FirstCheck() <-chan struct{} { return m.first }

// Stop ends the loop and waits for it. It is safe to call more than once and before Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.firstOnce.Do(func() { close(m.first) })
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.CheckOnce(ctx)
	m.firstOnce.Do(func() { close(m.first) })

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce probes every target concurrently and updates its availability.
func (m *Monitor) CheckOnce(ctx context.Context) {
	if len(m.targets) == 0 {
		return
	}
	results, _ := worker.ProcessAll(ctx, m.targets,
		func(ctx context.Context, t provider.Prober) (bool, error) {
			return m.probe(ctx, t.BaseURL()), nil
		},
		worker.Options{Workers: len(m.targets)},
	)
	if ctx.Err() != nil {
		return
	}
	for _, r := range results {
		t, up := r.Input, r.Output
		t.SetAvailable(up)
		if !up {
			m.opts.Logger.Warn().Str("provider", t.ID()).Str("url", t.BaseURL()).Msg("provider unreachable")
		}
		if m.opts.OnProbe != nil {
			m.opts.OnProbe(t.ID(), up)
		}
	}
}

func (m *Monitor) probe(ctx context.Context, base string) bool {
	pctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, base, nil)
	if err != nil {
		return false
	}
	resp, err := m.opts.Client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode == http.StatusOK
}
