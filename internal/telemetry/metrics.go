package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metaenhancer/metaenhancer/internal/network"
	"github.com/metaenhancer/metaenhancer/internal/report"
)

// Metrics exports provider and resolution counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
	throttleRate    *prometheus.GaugeVec
	available       *prometheus.GaugeVec
	entities        *prometheus.CounterVec
	diagnostics     *prometheus.CounterVec
	coverage        *prometheus.GaugeVec
}

var (
	_ network.Observer      = (*Metrics)(nil)
	_ report.RecordObserver = (*Metrics)(nil)
)

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Upstream requests by provider and outcome (HTTP status or error).",
		}, []string{"provider", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Upstream request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_circuit_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"provider"}),
		throttleRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_throttle_permits",
			Help:      "Current permits per period of adaptive throttles.",
		}, []string{"provider"}),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_available",
			Help:      "Result of the last availability probe: 1 up, 0 down.",
		}, []string{"provider"}),
		entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_resolved_total",
			Help:      "Resolved entities, by whether any attribute was added.",
		}, []string{"outcome"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Diagnostic entries by severity and kind.",
		}, []string{"severity", "kind"}),
		coverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attribute_coverage_percent",
			Help:      "Share of entities holding an attribute, before and after resolution.",
		}, []string{"attribute", "phase"}),
	}
	m.registry.MustRegister(
		m.requests, m.requestDuration, m.breakerState, m.throttleRate, m.available,
		m.entities, m.diagnostics, m.coverage,
	)
	return m
}

func (m *Metrics) ObserveRequest(providerID, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(providerID, outcome).Inc()
	m.requestDuration.WithLabelValues(providerID).Observe(d.Seconds())
}

func (m *Metrics) ObserveBreaker(providerID string, s network.BreakerState) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(providerID).Set(float64(s))
}

func (m *Metrics) ObserveThrottle(providerID string, permits int) {
	if m == nil {
		return
	}
	m.throttleRate.WithLabelValues(providerID).Set(float64(permits))
}

// ObserveProbe matches the monitor's OnProbe hook.
func (m *Metrics) ObserveProbe(providerID string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.available.WithLabelValues(providerID).Set(v)
}

func (m *Metrics) ObserveRecord(r *report.Record) {
	if m == nil || r == nil {
		return
	}
	outcome := "unchanged"
	if len(r.Added()) > 0 {
		outcome = "enriched"
	}
	m.entities.WithLabelValues(outcome).Inc()
	for _, e := range r.Entries {
		m.diagnostics.WithLabelValues(e.Severity.String(), string(e.Kind)).Inc()
	}
}

// SetCoverage publishes the final coverage table.
func (m *Metrics) SetCoverage(rows []report.CoverageRow) {
	if m == nil {
		return
	}
	for _, r := range rows {
		m.coverage.WithLabelValues(r.Attribute, "before").Set(r.Before)
		m.coverage.WithLabelValues(r.Attribute, "after").Set(r.After)
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
