package monitor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metaenhancer/metaenhancer/internal/monitor"
	"github.com/metaenhancer/metaenhancer/internal/provider"
)

type target struct {
	id   string
	base string
	up   atomic.Bool
	sets atomic.Int32
}

func newTarget(id, base string) *target {
	t := &target{id: id, base: base}
	t.up.Store(true)
	return t
}

func (t *target) ID() string      { return t.id }
func (t *target) BaseURL() string { return t.base }
func (t *target) SetAvailable(v bool) {
	t.sets.Add(1)
	t.up.Store(v)
}

func TestMonitor_FlipsAvailability(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	healthy.Store(false)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	good := newTarget("good", srv.URL)
	dead := newTarget("dead", "http://127.0.0.1:1")

	m := monitor.New([]provider.Prober{good, dead}, monitor.Options{
		Interval: 10 * time.Millisecond,
		Timeout:  500 * time.Millisecond,
	})
	m.Start(context.Background())
	defer m.Stop()

	select {
	case <-m.FirstCheck():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first check")
	}
	if good.up.Load() || dead.up.Load() {
		t.Fatalf("expected both targets down after first check")
	}

	healthy.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !good.up.Load() {
		time.Sleep(5 * time.Millisecond)
	}
	if !good.up.Load() {
		t.Fatalf("expected target to come back up")
	}
	if dead.up.Load() {
		t.Fatalf("unreachable target must stay down")
	}
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	m := monitor.New(nil, monitor.Options{})
	m.Stop()
	m.Stop()
	select {
	case <-m.FirstCheck():
	default:
		t.Fatalf("stop must release FirstCheck waiters")
	}
	// Start after Stop must not launch anything.
	m.Start(context.Background())
	m.Stop()
}

func TestMonitor_StopJoinsLoop(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	tg := newTarget("p", srv.URL)
	m := monitor.New([]provider.Prober{tg}, monitor.Options{Interval: 5 * time.Millisecond})
	m.Start(context.Background())
	<-m.FirstCheck()
	m.Stop()

	after := tg.sets.Load()
	time.Sleep(30 * time.Millisecond)
	if tg.sets.Load() != after {
		t.Fatalf("probes continued after Stop")
	}
}

func TestCheckOnce(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	var probed atomic.Int32
	tg := newTarget("p", srv.URL)
	tg.up.Store(false)
	m := monitor.New([]provider.Prober{tg}, monitor.Options{OnProbe: func(string, bool) { probed.Add(1) }})
	m.CheckOnce(context.Background())
	if !tg.up.Load() || probed.Load() != 1 {
		t.Fatalf("expected a single successful probe")
	}
}
