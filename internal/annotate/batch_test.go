package annotate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/metaenhancer/metaenhancer/internal/annotate"
	"github.com/metaenhancer/metaenhancer/internal/monitor"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/internal/report"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

type probed struct {
	*fake
	base string
}

func (p *probed) BaseURL() string { return p.base }

type recordCount struct{ n atomic.Int32 }

func (c *recordCount) ObserveRecord(*report.Record) { c.n.Add(1) }

func TestBatchRun(t *testing.T) {
	t.Parallel()

	p := newFake("P").
		on("compound_name", "inchi", func(name string) (core.Metadata, error) {
			if name == "unknown" {
				return core.Metadata{}, nil
			}
			return core.Metadata{"inchi": ethanolInChI}, nil
		}).
		on("inchi", "inchikey", returns(core.Metadata{"inchikey": ethanolInChIKey}))

	entities := []core.Entity{
		&core.MapEntity{ID: "a", Data: core.Metadata{"compound_name": "ethanol"}},
		&core.MapEntity{Data: core.Metadata{"compound_name": "unknown"}},
		&core.MapEntity{ID: "c", Data: core.Metadata{"compound_name": "ethanol", "casno": "64175"}},
	}
	obs := &recordCount{}
	b := &annotate.Batch{
		Annotator: annotate.New(registry(t, p)),
		Logger:    zerolog.Nop(),
		Observer:  obs,
		Options:   annotate.Options{Workers: 2, Repeat: true, Curate: true},
	}

	res, err := b.Run(context.Background(), entities, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Jobs) != 2 {
		t.Fatalf("jobs must default to the registry conversions, got %v", res.Jobs)
	}
	if len(res.Records) != 3 || res.Records[0].ID != "a" || res.Records[1].ID != "2" || res.Records[2].ID != "c" {
		t.Fatalf("unexpected records %v", res.Records)
	}
	if obs.n.Load() != 3 {
		t.Fatalf("observer saw %d records", obs.n.Load())
	}

	first := entities[0].Metadata()
	if first["inchikey"] != ethanolInChIKey {
		t.Fatalf("expected a fully resolved first entity, got %v", first)
	}
	if got := entities[2].Metadata()["casno"]; got != "64-17-5" {
		t.Fatalf("input must be curated, got casno %v", got)
	}

	rows := res.Aggregator.Coverage().Rows()
	for _, row := range rows {
		if row.Before != 0 {
			t.Fatalf("nothing was present before: %+v", row)
		}
		if row.After < 66 || row.After > 67 {
			t.Fatalf("two of three entities resolved: %+v", row)
		}
	}
	if sum := res.Aggregator.Summary(); sum.Entities != 3 || sum.Warnings != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestBatchRun_MonitorGatesAvailability(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := &probed{
		fake: newFake("Remote").on("compound_name", "inchi", returns(core.Metadata{"inchi": ethanolInChI})),
		base: srv.URL,
	}
	reg := registry(t, p)
	mon := monitor.New(reg.Probers(), monitor.Options{Interval: time.Hour, Timeout: time.Second})
	b := &annotate.Batch{
		Annotator: annotate.New(reg),
		Monitor:   mon,
		Logger:    zerolog.Nop(),
		Options:   annotate.Options{FirstCheckTimeout: 5 * time.Second},
	}

	e := &core.MapEntity{ID: "x", Data: core.Metadata{"compound_name": "ethanol"}}
	res, err := b.Run(context.Background(), []core.Entity{e}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Calls()) != 0 || p.Available() {
		t.Fatalf("provider failing its probe must not be called")
	}
	rec := res.Records[0]
	if len(rec.Entries) != 1 || rec.Entries[0].Kind != provider.KindServiceNotAvailable {
		t.Fatalf("expected a ServiceNotAvailable warning, got %v", rec.Entries)
	}

	// Run stopped the monitor; FirstCheck stays closed and a second Stop is harmless.
	select {
	case <-mon.FirstCheck():
	default:
		t.Fatalf("monitor first check never completed")
	}
	mon.Stop()
}

func TestBatchRun_Cancelled(t *testing.T) {
	t.Parallel()

	p := newFake("P").on("compound_name", "inchi", returns(core.Metadata{"inchi": ethanolInChI}))
	b := &annotate.Batch{Annotator: annotate.New(registry(t, p)), Logger: zerolog.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Run(ctx, []core.Entity{entity("compound_name", "ethanol")}, nil); err == nil {
		t.Fatalf("expected an error for a cancelled batch")
	}
}
