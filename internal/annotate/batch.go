package annotate

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/metaenhancer/metaenhancer/internal/curate"
	"github.com/metaenhancer/metaenhancer/internal/job"
	"github.com/metaenhancer/metaenhancer/internal/monitor"
	"github.com/metaenhancer/metaenhancer/internal/report"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/worker"
)

type Options struct {
	// Workers is the number of entities resolved concurrently. Default 10.
	Workers int
	Repeat  bool
	// Curate repairs input metadata before resolution.
	Curate bool
	// FirstCheckTimeout bounds the wait for the monitor's first probe round.
	// Default 30s.
	FirstCheckTimeout time.Duration
	// EntityTimeout bounds one entity's resolution. Zero means none.
	EntityTimeout time.Duration
	Verbosity     report.Severity
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 10
	}
	if o.FirstCheckTimeout <= 0 {
		o.FirstCheckTimeout = 30 * time.Second
	}
	if o.Verbosity == 0 {
		o.Verbosity = report.Info
	}
	return o
}

// Batch resolves a set of entities and collects their diagnostics.
type Batch struct {
	Annotator *Annotator
	// Monitor, when set, runs for the duration of Run.
	Monitor  *monitor.Monitor
	Logger   zerolog.Logger
	Observer report.RecordObserver
	Options  Options
}

// Result is everything a finished batch produced. Records are in input order.
type Result struct {
	Records    []*report.Record
	Aggregator *report.Aggregator
	Jobs       []job.Job
}

// Run resolves every entity. Jobs default to every conversion the registry
// declares. Entity failures end up in the records; only a cancelled context
// fails the batch.
func (b *Batch) Run(ctx context.Context, entities []core.Entity, jobs []job.Job) (*Result, error) {
	opts := b.Options.withDefaults()
	if len(jobs) == 0 {
		jobs = job.FromProviders(b.Annotator.Registry())
	}

	ctx, span := b.Annotator.tracer.Start(ctx, "annotate.batch", trace.WithAttributes(
		attribute.Int("entities", len(entities)),
		attribute.Int("jobs", len(jobs)),
	))
	defer span.End()

	if b.Monitor != nil {
		b.Monitor.Start(ctx)
		defer b.Monitor.Stop()
		b.awaitFirstCheck(ctx, opts.FirstCheckTimeout)
	}

	agg := report.NewAggregator(b.Logger, opts.Verbosity, report.NewCoverage(job.Targets(jobs), len(entities)))
	if b.Observer != nil {
		agg.SetObserver(b.Observer)
	}

	records := make([]*report.Record, len(entities))
	_, err := worker.ProcessAllWithCallback(ctx, entities,
		func(ctx context.Context, e core.Entity) (*report.Record, error) {
			if opts.Curate {
				e.SetMetadata(curate.Metadata(e.Metadata()))
			}
			return b.Annotator.Resolve(ctx, e, jobs, opts.Repeat), nil
		},
		func(res worker.Result[core.Entity, *report.Record]) error {
			rec := res.Output
			if res.Err != nil {
				rec = report.NewRecord("", res.Input.Metadata())
				rec.Add(report.Error, job.Job{}, res.Err)
				rec.Finish(res.Input.Metadata())
			}
			if rec.ID == "" {
				rec.ID = strconv.Itoa(res.Index + 1)
			}
			records[res.Index] = rec
			agg.Add(rec)
			return nil
		},
		worker.Options{Workers: opts.Workers, ItemTimeout: opts.EntityTimeout},
	)
	if err != nil {
		return nil, err
	}

	sum := agg.Summary()
	b.Logger.Info().
		Int("entities", sum.Entities).
		Int("warnings", sum.Warnings).
		Int("errors", sum.Errors).
		Msg("batch finished")
	return &Result{Records: records, Aggregator: agg, Jobs: jobs}, nil
}

func (b *Batch) awaitFirstCheck(ctx context.Context, timeout time.Duration) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-b.Monitor.FirstCheck():
	case <-t.C:
		b.Logger.Warn().Dur("timeout", timeout).Msg("availability check did not finish; resolving with current flags")
	case <-ctx.Done():
	}
}
