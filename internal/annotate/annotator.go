// Package annotate runs the attribute resolution loop over entities.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/metaenhancer/metaenhancer/internal/curate"
	"github.com/metaenhancer/metaenhancer/internal/job"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/internal/report"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

const tracerName = "github.com/metaenhancer/metaenhancer/internal/annotate"

// Annotator resolves one entity at a time against a fixed provider registry.
// It keeps no per-entity state between calls and is safe for concurrent use.
type Annotator struct {
	reg    provider.Registry
	log    zerolog.Logger
	tracer trace.Tracer
}

type Option func(*Annotator)

func WithLogger(l zerolog.Logger) Option { return func(a *Annotator) { a.log = l } }

func WithTracer(t trace.Tracer) Option { return func(a *Annotator) { a.tracer = t } }

func New(reg provider.Registry, opts ...Option) *Annotator {
	a := &Annotator{
		reg:    reg,
		log:    zerolog.Nop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Registry returns the providers the annotator resolves against.
func (a *Annotator) Registry() provider.Registry { return a.reg }

// slot identifies a (provider, target) pair within one resolution.
type slot struct {
	provider string
	target   string
}

// resolution is the state of one Resolve call. It never outlives it.
type resolution struct {
	m         core.Metadata
	rec       *report.Record
	cache     map[string]core.Metadata
	attempted map[slot]bool
}

// Resolve derives missing attributes of e by running jobs in order. With
// repeat set, passes continue until one adds nothing. Every job outcome is
// recorded; no job failure stops the resolution. The entity is updated
// through SetMetadata before Resolve returns.
func (a *Annotator) Resolve(ctx context.Context, e core.Entity, jobs []job.Job, repeat bool) *report.Record {
	m := e.Metadata()
	if m == nil {
		m = core.Metadata{}
	}
	id := ""
	if named, ok := e.(interface{ EntityID() string }); ok {
		id = named.EntityID()
	}

	ctx, span := a.tracer.Start(ctx, "annotate.resolve", trace.WithAttributes(
		attribute.String("entity", id),
		attribute.Int("jobs", len(jobs)),
	))
	defer span.End()

	r := &resolution{
		m:         m,
		rec:       report.NewRecord(id, m),
		cache:     map[string]core.Metadata{},
		attempted: map[slot]bool{},
	}

	passes := 0
	for {
		passes++
		added, err := a.pass(ctx, r, jobs)
		if err != nil {
			r.rec.Add(report.Error, job.Job{}, fmt.Errorf("resolution interrupted: %w", err))
			span.SetStatus(codes.Error, err.Error())
			break
		}
		if !repeat || !added {
			break
		}
	}

	e.SetMetadata(m)
	r.rec.Finish(m)
	span.SetAttributes(attribute.Int("passes", passes), attribute.Int("added", len(r.rec.Added())))
	a.log.Debug().Str("entity", id).Int("passes", passes).Strs("added", r.rec.Added()).Msg("entity resolved")
	return r.rec
}

// pass runs every job once and reports whether any attribute was added. It
// only fails when ctx is done.
func (a *Annotator) pass(ctx context.Context, r *resolution, jobs []job.Job) (bool, error) {
	added := false
	// slots whose provider was unavailable are skipped for the rest of this pass
	unavailable := map[slot]bool{}

	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		if r.m.Has(j.Target) {
			r.rec.Infof(j, "attribute %s already present", j.Target)
			continue
		}
		p, value, err := j.Validate(a.reg, r.m)
		if err != nil {
			r.rec.Add(severity(err), j, err)
			continue
		}

		s := slot{provider: j.Provider, target: j.Target}
		if cached := r.cache[j.Provider]; cached.Has(j.Target) {
			r.m[j.Target] = cached[j.Target]
			added = true
			continue
		}
		if r.attempted[s] || unavailable[s] {
			continue
		}

		attrs, err := a.convert(ctx, p, j, value)
		if err != nil {
			if errors.Is(err, provider.ErrServiceNotAvailable) {
				unavailable[s] = true
			} else {
				r.attempted[s] = true
			}
			if ctx.Err() != nil {
				return added, ctx.Err()
			}
			r.rec.Add(severity(err), j, err)
			continue
		}
		r.attempted[s] = true

		attrs = curate.FilterInvalid(attrs, r.rec, j)
		cached := r.cache[j.Provider]
		if cached == nil {
			cached = core.Metadata{}
			r.cache[j.Provider] = cached
		}
		for k, v := range attrs {
			cached[k] = v
		}
		if !cached.Has(j.Target) {
			r.rec.Add(report.Warning, j, &provider.Error{
				Kind:     provider.KindTargetAttributeNotRetrieved,
				Provider: j.Provider,
				Source:   j.Source,
				Target:   j.Target,
				Msg:      "conversion retrieved no usable data",
			})
			continue
		}
		r.m[j.Target] = cached[j.Target]
		added = true
	}
	return added, nil
}

// convert calls the provider inside its own span. A panicking provider is
// reported as an error of unknown kind.
func (a *Annotator) convert(ctx context.Context, p provider.Provider, j job.Job, value any) (attrs core.Metadata, err error) {
	ctx, span := a.tracer.Start(ctx, "provider.convert", trace.WithAttributes(
		attribute.String("provider", j.Provider),
		attribute.String("source", j.Source),
		attribute.String("target", j.Target),
	))
	defer func() {
		if rec := recover(); rec != nil {
			a.log.Error().Str("job", j.String()).Bytes("stack", debug.Stack()).Msg("provider panicked")
			attrs, err = nil, fmt.Errorf("%s panicked: %v", j, rec)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(provider.KindOf(err)))
		}
		span.End()
	}()

	return p.Convert(ctx, j.Source, j.Target, value)
}

// severity maps an error onto the diagnostic level it is reported at.
func severity(err error) report.Severity {
	switch provider.KindOf(err) {
	case provider.KindSourceAttributeMissing:
		return report.Info
	case provider.KindConversionNotSupported,
		provider.KindServiceNotAvailable,
		provider.KindUnknownResponse,
		provider.KindTargetAttributeNotRetrieved,
		provider.KindInvalidAttributeFormat:
		return report.Warning
	default:
		return report.Error
	}
}
