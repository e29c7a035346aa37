package report

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/metaenhancer/metaenhancer/internal/provider"
)

// RecordObserver receives every finished record, e.g. for metrics.
type RecordObserver interface {
	ObserveRecord(r *Record)
}

// Aggregator is the diagnostics sink for a batch. It is safe for concurrent use.
type Aggregator struct {
	log       zerolog.Logger
	verbosity Severity
	observer  RecordObserver

	mu         sync.Mutex
	coverage   *Coverage
	lastError  string
	records    int
	bySeverity map[Severity]int
	byKind     map[provider.Kind]int
}

// NewAggregator emits entries at or above verbosity through log and tracks coverage.
func NewAggregator(log zerolog.Logger, verbosity Severity, coverage *Coverage) *Aggregator {
	return &Aggregator{
		log:        log,
		verbosity:  verbosity,
		coverage:   coverage,
		bySeverity: map[Severity]int{},
		byKind:     map[provider.Kind]int{},
	}
}

// SetObserver attaches a RecordObserver. Call before Add.
func (a *Aggregator) SetObserver(o RecordObserver) { a.observer = o }

// Add folds a finished record into the batch totals and logs its visible entries.
func (a *Aggregator) Add(r *Record) {
	if r == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.records++
	if a.coverage != nil {
		a.coverage.Before(r.Before.Keys())
		a.coverage.After(r.After)
	}
	for _, e := range r.Entries {
		a.bySeverity[e.Severity]++
		if e.Kind != "" {
			a.byKind[e.Kind]++
		}
	}
	for _, e := range r.Visible(a.verbosity) {
		a.emit(r.ID, e)
	}
	if a.observer != nil {
		a.observer.ObserveRecord(r)
	}
}

func (a *Aggregator) emit(id string, e Entry) {
	var ev *zerolog.Event
	switch e.Severity {
	case Error:
		// the same failure tends to repeat for every entity in a run
		if e.Message == a.lastError {
			return
		}
		a.lastError = e.Message
		ev = a.log.Error()
	case Warning:
		ev = a.log.Warn()
	default:
		ev = a.log.Info()
	}
	ev = ev.Str("entity", id).Str("job", e.Job.String())
	if e.Kind != "" {
		ev = ev.Str("kind", string(e.Kind))
	}
	ev.Msg(e.Message)
}

// Coverage returns the coverage tracker, or nil.
func (a *Aggregator) Coverage() *Coverage { return a.coverage }

// Summary is the batch-level count of diagnostics.
type Summary struct {
	Entities int                   `yaml:"entities"`
	Info     int                   `yaml:"info"`
	Warnings int                   `yaml:"warnings"`
	Errors   int                   `yaml:"errors"`
	ByKind   map[provider.Kind]int `yaml:"by_kind,omitempty"`
}

func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	byKind := make(map[provider.Kind]int, len(a.byKind))
	for k, v := range a.byKind {
		byKind[k] = v
	}
	return Summary{
		Entities: a.records,
		Info:     a.bySeverity[Info],
		Warnings: a.bySeverity[Warning],
		Errors:   a.bySeverity[Error],
		ByKind:   byKind,
	}
}

// Kinds returns the error kinds seen, sorted.
func (s Summary) Kinds() []provider.Kind {
	out := make([]provider.Kind, 0, len(s.ByKind))
	for k := range s.ByKind {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Report is the YAML document written at the end of a run.
type Report struct {
	RunID    string        `yaml:"run_id"`
	Started  time.Time     `yaml:"started"`
	Finished time.Time     `yaml:"finished"`
	Summary  Summary       `yaml:"summary"`
	Coverage []CoverageRow `yaml:"coverage"`
	Records  []*Record     `yaml:"records,omitempty"`
}

// WriteYAML encodes the report.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
