// Package report collects per-entity diagnostics and attribute coverage for a batch.
package report

import (
	"fmt"
	"strings"

	"github.com/metaenhancer/metaenhancer/internal/job"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/redact"
)

type Severity int

const (
	Info    Severity = 1
	Warning Severity = 2
	Error   Severity = 3
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

func (s Severity) MarshalYAML() (any, error) { return s.String(), nil }

// ParseSeverity accepts the level names and their numeric forms ("1", "2", "3").
func ParseSeverity(raw string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "info", "1", "":
		return Info, nil
	case "warning", "warn", "2":
		return Warning, nil
	case "error", "3":
		return Error, nil
	default:
		return 0, fmt.Errorf("unknown verbosity %q", raw)
	}
}

// Entry is one diagnostic produced while resolving an entity.
type Entry struct {
	Severity Severity      `yaml:"severity"`
	Job      job.Job       `yaml:"job"`
	Kind     provider.Kind `yaml:"kind,omitempty"`
	Message  string        `yaml:"message"`
}

func (e Entry) String() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s [%s] %s", e.Job, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s %s", e.Job, e.Message)
}

// Record holds everything observed while resolving one entity.
type Record struct {
	ID      string        `yaml:"id"`
	Before  core.Metadata `yaml:"before"`
	After   []string      `yaml:"after"`
	Entries []Entry       `yaml:"entries,omitempty"`
}

// NewRecord snapshots m before resolution starts.
func NewRecord(id string, m core.Metadata) *Record {
	return &Record{ID: id, Before: m.Clone()}
}

// Add appends an entry classified from err. Error strings are redacted.
func (r *Record) Add(sev Severity, j job.Job, err error) {
	if err == nil {
		return
	}
	r.Entries = append(r.Entries, Entry{
		Severity: sev,
		Job:      j,
		Kind:     provider.KindOf(err),
		Message:  redact.Secrets(err.Error()),
	})
}

// Infof appends an unclassified informational entry.
func (r *Record) Infof(j job.Job, format string, args ...any) {
	r.Entries = append(r.Entries, Entry{Severity: Info, Job: j, Message: fmt.Sprintf(format, args...)})
}

// Finish records which attributes are present after resolution.
func (r *Record) Finish(m core.Metadata) {
	r.After = m.Keys()
}

// Visible returns the entries shown at the given verbosity. Errors are always shown.
func (r *Record) Visible(verbosity Severity) []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Severity >= verbosity {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of entries with the given severity.
func (r *Record) Count(sev Severity) int {
	n := 0
	for _, e := range r.Entries {
		if e.Severity == sev {
			n++
		}
	}
	return n
}

// Added lists attributes present after resolution that were absent before.
func (r *Record) Added() []string {
	var out []string
	for _, k := range r.After {
		if !r.Before.Has(k) {
			out = append(out, k)
		}
	}
	return out
}
