package report_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/metaenhancer/metaenhancer/internal/job"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/internal/report"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

var testJob = job.Job{Source: "name", Target: "inchi", Provider: "pubchem"}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want report.Severity
	}{
		{in: "info", want: report.Info},
		{in: "1", want: report.Info},
		{in: "Warning", want: report.Warning},
		{in: "2", want: report.Warning},
		{in: "error", want: report.Error},
	}
	for _, tt := range tests {
		got, err := report.ParseSeverity(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseSeverity(%q)=%v,%v want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := report.ParseSeverity("loud"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRecord(t *testing.T) {
	t.Parallel()

	m := core.Metadata{"name": "ethanol"}
	r := report.NewRecord("row-1", m)
	r.Infof(testJob, "already present")
	r.Add(report.Warning, testJob, provider.NewError(provider.KindServiceNotAvailable, "pubchem", "circuit open", nil))
	r.Add(report.Error, testJob, errors.New("boom Bearer abc.def"))
	r.Add(report.Error, testJob, nil)

	m["inchi"] = "InChI=1S/C2H6O/c1-2-3/h3H,2H2,1H3"
	r.Finish(m)

	if r.Count(report.Warning) != 1 || r.Count(report.Error) != 1 || r.Count(report.Info) != 1 {
		t.Fatalf("unexpected counts: %#v", r.Entries)
	}
	if got := r.Entries[1].Kind; got != provider.KindServiceNotAvailable {
		t.Fatalf("unexpected kind %q", got)
	}
	if strings.Contains(r.Entries[2].Message, "abc.def") {
		t.Fatalf("expected redacted message, got %q", r.Entries[2].Message)
	}
	if len(r.Visible(report.Warning)) != 2 {
		t.Fatalf("warning verbosity shows warnings and errors")
	}
	if len(r.Visible(report.Info)) != 3 {
		t.Fatalf("info verbosity shows everything")
	}
	added := r.Added()
	if len(added) != 1 || added[0] != "inchi" {
		t.Fatalf("unexpected added: %v", added)
	}
	if r.Before.Has("inchi") {
		t.Fatalf("before snapshot must not follow later changes")
	}
}

func TestCoverage(t *testing.T) {
	t.Parallel()

	c := report.NewCoverage([]string{"smiles", "inchi"}, 4)
	c.Before([]string{"inchi"})
	c.After([]string{"inchi", "smiles"})
	c.After([]string{"inchi"})
	c.After([]string{"smiles", "casno"})

	rows := c.Rows()
	if len(rows) != 2 || rows[0].Attribute != "inchi" || rows[1].Attribute != "smiles" {
		t.Fatalf("unexpected rows: %#v", rows)
	}
	if rows[0].Before != 25 || rows[0].After != 50 || rows[1].After != 50 {
		t.Fatalf("unexpected percentages: %#v", rows)
	}
	out := c.Render()
	if !strings.Contains(out, "25.00%") || !strings.Contains(out, "coverage after") {
		t.Fatalf("unexpected table:\n%s", out)
	}

	if got := report.NewCoverage([]string{"x"}, 0).Rows()[0].After; got != 0 {
		t.Fatalf("empty batch coverage must be 0, got %v", got)
	}
}

type recordCounter struct{ n int }

func (c *recordCounter) ObserveRecord(*report.Record) { c.n++ }

func TestAggregator(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := zerolog.New(&buf)
	agg := report.NewAggregator(log, report.Warning, report.NewCoverage([]string{"inchi"}, 2))
	obs := &recordCounter{}
	agg.SetObserver(obs)

	for i := 0; i < 2; i++ {
		r := report.NewRecord("row", core.Metadata{"name": "x"})
		r.Infof(testJob, "already present")
		r.Add(report.Error, testJob, errors.New("upstream exploded"))
		r.Finish(core.Metadata{"name": "x", "inchi": "InChI=1S/x"})
		agg.Add(r)
	}

	s := agg.Summary()
	if s.Entities != 2 || s.Info != 2 || s.Errors != 2 {
		t.Fatalf("unexpected summary: %#v", s)
	}
	if s.ByKind[provider.KindUnknown] != 2 || len(s.Kinds()) != 1 {
		t.Fatalf("unexpected kinds: %#v", s.ByKind)
	}
	if obs.n != 2 {
		t.Fatalf("observer saw %d records", obs.n)
	}

	logged := buf.String()
	if strings.Count(logged, "upstream exploded") != 1 {
		t.Fatalf("repeated error should be logged once:\n%s", logged)
	}
	if strings.Contains(logged, "already present") {
		t.Fatalf("info entries are hidden at warning verbosity:\n%s", logged)
	}
	if agg.Coverage().Rows()[0].After != 100 {
		t.Fatalf("unexpected coverage: %#v", agg.Coverage().Rows())
	}
}

func TestReportWriteYAML(t *testing.T) {
	t.Parallel()

	r := report.NewRecord("row-1", core.Metadata{"name": "x"})
	r.Add(report.Warning, testJob, provider.NewError(provider.KindUnknownResponse, "pubchem", "status 500", nil))
	doc := &report.Report{
		RunID:   "run",
		Summary: report.Summary{Entities: 1, Warnings: 1},
		Records: []*report.Record{r},
	}
	var buf bytes.Buffer
	if err := doc.WriteYAML(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"run_id: run", "severity: warning", "kind: UnknownResponse", "provider: pubchem"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
