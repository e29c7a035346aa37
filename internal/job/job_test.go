package job_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/metaenhancer/metaenhancer/internal/job"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

func newRegistry(t *testing.T) provider.Registry {
	t.Helper()
	noop := func(context.Context, string) (core.Metadata, error) { return nil, nil }
	a := provider.NewBase("pubchem")
	a.Register("name", "inchi", noop)
	a.Register("inchi", "smiles", noop)
	b := provider.NewBase("cir")
	b.Register("casno", "smiles", noop)
	reg, err := provider.NewRegistry(a, b)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	m := core.Metadata{"name": "ethanol", "casno": ""}

	tests := []struct {
		name    string
		job     job.Job
		wantErr error
	}{
		{name: "ok", job: job.Job{Source: "name", Target: "inchi", Provider: "pubchem"}},
		{name: "unknown provider", job: job.Job{Source: "name", Target: "inchi", Provider: "nope"}, wantErr: provider.ErrConversionNotSupported},
		{name: "missing source", job: job.Job{Source: "inchi", Target: "smiles", Provider: "pubchem"}, wantErr: provider.ErrSourceAttributeMissing},
		{name: "blank source", job: job.Job{Source: "casno", Target: "smiles", Provider: "cir"}, wantErr: provider.ErrSourceAttributeMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, v, err := tt.job.Validate(reg, m)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.ID() != "pubchem" || v != "ethanol" {
				t.Fatalf("unexpected provider/value: %s %v", p.ID(), v)
			}
		})
	}
	if len(m) != 2 {
		t.Fatalf("validate must not modify metadata: %#v", m)
	}
}

func TestRunnable(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	tests := []struct {
		job  job.Job
		want bool
	}{
		{job.Job{Source: "name", Target: "inchi", Provider: "pubchem"}, true},
		{job.Job{Source: "casno", Target: "smiles", Provider: "cir"}, true},
		{job.Job{Source: "casno", Target: "smiles", Provider: "pubchem"}, false},
		{job.Job{Source: "name", Target: "inchi", Provider: "nope"}, false},
	}
	for _, tt := range tests {
		if got := tt.job.Runnable(reg); got != tt.want {
			t.Fatalf("%s: Runnable = %v, want %v", tt.job, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	j, err := job.Parse(" name , inchi,pubchem")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j != (job.Job{Source: "name", Target: "inchi", Provider: "pubchem"}) {
		t.Fatalf("unexpected job: %#v", j)
	}
	if j.String() != "pubchem: name -> inchi" {
		t.Fatalf("unexpected string: %q", j.String())
	}
	for _, bad := range []string{"", "a,b", "a,,c", "a,b,c,d"} {
		if _, err := job.Parse(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFromProviders(t *testing.T) {
	t.Parallel()

	jobs := job.FromProviders(newRegistry(t))
	want := []job.Job{
		{Source: "casno", Target: "smiles", Provider: "cir"},
		{Source: "name", Target: "inchi", Provider: "pubchem"},
		{Source: "inchi", Target: "smiles", Provider: "pubchem"},
	}
	if len(jobs) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(jobs))
	}
	for i := range want {
		if jobs[i] != want[i] {
			t.Fatalf("jobs[%d]=%v want %v", i, jobs[i], want[i])
		}
	}
	targets := job.Targets(jobs)
	if len(targets) != 2 || targets[0] != "smiles" || targets[1] != "inchi" {
		t.Fatalf("unexpected targets: %v", targets)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.yaml")
	content := "jobs:\n  - {source: name, target: inchi, provider: pubchem}\n  - source: inchi\n    target: smiles\n    provider: cir\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	jobs, err := job.LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 2 || jobs[1].Provider != "cir" {
		t.Fatalf("unexpected jobs: %#v", jobs)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("jobs:\n  - {source: name}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := job.LoadFile(bad); err == nil {
		t.Fatalf("expected incomplete entry error")
	}
}
