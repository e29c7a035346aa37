// Package job describes single attribute conversions: derive Target from
// Source using one named provider.
package job

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

type Job struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	Provider string `yaml:"provider"`
}

func (j Job) String() string {
	return fmt.Sprintf("%s: %s -> %s", j.Provider, j.Source, j.Target)
}

// Validate checks the job can run against m and returns the provider and the
// current source value. It does not touch m.
func (j Job) Validate(reg provider.Registry, m core.Metadata) (provider.Provider, any, error) {
	p, ok := reg[j.Provider]
	if !ok || p == nil {
		return nil, nil, &provider.Error{
			Kind:     provider.KindConversionNotSupported,
			Provider: j.Provider,
			Source:   j.Source,
			Target:   j.Target,
			Msg:      "provider is not registered",
		}
	}
	if !m.Has(j.Source) {
		return nil, nil, &provider.Error{
			Kind:     provider.KindSourceAttributeMissing,
			Provider: j.Provider,
			Source:   j.Source,
			Target:   j.Target,
			Msg:      fmt.Sprintf("attribute %s missing", j.Source),
		}
	}
	return p, m[j.Source], nil
}

// Runnable reports whether a registered provider offers the job's conversion.
// Jobs that are not runnable can still be served from a provider's cache, so
// they are kept and only reported.
func (j Job) Runnable(reg provider.Registry) bool {
	p, ok := reg[j.Provider]
	return ok && p != nil && p.Supports(j.Source, j.Target)
}

// Parse reads a "source,target,provider" triple.
func Parse(s string) (Job, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Job{}, fmt.Errorf("invalid job %q: want source,target,provider", s)
	}
	j := Job{
		Source:   strings.TrimSpace(parts[0]),
		Target:   strings.TrimSpace(parts[1]),
		Provider: strings.TrimSpace(parts[2]),
	}
	if j.Source == "" || j.Target == "" || j.Provider == "" {
		return Job{}, fmt.Errorf("invalid job %q: empty field", s)
	}
	return j, nil
}

// FromTriples parses a list of triples.
func FromTriples(triples []string) ([]Job, error) {
	out := make([]Job, 0, len(triples))
	for _, t := range triples {
		j, err := Parse(t)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// FromProviders lists every conversion the registry offers, ordered by
// provider id and then by registration order.
func FromProviders(reg provider.Registry) []Job {
	var out []Job
	for _, id := range reg.IDs() {
		for _, c := range reg[id].Conversions() {
			out = append(out, Job{Source: c.Source, Target: c.Target, Provider: id})
		}
	}
	return out
}

// Targets returns the distinct targets in first-seen order.
func Targets(jobs []Job) []string {
	seen := make(map[string]struct{}, len(jobs))
	var out []string
	for _, j := range jobs {
		if _, ok := seen[j.Target]; ok {
			continue
		}
		seen[j.Target] = struct{}{}
		out = append(out, j.Target)
	}
	return out
}

type jobFile struct {
	Jobs []Job `yaml:"jobs"`
}

// LoadFile reads jobs from a YAML file of the form
//
//	jobs:
//	  - {source: name, target: inchi, provider: pubchem}
func LoadFile(path string) ([]Job, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	var f jobFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse job file %s: %w", path, err)
	}
	for i, j := range f.Jobs {
		if j.Source == "" || j.Target == "" || j.Provider == "" {
			return nil, fmt.Errorf("job file %s: entry %d is incomplete", path, i)
		}
	}
	return f.Jobs, nil
}
