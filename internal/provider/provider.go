package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

// Conversion is one (source, target) attribute pair a provider can resolve.
type Conversion struct {
	Source string
	Target string
}

func (c Conversion) String() string { return c.Source + " -> " + c.Target }

// Method resolves one conversion. It may return more attributes than the
// requested target; the engine caches all of them.
type Method func(ctx context.Context, value string) (core.Metadata, error)

// Provider is a conversion service.
type Provider interface {
	ID() string
	Available() bool
	SetAvailable(bool)
	Conversions() []Conversion
	Supports(source, target string) bool
	Convert(ctx context.Context, source, target string, value any) (core.Metadata, error)
}

// Prober is implemented by providers backed by a remote service.
type Prober interface {
	ID() string
	BaseURL() string
	SetAvailable(bool)
}

// Base carries the shared provider state: identity, availability flag and the
// conversion table. Concrete providers embed it and Register their methods
// at construction.
type Base struct {
	id       string
	disabled atomic.Bool

	mu      sync.RWMutex
	methods map[Conversion]Method
	order   []Conversion
}

func NewBase(id string) *Base {
	return &Base{id: id, methods: map[Conversion]Method{}}
}

func (b *Base) ID() string { return b.id }

// Available starts true and is flipped only by the availability monitor.
func (b *Base) Available() bool { return !b.disabled.Load() }

func (b *Base) SetAvailable(v bool) { b.disabled.Store(!v) }

// Register adds a conversion. Registering the same pair twice replaces the method.
func (b *Base) Register(source, target string, m Method) {
	c := Conversion{Source: source, Target: target}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.methods[c]; !ok {
		b.order = append(b.order, c)
	}
	b.methods[c] = m
}

// Conversions lists the registered pairs in registration order.
func (b *Base) Conversions() []Conversion {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Conversion, len(b.order))
	copy(out, b.order)
	return out
}

// Supports reports whether the pair is registered.
func (b *Base) Supports(source, target string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.methods[Conversion{Source: source, Target: target}]
	return ok
}

// Convert dispatches to the registered method.
func (b *Base) Convert(ctx context.Context, source, target string, value any) (core.Metadata, error) {
	if !b.Available() {
		return nil, &Error{Kind: KindServiceNotAvailable, Provider: b.id, Source: source, Target: target, Msg: "service marked unavailable"}
	}
	b.mu.RLock()
	m, ok := b.methods[Conversion{Source: source, Target: target}]
	b.mu.RUnlock()
	if !ok {
		return nil, &Error{Kind: KindConversionNotSupported, Provider: b.id, Source: source, Target: target}
	}

	out, err := m(ctx, core.ValueString(value))
	if err != nil {
		return nil, withJob(err, b.id, source, target)
	}
	out = dropEmpty(out)
	if len(out) == 0 {
		return nil, &Error{Kind: KindTargetAttributeNotRetrieved, Provider: b.id, Source: source, Target: target, Msg: "no data retrieved"}
	}
	return out, nil
}

func dropEmpty(m core.Metadata) core.Metadata {
	if len(m) == 0 {
		return nil
	}
	out := make(core.Metadata, len(m))
	for k := range m {
		if m.Has(k) {
			out[k] = m[k]
		}
	}
	return out
}

// Registry maps provider ids to providers for one batch. It is read-only while resolving.
type Registry map[string]Provider

// NewRegistry indexes providers by ID. Duplicate ids are rejected.
func NewRegistry(providers ...Provider) (Registry, error) {
	r := make(Registry, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		if _, dup := r[p.ID()]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", p.ID())
		}
		r[p.ID()] = p
	}
	return r, nil
}

// IDs returns the provider ids in sorted order.
func (r Registry) IDs() []string {
	out := make([]string, 0, len(r))
	for id := range r {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Probers returns the providers the availability monitor can probe, in id order.
func (r Registry) Probers() []Prober {
	var out []Prober
	for _, id := range r.IDs() {
		if p, ok := r[id].(Prober); ok && p.BaseURL() != "" {
			out = append(out, p)
		}
	}
	return out
}
