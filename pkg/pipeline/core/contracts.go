package core

import (
	"sort"
	"strconv"
	"strings"
)

// Metadata maps attribute names (e.g. "inchi", "casno") to values for one chemical record.
//
// Values are strings or numbers. A key with a nil or blank string value counts as absent.
type Metadata map[string]any

// Has reports whether the attribute is present with a usable value.
func (m Metadata) Has(key string) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return false
	}
	return true
}

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the present attribute names in sorted order.
func (m Metadata) Keys() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		if m.Has(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// ValueString renders an attribute value the way it is sent to providers and written to tables.
func ValueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case interface{ String() string }:
		return t.String()
	default:
		return ""
	}
}

// Entity is one record handed to the resolution engine.
//
// The engine only reads and writes the attribute mapping; storage format is the caller's concern.
type Entity interface {
	Metadata() Metadata
	SetMetadata(Metadata)
}

// MapEntity is the plain in-memory Entity used by the table adapters.
type MapEntity struct {
	ID   string
	Data Metadata
}

func (e *MapEntity) Metadata() Metadata {
	if e.Data == nil {
		e.Data = Metadata{}
	}
	return e.Data
}

func (e *MapEntity) SetMetadata(m Metadata) {
	e.Data = m
}

// EntityID names the entity in diagnostics.
func (e *MapEntity) EntityID() string { return e.ID }

// TransientError marks an error as retryable by the network layer.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LimitedTransientError is a TransientError whose retry budget is capped below the caller's default.
type LimitedTransientError struct {
	Err          error
	ExtraRetries int
}

func (e *LimitedTransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *LimitedTransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MaxExtraRetries reports how many retries beyond the first attempt are allowed.
func (e *LimitedTransientError) MaxExtraRetries() int {
	if e == nil || e.ExtraRetries < 0 {
		return 0
	}
	return e.ExtraRetries
}
