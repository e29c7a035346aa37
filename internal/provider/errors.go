package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a conversion failure. The engine decides severity and
// re-query eligibility from the kind alone.
type Kind string

const (
	KindUnknown                     Kind = "Unknown"
	KindConversionNotSupported      Kind = "ConversionNotSupported"
	KindSourceAttributeMissing      Kind = "SourceAttributeMissing"
	KindServiceNotAvailable         Kind = "ServiceNotAvailable"
	KindUnknownResponse             Kind = "UnknownResponse"
	KindTargetAttributeNotRetrieved Kind = "TargetAttributeNotRetrieved"
	KindInvalidAttributeFormat      Kind = "InvalidAttributeFormat"
	KindUnknownProvider             Kind = "UnknownProvider"
)

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrConversionNotSupported      = &Error{Kind: KindConversionNotSupported}
	ErrSourceAttributeMissing      = &Error{Kind: KindSourceAttributeMissing}
	ErrServiceNotAvailable         = &Error{Kind: KindServiceNotAvailable}
	ErrUnknownResponse             = &Error{Kind: KindUnknownResponse}
	ErrTargetAttributeNotRetrieved = &Error{Kind: KindTargetAttributeNotRetrieved}
	ErrInvalidAttributeFormat      = &Error{Kind: KindInvalidAttributeFormat}
	ErrUnknownProvider             = &Error{Kind: KindUnknownProvider}
)

// Error is a classified conversion failure.
type Error struct {
	Kind     Kind
	Provider string
	Source   string
	Target   string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "provider error"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Provider != "" {
		b.WriteString(" [")
		b.WriteString(e.Provider)
		if e.Source != "" || e.Target != "" {
			fmt.Fprintf(&b, ": %s -> %s", e.Source, e.Target)
		}
		b.WriteString("]")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds a classified error wrapping err.
func NewError(kind Kind, providerID, msg string, err error) *Error {
	return &Error{Kind: kind, Provider: providerID, Msg: msg, Err: err}
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, providerID, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: providerID, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// withJob fills in the conversion context when the method left it blank.
// Errors may be shared between deduplicated calls, so it never mutates err.
// A classified error wrapped in further context is wrapped once more, which
// keeps the caller's message in the chain.
func withJob(err error, providerID, source, target string) error {
	var pe *Error
	if !errors.As(err, &pe) {
		return err
	}
	if pe.Provider != "" && (pe.Source != "" || pe.Target != "") {
		return err
	}
	if direct, ok := err.(*Error); ok {
		cp := *direct
		if cp.Provider == "" {
			cp.Provider = providerID
		}
		if cp.Source == "" && cp.Target == "" {
			cp.Source, cp.Target = source, target
		}
		return &cp
	}
	return &Error{Kind: pe.Kind, Provider: providerID, Source: source, Target: target, Err: err}
}
