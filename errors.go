package mediaresolve

import (
	"errors"
	"fmt"
)

// Kind classifies a resolution failure. Every failure the engine can produce
// maps to exactly one Kind; anything else is a programming defect and should
// panic instead of being classified.
type Kind string

const (
	// KindInput means no recognizable source URL was found in the input.
	KindInput Kind = "input"
	// KindUpstream means a network failure, timeout, non-2xx response, or an
	// exhausted redirect/retry budget.
	KindUpstream Kind = "upstream_unavailable"
	// KindSignature means the obfuscated signing configuration changed shape
	// or failed to decode.
	KindSignature Kind = "signature_derivation"
	// KindConversion means the upstream explicitly reported a processing
	// failure; it is authoritative and never retried.
	KindConversion Kind = "conversion"
	// KindPollTimeout means progress polling exhausted its attempt budget.
	KindPollTimeout Kind = "poll_timeout"
	// KindParse means a response body did not match any recognized shape.
	KindParse Kind = "parse"
)

// Error is a classified resolution failure. It wraps an optional cause so
// that errors.Is/errors.As keep working across component boundaries.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a classified error with a formatted message.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError classifies an existing error. If err is already classified, the
// original Kind is preserved and only context is added; re-classifying an
// already-classified error would lose the more specific inner kind.
func WrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	var inner *Error
	if errors.As(err, &inner) {
		kind = inner.Kind
	}
	return &Error{Kind: kind, Msg: msg, Cause: err}
}

// KindOf returns the Kind of a classified error, or KindUpstream for plain
// errors escaping from the network layer.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstream
}

// IsKind reports whether err is classified as the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
