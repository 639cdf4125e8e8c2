package mediaresolve

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	assert := assert.New(t)
	err := NewError(KindParse, "bad %s", "body")
	assert.Equal("parse: bad body", err.Error())

	wrapped := WrapError(KindUpstream, errors.New("connection refused"), "request failed")
	assert.Equal("upstream_unavailable: request failed: connection refused", wrapped.Error())
}

func TestWrapErrorPreservesInnerKind(t *testing.T) {
	assert := assert.New(t)
	inner := NewError(KindSignature, "configuration changed shape")
	outer := WrapError(KindUpstream, inner, "session bootstrap failed")
	assert.Equal(KindSignature, outer.Kind)
	assert.True(IsKind(outer, KindSignature))
	// errors.As still reaches the inner error through Unwrap.
	var e *Error
	assert.True(errors.As(outer, &e))
}

func TestWrapErrorClassifiesPlainErrors(t *testing.T) {
	assert := assert.New(t)
	outer := WrapError(KindPollTimeout, errors.New("deadline exceeded"), "poll loop aborted")
	assert.Equal(KindPollTimeout, outer.Kind)
}

func TestKindOf(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(KindInput, KindOf(NewError(KindInput, "no URL")))
	// Plain errors escaping the network layer count as upstream failures.
	assert.Equal(KindUpstream, KindOf(errors.New("EOF")))
	// Classified errors keep their kind through further wrapping.
	assert.Equal(KindConversion, KindOf(fmt.Errorf("while converting: %w", NewError(KindConversion, "rejected"))))
}
