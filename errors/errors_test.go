package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapFormat(t *testing.T) {
	base := New("socket gone")
	err := Wrap(base, "Gateway", "pipe", "forwarding")
	assert.EqualError(t, err, "Gateway.pipe: forwarding failed: socket gone")
	assert.True(t, Is(err, base))
}

func TestWrapNilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "a", "b", "c"))
	assert.NoError(t, WrapTransient(nil, "a", "b", "c"))
	assert.NoError(t, WrapInvalid(nil, "a", "b", "c"))
	assert.NoError(t, WrapFatal(nil, "a", "b", "c"))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"duplicate path is invalid", ErrDuplicatePath, ErrorInvalid},
		{"hierarchy violation is invalid", ErrHierarchyViolation, ErrorInvalid},
		{"empty path is invalid", ErrEmptyPath, ErrorInvalid},
		{"type mismatch is invalid", ErrTypeMismatch, ErrorInvalid},
		{"disconnect is transient", ErrDisconnected, ErrorTransient},
		{"connect failure is transient", ErrConnectFailed, ErrorTransient},
		{"already started is fatal", ErrAlreadyStarted, ErrorFatal},
		{"unknown defaults to transient", New("mystery"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("lookup: %w", ErrNotFound)
	assert.True(t, Is(err, ErrNotFound))

	wrapped := WrapInvalid(ErrDuplicatePath, "State", "Register", "path check")
	assert.True(t, IsInvalid(wrapped))
	assert.True(t, Is(wrapped, ErrDuplicatePath))

	transient := WrapTransient(New("dial tcp: connection refused"), "Client", "Dial", "connect")
	assert.True(t, IsTransient(transient))
	assert.False(t, IsInvalid(transient))
}

func TestTransientPatternMatching(t *testing.T) {
	assert.True(t, IsTransient(New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(New("i/o timeout")))
	assert.False(t, IsTransient(nil))
}

func TestClassifiedErrorMessage(t *testing.T) {
	ce := &ClassifiedError{Class: ErrorFatal, Err: ErrAlreadyStopped}
	assert.Equal(t, ErrAlreadyStopped.Error(), ce.Error())
	assert.Equal(t, ErrAlreadyStopped, ce.Unwrap())
}
