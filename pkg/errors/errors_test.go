package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError("QUEUE_FAILED", "prompt rejected", ErrQueueFailed)
	assert.Equal(t, "[QUEUE_FAILED] prompt rejected: queue request failed", err.Error())

	bare := NewError("BAD", "no cause", nil)
	assert.Equal(t, "[BAD] no cause", bare.Error())
}

func TestErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("loading: %w", NewError("CONFIG", "bad port", ErrInvalidConfig))
	assert.True(t, IsInvalidConfig(err))
	assert.False(t, IsNotConnected(err))

	var coded *Error
	assert.True(t, errors.As(err, &coded))
	assert.Equal(t, "CONFIG", coded.Code)
}
