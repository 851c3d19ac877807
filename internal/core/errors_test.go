package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MatchesKindAndCause(t *testing.T) {
	err := NewError(ErrTimeout, "leaf-1", context.DeadlineExceeded, "exceeded timeout of %s", "2s")

	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, ErrExecution))
	assert.Equal(t, `timeout: node "leaf-1": exceeded timeout of 2s: context deadline exceeded`, err.Error())

	var target *Error
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, "leaf-1", target.NodeID)
}

func TestConfigurationf(t *testing.T) {
	err := Configurationf("root", "container has no children")
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Equal(t, `configuration error: node "root": container has no children`, err.Error())
}
