package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStampsCallSite(t *testing.T) {
	err := New("bad value %d", 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "errors_test.go:")
	assert.Contains(t, err.Error(), "bad value 42")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("root cause")

	err := Wrap(cause, "while polling")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "while polling: root cause")
	assert.ErrorIs(t, err, cause)

	err = Wrapf(cause, "chat %s", "42")
	assert.Contains(t, err.Error(), "chat 42: root cause")
	assert.ErrorIs(t, err, cause)
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ignored"))
	assert.NoError(t, Wrapf(nil, "ignored %d", 1))
}
