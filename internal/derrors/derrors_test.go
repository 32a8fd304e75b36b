package derrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesCodeSentinels(t *testing.T) {
	err := NotFound("donor registration %d not found", 4)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, "donor registration 4 not found", err.Error())

	wrapped := fmt.Errorf("loading: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.Equal(t, "donor registration 4 not found", Message(wrapped))
}

func TestSpecificSentinelIdentity(t *testing.T) {
	errFormat := New(CodeValidation, "invalid ciphertext format")
	err := fmt.Errorf("decrypt: %w", errFormat)
	assert.True(t, errors.Is(err, errFormat))
	assert.True(t, errors.Is(err, ErrValidation))

	other := New(CodeValidation, "other")
	assert.False(t, errors.Is(err, other))
}

func TestExternalServiceKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := ExternalService(cause, "laboratory call failed")
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrExternalService))
	assert.Equal(t, "laboratory call failed: connection refused", err.Error())
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, "", Message(errors.New("boom")))
	assert.Nil(t, Wrap(nil, CodeConflict, "x"))
}
