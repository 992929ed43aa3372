package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, CodeOf(NotFound("requisition", "r1")))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("boom")))

	wrapped := fmt.Errorf("loading: %w", Conflict("already signed"))
	assert.Equal(t, ErrCodeConflict, CodeOf(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeConflict))
	assert.False(t, HasCode(nil, ErrCodeConflict))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "ignored"))

	cause := stderrors.New("connection refused")
	err := Wrap(cause, ErrCodeInternal, "failed to load requisition")
	assert.True(t, Is(err, cause))
	assert.Equal(t, "failed to load requisition: connection refused", err.Error())
}

func TestInvalidInputMessage(t *testing.T) {
	err := InvalidInput("quantity", "must be positive")
	assert.Equal(t, "quantity: must be positive", err.Error())
	assert.Equal(t, ErrCodeInvalidInput, err.Code)
}
