package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", Clone(ErrGrantClosed, "deadline passed"))
	appErr := FromError(wrapped)
	assert.Equal(t, ErrGrantClosed.Code, appErr.Code)
	assert.Equal(t, "deadline passed", appErr.Message)
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	appErr := FromError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Nil(t, FromError(nil))
}

func TestIsMatchesClonesByCode(t *testing.T) {
	err := Wrap(errors.New("balance 10"), ErrInsufficientFunds.Code, ErrInsufficientFunds.Status, "not enough")
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.False(t, errors.Is(err, ErrNoWallet))
}
