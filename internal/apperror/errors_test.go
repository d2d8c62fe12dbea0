package apperror

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKindAndOptionalCode(t *testing.T) {
	err := Conflict(CodeInsufficientStock, "ingredient %d: need %d, have %d", 4, 10, 3)

	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, &Error{Kind: KindConflict, Code: CodeInsufficientStock})
	assert.NotErrorIs(t, err, &Error{Kind: KindConflict, Code: CodeAlreadyCancelled})
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestIsSeesThroughWrapping(t *testing.T) {
	base := NotFound("invoice", 42)
	wrapped := fmt.Errorf("load: %w", errors.Wrap(base, "resume"))

	assert.ErrorIs(t, wrapped, ErrNotFound)
	got, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "invoice 42 not found", got.Message)
	assert.Equal(t, http.StatusNotFound, got.Status())
}

func TestStatusPerKind(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Validation("", "bad").Status())
	assert.Equal(t, http.StatusConflict, Conflict("", "nope").Status())
	assert.Equal(t, CodeValidation, Validation("", "bad").Code)
	assert.True(t, HasCode(Conflict(CodeVoucherExhausted, "x"), CodeVoucherExhausted))
	assert.False(t, HasCode(errors.New("plain"), CodeVoucherExhausted))
}
