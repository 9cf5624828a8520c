package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("stake 42: %w", ErrAlreadyStaked)
	assert.True(t, errors.Is(wrapped, ErrAlreadyStaked))
	assert.False(t, errors.Is(wrapped, ErrNotStaked))

	custom := Wrap(KindConflict, CodeAlreadyStaked, "different message", errors.New("boom"))
	assert.True(t, errors.Is(custom, ErrAlreadyStaked))
}

func TestPersistenceKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Persistence("get item", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.Equal(t, "storage is unavailable", err.Message)
	assert.Contains(t, err.Error(), "get item")
}

func TestFrom(t *testing.T) {
	e, ok := From(fmt.Errorf("outer: %w", ErrNonceNotFound))
	require.True(t, ok)
	assert.Equal(t, CodeNonceNotFound, e.Code)

	_, ok = From(errors.New("plain"))
	assert.False(t, ok)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation(CodeInvalidItemID, "bad id"), http.StatusBadRequest},
		{"not found", ErrItemNotFound, http.StatusNotFound},
		{"conflict", ErrNotOwner, http.StatusConflict},
		{"auth", ErrSignatureMismatch, http.StatusUnauthorized},
		{"upstream", Upstream("fetch", errors.New("timeout")), http.StatusBadGateway},
		{"persistence", Persistence("write", errors.New("down")), http.StatusServiceUnavailable},
		{"plain", errors.New("oops"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
