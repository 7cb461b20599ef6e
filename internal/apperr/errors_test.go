package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("submit: %w", New(KindDuplicateReview, "review already exists"))

	assert.ErrorIs(t, err, ErrDuplicateReview)
	assert.NotErrorIs(t, err, ErrNotEligible)
	assert.Equal(t, KindDuplicateReview, KindOf(err))
}

func TestPersistenceKeepsExistingKind(t *testing.T) {
	nf := NotFound("order %s not found", "o-1")

	assert.Same(t, nf, Persistence(nf, "load order"))
	assert.Nil(t, Persistence(nil, "load order"))

	raw := errors.New("connection reset")
	wrapped := Persistence(raw, "load order")
	assert.ErrorIs(t, wrapped, ErrPersistence)
	assert.ErrorIs(t, wrapped, raw)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("bad rating"), http.StatusBadRequest},
		{New(KindInvalidTransition, "delivered -> pending"), http.StatusConflict},
		{New(KindNotEligible, "not delivered"), http.StatusForbidden},
		{NotFound("missing"), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "NOT_FOUND", ErrNotFound.Error())
	assert.Equal(t, "insert review: dup", Wrap(KindDuplicateReview, errors.New("dup"), "insert review").Error())
}
