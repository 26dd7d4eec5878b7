package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"permission denied", PermissionDenied("no write on %s", "rfis"), http.StatusForbidden},
		{"unauthorized", Unauthorized("no access"), http.StatusForbidden},
		{"invalid token", InvalidToken("expired"), http.StatusUnauthorized},
		{"validation", Validation("bad"), http.StatusBadRequest},
		{"not found", NotFound("missing"), http.StatusNotFound},
		{"conflict ignored", ConflictIgnored("dup"), http.StatusOK},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped typed", fmt.Errorf("outer: %w", NotFound("x")), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("failed to insert: %w", PermissionDenied("denied"))

	assert.True(t, IsPermissionDenied(err))
	assert.False(t, IsValidation(err))
	assert.True(t, errors.Is(err, PermissionDenied("")))
	assert.False(t, errors.Is(err, Unauthorized("")))
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("db down")
	err := Wrap(NotFound("estimate %d", 7), cause)

	assert.Equal(t, "not_found: estimate 7: db down", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "validation: bad", Validation("bad").Error())
}
