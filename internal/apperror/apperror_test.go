package apperror

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "New", err: New(ValidationError, "bad"), want: ValidationError},
		{name: "Wrap", err: Wrap(SettlementFailed, "failed", cause), want: SettlementFailed},
		{name: "FmtWrapped", err: fmt.Errorf("outer: %w", New(Conflict, "taken")), want: Conflict},
		{name: "Untyped", err: cause, want: Internal},
		{name: "Outermost", err: Wrap(SettlementFailed, "failed", New(InsufficientBalance, "short")), want: SettlementFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	err := Wrap(SettlementFailed, "failed", New(InsufficientBalance, "short"))
	assert.True(t, Is(err, SettlementFailed))
	assert.True(t, Is(err, InsufficientBalance))
	assert.False(t, Is(err, OrderNotFound))
	assert.False(t, Is(nil, Internal))
}

func TestErrorAndStack(t *testing.T) {
	err := Wrap(Internal, "failed to save", errors.New("disk full"))
	assert.Equal(t, "failed to save: disk full", err.Error())
	assert.NotEmpty(t, err.StackTrace())

	plain := New(ValidationError, "bad input")
	assert.Equal(t, "bad input", plain.Error())
	assert.Equal(t, "bad input", Message(plain))
	assert.Equal(t, "internal server error", Message(errors.New("secret detail")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{ValidationError, http.StatusBadRequest},
		{InsufficientBalance, http.StatusBadRequest},
		{Unauthorized, http.StatusUnauthorized},
		{Conflict, http.StatusConflict},
		{UserNotFound, http.StatusInternalServerError},
		{OrderNotFound, http.StatusInternalServerError},
		{SettlementFailed, http.StatusInternalServerError},
		{Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.code))
		})
	}
}
