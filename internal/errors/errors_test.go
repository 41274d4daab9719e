package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liamcoop/incentives/incentive"
)

func TestHTTPStatusFromErr(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", NewError("rule set missing").Mark(ErrNotFound), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("get: %w", NewError("x").Mark(ErrNotFound)), http.StatusNotFound},
		{"already exists", NewError("dup").Mark(ErrAlreadyExists), http.StatusConflict},
		{"duplicate rule set", fmt.Errorf("evaluate: %w", incentive.ErrDuplicateRuleSet), http.StatusConflict},
		{"validation", NewError("bad").Mark(ErrValidation), http.StatusBadRequest},
		{"unavailable", NewError("down").Mark(ErrUnavailable), http.StatusServiceUnavailable},
		{"configuration", &incentive.ConfigurationError{Field: "operator", Value: "!="}, http.StatusUnprocessableEntity},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatusFromErr(tc.err))
		})
	}
}

func TestBuilderHints(t *testing.T) {
	err := NewError("rule set rs-1 not found").
		WithHint("The rule set does not exist").
		Mark(ErrNotFound)

	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, "The rule set does not exist", Hint(err))
	assert.Contains(t, err.Error(), "rs-1")
}

func TestNewfAndWithError(t *testing.T) {
	err := Newf("session %s invalid", "s-9").Mark(ErrValidation)
	assert.True(t, IsValidation(err))
	assert.Equal(t, "session s-9 invalid", err.Error())

	wrapped := WithError(fmt.Errorf("dial tcp: refused")).WithMessage("postgres").Mark(ErrUnavailable)
	assert.True(t, IsUnavailable(wrapped))
	assert.Equal(t, "postgres: dial tcp: refused", wrapped.Error())
	assert.Equal(t, "", Hint(wrapped))
}
