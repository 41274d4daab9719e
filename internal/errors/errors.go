// Package errors holds the error taxonomy shared by the stores, the payout
// service and the HTTP layer.
package errors

import (
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/liamcoop/incentives/incentive"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrValidation    = errors.New("validation error")
	ErrUnavailable   = errors.New("backend unavailable")

	// maps errors to http status codes
	statusCodeMap = []struct {
		err    error
		status int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrAlreadyExists, http.StatusConflict},
		{incentive.ErrDuplicateRuleSet, http.StatusConflict},
		{ErrValidation, http.StatusBadRequest},
		{ErrUnavailable, http.StatusServiceUnavailable},
	}
)

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnavailable checks if an error is a backend availability error
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// HTTPStatusFromErr maps an error to the status code the API answers with.
// Rule configuration problems are reported as 422 since the request itself
// was well formed.
func HTTPStatusFromErr(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if incentive.IsConfigurationError(err) {
		return http.StatusUnprocessableEntity
	}
	for _, m := range statusCodeMap {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// Hint returns the user facing hints attached to err, or "" when there are none.
func Hint(err error) string {
	return errors.FlattenHints(err)
}
