package httpx

import (
	"errors"
	"net/http"

	"github.com/forgeline/forgeline/internal/shared"
)

// Transport-level sentinel errors raised before a request reaches a service.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusFor maps an error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	}
	switch shared.KindOf(err) {
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case shared.KindConflict:
		return http.StatusConflict
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Storage failures never leak their detail.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusBadRequest:
		Problem(w, status, "Validation Failed", err.Error())
	case http.StatusUnprocessableEntity:
		Problem(w, status, "Business Rule Violated", err.Error())
	case http.StatusConflict:
		Problem(w, status, "Conflict", err.Error())
	case http.StatusNotFound:
		Problem(w, status, "Not Found", err.Error())
	case http.StatusForbidden:
		Problem(w, status, "Forbidden", err.Error())
	case http.StatusUnauthorized:
		Problem(w, status, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
