// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTooLarge     = errors.New("payload too large")
)

// RespondError maps domain and backend errors to HTTP responses using
// RFC7807. Unclassified failures are reported as retryable 500s.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case backend.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		write(w, ProblemDetail{Title: "Timeout", Status: http.StatusGatewayTimeout, Detail: "the backend did not answer in time", Code: backend.CodeTimeout, Retryable: true})
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case backend.IsNotFound(err):
		write(w, ProblemDetail{Title: "Not Found", Status: http.StatusNotFound, Detail: "resource unavailable", Code: backend.CodeNotFound})
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case backend.IsBadRequest(err):
		write(w, ProblemDetail{Title: "Bad Request", Status: http.StatusBadRequest, Detail: "request does not match the backend schema", Code: backend.CodeBadRequest})
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, ErrTooLarge):
		Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", err.Error())
	default:
		write(w, ProblemDetail{Title: "Internal Error", Status: http.StatusInternalServerError, Retryable: true})
	}
}
