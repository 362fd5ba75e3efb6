package server

import (
	"net/http"

	"github.com/teranos/fnpulse/errors"
)

// ErrServiceUnavailable indicates a required component is not wired into
// this process
var ErrServiceUnavailable = errors.New("service unavailable")

// statusForError maps the error taxonomy onto an HTTP status and the
// message safe to return to the client
func statusForError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest, errors.UnwrapAll(err).Error()
	case errors.IsNotFoundError(err):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "Service unavailable"
	case errors.IsTimeoutError(err):
		return http.StatusGatewayTimeout, "Operation timed out"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
