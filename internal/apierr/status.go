package apierr

import (
	"errors"
	"net/http"
)

// Status maps an error to the HTTP status code and the message shown to callers.
// Unknown errors become a generic 500 so internals never leak.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, ErrAccountLocked):
		return http.StatusLocked, err.Error()
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrInvalidCredentials.Error()
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, ErrUnauthenticated.Error()
	case errors.Is(err, ErrAccountInactive):
		return http.StatusForbidden, ErrAccountInactive.Error()
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, ErrForbidden.Error()
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, ErrNotFound.Error()
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, ErrConflict.Error()
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrInvalidReference):
		return http.StatusBadRequest, ErrInvalidReference.Error()
	case errors.Is(err, ErrInvalidResetToken):
		return http.StatusBadRequest, ErrInvalidResetToken.Error()
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
