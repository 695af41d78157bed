package common

import (
	"errors"
	"net/http"
)

// Error classes shared by services and handlers. Services wrap them with
// detail (fmt.Errorf("%w: ...", ErrValidation)); handlers map them with
// HTTPStatus.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// HTTPStatus maps an error to a status code and business code.
func HTTPStatus(err error) (int, int) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, 40001
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, 40004
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, 40301
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, 40901
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, 50301
	default:
		return http.StatusInternalServerError, 50001
	}
}
