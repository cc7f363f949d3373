package httpapi

import (
	"errors"
	"net/http"

	"clinicflow/internal/blob"
	"clinicflow/internal/clinical"
	"clinicflow/pkg/domain"

	"github.com/labstack/echo/v4"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// StatusFor maps a core or collaborator error to its HTTP status.
func StatusFor(err error) int {
	var rve domain.RuleViolationError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, blob.ErrExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation), errors.As(err, &rve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, clinical.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, blob.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler replaces echo's default so domain errors returned from handlers
// keep their status and message.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := StatusFor(err)
	msg := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if m, ok := httpErr.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(httpErr.Code)
		}
	}
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, ErrorBody{Error: msg, Status: status})
}
