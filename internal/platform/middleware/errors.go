package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

var kindStatus = map[odontology.Kind]int{
	odontology.KindValidation:        http.StatusBadRequest,
	odontology.KindAuthorization:     http.StatusForbidden,
	odontology.KindNotFound:          http.StatusNotFound,
	odontology.KindConflict:          http.StatusConflict,
	odontology.KindInvalidTransition: http.StatusUnprocessableEntity,
	odontology.KindInternal:          http.StatusInternalServerError,
}

// StatusForKind maps a domain error kind to its HTTP status.
func StatusForKind(k odontology.Kind) int {
	if code, ok := kindStatus[k]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// KindForStatus is the inverse of StatusForKind, used by HTTP clients.
func KindForStatus(code int) odontology.Kind {
	for k, c := range kindStatus {
		if c == code && k != odontology.KindInternal {
			return k
		}
	}
	switch code {
	case http.StatusUnauthorized:
		return odontology.KindAuthorization
	case http.StatusUnprocessableEntity:
		return odontology.KindInvalidTransition
	}
	if code >= 400 && code < 500 {
		return odontology.KindValidation
	}
	return odontology.KindInternal
}

// StatusOf returns the status an error will be rendered with.
func StatusOf(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return StatusForKind(odontology.KindOf(err))
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Kind    odontology.Kind `json:"kind"`
	Message string          `json:"message"`
}

// ErrorHandler renders domain errors and echo HTTP errors as ErrorBody.
// Internal errors never leak their message.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			code int
			body ErrorBody
			he   *echo.HTTPError
		)
		if errors.As(err, &he) {
			code = he.Code
			body = ErrorBody{Kind: KindForStatus(code), Message: http.StatusText(code)}
			if msg, ok := he.Message.(string); ok {
				body.Message = msg
			}
		} else {
			e := odontology.AsError(err)
			code = StatusForKind(e.Kind)
			body = ErrorBody{Kind: e.Kind, Message: e.Message}
		}
		if code >= 500 {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Msg("unhandled error")
			body.Message = "internal server error"
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, body)
	}
}
