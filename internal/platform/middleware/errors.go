package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hengadev/errsx"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/medrecords/internal/platform/apperr"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Kind         apperr.Kind       `json:"kind"`
	Message      string            `json:"message"`
	Collaborator string            `json:"collaborator,omitempty"`
	Retryable    bool              `json:"retryable,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(k apperr.Kind) int {
	switch k {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func kindForStatus(code int) apperr.Kind {
	switch {
	case code == http.StatusNotFound:
		return apperr.KindNotFound
	case code == http.StatusConflict:
		return apperr.KindConflict
	case code == http.StatusBadGateway:
		return apperr.KindExternal
	case code == http.StatusUnauthorized:
		return "unauthorized"
	case code == http.StatusForbidden:
		return "forbidden"
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code >= 400 && code < 500:
		return apperr.KindValidation
	default:
		return apperr.KindInternal
	}
}

// ErrorResponse converts err into a status code and body.
func ErrorResponse(err error) (int, ErrorBody) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprint(he.Message)
		if he.Code >= 500 {
			msg = http.StatusText(he.Code)
		}
		return he.Code, ErrorBody{Kind: kindForStatus(he.Code), Message: msg}
	}

	kind := apperr.KindOf(err)
	body := ErrorBody{Kind: kind}
	var ae *apperr.Error
	if errors.As(err, &ae) && kind != apperr.KindInternal {
		body.Message = ae.Message
	} else {
		body.Kind = apperr.KindInternal
		body.Message = "internal server error"
	}

	switch body.Kind {
	case apperr.KindExternal:
		body.Collaborator = ae.Collaborator
		body.Retryable = true
	case apperr.KindValidation:
		var fields errsx.Map
		if errors.As(err, &fields) && len(fields) > 0 {
			body.Fields = make(map[string]string, len(fields))
			for k, v := range fields {
				body.Fields[k] = fmt.Sprint(v)
			}
		} else if ae.Err != nil {
			body.Message = ae.Error()
		}
	}
	return StatusForKind(body.Kind), body
}

// ErrorHandler renders errors as ErrorBody JSON and logs server-side failures.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := ErrorResponse(err)
		if status >= http.StatusInternalServerError || body.Kind == apperr.KindExternal {
			logger.Error().Err(err).
				Str("request_id", RequestIDFrom(c)).
				Str("kind", string(body.Kind)).
				Str("collaborator", body.Collaborator).
				Msg("request failed")
		}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
