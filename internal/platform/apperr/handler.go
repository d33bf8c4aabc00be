package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the JSON error envelope.
type Body struct {
	Error BodyError `json:"error"`
}

type BodyError struct {
	Kind    Kind              `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Render converts any error into a status code and envelope. Internal errors
// never expose their cause.
func Render(err error) (int, Body) {
	var appErr *Error
	if errors.As(err, &appErr) {
		body := BodyError{Kind: appErr.Kind, Message: appErr.Message, Fields: appErr.Fields}
		if appErr.Kind == KindInternal {
			body.Message = "internal server error"
			body.Fields = nil
		}
		return HTTPStatus(appErr.Kind), Body{Error: body}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		kind := KindForStatus(he.Code)
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && m != "" {
			msg = m
		} else if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		if kind == KindInternal {
			msg = "internal server error"
		}
		return he.Code, Body{Error: BodyError{Kind: kind, Message: msg}}
	}

	return http.StatusInternalServerError, Body{Error: BodyError{Kind: KindInternal, Message: "internal server error"}}
}

// HTTPErrorHandler renders every handler error in the shared envelope and
// logs the ones that are not the caller's fault.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := Render(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("failed to write error response")
		}
	}
}
