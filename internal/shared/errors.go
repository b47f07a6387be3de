package shared

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var ErrNotFound = errors.New("not found")

// APIError is the body of every error response.
type APIError struct {
	Code    string `json:"code" example:"invalid_request"`
	Message string `json:"message" example:"Invalid request body"`
	Details any    `json:"details,omitempty" swaggertype:"object"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

func (e *APIError) ToHTTP(status int) *echo.HTTPError {
	return echo.NewHTTPError(status, e)
}

func httpError(status int) func(code, message string) *echo.HTTPError {
	return func(code, message string) *echo.HTTPError {
		return NewAPIError(code, message).ToHTTP(status)
	}
}

var (
	BadRequest          = httpError(http.StatusBadRequest)
	Unauthorized        = httpError(http.StatusUnauthorized)
	Forbidden           = httpError(http.StatusForbidden)
	NotFound            = httpError(http.StatusNotFound)
	Conflict            = httpError(http.StatusConflict)
	UnprocessableEntity = httpError(http.StatusUnprocessableEntity)
	TooManyRequests     = httpError(http.StatusTooManyRequests)
	InternalError       = httpError(http.StatusInternalServerError)
	ServiceUnavailable  = httpError(http.StatusServiceUnavailable)
)

// ErrorHandler renders every error as an APIError body. Errors raised by
// echo itself (unknown route, bad method) get a code derived from the
// status text. Anything that is not an HTTP error is a 500 and is logged.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := toAPIError(err)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", status,
				"error", err,
			)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Debug("failed to write error response", "error", werr)
		}
	}
}

func toAPIError(err error) (int, *APIError) {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return http.StatusInternalServerError, NewAPIError("internal_error", "internal server error")
	}

	switch msg := he.Message.(type) {
	case *APIError:
		return he.Code, msg
	case string:
		return he.Code, NewAPIError(statusCode(he.Code), msg)
	}
	return he.Code, NewAPIError(statusCode(he.Code), http.StatusText(he.Code))
}

// statusCode turns "Method Not Allowed" into "method_not_allowed".
func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}
