package shared

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAPIError_ToHTTP(t *testing.T) {
	details := map[string]uint32{"status": 4}
	httpErr := NewAPIError("invalid_stream", "no source").WithDetails(details).ToHTTP(http.StatusUnprocessableEntity)

	if httpErr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Code = %d, want 422", httpErr.Code)
	}
	msg, ok := httpErr.Message.(*APIError)
	if !ok {
		t.Fatalf("Message = %T, want *APIError", httpErr.Message)
	}
	if msg.Code != "invalid_stream" || msg.Message != "no source" {
		t.Errorf("APIError = %+v", msg)
	}
	if d, _ := msg.Details.(map[string]uint32); d["status"] != 4 {
		t.Errorf("Details = %v", msg.Details)
	}
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(code, message string) *echo.HTTPError
		status int
	}{
		{"BadRequest", BadRequest, http.StatusBadRequest},
		{"Unauthorized", Unauthorized, http.StatusUnauthorized},
		{"Forbidden", Forbidden, http.StatusForbidden},
		{"NotFound", NotFound, http.StatusNotFound},
		{"Conflict", Conflict, http.StatusConflict},
		{"UnprocessableEntity", UnprocessableEntity, http.StatusUnprocessableEntity},
		{"TooManyRequests", TooManyRequests, http.StatusTooManyRequests},
		{"InternalError", InternalError, http.StatusInternalServerError},
		{"ServiceUnavailable", ServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn("some_code", "some message")
			if err.Code != tt.status {
				t.Errorf("status = %d, want %d", err.Code, tt.status)
			}
			msg, ok := err.Message.(*APIError)
			if !ok || msg.Code != "some_code" || msg.Message != "some message" {
				t.Errorf("Message = %#v", err.Message)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{
		http.StatusNotFound:         "not_found",
		http.StatusMethodNotAllowed: "method_not_allowed",
		599:                         "error",
	}
	for status, want := range tests {
		if got := statusCode(status); got != want {
			t.Errorf("statusCode(%d) = %q, want %q", status, got, want)
		}
	}
}

func serveError(t *testing.T, method string, err error) (*httptest.ResponseRecorder, APIError) {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.Any("/boom", func(echo.Context) error { return err })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, "/boom", nil))

	var body APIError
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body %q: %v", rec.Body.String(), err)
		}
	}
	return rec, body
}

func TestErrorHandler_APIError(t *testing.T) {
	rec, body := serveError(t, http.MethodGet, Conflict("no_transport", "client has no such connection"))

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if body.Code != "no_transport" || body.Message != "client has no such connection" {
		t.Errorf("body = %+v", body)
	}
}

func TestErrorHandler_PlainHTTPError(t *testing.T) {
	rec, body := serveError(t, http.MethodGet, echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
	if body.Code != "method_not_allowed" || body.Message != "nope" {
		t.Errorf("body = %+v", body)
	}
}

func TestErrorHandler_UnknownError(t *testing.T) {
	rec, body := serveError(t, http.MethodGet, errors.New("database exploded"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if body.Code != "internal_error" || body.Message == "database exploded" {
		t.Errorf("body = %+v, internal detail must not leak", body)
	}
}

func TestErrorHandler_Head(t *testing.T) {
	rec, _ := serveError(t, http.MethodHead, NotFound("client_not_found", "client not found"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD body = %q, want empty", rec.Body.String())
	}
}

func TestErrorHandler_UnknownRoute(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	var body APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusNotFound || body.Code != "not_found" {
		t.Errorf("status = %d body = %+v", rec.Code, body)
	}
}
