package apikey

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-relay/internal/dto"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, _ := newTestStore(t)
	return NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()
	h.RegisterRoutes(e.Group("/admin/keys"))

	routes := make(map[string]bool)
	for _, r := range e.Routes() {
		routes[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{"GET /admin/keys", "POST /admin/keys", "DELETE /admin/keys/:id"} {
		if !routes[want] {
			t.Errorf("expected route %s", want)
		}
	}
}

func TestHandler_Create(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	body := `{"name":"studio","scopes":["events","journal"],"expires_in_days":30}`
	req := httptest.NewRequest(http.MethodPost, "/admin/keys", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var resp dto.CreateAPIKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(resp.Secret, "sk-relay-") {
		t.Errorf("unexpected secret %q", resp.Secret)
	}
	if resp.Name != "studio" || len(resp.Scopes) != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.ExpiresAt == nil {
		t.Fatal("expected expiry")
	}
	want := h.store.clock.Now().AddDate(0, 0, 30).Format(time.RFC3339)
	if *resp.ExpiresAt != want {
		t.Errorf("expires_at = %s, want %s", *resp.ExpiresAt, want)
	}
}

func TestHandler_Create_Validation(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed", `{`, "invalid_request"},
		{"missing name", `{}`, "missing_name"},
		{"bad scope", `{"name":"x","scopes":["root"]}`, "invalid_scope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/keys", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			err := h.Create(e.NewContext(req, httptest.NewRecorder()))
			assertStatus(t, err, http.StatusBadRequest)
		})
	}
}

func TestHandler_ListAndDelete(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	key := &APIKey{Name: "studio"}
	if _, err := h.store.Create(t.Context(), key); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/keys", nil), rec)); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var list dto.APIKeyListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.APIKeys) != 1 || list.APIKeys[0].ID != key.ID {
		t.Fatalf("unexpected list %+v", list)
	}
	if strings.Contains(rec.Body.String(), key.SecretHash) {
		t.Error("secret hash must not be exposed")
	}

	rec = httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(key.ID)
	if err := h.Delete(c); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(key.ID)
	assertStatus(t, h.Delete(c), http.StatusNotFound)
}
