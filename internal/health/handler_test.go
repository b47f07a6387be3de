package health

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/eleven-am/voice-relay/internal/relay"
)

type fixedDrops uint64

func (f fixedDrops) Dropped() uint64 { return uint64(f) }

func TestHandler_Liveness(t *testing.T) {
	clk := clock.NewMock()
	srv := relay.NewServer(relay.Options{Clock: clk})
	defer srv.Close()
	if _, err := srv.CreateChannel(); err != nil {
		t.Fatalf("CreateChannel() error = %v", err)
	}
	if _, err := srv.CreateClient("alice"); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}

	h := NewHandler(srv, nil, nil, fixedDrops(3), clk, "test")
	clk.Add(90 * time.Second)

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/healthz", nil), rec)
	if err := h.Liveness(c); err != nil {
		t.Fatalf("Liveness() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp LivenessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Relay.Clients != 1 || resp.Relay.Channels != 1 {
		t.Errorf("unexpected relay stats %+v", resp.Relay)
	}
	if resp.UptimeSeconds != 90 {
		t.Errorf("uptime = %d, want 90", resp.UptimeSeconds)
	}
	if resp.EventsDropped != 3 {
		t.Errorf("events dropped = %d, want 3", resp.EventsDropped)
	}
}

func TestHandler_Liveness_Closed(t *testing.T) {
	srv := relay.NewServer(relay.Options{Clock: clock.NewMock()})
	srv.Close()

	h := NewHandler(srv, nil, nil, nil, clock.NewMock(), "test")
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/healthz", nil), rec)
	if err := h.Liveness(c); err != nil {
		t.Fatalf("Liveness() error = %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after shutdown, got %d", rec.Code)
	}
}

func TestHandler_Readiness(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	srv := relay.NewServer(relay.Options{Clock: clock.NewMock()})
	defer srv.Close()

	h := NewHandler(srv, nil, rdb, nil, clock.NewMock(), "test")
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health/ready", nil), rec)
	if err := h.Readiness(c); err != nil {
		t.Fatalf("Readiness() error = %v", err)
	}

	var resp ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Components["redis"].Status != StatusHealthy {
		t.Errorf("redis = %+v, want healthy", resp.Components["redis"])
	}
	if resp.Components["database"].Status != StatusDegraded {
		t.Errorf("database = %+v, want degraded when unconfigured", resp.Components["database"])
	}
	if resp.Status != StatusDegraded || rec.Code != http.StatusOK {
		t.Errorf("overall = %s (%d), want degraded (200)", resp.Status, rec.Code)
	}

	mr.Close()
	rec = httptest.NewRecorder()
	c = echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health/ready", nil), rec)
	_ = h.Readiness(c)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with redis down, got %d", rec.Code)
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]ComponentStatus
		want       Status
	}{
		{"all healthy", map[string]ComponentStatus{"relay": {Status: StatusHealthy}, "redis": {Status: StatusHealthy}, "database": {Status: StatusHealthy}}, StatusHealthy},
		{"database down", map[string]ComponentStatus{"relay": {Status: StatusHealthy}, "redis": {Status: StatusHealthy}, "database": {Status: StatusUnhealthy}}, StatusDegraded},
		{"redis down", map[string]ComponentStatus{"relay": {Status: StatusHealthy}, "redis": {Status: StatusUnhealthy}}, StatusUnhealthy},
		{"relay closed", map[string]ComponentStatus{"relay": {Status: StatusUnhealthy}}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overallStatus(tt.components); got != tt.want {
				t.Errorf("overallStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEvaluateDBStats(t *testing.T) {
	if got := evaluateDBStats(sql.DBStats{MaxOpenConnections: 10, OpenConnections: 10}); got != StatusDegraded {
		t.Errorf("saturated pool = %s, want degraded", got)
	}
	if got := evaluateDBStats(sql.DBStats{MaxOpenConnections: 0, OpenConnections: 50}); got != StatusHealthy {
		t.Errorf("unbounded pool = %s, want healthy", got)
	}
}
