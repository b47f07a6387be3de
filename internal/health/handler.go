// Package health reports liveness and readiness of the relay process.
package health

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/eleven-am/voice-relay/internal/relay"
)

const checkTimeout = 5 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines    int    `json:"goroutines"`
	MemoryAllocMB uint64 `json:"memory_alloc_mb"`
	MemorySysMB   uint64 `json:"memory_sys_mb"`
	NumGC         uint32 `json:"num_gc"`
}

type LivenessResponse struct {
	Status        Status      `json:"status"`
	Version       string      `json:"version"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Relay         relay.Stats `json:"relay"`
	EventsDropped uint64      `json:"events_dropped"`
}

type ReadinessResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Relay      relay.Stats                `json:"relay"`
	Runtime    RuntimeStats               `json:"runtime"`
	Components map[string]ComponentStatus `json:"components"`
}

// DropCounter reports notifications lost to a full publish queue.
type DropCounter interface {
	Dropped() uint64
}

type Handler struct {
	relay   *relay.Server
	db      *gorm.DB
	redis   *redis.Client
	drops   DropCounter
	clock   clock.Clock
	version string
	started time.Time
}

func NewHandler(server *relay.Server, db *gorm.DB, rdb *redis.Client, drops DropCounter, clk clock.Clock, version string) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	return &Handler{
		relay:   server,
		db:      db,
		redis:   rdb,
		drops:   drops,
		clock:   clk,
		version: version,
		started: clk.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Liveness)
	e.GET("/health/ready", h.Readiness)
}

func (h *Handler) relayStatus() Status {
	if h.relay == nil || h.relay.Closed() {
		return StatusUnhealthy
	}
	return StatusHealthy
}

// Liveness godoc
// @Summary      Liveness and relay counts
// @Tags         health
// @Produce      json
// @Success      200  {object}  health.LivenessResponse
// @Failure      503  {object}  health.LivenessResponse
// @Router       /healthz [get]
func (h *Handler) Liveness(c echo.Context) error {
	resp := LivenessResponse{
		Status:        h.relayStatus(),
		Version:       h.version,
		UptimeSeconds: int64(h.clock.Since(h.started).Seconds()),
	}
	if h.relay != nil {
		resp.Relay = h.relay.Stats()
	}
	if h.drops != nil {
		resp.EventsDropped = h.drops.Dropped()
	}

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// Readiness godoc
// @Summary      Readiness of the relay and its backing services
// @Tags         health
// @Produce      json
// @Success      200  {object}  health.ReadinessResponse
// @Failure      503  {object}  health.ReadinessResponse
// @Router       /health/ready [get]
func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), checkTimeout)
	defer cancel()

	components := map[string]ComponentStatus{
		"relay": {Status: h.relayStatus()},
	}
	var mu sync.Mutex
	var wg sync.WaitGroup

	checks := []struct {
		name  string
		check func(context.Context) ComponentStatus
	}{
		{"database", h.checkDatabase},
		{"redis", h.checkRedis},
	}

	wg.Add(len(checks))
	for _, check := range checks {
		go func() {
			defer wg.Done()
			status := check.check(ctx)
			mu.Lock()
			components[check.name] = status
			mu.Unlock()
		}()
	}
	wg.Wait()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := ReadinessResponse{
		Status:    overallStatus(components),
		Timestamp: h.clock.Now().UTC(),
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: mem.Alloc / 1024 / 1024,
			MemorySysMB:   mem.Sys / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		Components: components,
	}
	if h.relay != nil {
		resp.Relay = h.relay.Stats()
	}

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (h *Handler) checkDatabase(ctx context.Context) ComponentStatus {
	start := h.clock.Now()
	if h.db == nil {
		return ComponentStatus{Status: StatusDegraded, Error: "database not configured"}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentStatus{Status: StatusUnhealthy, LatencyMs: h.clock.Since(start).Milliseconds(), Error: "failed to get underlying db"}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentStatus{Status: StatusUnhealthy, LatencyMs: h.clock.Since(start).Milliseconds(), Error: "ping failed"}
	}
	return ComponentStatus{Status: evaluateDBStats(sqlDB.Stats()), LatencyMs: h.clock.Since(start).Milliseconds()}
}

func evaluateDBStats(stats sql.DBStats) Status {
	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	start := h.clock.Now()
	if h.redis == nil {
		return ComponentStatus{Status: StatusDegraded, Error: "redis not configured"}
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ComponentStatus{Status: StatusUnhealthy, LatencyMs: h.clock.Since(start).Milliseconds(), Error: "ping failed"}
	}
	return ComponentStatus{Status: StatusHealthy, LatencyMs: h.clock.Since(start).Milliseconds()}
}

// overallStatus is unhealthy when the relay or redis is; the relay cannot
// notify hosts without redis. A database failure only degrades the journal.
func overallStatus(components map[string]ComponentStatus) Status {
	for _, name := range []string{"relay", "redis"} {
		if s, ok := components[name]; ok && s.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
	}
	for _, s := range components {
		if s.Status != StatusHealthy {
			return StatusDegraded
		}
	}
	return StatusHealthy
}
