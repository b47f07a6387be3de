package bootstrap

import (
	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/eleven-am/voice-relay/internal/events"
	"github.com/eleven-am/voice-relay/internal/health"
	"github.com/eleven-am/voice-relay/internal/relay"
)

const version = "1.0.0"

func ProvideHealthHandler(
	server *relay.Server,
	db *gorm.DB,
	rdb *redis.Client,
	publisher *events.Publisher,
	clk clock.Clock,
) *health.Handler {
	return health.NewHandler(server, db, rdb, publisher, clk, version)
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
