package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/fx"

	_ "github.com/eleven-am/voice-relay/docs"
	"github.com/eleven-am/voice-relay/internal/api"
	"github.com/eleven-am/voice-relay/internal/apikey"
	"github.com/eleven-am/voice-relay/internal/events"
	"github.com/eleven-am/voice-relay/internal/journal"
	"github.com/eleven-am/voice-relay/internal/relay"
)

const LevelTrace = slog.LevelDebug - 4

type HandlerParams struct {
	fx.In

	API           *api.Handler
	APIKeyHandler *apikey.Handler
	Authenticator *apikey.Authenticator
	RateLimiter   *api.RateLimiter
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	v1 := e.Group("/v1")
	v1.Use(params.Authenticator.Authenticate, params.RateLimiter.Middleware)
	params.API.RegisterRoutes(v1)

	if params.APIKeyHandler != nil {
		admin := v1.Group("/admin/keys")
		admin.Use(params.Authenticator.RequireAdmin)
		params.APIKeyHandler.RegisterRoutes(admin)
	}

	e.GET("/swagger/*", echoSwagger.EchoWrapHandler())
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.Any() == LevelTrace {
				a.Value = slog.StringValue("TRACE")
			}
			return a
		},
	}))
}

// ProvideAuthenticator falls back to admin-token-only auth when no key
// store is configured.
func ProvideAuthenticator(store *apikey.Store, cfg *Config, logger *slog.Logger) *apikey.Authenticator {
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set, admin routes are unreachable")
	}
	if store == nil {
		return apikey.NewAuthenticator(nil, cfg.AdminToken)
	}
	return apikey.NewAuthenticator(store, cfg.AdminToken)
}

func ProvideRateLimiter(lc fx.Lifecycle, cfg *Config, clk clock.Clock) *api.RateLimiter {
	limiter := api.NewRateLimiter(api.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
		Clock:             clk,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			limiter.Close()
			return nil
		},
	})
	return limiter
}

// ProvideTokenIssuer returns nil when token credentials are not configured.
func ProvideTokenIssuer(cfg *Config, logger *slog.Logger) (*api.TokenIssuer, error) {
	tokens, err := api.NewTokenIssuer(cfg.TokenAPIKey, cfg.TokenAPISecret, cfg.TokenURL, cfg.TokenTTL)
	if errors.Is(err, api.ErrTokenConfig) {
		logger.Info("token credentials not set, token issuance disabled")
		return nil, nil
	}
	return tokens, err
}

func ProvideAPIHandler(server *relay.Server, j *journal.Journal, publisher *events.Publisher, tokens *api.TokenIssuer, logger *slog.Logger) *api.Handler {
	var lister api.BroadcastLister
	if j != nil {
		lister = j
	}
	return api.NewHandler(server, lister, publisher, tokens, logger.With("handler", "api"))
}

func ProvideAPIKeyHandler(store *apikey.Store, logger *slog.Logger) *apikey.Handler {
	if store == nil {
		return nil
	}
	return apikey.NewHandler(store, logger.With("handler", "apikey"))
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideAuthenticator,
		ProvideRateLimiter,
		ProvideTokenIssuer,
		ProvideAPIHandler,
		ProvideAPIKeyHandler,
	),
	fx.Invoke(RegisterRoutes),
)
