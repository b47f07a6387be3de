// Package api exposes the relay to operators over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-relay/internal/apikey"
	"github.com/eleven-am/voice-relay/internal/dto"
	"github.com/eleven-am/voice-relay/internal/events"
	"github.com/eleven-am/voice-relay/internal/journal"
	"github.com/eleven-am/voice-relay/internal/relay"
	"github.com/eleven-am/voice-relay/internal/shared"
)

type BroadcastLister interface {
	List(ctx context.Context, channelID uint32, limit int) ([]*journal.BroadcastRecord, error)
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, tag string) (*events.Subscription, error)
}

type Handler struct {
	relay   *relay.Server
	journal BroadcastLister
	events  EventSubscriber
	tokens  *TokenIssuer
	logger  *slog.Logger
}

func NewHandler(server *relay.Server, journal BroadcastLister, subscriber EventSubscriber, tokens *TokenIssuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		relay:   server,
		journal: journal,
		events:  subscriber,
		tokens:  tokens,
		logger:  logger.With("component", "api"),
	}
}

// RegisterRoutes expects g to be guarded by apikey.Authenticator.Authenticate.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	control := apikey.RequireScope(shared.ScopeControl)

	g.POST("/channels", h.CreateChannel, control)
	g.DELETE("/channels/:id", h.DestroyChannel, control)
	g.GET("/channels/:id/broadcasts", h.ChannelBroadcasts, apikey.RequireScope(shared.ScopeJournal))

	g.POST("/clients", h.CreateClient, control)
	g.DELETE("/clients/:id", h.DestroyClient, control)
	g.PUT("/clients/:id/channel", h.AssignChannel, control)
	g.POST("/clients/:id/native", h.InitializeNative, control)
	g.POST("/clients/:id/token", h.IssueToken, control)
	g.GET("/clients/:id/events", h.StreamEvents, apikey.RequireScope(shared.ScopeEvents))

	g.POST("/clients/:id/rtc", h.InitializeRTC, control)
	g.POST("/clients/:id/rtc/offer", h.ApplyOffer, control)
	g.POST("/clients/:id/rtc/answer", h.ApplyAnswer, control)
	g.POST("/clients/:id/rtc/candidates", h.AddCandidate, control)
	g.POST("/clients/:id/rtc/reset", h.ResetRTC, control)
	g.GET("/clients/:id/rtc/streams", h.StreamCount, control)

	g.POST("/clients/:id/audio", h.BroadcastAudio, control)
	g.POST("/clients/:id/video/:mode", h.BroadcastVideo, control)
	g.PATCH("/clients/:id/video/:mode", h.ConfigureVideo, control)
	g.GET("/clients/:id/video/:mode", h.VideoConfig, control)
	g.PUT("/clients/:id/video/:target/:mode", h.JoinVideo, control)
	g.DELETE("/clients/:id/video/:target/:mode", h.LeaveVideo, control)

	g.PUT("/clients/:id/whisper", h.ConfigureWhisper, control)
	g.DELETE("/clients/:id/whisper", h.ResetWhisper, control)
}

func parseID(c echo.Context, name string) (uint32, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || v == 0 {
		return 0, shared.BadRequest("invalid_"+name, name+" must be a positive 32-bit integer")
	}
	return uint32(v), nil
}

// statusError reports a non-zero relay status. The numeric status rides in
// the error details.
func statusError(httpStatus int, code, message string, status uint32) error {
	return shared.NewAPIError(code, message).
		WithDetails(dto.RelayStatus{Status: status, Result: code}).
		ToHTTP(httpStatus)
}

func ok(c echo.Context) error {
	return c.JSON(http.StatusOK, dto.RelayStatus{Status: 0, Result: "ok"})
}

func relayError(err error) error {
	switch {
	case errors.Is(err, relay.ErrInvalidClient):
		return shared.NotFound("client_not_found", "client not found")
	case errors.Is(err, relay.ErrNoTransport):
		return shared.Conflict("no_transport", "client has no such connection")
	case errors.Is(err, relay.ErrNoSource):
		return shared.UnprocessableEntity("invalid_stream", "client has no source for stream")
	case errors.Is(err, relay.ErrServerClosed):
		return shared.ServiceUnavailable("relay_closed", "relay is shutting down")
	}
	return shared.InternalError("relay_error", err.Error())
}
