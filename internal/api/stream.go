package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-relay/internal/events"
	"github.com/eleven-am/voice-relay/internal/shared"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventStream relays one client's notifications to a websocket. The peer
// only ever sends control frames; anything else is read and dropped.
type eventStream struct {
	ws     *websocket.Conn
	sub    *events.Subscription
	logger *slog.Logger

	once sync.Once
	done chan struct{}
}

func (s *eventStream) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.sub.Close()
		_ = s.ws.Close()
	})
}

func (s *eventStream) readPump() {
	defer s.close()

	s.ws.SetReadLimit(maxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("event stream read error", "error", err)
			}
			return
		}
	}
}

func (s *eventStream) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev, ok := <-s.sub.Events():
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended"))
				return
			}
			if err := s.ws.WriteJSON(ev); err != nil {
				s.logger.Debug("event stream write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// StreamEvents godoc
// @Summary      Stream a client's notifications
// @Description  Upgrades to a websocket and forwards every notification published for the client as a JSON text frame. The subscription is live before the upgrade completes.
// @Tags         clients
// @Security     APIKey
// @Param        id  path  int  true  "Client ID"
// @Success      101  "Switching Protocols"
// @Failure      404  {object}  shared.APIError
// @Failure      503  {object}  shared.APIError
// @Router       /clients/{id}/events [get]
func (h *Handler) StreamEvents(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if h.events == nil {
		return shared.ServiceUnavailable("events_disabled", "event streaming is not configured")
	}
	data, found := h.relay.ClientData(id)
	if !found {
		return shared.NotFound("client_not_found", "client not found")
	}

	ctx := c.Request().Context()
	sub, err := h.events.Subscribe(ctx, events.Tag(data))
	if err != nil {
		h.logger.Error("failed to subscribe", "client_id", id, "error", err)
		return shared.ServiceUnavailable("subscribe_failed", "event bus unavailable")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		_ = sub.Close()
		h.logger.Warn("websocket upgrade failed", "client_id", id, "error", err)
		return nil
	}

	s := &eventStream{
		ws:     ws,
		sub:    sub,
		logger: h.logger.With("client_id", id),
		done:   make(chan struct{}),
	}
	s.logger.Debug("event stream opened")

	go s.writePump(ctx)
	s.readPump()

	s.logger.Debug("event stream closed")
	return nil
}
