package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-relay/internal/dto"
	"github.com/eleven-am/voice-relay/internal/events"
	"github.com/eleven-am/voice-relay/internal/relay"
	"github.com/eleven-am/voice-relay/internal/shared"
)

const maxTagLength = 128

// CreateClient godoc
// @Summary      Create a client
// @Description  The tag is the client's opaque data. Every notification about the client is published under it.
// @Tags         clients
// @Accept       json
// @Produce      json
// @Security     APIKey
// @Param        request  body      dto.CreateClientRequest  true  "Client"
// @Success      201      {object}  dto.ClientResponse
// @Failure      400      {object}  shared.APIError
// @Failure      503      {object}  shared.APIError
// @Router       /clients [post]
func (h *Handler) CreateClient(c echo.Context) error {
	var req dto.CreateClientRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	if req.Tag == "" || len(req.Tag) > maxTagLength {
		return shared.BadRequest("invalid_tag", "tag must be 1 to 128 bytes")
	}

	id, err := h.relay.CreateClient(req.Tag)
	if err != nil {
		return relayError(err)
	}
	return c.JSON(http.StatusCreated, dto.ClientResponse{ClientID: id, Tag: req.Tag})
}

// DestroyClient godoc
// @Summary      Destroy a client
// @Tags         clients
// @Security     APIKey
// @Param        id  path  int  true  "Client ID"
// @Success      204  "No Content"
// @Failure      404  {object}  shared.APIError
// @Router       /clients/{id} [delete]
func (h *Handler) DestroyClient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if !h.relay.DestroyClient(id) {
		return shared.NotFound("client_not_found", "client not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// AssignChannel godoc
// @Summary      Move a client to a channel
// @Description  Channel 0 removes the client from its channel.
// @Tags         clients
// @Accept       json
// @Produce      json
// @Security     APIKey
// @Param        id       path      int                       true  "Client ID"
// @Param        request  body      dto.AssignChannelRequest  true  "Target channel"
// @Success      200      {object}  dto.RelayStatus
// @Failure      404      {object}  shared.APIError
// @Router       /clients/{id}/channel [put]
func (h *Handler) AssignChannel(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req dto.AssignChannelRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}

	switch res := h.relay.AssignChannel(id, req.ChannelID); res {
	case relay.AssignSuccess:
		return ok(c)
	case relay.AssignClientUnknown:
		return statusError(http.StatusNotFound, "client_not_found", "client not found", uint32(res))
	default:
		return statusError(http.StatusNotFound, "channel_not_found", "channel not found", uint32(res))
	}
}

// InitializeNative godoc
// @Summary      Attach a native audio connection
// @Description  Calling it again keeps the existing connection.
// @Tags         clients
// @Produce      json
// @Security     APIKey
// @Param        id  path  int  true  "Client ID"
// @Success      200  {object}  dto.RelayStatus
// @Failure      404  {object}  shared.APIError
// @Router       /clients/{id}/native [post]
func (h *Handler) InitializeNative(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.relay.InitializeNative(id); err != nil {
		return relayError(err)
	}
	return ok(c)
}

// IssueToken godoc
// @Summary      Issue a join token
// @Description  Signs a LiveKit-format access token whose identity is the client's tag.
// @Tags         clients
// @Accept       json
// @Produce      json
// @Security     APIKey
// @Param        id       path      int               true   "Client ID"
// @Param        request  body      dto.TokenRequest  false  "Room override"
// @Success      200      {object}  dto.TokenResponse
// @Failure      404      {object}  shared.APIError
// @Failure      503      {object}  shared.APIError
// @Router       /clients/{id}/token [post]
func (h *Handler) IssueToken(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if h.tokens == nil {
		return shared.ServiceUnavailable("tokens_disabled", "token signing is not configured")
	}

	var req dto.TokenRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}

	data, found := h.relay.ClientData(id)
	if !found {
		return shared.NotFound("client_not_found", "client not found")
	}

	room := req.Room
	if room == "" {
		if channelID, assigned := h.relay.ChannelOf(id); assigned {
			room = channelRoom(channelID)
		}
	}

	token, err := h.tokens.Issue(events.Tag(data), room)
	if err != nil {
		h.logger.Error("failed to sign token", "client_id", id, "error", err)
		return shared.InternalError("token_failed", "failed to sign token")
	}
	return c.JSON(http.StatusOK, dto.TokenResponse{Token: token, URL: h.tokens.URL()})
}
