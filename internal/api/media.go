package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-relay/internal/broadcast"
	"github.com/eleven-am/voice-relay/internal/dto"
	"github.com/eleven-am/voice-relay/internal/media"
	"github.com/eleven-am/voice-relay/internal/relay"
	"github.com/eleven-am/voice-relay/internal/shared"
)

const invalidMode = media.VideoMode(0xff)

// parseMode accepts "camera", "screen" or the numeric mode. Anything else
// yields an invalid mode so the relay reports it with its own status.
func parseMode(c echo.Context) media.VideoMode {
	switch raw := c.Param("mode"); raw {
	case "camera":
		return media.VideoModeCamera
	case "screen":
		return media.VideoModeScreen
	default:
		v, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			return invalidMode
		}
		return media.VideoMode(v)
	}
}

func videoOptions(bitrate, keyframeInterval *uint32) broadcast.Options {
	var opts broadcast.Options
	if bitrate != nil {
		opts.UpdateMask |= broadcast.UpdateBitrate
		opts.Bitrate = *bitrate
	}
	if keyframeInterval != nil {
		opts.UpdateMask |= broadcast.UpdateKeyframeInterval
		opts.KeyframeInterval = *keyframeInterval
	}
	return opts
}

func broadcastResult(c echo.Context, status relay.BroadcastStatus) error {
	switch status {
	case relay.BroadcastOK:
		return ok(c)
	case relay.BroadcastNoChannel:
		return statusError(http.StatusConflict, "no_channel", "client is not in a channel", uint32(status))
	case relay.BroadcastInvalidMode:
		return statusError(http.StatusBadRequest, "invalid_mode", "unknown video mode", uint32(status))
	case relay.BroadcastInvalidStream:
		return statusError(http.StatusUnprocessableEntity, "invalid_stream", "client has no source for stream", uint32(status))
	}
	return statusError(http.StatusUnprocessableEntity, "config_error", "broadcast configuration failed", uint32(status))
}

func configResult(status relay.ConfigStatus) error {
	switch status {
	case relay.ConfigInvalidMode:
		return statusError(http.StatusBadRequest, "invalid_mode", "unknown video mode", uint32(status))
	case relay.ConfigNoChannel:
		return statusError(http.StatusConflict, "no_channel", "client is not in a channel", uint32(status))
	}
	return statusError(http.StatusNotFound, "not_broadcasting", "client is not broadcasting in this mode", uint32(status))
}

// BroadcastAudio godoc
// @Summary      Broadcast audio to the channel
// @Description  Stream 0 stops the current audio broadcast.
// @Tags         media
// @Accept       json
// @Produce      json
// @Security     APIKey
// @Param        id       path      int                   true  "Client ID"
// @Param        request  body      dto.BroadcastRequest  true  "Source stream"
// @Success      200      {object}  dto.RelayStatus
// @Failure      409      {object}  shared.APIError
// @Failure      422      {object}  shared.APIError
// @Router       /clients/{id}/audio [post]
func (h *Handler) BroadcastAudio(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req dto.BroadcastRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	return broadcastResult(c, h.relay.BroadcastAudio(id, req.StreamID))
}

// BroadcastVideo godoc
// @Summary      Broadcast video to the channel
// @Description  Stream 0 stops the current broadcast in this mode.
// @Tags         media
// @Accept       json
// @Produce      json
// @Security     APIKey
// @Param        id       path      int                        true  "Client ID"
// @Param        mode     path      string                     true  "camera or screen"
// @Param        request  body      dto.VideoBroadcastRequest  true  "Source stream and options"
// @Success      200      {object}  dto.RelayStatus
// @Failure      400      {object}  shared.APIError
// @Failure      409      {object}  shared.APIError
// @Failure      422      {object}  shared.APIError
// @Router       /clients/{id}/video/{mode} [post]
func (h *Handler) BroadcastVideo(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req dto.VideoBroadcastRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	opts := videoOptions(req.Bitrate, req.KeyframeInterval)
	return broadcastResult(c, h.relay.BroadcastVideo(id, req.StreamID, parseMode(c), opts))
}

// ConfigureVideo godoc
// @Summary      Update a running video broadcast
// @Description  Only the fields present are changed. A bitrate of 0 means unlimited; a keyframe interval of 0 disables periodic keyframes.
// @Tags         media
// @Accept       json
// @Produce      json
// @Security     APIKey
// @Param        id       path      int                     true  "Client ID"
// @Param        mode     path      string                  true  "camera or screen"
// @Param        request  body      dto.VideoConfigRequest  true  "Options"
// @Success      200      {object}  dto.RelayStatus
// @Failure      400      {object}  shared.APIError
// @Failure      404      {object}  shared.APIError
// @Router       /clients/{id}/video/{mode} [patch]
func (h *Handler) ConfigureVideo(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req dto.VideoConfigRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	status := h.relay.ConfigureVideo(id, parseMode(c), videoOptions(req.Bitrate, req.KeyframeInterval))
	if status != relay.ConfigOK {
		return configResult(status)
	}
	return ok(c)
}

// VideoConfig godoc
// @Summary      Read a running video broadcast's options
// @Tags         media
// @Produce      json
// @Security     APIKey
// @Param        id    path      int     true  "Client ID"
// @Param        mode  path      string  true  "camera or screen"
// @Success      200   {object}  dto.VideoConfigResponse
// @Failure      400   {object}  shared.APIError
// @Failure      404   {object}  shared.APIError
// @Router       /clients/{id}/video/{mode} [get]
func (h *Handler) VideoConfig(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	opts, status := h.relay.VideoConfig(id, parseMode(c))
	if status != relay.ConfigOK {
		return configResult(status)
	}
	return c.JSON(http.StatusOK, dto.VideoConfigResponse{
		Bitrate:          opts.Bitrate,
		KeyframeInterval: opts.KeyframeInterval,
	})
}

// JoinVideo godoc
// @Summary      Start receiving another client's video
// @Tags         media
// @Produce      json
// @Security     APIKey
// @Param        id      path      int     true  "Viewer client ID"
// @Param        target  path      int     true  "Broadcasting client ID"
// @Param        mode    path      string  true  "camera or screen"
// @Success      200     {object}  dto.RelayStatus
// @Failure      400     {object}  shared.APIError
// @Failure      404     {object}  shared.APIError
// @Router       /clients/{id}/video/{target}/{mode} [put]
func (h *Handler) JoinVideo(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	target, err := parseID(c, "target")
	if err != nil {
		return err
	}

	switch res := h.relay.JoinVideo(id, target, parseMode(c)); res {
	case relay.JoinSuccess:
		return ok(c)
	case relay.JoinInvalidMode:
		return statusError(http.StatusBadRequest, "invalid_mode", "unknown video mode", uint32(res))
	case relay.JoinInvalidBroadcast:
		return statusError(http.StatusNotFound, "broadcast_not_found", "target is not broadcasting in this mode", uint32(res))
	default:
		return statusError(http.StatusNotFound, "client_not_found", "client is not in a channel", uint32(res))
	}
}

// LeaveVideo godoc
// @Summary      Stop receiving another client's video
// @Tags         media
// @Security     APIKey
// @Param        id      path  int     true  "Viewer client ID"
// @Param        target  path  int     true  "Broadcasting client ID"
// @Param        mode    path  string  true  "camera or screen"
// @Success      204  "No Content"
// @Router       /clients/{id}/video/{target}/{mode} [delete]
func (h *Handler) LeaveVideo(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	target, err := parseID(c, "target")
	if err != nil {
		return err
	}
	h.relay.LeaveVideo(id, target, parseMode(c))
	return c.NoContent(http.StatusNoContent)
}

// ConfigureWhisper godoc
// @Summary      Point the client's whisper at targets
// @Description  Starts a whisper session from the stream or retargets the running one. Unknown targets are ignored.
// @Tags         media
// @Accept       json
// @Produce      json
// @Security     APIKey
// @Param        id       path      int                 true  "Client ID"
// @Param        request  body      dto.WhisperRequest  true  "Stream and targets"
// @Success      200      {object}  dto.RelayStatus
// @Failure      404      {object}  shared.APIError
// @Failure      422      {object}  shared.APIError
// @Router       /clients/{id}/whisper [put]
func (h *Handler) ConfigureWhisper(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req dto.WhisperRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	if err := h.relay.WhisperConfigure(id, req.StreamID, req.Targets); err != nil {
		return relayError(err)
	}
	return ok(c)
}

// ResetWhisper godoc
// @Summary      Drop the client's whisper session
// @Tags         media
// @Security     APIKey
// @Param        id  path  int  true  "Client ID"
// @Success      204  "No Content"
// @Failure      404  {object}  shared.APIError
// @Router       /clients/{id}/whisper [delete]
func (h *Handler) ResetWhisper(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.relay.WhisperReset(id); err != nil {
		return relayError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
