package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-relay/internal/dto"
	"github.com/eleven-am/voice-relay/internal/relay"
	"github.com/eleven-am/voice-relay/internal/rtc"
	"github.com/eleven-am/voice-relay/internal/shared"
)

// signaling is the SDP side of an rtc transport.
type signaling interface {
	ApplyOffer(offer string) (string, error)
	ApplyAnswer(answer string) error
	AddICECandidate(candidate string, mediaLine uint16) error
}

func (h *Handler) signaling(c echo.Context) (signaling, error) {
	id, err := parseID(c, "id")
	if err != nil {
		return nil, err
	}
	t, err := h.relay.RTC(id)
	if err != nil {
		return nil, relayError(err)
	}
	s, ok := t.(signaling)
	if !ok {
		return nil, shared.Conflict("no_signaling", "rtc connection does not accept sdp")
	}
	return s, nil
}

func sdpError(err error) error {
	switch {
	case errors.Is(err, rtc.ErrSDPTooLarge):
		return shared.NewAPIError("sdp_too_large", err.Error()).ToHTTP(http.StatusRequestEntityTooLarge)
	case errors.Is(err, rtc.ErrInvalidSDP), errors.Is(err, rtc.ErrTooManyMediaLines):
		return shared.BadRequest("invalid_sdp", err.Error())
	case errors.Is(err, rtc.ErrClosed):
		return shared.Conflict("rtc_closed", "rtc connection is closed")
	}
	return shared.UnprocessableEntity("negotiation_failed", err.Error())
}

// InitializeRTC godoc
// @Summary      Create the client's peer connection
// @Tags         rtc
// @Produce      json
// @Security     APIKey
// @Param        id  path  int  true  "Client ID"
// @Success      201  {object}  dto.RelayStatus
// @Failure      404  {object}  shared.APIError
// @Failure      409  {object}  shared.APIError
// @Failure      422  {object}  shared.APIError
// @Router       /clients/{id}/rtc [post]
func (h *Handler) InitializeRTC(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	_, err = h.relay.InitializeRTC(id)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, dto.RelayStatus{Status: 0, Result: "ok"})
	case errors.Is(err, relay.ErrAlreadyInitialized):
		return shared.Conflict("already_initialized", "rtc connection already exists")
	case errors.Is(err, relay.ErrInvalidClient), errors.Is(err, relay.ErrNoTransport):
		return relayError(err)
	}
	h.logger.Warn("rtc setup refused", "client_id", id, "error", err)
	return shared.UnprocessableEntity("rtc_setup_failed", err.Error())
}

// ApplyOffer godoc
// @Summary      Apply a remote offer
// @Tags         rtc
// @Accept       json
// @Produce      json
// @Security     APIKey
// @Param        id       path      int               true  "Client ID"
// @Param        request  body      dto.OfferRequest  true  "Offer"
// @Success      200      {object}  dto.AnswerResponse
// @Failure      400      {object}  shared.APIError
// @Failure      413      {object}  shared.APIError
// @Router       /clients/{id}/rtc/offer [post]
func (h *Handler) ApplyOffer(c echo.Context) error {
	s, err := h.signaling(c)
	if err != nil {
		return err
	}
	var req dto.OfferRequest
	if err := c.Bind(&req); err != nil || req.SDP == "" {
		return shared.BadRequest("invalid_request", "sdp is required")
	}

	answer, err := s.ApplyOffer(req.SDP)
	if err != nil {
		return sdpError(err)
	}
	return c.JSON(http.StatusOK, dto.AnswerResponse{SDP: answer})
}

// ApplyAnswer godoc
// @Summary      Apply the answer to a relay-generated offer
// @Tags         rtc
// @Accept       json
// @Produce      json
// @Security     APIKey
// @Param        id       path      int               true  "Client ID"
// @Param        request  body      dto.OfferRequest  true  "Answer"
// @Success      200      {object}  dto.RelayStatus
// @Failure      400      {object}  shared.APIError
// @Router       /clients/{id}/rtc/answer [post]
func (h *Handler) ApplyAnswer(c echo.Context) error {
	s, err := h.signaling(c)
	if err != nil {
		return err
	}
	var req dto.OfferRequest
	if err := c.Bind(&req); err != nil || req.SDP == "" {
		return shared.BadRequest("invalid_request", "sdp is required")
	}
	if err := s.ApplyAnswer(req.SDP); err != nil {
		return sdpError(err)
	}
	return ok(c)
}

// AddCandidate godoc
// @Summary      Add a remote ICE candidate
// @Tags         rtc
// @Accept       json
// @Produce      json
// @Security     APIKey
// @Param        id       path      int                   true  "Client ID"
// @Param        request  body      dto.CandidateRequest  true  "Candidate"
// @Success      200      {object}  dto.RelayStatus
// @Failure      400      {object}  shared.APIError
// @Router       /clients/{id}/rtc/candidates [post]
func (h *Handler) AddCandidate(c echo.Context) error {
	s, err := h.signaling(c)
	if err != nil {
		return err
	}
	var req dto.CandidateRequest
	if err := c.Bind(&req); err != nil || req.Candidate == "" {
		return shared.BadRequest("invalid_request", "candidate is required")
	}
	if err := s.AddICECandidate(req.Candidate, req.MediaLine); err != nil {
		return sdpError(err)
	}
	return ok(c)
}

// ResetRTC godoc
// @Summary      Reset the client's RTP session
// @Description  Drops every slot and remote stream and starts over with a fresh peer connection.
// @Tags         rtc
// @Produce      json
// @Security     APIKey
// @Param        id  path  int  true  "Client ID"
// @Success      200  {object}  dto.RelayStatus
// @Failure      404  {object}  shared.APIError
// @Failure      409  {object}  shared.APIError
// @Router       /clients/{id}/rtc/reset [post]
func (h *Handler) ResetRTC(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	err = h.relay.ResetRTPSession(id)
	switch {
	case err == nil:
		return ok(c)
	case errors.Is(err, rtc.ErrClosed):
		return shared.Conflict("rtc_closed", "rtc connection is closed")
	}
	return relayError(err)
}

// StreamCount godoc
// @Summary      Count video streams received
// @Description  Camera and screen slots currently carrying another client's video.
// @Tags         rtc
// @Produce      json
// @Security     APIKey
// @Param        id  path  int  true  "Client ID"
// @Success      200  {object}  dto.StreamCountResponse
// @Failure      404  {object}  shared.APIError
// @Router       /clients/{id}/rtc/streams [get]
func (h *Handler) StreamCount(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	camera, screen, status := h.relay.VideoStreamCount(id)
	if status != relay.StreamCountOK {
		return statusError(http.StatusNotFound, "client_not_found", "client not found", uint32(status))
	}
	return c.JSON(http.StatusOK, dto.StreamCountResponse{Camera: camera, Screen: screen})
}
