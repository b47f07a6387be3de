package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-relay/internal/dto"
	"github.com/eleven-am/voice-relay/internal/journal"
	"github.com/eleven-am/voice-relay/internal/shared"
)

const maxBroadcastPage = 500

// CreateChannel godoc
// @Summary      Create a channel
// @Tags         channels
// @Produce      json
// @Security     APIKey
// @Success      201  {object}  dto.ChannelResponse
// @Failure      503  {object}  shared.APIError
// @Router       /channels [post]
func (h *Handler) CreateChannel(c echo.Context) error {
	id, err := h.relay.CreateChannel()
	if err != nil {
		return relayError(err)
	}
	return c.JSON(http.StatusCreated, dto.ChannelResponse{ChannelID: id})
}

// DestroyChannel godoc
// @Summary      Destroy a channel
// @Description  Every member is moved out of the channel first.
// @Tags         channels
// @Security     APIKey
// @Param        id  path  int  true  "Channel ID"
// @Success      204  "No Content"
// @Failure      404  {object}  shared.APIError
// @Router       /channels/{id} [delete]
func (h *Handler) DestroyChannel(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if !h.relay.DestroyChannel(id) {
		return shared.NotFound("channel_not_found", "channel not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// ChannelBroadcasts godoc
// @Summary      List a channel's broadcasts
// @Description  Newest first. Ended channels keep their history.
// @Tags         channels
// @Produce      json
// @Security     APIKey
// @Param        id     path   int  true   "Channel ID"
// @Param        limit  query  int  false  "Page size (max 500)"
// @Success      200  {object}  dto.BroadcastListResponse
// @Failure      400  {object}  shared.APIError
// @Failure      503  {object}  shared.APIError
// @Router       /channels/{id}/broadcasts [get]
func (h *Handler) ChannelBroadcasts(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if h.journal == nil {
		return shared.ServiceUnavailable("journal_disabled", "broadcast journal is not configured")
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return shared.BadRequest("invalid_limit", "limit must be a non-negative integer")
		}
		limit = min(limit, maxBroadcastPage)
	}

	records, err := h.journal.List(c.Request().Context(), id, limit)
	if err != nil {
		h.logger.Error("failed to list broadcasts", "channel_id", id, "error", err)
		return shared.InternalError("list_failed", "failed to list broadcasts")
	}

	resp := dto.BroadcastListResponse{Broadcasts: make([]dto.BroadcastRecordResponse, len(records))}
	for i, r := range records {
		resp.Broadcasts[i] = recordToResponse(r)
	}
	return c.JSON(http.StatusOK, resp)
}

func recordToResponse(r *journal.BroadcastRecord) dto.BroadcastRecordResponse {
	resp := dto.BroadcastRecordResponse{
		ID:        r.ID,
		ChannelID: r.ChannelID,
		ClientID:  r.ClientID,
		Kind:      r.Kind,
		StreamID:  r.StreamID,
		StartedAt: r.StartedAt.Format(time.RFC3339),
		EndReason: r.EndReason,
	}
	if r.EndedAt != nil {
		ended := r.EndedAt.Format(time.RFC3339)
		resp.EndedAt = &ended
	}
	return resp
}
