package apikey

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-relay/internal/dto"
	"github.com/eleven-am/voice-relay/internal/shared"
)

type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes expects g to be guarded by Authenticator.RequireAdmin.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.DELETE("/:id", h.Delete)
}

func keyToResponse(k *APIKey) dto.APIKeyResponse {
	resp := dto.APIKeyResponse{
		ID:        k.ID,
		Name:      k.Name,
		Prefix:    k.Prefix,
		Scopes:    []string(k.Scopes),
		CreatedAt: k.CreatedAt.Format(time.RFC3339),
	}
	if k.ExpiresAt != nil {
		expiresAt := k.ExpiresAt.Format(time.RFC3339)
		resp.ExpiresAt = &expiresAt
	}
	if k.LastUsedAt != nil {
		lastUsed := k.LastUsedAt.Format(time.RFC3339)
		resp.LastUsed = &lastUsed
	}
	return resp
}

// List godoc
// @Summary      List operator keys
// @Tags         apikeys
// @Produce      json
// @Security     AdminToken
// @Success      200  {object}  dto.APIKeyListResponse
// @Failure      403  {object}  shared.APIError
// @Failure      500  {object}  shared.APIError
// @Router       /admin/keys [get]
func (h *Handler) List(c echo.Context) error {
	keys, err := h.store.List(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to list api keys", "error", err)
		return shared.InternalError("list_failed", "failed to list api keys")
	}

	response := make([]dto.APIKeyResponse, len(keys))
	for i, k := range keys {
		response[i] = keyToResponse(k)
	}
	return c.JSON(http.StatusOK, dto.APIKeyListResponse{APIKeys: response})
}

// Create godoc
// @Summary      Create an operator key
// @Description  The secret is returned once and never stored in clear.
// @Tags         apikeys
// @Accept       json
// @Produce      json
// @Security     AdminToken
// @Param        request  body      dto.CreateAPIKeyRequest  true  "Key details"
// @Success      201      {object}  dto.CreateAPIKeyResponse
// @Failure      400      {object}  shared.APIError
// @Failure      403      {object}  shared.APIError
// @Failure      500      {object}  shared.APIError
// @Router       /admin/keys [post]
func (h *Handler) Create(c echo.Context) error {
	var req dto.CreateAPIKeyRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	if req.Name == "" {
		return shared.BadRequest("missing_name", "name is required")
	}

	key := &APIKey{
		Name:   req.Name,
		Scopes: shared.StringSlice(req.Scopes),
	}
	if req.ExpiresIn != nil && *req.ExpiresIn > 0 {
		expiresAt := h.store.clock.Now().AddDate(0, 0, *req.ExpiresIn)
		key.ExpiresAt = &expiresAt
	}

	secret, err := h.store.Create(c.Request().Context(), key)
	if errors.Is(err, ErrInvalidScope) {
		return shared.BadRequest("invalid_scope", err.Error())
	}
	if err != nil {
		h.logger.Error("failed to create api key", "error", err)
		return shared.InternalError("create_failed", "failed to create api key")
	}

	return c.JSON(http.StatusCreated, dto.CreateAPIKeyResponse{
		APIKeyResponse: keyToResponse(key),
		Secret:         secret,
	})
}

// Delete godoc
// @Summary      Delete an operator key
// @Tags         apikeys
// @Security     AdminToken
// @Param        id  path  string  true  "Key ID"
// @Success      204  "No Content"
// @Failure      403  {object}  shared.APIError
// @Failure      404  {object}  shared.APIError
// @Failure      500  {object}  shared.APIError
// @Router       /admin/keys/{id} [delete]
func (h *Handler) Delete(c echo.Context) error {
	id := c.Param("id")
	err := h.store.Delete(c.Request().Context(), id)
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NotFound("key_not_found", "api key not found")
	}
	if err != nil {
		h.logger.Error("failed to delete api key", "error", err, "key_id", id)
		return shared.InternalError("delete_failed", "failed to delete api key")
	}
	return c.NoContent(http.StatusNoContent)
}
