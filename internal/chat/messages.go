package chat

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/open-hours/timebank/internal/store"
)

type Handler struct {
	Hub   *Hub
	Store store.Store
}

// SendMessage - HTTP post into a service room for non-streaming clients.
// Feeds the same log and broadcast path as the websocket.
func (h *Handler) SendMessage(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	serviceID := c.Param("id")
	if serviceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing service id"})
	}

	var req struct {
		Body string `json:"body"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}

	msg, err := h.Hub.Send(c.Request().Context(), serviceID, userID, req.Body)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidMessage):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid message"})
		case errors.Is(err, ErrForbidden):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed to post in this room"})
		case errors.Is(err, store.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "service not found"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to send message"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"message": msg})
}

// ListMessages - room history, any authenticated user may read. Optional
// RFC3339 "since" filter for incremental fetches.
func (h *Handler) ListMessages(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	serviceID := c.Param("id")
	if serviceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing service id"})
	}

	var since time.Time
	if sinceStr := c.QueryParam("since"); sinceStr != "" {
		t, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid since timestamp, use RFC3339"})
		}
		since = t
	}

	msgs, err := h.Store.ListMessages(c.Request().Context(), serviceID, since)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "service not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list messages"})
	}
	return c.JSON(http.StatusOK, echo.Map{"messages": msgs})
}
