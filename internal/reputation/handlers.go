package reputation

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/open-hours/timebank/internal/store"
)

type Handler struct {
	Gate  *Gate
	Store store.Store
}

type submitRequest struct {
	ReceiverID string `json:"receiver_id"`
	Flags
	Comment string `json:"comment"`
}

// Submit - a participant rates the other party after completion
func (hd *Handler) Submit(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	handshakeID := c.Param("id")
	if handshakeID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing handshake id"})
	}

	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if len(req.Comment) > 1000 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "comment too long (max 1000 characters)"})
	}

	rep, err := hd.Gate.Submit(c.Request().Context(), handshakeID, userID, req.ReceiverID, req.Flags, req.Comment)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateReputation):
			return c.JSON(http.StatusConflict, echo.Map{"error": "reputation already submitted for this handshake"})
		case errors.Is(err, ErrNotCompleted):
			return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
		case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrSelfReputation):
			return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
		case errors.Is(err, store.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "handshake not found"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to submit reputation"})
		}
	}
	return c.JSON(http.StatusCreated, echo.Map{"reputation": rep})
}

// ListForUser - reputation entries received by a user
func (hd *Handler) ListForUser(c echo.Context) error {
	userID := c.Param("id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing user id"})
	}
	u, err := hd.Store.GetUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	reps, err := hd.Store.ListReputationByReceiver(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch reputation"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id": u.ID,
		"karma":   u.Karma,
		"entries": reps,
	})
}
