package handshake

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/open-hours/timebank/internal/models"
	"github.com/open-hours/timebank/internal/store"
)

type Handler struct {
	Engine *Engine
	Store  store.Store
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrSelfDealing):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respond(c echo.Context, h *models.Handshake, err error) error {
	if err != nil {
		status := httpStatus(err)
		if status == http.StatusInternalServerError {
			return c.JSON(status, echo.Map{"error": "operation failed"})
		}
		return c.JSON(status, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"handshake": h})
}

// Propose - requester opens a negotiation against a service
func (hd *Handler) Propose(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req struct {
		ServiceID        string  `json:"service_id"`
		ProvisionedHours float64 `json:"provisioned_hours"`
	}
	if err := c.Bind(&req); err != nil || req.ServiceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	h, err := hd.Engine.Propose(c.Request().Context(), req.ServiceID, userID, req.ProvisionedHours)
	if err != nil {
		return respond(c, nil, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"handshake": h})
}

// ConfirmTerms - a participant confirms the final terms
func (hd *Handler) ConfirmTerms(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing handshake id"})
	}

	var terms Terms
	if err := c.Bind(&terms); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	h, err := hd.Engine.ConfirmTerms(c.Request().Context(), id, userID, terms)
	return respond(c, h, err)
}

// Accept - owner accepts a pending handshake
func (hd *Handler) Accept(c echo.Context) error {
	return hd.transition(c, hd.Engine.Accept)
}

// Complete - settles an accepted, mutually confirmed handshake
func (hd *Handler) Complete(c echo.Context) error {
	return hd.transition(c, hd.Engine.Complete)
}

// Cancel - either party backs out before completion
func (hd *Handler) Cancel(c echo.Context) error {
	return hd.transition(c, hd.Engine.Cancel)
}

// Deny - owner refuses a pending handshake
func (hd *Handler) Deny(c echo.Context) error {
	return hd.transition(c, hd.Engine.Deny)
}

func (hd *Handler) transition(c echo.Context, op func(ctx context.Context, id, actor string) (*models.Handshake, error)) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing handshake id"})
	}
	h, err := op(c.Request().Context(), id, userID)
	return respond(c, h, err)
}

// List - the caller's handshakes, newest first
func (hd *Handler) List(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	list, err := hd.Store.ListHandshakesByUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch handshakes"})
	}
	return c.JSON(http.StatusOK, echo.Map{"handshakes": list})
}
