package market

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/open-hours/timebank/internal/models"
	"github.com/open-hours/timebank/internal/store"
)

type Handler struct {
	Store store.Store
}

// CreateService lists a new offer or need. The service's chat room is
// created atomically with it and shares its ID.
func (h *Handler) CreateService(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req struct {
		Title           string  `json:"title"`
		Description     string  `json:"description"`
		Kind            string  `json:"kind"`
		DurationHours   float64 `json:"duration_hours"`
		MaxParticipants int     `json:"max_participants"`
		Location        string  `json:"location"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Title == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title is required"})
	}
	if req.Kind != models.ServiceOffer && req.Kind != models.ServiceNeed {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "kind must be 'offer' or 'need'"})
	}
	if req.DurationHours <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "duration_hours must be positive"})
	}
	if req.MaxParticipants <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "max_participants must be positive"})
	}

	svc := &models.Service{
		ID:              uuid.New().String(),
		OwnerID:         userID,
		Title:           req.Title,
		Description:     req.Description,
		Kind:            req.Kind,
		DurationHours:   req.DurationHours,
		MaxParticipants: req.MaxParticipants,
		Location:        req.Location,
		CreatedAt:       time.Now(),
	}
	if err := h.Store.CreateService(c.Request().Context(), svc); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create service"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"service": svc})
}

// ListServices - public discovery, ordered by hot score
func (h *Handler) ListServices(c echo.Context) error {
	services, err := h.Store.ListServices(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch services"})
	}
	return c.JSON(http.StatusOK, echo.Map{"services": services})
}

// GetService - a single listing
func (h *Handler) GetService(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing service id"})
	}
	svc, err := h.Store.GetService(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "service not found"})
	}
	return c.JSON(http.StatusOK, echo.Map{"service": svc})
}
