package timebank

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/open-hours/timebank/internal/store"
)

// LedgerEntry is the API shape of one transfer log row.
type LedgerEntry struct {
	ID           string    `json:"id"`
	Change       float64   `json:"change"`
	BalanceAfter float64   `json:"balance_after"`
	Kind         string    `json:"kind"`
	Reference    string    `json:"reference"`
	CreatedAt    time.Time `json:"created_at"`
}

type Handler struct {
	Store  store.Store
	Ledger *Ledger
}

// Balance returns the authenticated user's hour balance.
func (h *Handler) Balance(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	u, err := h.Store.GetUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "account not found"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id": u.ID,
		"balance": u.Balance,
		"karma":   u.Karma,
	})
}

// History returns the authenticated user's transfer log.
func (h *Handler) History(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	entries, err := h.Ledger.History(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch history"})
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": entries})
}
