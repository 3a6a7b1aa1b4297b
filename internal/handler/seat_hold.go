package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-engine/internal/middleware"
	"github.com/iliyamo/seat-reservation-engine/internal/service"
)

// SeatHandler exposes seat holds.  Routes are mounted behind JWTAuth.
type SeatHandler struct {
	Locks *service.SeatLockManager
}

func NewSeatHandler(locks *service.SeatLockManager) *SeatHandler {
	if locks == nil {
		panic("nil lock manager passed to NewSeatHandler")
	}
	return &SeatHandler{Locks: locks}
}

type holdRequest struct {
	ShowtimeID uint64 `json:"showtimeId"`
	SeatID     uint64 `json:"seatId"`
}

// HoldSeat handles POST /seats/hold.  The seat surcharge is read from the
// catalog.  A seat that is already held, by anyone, answers 409.
func (h *SeatHandler) HoldSeat(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body holdRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.ShowtimeID == 0 || body.SeatID == 0 {
		return badRequest(c, "showtimeId and seatId are required")
	}
	hold, err := h.Locks.Hold(c.Request().Context(), body.ShowtimeID, body.SeatID, userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSeatAlreadyHeld):
			return seatConflict(c, http.StatusConflict, "seat_already_held", err)
		case errors.Is(err, service.ErrNotInCatalog), errors.Is(err, service.ErrPriceOutOfRange):
			return badRequest(c, err.Error())
		case errors.Is(err, service.ErrPricingUnavailable):
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "pricing unavailable"})
		}
		middleware.Logger(c).WithError(err).Error("hold seat")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to hold seat"})
	}
	return c.JSON(http.StatusOK, hold)
}

// ReleaseHold handles DELETE /seats/hold/:showtimeId/:seatId.
func (h *SeatHandler) ReleaseHold(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	showtimeID, ok := parseID(c, "showtimeId")
	if !ok {
		return badRequest(c, "invalid showtime id")
	}
	seatID, ok := parseID(c, "seatId")
	if !ok {
		return badRequest(c, "invalid seat id")
	}
	released, err := h.Locks.Release(c.Request().Context(), showtimeID, seatID, userID)
	if err != nil {
		if errors.Is(err, service.ErrSeatHeldByOther) {
			return seatConflict(c, http.StatusConflict, "seat_held_by_other", err)
		}
		middleware.Logger(c).WithError(err).Error("release hold")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to release hold"})
	}
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

// ListHeld handles GET /seats/held/:showtimeId.
func (h *SeatHandler) ListHeld(c echo.Context) error {
	showtimeID, ok := parseID(c, "showtimeId")
	if !ok {
		return badRequest(c, "invalid showtime id")
	}
	holds, err := h.Locks.ListHeld(c.Request().Context(), showtimeID)
	if err != nil {
		middleware.Logger(c).WithError(err).Error("list holds")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list holds"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": holds})
}
