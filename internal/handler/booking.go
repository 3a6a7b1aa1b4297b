package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-engine/internal/middleware"
	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/service"
)

// BookingHandler exposes booking creation, lookup and redemption, plus the
// internal status endpoint used by the payment gateway service.
type BookingHandler struct {
	Bookings *service.BookingCoordinator
	Payments *service.PaymentReconciler
}

func NewBookingHandler(bookings *service.BookingCoordinator, payments *service.PaymentReconciler) *BookingHandler {
	if bookings == nil || payments == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{Bookings: bookings, Payments: payments}
}

type createBookingRequest struct {
	ShowtimeID uint64                `json:"showtimeId"`
	CinemaID   uint64                `json:"cinemaId"`
	SeatIDs    []uint64              `json:"seatIds"`
	Items      []service.ItemRequest `json:"items"`
}

// CreateBooking handles POST /bookings.  Every listed seat must be held by
// the caller; the response is the PENDING_PAYMENT booking.
func (h *BookingHandler) CreateBooking(c echo.Context) error {
	req, err := requesterFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.ShowtimeID == 0 {
		return badRequest(c, "showtimeId is required")
	}
	for _, id := range body.SeatIDs {
		if id == 0 {
			return badRequest(c, "seatIds must be positive")
		}
	}
	b, err := h.Bookings.CreateBooking(c.Request().Context(), req, service.CreateBookingInput{
		ShowtimeID: body.ShowtimeID,
		CinemaID:   body.CinemaID,
		SeatIDs:    body.SeatIDs,
		Items:      body.Items,
	})
	if err != nil {
		return bookingError(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

func bookingError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrDuplicateSeat):
		return seatConflict(c, http.StatusBadRequest, "duplicate_seat", err)
	case errors.Is(err, service.ErrEmptyBooking),
		errors.Is(err, service.ErrInvalidItem),
		errors.Is(err, service.ErrCinemaMismatch),
		errors.Is(err, service.ErrNotInCatalog),
		errors.Is(err, service.ErrPriceOutOfRange):
		return badRequest(c, err.Error())
	case errors.Is(err, service.ErrSeatNotHeld):
		return seatConflict(c, http.StatusConflict, "seat_not_held", err)
	case errors.Is(err, service.ErrSeatHeldByOther):
		return seatConflict(c, http.StatusConflict, "seat_held_by_other", err)
	case errors.Is(err, service.ErrPricingUnavailable):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "pricing unavailable"})
	case errors.Is(err, service.ErrBookingCommit):
		middleware.Logger(c).WithError(err).Error("create booking")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "booking could not be saved, holds are kept"})
	}
	middleware.Logger(c).WithError(err).Error("create booking")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create booking"})
}

// ListBookings handles GET /bookings?page=&limit=.  Customers get their own
// bookings and operators the counter bookings they made; an admin passing
// all=true gets every booking.
func (h *BookingHandler) ListBookings(c echo.Context) error {
	req, err := requesterFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	var (
		items []*model.Booking
		total int
	)
	ctx := c.Request().Context()
	if role, _ := c.Get("role").(string); role == middleware.RoleAdmin && c.QueryParam("all") == "true" {
		items, total, err = h.Bookings.ListAllBookings(ctx, page, limit)
	} else {
		items, total, err = h.Bookings.ListBookings(ctx, req, page, limit)
	}
	if err != nil {
		middleware.Logger(c).WithError(err).Error("list bookings")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list bookings"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"items": items,
		"page":  page,
		"limit": limit,
		"total": total,
	})
}

// GetBooking handles GET /bookings/:id.
func (h *BookingHandler) GetBooking(c echo.Context) error {
	req, err := requesterFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	b, err := h.Bookings.GetBooking(c.Request().Context(), req, c.Param("id"))
	switch {
	case errors.Is(err, service.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case err != nil:
		middleware.Logger(c).WithError(err).Error("get booking")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load booking"})
	}
	return c.JSON(http.StatusOK, b)
}

// PublicBookedSeats handles GET /bookings/public/:showtimeId/booked-seats.
// Seats of pending and paid bookings are both reported as taken.
func (h *BookingHandler) PublicBookedSeats(c echo.Context) error {
	showtimeID, ok := parseID(c, "showtimeId")
	if !ok {
		return badRequest(c, "invalid showtime id")
	}
	seats, err := h.Bookings.BookedSeats(c.Request().Context(), showtimeID)
	if err != nil {
		middleware.Logger(c).WithError(err).Error("booked seats")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list booked seats"})
	}
	return c.JSON(http.StatusOK, echo.Map{"showtimeId": showtimeID, "seatIds": seats})
}

// MarkUsed handles PATCH /bookings/:id/used.
func (h *BookingHandler) MarkUsed(c echo.Context) error {
	err := h.Bookings.MarkUsed(c.Request().Context(), c.Param("id"))
	switch {
	case errors.Is(err, service.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, service.ErrNotRedeemable):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case err != nil:
		middleware.Logger(c).WithError(err).Error("mark used")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to mark booking used"})
	}
	return c.JSON(http.StatusOK, echo.Map{"id": c.Param("id"), "isUsed": true})
}

type updateStatusRequest struct {
	Status        string `json:"status"`
	PaymentMethod string `json:"paymentMethod"`
}

// UpdateStatus handles PUT /bookings/:id/status from trusted services.
func (h *BookingHandler) UpdateStatus(c echo.Context) error {
	var body updateStatusRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	status := model.BookingStatus(strings.ToUpper(strings.TrimSpace(body.Status)))
	if !status.Terminal() {
		return badRequest(c, "status must be PAID or FAILED")
	}
	id := c.Param("id")
	res, err := h.Payments.UpdateStatus(c.Request().Context(), id, status, body.PaymentMethod)
	switch {
	case errors.Is(err, service.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, service.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case err != nil:
		middleware.Logger(c).WithError(err).Error("update status")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update status"})
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "result": res})
}
