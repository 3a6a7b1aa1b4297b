package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/seat-reservation-engine/internal/pricing"
	"github.com/iliyamo/seat-reservation-engine/internal/repository"
)

// Seat lock and booking errors are returned synchronously to the caller.
// Payment errors are resolved inside the reconciler and only logged.
var (
	ErrSeatAlreadyHeld     = errors.New("seat already held")
	ErrSeatNotHeld         = errors.New("seat not held")
	ErrSeatHeldByOther     = errors.New("seat held by another user")
	ErrBookingCommit       = errors.New("booking commit failed")
	ErrPaymentVerification = errors.New("payment verification failed")
	ErrPaymentProvider     = errors.New("payment provider error")

	ErrDuplicateSeat      = errors.New("duplicate seat in request")
	ErrEmptyBooking       = errors.New("booking has no seats and no items")
	ErrInvalidItem        = errors.New("invalid item")
	ErrNotInCatalog       = errors.New("showtime, seat or item not in catalog")
	ErrPriceOutOfRange    = errors.New("price out of range")
	ErrCinemaMismatch     = errors.New("showtime does not run in the given cinema")
	ErrPricingUnavailable = errors.New("pricing unavailable")
	ErrBookingNotFound    = repository.ErrBookingNotFound
	ErrForbidden          = repository.ErrForbidden
	ErrInvalidTransition  = errors.New("invalid booking status transition")
	ErrNotRedeemable      = errors.New("booking is not paid or already used")
	ErrNotPayable         = errors.New("booking is not awaiting payment")
	ErrUnknownProvider    = errors.New("unknown payment provider")
)

// SeatError ties a seat error to the seat that caused it.  errors.Is sees
// through it to the sentinel.
type SeatError struct {
	ShowtimeID uint64
	SeatID     uint64
	Err        error
}

func (e *SeatError) Error() string {
	return fmt.Sprintf("showtime %d seat %d: %v", e.ShowtimeID, e.SeatID, e.Err)
}

func (e *SeatError) Unwrap() error { return e.Err }

func seatErr(showtimeID, seatID uint64, err error) error {
	return &SeatError{ShowtimeID: showtimeID, SeatID: seatID, Err: err}
}

// pricingErr maps a catalog failure onto the booking taxonomy.
func pricingErr(err error) error {
	switch {
	case errors.Is(err, pricing.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotInCatalog, err)
	case errors.Is(err, pricing.ErrPriceOutOfRange):
		return fmt.Errorf("%w: %w", ErrPriceOutOfRange, err)
	}
	return fmt.Errorf("%w: %w", ErrPricingUnavailable, err)
}
