// Package queue carries booking notifications over RabbitMQ.
package queue

import (
	"time"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
)

// BookingConfirmedEvent is published when a booking becomes PAID.  It holds
// enough for the notification side (ticket e-mail, logs) to work without
// reading the ledger.
type BookingConfirmedEvent struct {
	BookingID     string   `json:"booking_id"`
	UserID        *uint64  `json:"user_id"`
	ShowtimeID    uint64   `json:"showtime_id"`
	CinemaID      uint64   `json:"cinema_id"`
	SeatIDs       []uint64 `json:"seat_ids"`
	ItemCount     int      `json:"item_count"`
	TotalPrice    int64    `json:"total_price"`
	PaymentMethod string   `json:"payment_method"`
	ConfirmedAt   string   `json:"confirmed_at"`
}

// NewBookingConfirmedEvent builds the event for a paid booking.
func NewBookingConfirmedEvent(b *model.Booking, at time.Time) BookingConfirmedEvent {
	items := 0
	for _, it := range b.Items {
		items += it.Quantity
	}
	return BookingConfirmedEvent{
		BookingID:     b.ID,
		UserID:        b.UserID,
		ShowtimeID:    b.ShowtimeID,
		CinemaID:      b.CinemaID,
		SeatIDs:       b.SeatIDs(),
		ItemCount:     items,
		TotalPrice:    b.TotalPrice,
		PaymentMethod: b.PaymentMethod,
		ConfirmedAt:   at.UTC().Format(time.RFC3339),
	}
}
