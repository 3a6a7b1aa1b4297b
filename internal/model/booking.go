package model

import "time"

// BookingStatus enumerates the lifecycle states of a booking.  A booking
// only ever moves forward: PENDING_PAYMENT -> PAID, or PENDING_PAYMENT ->
// FAILED after which the row is deleted.
type BookingStatus string

const (
	BookingPendingPayment BookingStatus = "PENDING_PAYMENT"
	BookingPaid           BookingStatus = "PAID"
	BookingFailed         BookingStatus = "FAILED"
)

// Valid reports whether s is one of the known statuses.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPendingPayment, BookingPaid, BookingFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s BookingStatus) Terminal() bool {
	return s == BookingPaid || s == BookingFailed
}

// Booking is the durable record created when held seats are committed.
//
// Fields:
//
//	ID            - UUID primary key, also used as the payment order id.
//	UserID        - customer that owns the booking; nil for bookings made
//	                by an operator at the counter.
//	OperatorID    - operator that created an on-behalf booking, if any.
//	ShowtimeID    - showtime being booked.
//	CinemaID      - cinema the showtime runs in.
//	Seats         - booked seats with the price charged for each.
//	Items         - ancillary items (food and drinks).
//	TotalPrice    - sum of seat and item prices in minor currency units.
//	Status        - lifecycle state.
//	PaymentMethod - provider that settled the booking, empty until paid.
//	IsUsed        - set by an operator when the ticket is redeemed.
type Booking struct {
	ID            string        `json:"id"`
	UserID        *uint64       `json:"userId"`
	OperatorID    *uint64       `json:"operatorId,omitempty"`
	ShowtimeID    uint64        `json:"showtimeId"`
	CinemaID      uint64        `json:"cinemaId"`
	Seats         []BookingSeat `json:"seats"`
	Items         []BookingItem `json:"items"`
	TotalPrice    int64         `json:"totalPrice"`
	Status        BookingStatus `json:"status"`
	PaymentMethod string        `json:"paymentMethod,omitempty"`
	IsUsed        bool          `json:"isUsed"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// SeatIDs returns the seat ids of the booking in insertion order.
func (b *Booking) SeatIDs() []uint64 {
	ids := make([]uint64, 0, len(b.Seats))
	for _, s := range b.Seats {
		ids = append(ids, s.SeatID)
	}
	return ids
}

// BookingSeat ties a booking to one seat of its showtime.
type BookingSeat struct {
	SeatID     uint64 `json:"seatId"`
	ShowtimeID uint64 `json:"showtimeId"`
	Price      int64  `json:"price"`
}

// BookingItem is an ancillary line item (popcorn, drinks) on a booking.
type BookingItem struct {
	ItemID    uint64 `json:"itemId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}
