package model

import "time"

// SeatStatus is the state carried by a SeatStatusEvent.
type SeatStatus string

const (
	SeatHeld     SeatStatus = "held"
	SeatBooked   SeatStatus = "booked"
	SeatReleased SeatStatus = "released"
)

// SeatStatusEvent is broadcast whenever a seat changes hands.  Events are
// informational only; viewers that miss one re-read the held list and the
// booked seats instead.
type SeatStatusEvent struct {
	ShowtimeID uint64     `json:"showtimeId"`
	SeatID     uint64     `json:"seatId"`
	Status     SeatStatus `json:"status"`
	ExpiresAt  *time.Time `json:"expiresAt"`
}
