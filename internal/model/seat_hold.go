package model

import "time"

// SeatHold represents a temporary, exclusive claim on one seat for one
// showtime.  Holds live only in Redis and disappear on their own when the
// TTL runs out; they are never written to the relational ledger.
//
// Fields:
//
//	UserID     - user (or operator) that owns the hold.
//	ShowtimeID - showtime the seat belongs to.
//	SeatID     - seat being held.
//	ExtraPrice - seat surcharge captured at hold time, added to the showtime price.
//	ExpiresAt  - when the store will evict the hold.
type SeatHold struct {
	UserID     uint64    `json:"userId"`
	ShowtimeID uint64    `json:"showtimeId"`
	SeatID     uint64    `json:"seatId"`
	ExtraPrice int64     `json:"extraPrice"`
	ExpiresAt  time.Time `json:"expiresAt"`
}
