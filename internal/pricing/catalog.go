// Package pricing resolves what a booking costs.  Prices come from the
// catalog (showtimes, seats and food items), which is owned by another
// service or, in single-node setups, read from local tables.
package pricing

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Catalog when the showtime, seat or item does
// not exist.
var ErrNotFound = errors.New("catalog entry not found")

// ErrPriceOutOfRange means a catalog price is negative or a total does not
// fit in an int64.
var ErrPriceOutOfRange = errors.New("price out of range")

// Showtime is the part of a catalog showtime that pricing needs.
type Showtime struct {
	ID       uint64 `json:"id"`
	CinemaID uint64 `json:"cinemaId"`
	Price    int64  `json:"price"`
}

// Catalog is the read-only price source.  SeatExtraPrice is the surcharge
// of a seat's type (VIP, couple) in the showtime's room; a seat outside that
// room is ErrNotFound.
type Catalog interface {
	Showtime(ctx context.Context, id uint64) (Showtime, error)
	SeatExtraPrice(ctx context.Context, showtimeID, seatID uint64) (int64, error)
	ItemPrice(ctx context.Context, itemID uint64) (int64, error)
}
