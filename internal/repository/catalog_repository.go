package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/seat-reservation-engine/internal/pricing"
)

// CatalogRepo reads showtime, seat and food item prices from the local catalog
// tables.  It is used when no catalog service URL is configured and
// satisfies pricing.Catalog.  Rows are owned by the catalog; this
// repository never writes them.
type CatalogRepo struct {
	db *sql.DB
}

// NewCatalogRepo returns a CatalogRepo bound to the given database.
func NewCatalogRepo(db *sql.DB) *CatalogRepo { return &CatalogRepo{db: db} }

// Showtime returns the cinema and ticket price of a showtime, or
// pricing.ErrNotFound.
func (r *CatalogRepo) Showtime(ctx context.Context, id uint64) (pricing.Showtime, error) {
	st := pricing.Showtime{ID: id}
	err := r.db.QueryRowContext(ctx, `SELECT cinema_id, price FROM showtimes WHERE id = ?`, id).Scan(&st.CinemaID, &st.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return pricing.Showtime{}, pricing.ErrNotFound
	}
	if err != nil {
		return pricing.Showtime{}, err
	}
	return st, nil
}

// SeatExtraPrice returns the surcharge of a seat in the room the showtime
// plays in, or pricing.ErrNotFound when the seat is not part of that room.
func (r *CatalogRepo) SeatExtraPrice(ctx context.Context, showtimeID, seatID uint64) (int64, error) {
	const q = `SELECT s.extra_price
	           FROM seats s
	           JOIN showtimes st ON st.room_id = s.room_id
	           WHERE st.id = ? AND s.id = ?`
	var extra int64
	err := r.db.QueryRowContext(ctx, q, showtimeID, seatID).Scan(&extra)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, pricing.ErrNotFound
	}
	return extra, err
}

// ItemPrice returns the unit price of a food or drink item, or
// pricing.ErrNotFound.
func (r *CatalogRepo) ItemPrice(ctx context.Context, itemID uint64) (int64, error) {
	var price int64
	err := r.db.QueryRowContext(ctx, `SELECT price FROM food_items WHERE id = ?`, itemID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, pricing.ErrNotFound
	}
	return price, err
}
