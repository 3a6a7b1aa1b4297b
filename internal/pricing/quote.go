package pricing

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
)

// SeatLine is a seat to price together with the surcharge recorded on its
// hold.  The surcharge was read from the catalog when the hold was taken.
type SeatLine struct {
	SeatID     uint64
	ExtraPrice int64
}

// ItemLine is an ancillary item and the requested quantity.
type ItemLine struct {
	ItemID   uint64
	Quantity int
}

// Quote is the priced result of a booking request.
type Quote struct {
	CinemaID   uint64
	SeatPrices map[uint64]int64
	ItemPrices map[uint64]int64
	Total      int64
}

// Quoter prices booking requests against a Catalog.  Every lookup of one
// request shares a single deadline of Timeout.
type Quoter struct {
	Catalog Catalog
	Timeout time.Duration
}

func (q Quoter) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.Timeout > 0 {
		return context.WithTimeout(ctx, q.Timeout)
	}
	return ctx, func() {}
}

// SeatExtraPrice looks up the surcharge of one seat under the quoter's
// deadline.
func (q Quoter) SeatExtraPrice(ctx context.Context, showtimeID, seatID uint64) (int64, error) {
	ctx, cancel := q.deadline(ctx)
	defer cancel()
	p, err := q.Catalog.SeatExtraPrice(ctx, showtimeID, seatID)
	if err != nil {
		return 0, fmt.Errorf("showtime %d seat %d: %w", showtimeID, seatID, err)
	}
	if p < 0 {
		return 0, fmt.Errorf("showtime %d seat %d surcharge %d: %w", showtimeID, seatID, p, ErrPriceOutOfRange)
	}
	return p, nil
}

// Quote fetches the showtime and the distinct item prices concurrently and
// sums showtime price + seat surcharge per seat and unit price × quantity
// per item.  Negative prices and totals that overflow are
// ErrPriceOutOfRange.
func (q Quoter) Quote(ctx context.Context, showtimeID uint64, seats []SeatLine, items []ItemLine) (Quote, error) {
	ctx, cancel := q.deadline(ctx)
	defer cancel()

	var st Showtime
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		st, err = q.Catalog.Showtime(gctx, showtimeID)
		if err != nil {
			return fmt.Errorf("showtime %d: %w", showtimeID, err)
		}
		return nil
	})

	itemPrices := make(map[uint64]int64, len(items))
	prices := make([]int64, len(items))
	for i, it := range items {
		g.Go(func() error {
			p, err := q.Catalog.ItemPrice(gctx, it.ItemID)
			if err != nil {
				return fmt.Errorf("item %d: %w", it.ItemID, err)
			}
			prices[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Quote{}, err
	}

	out := Quote{
		CinemaID:   st.CinemaID,
		SeatPrices: make(map[uint64]int64, len(seats)),
		ItemPrices: itemPrices,
	}
	for _, s := range seats {
		p, err := addPrice(st.Price, s.ExtraPrice)
		if err != nil {
			return Quote{}, fmt.Errorf("seat %d: %w", s.SeatID, err)
		}
		out.SeatPrices[s.SeatID] = p
		if out.Total, err = addPrice(out.Total, p); err != nil {
			return Quote{}, err
		}
	}
	for i, it := range items {
		itemPrices[it.ItemID] = prices[i]
		line, err := mulPrice(prices[i], it.Quantity)
		if err != nil {
			return Quote{}, fmt.Errorf("item %d: %w", it.ItemID, err)
		}
		if out.Total, err = addPrice(out.Total, line); err != nil {
			return Quote{}, err
		}
	}
	return out, nil
}

func addPrice(a, b int64) (int64, error) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, ErrPriceOutOfRange
	}
	return a + b, nil
}

func mulPrice(unit int64, qty int) (int64, error) {
	if unit < 0 || qty < 0 {
		return 0, ErrPriceOutOfRange
	}
	if qty == 0 || unit == 0 {
		return 0, nil
	}
	if unit > math.MaxInt64/int64(qty) {
		return 0, ErrPriceOutOfRange
	}
	return unit * int64(qty), nil
}
