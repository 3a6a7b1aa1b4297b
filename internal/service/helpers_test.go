package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-reservation-engine/internal/logger"
	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/pricing"
	"github.com/iliyamo/seat-reservation-engine/internal/repository"
)

type sentEvent struct {
	ShowtimeID uint64
	SeatID     uint64
	Status     model.SeatStatus
	ExpiresAt  *time.Time
}

type recordingEvents struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recordingEvents) Publish(_ context.Context, showtimeID, seatID uint64, status model.SeatStatus, expiresAt *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{showtimeID, seatID, status, expiresAt})
}

func (r *recordingEvents) PublishAll(ctx context.Context, showtimeID uint64, seatIDs []uint64, status model.SeatStatus) {
	for _, id := range seatIDs {
		r.Publish(ctx, showtimeID, id, status, nil)
	}
}

func (r *recordingEvents) withStatus(s model.SeatStatus) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint64
	for _, e := range r.events {
		if e.Status == s {
			ids = append(ids, e.SeatID)
		}
	}
	return ids
}

func (r *recordingEvents) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// fixedPricer charges base per seat plus its surcharge and 1000 per item.
type fixedPricer struct {
	cinemaID uint64
	base     int64
	err      error
	calls    int
}

func (p *fixedPricer) Quote(_ context.Context, _ uint64, seats []pricing.SeatLine, items []pricing.ItemLine) (pricing.Quote, error) {
	p.calls++
	if p.err != nil {
		return pricing.Quote{}, p.err
	}
	q := pricing.Quote{CinemaID: p.cinemaID, SeatPrices: map[uint64]int64{}, ItemPrices: map[uint64]int64{}}
	for _, s := range seats {
		price := p.base + s.ExtraPrice
		q.SeatPrices[s.SeatID] = price
		q.Total += price
	}
	for _, it := range items {
		q.ItemPrices[it.ItemID] = 1000
		q.Total += 1000 * int64(it.Quantity)
	}
	return q, nil
}

// seatSurcharges lists surcharges by seat id; unknown seats are not in
// the catalog.
type seatSurcharges struct {
	prices map[uint64]int64
	err    error
}

func (s *seatSurcharges) SeatExtraPrice(_ context.Context, _, seatID uint64) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	p, ok := s.prices[seatID]
	if !ok {
		return 0, pricing.ErrNotFound
	}
	return p, nil
}

type harness struct {
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	db       *sql.DB
	sql      sqlmock.Sqlmock
	events   *recordingEvents
	extras   *seatSurcharges
	locks    *SeatLockManager
	bookings *repository.BookingRepo
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	events := &recordingEvents{}
	extras := &seatSurcharges{prices: map[uint64]int64{}}
	return &harness{
		mr:       mr,
		rdb:      rdb,
		db:       db,
		sql:      mock,
		events:   events,
		extras:   extras,
		locks:    NewSeatLockManager(repository.NewSeatHoldRepo(rdb), extras, events, 300*time.Second, logger.Discard()),
		bookings: repository.NewBookingRepo(db),
	}
}

var bookingCols = []string{"id", "user_id", "operator_id", "showtime_id", "cinema_id", "total_price", "status", "payment_method", "is_used", "created_at", "updated_at"}
