package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/repository"
)

// SeatEvents is the broadcast side effect of seat changes.
type SeatEvents interface {
	Publish(ctx context.Context, showtimeID, seatID uint64, status model.SeatStatus, expiresAt *time.Time)
	PublishAll(ctx context.Context, showtimeID uint64, seatIDs []uint64, status model.SeatStatus)
}

// SeatSurcharges prices a seat's type in a showtime.  pricing.Quoter
// satisfies it.
type SeatSurcharges interface {
	SeatExtraPrice(ctx context.Context, showtimeID, seatID uint64) (int64, error)
}

// SeatLockManager grants exclusive, TTL-bound holds on seats.  Exclusivity
// comes entirely from the store's SET NX; no in-process locking is used.
type SeatLockManager struct {
	holds      *repository.SeatHoldRepo
	surcharges SeatSurcharges
	events     SeatEvents
	ttl        time.Duration
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewSeatLockManager returns a manager issuing holds that live for ttl.
func NewSeatLockManager(holds *repository.SeatHoldRepo, surcharges SeatSurcharges, events SeatEvents, ttl time.Duration, log logrus.FieldLogger) *SeatLockManager {
	return &SeatLockManager{
		holds:      holds,
		surcharges: surcharges,
		events:     events,
		ttl:        ttl,
		log:        log.WithField("component", "seatlock"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// TTL is the lifetime of every hold.
func (m *SeatLockManager) TTL() time.Duration { return m.ttl }

// Hold claims a seat for userID at the surcharge the catalog lists for it.
// A seat the catalog does not know is ErrNotInCatalog and nothing is
// written to the store.
func (m *SeatLockManager) Hold(ctx context.Context, showtimeID, seatID, userID uint64) (model.SeatHold, error) {
	extra, err := m.surcharges.SeatExtraPrice(ctx, showtimeID, seatID)
	if err != nil {
		return model.SeatHold{}, pricingErr(err)
	}
	return m.Acquire(ctx, showtimeID, seatID, userID, extra)
}

// Acquire claims a seat for userID.  It fails with ErrSeatAlreadyHeld when
// any hold exists for the seat, including one owned by the same user.
func (m *SeatLockManager) Acquire(ctx context.Context, showtimeID, seatID, userID uint64, extraPrice int64) (model.SeatHold, error) {
	rec := repository.SeatHoldRecord{UserID: userID, ShowtimeID: showtimeID, SeatID: seatID, ExtraPrice: extraPrice}
	expiresAt := m.now().Add(m.ttl)
	ok, err := m.holds.Acquire(ctx, rec, m.ttl)
	if err != nil {
		return model.SeatHold{}, err
	}
	if !ok {
		return model.SeatHold{}, seatErr(showtimeID, seatID, ErrSeatAlreadyHeld)
	}
	m.events.Publish(ctx, showtimeID, seatID, model.SeatHeld, &expiresAt)
	return model.SeatHold{
		UserID:     userID,
		ShowtimeID: showtimeID,
		SeatID:     seatID,
		ExtraPrice: extraPrice,
		ExpiresAt:  expiresAt,
	}, nil
}

// Release drops userID's hold on a seat.  Releasing a seat that is not held
// is not an error and reports false.  A hold owned by someone else is left
// in place and ErrSeatHeldByOther is returned.
func (m *SeatLockManager) Release(ctx context.Context, showtimeID, seatID, userID uint64) (bool, error) {
	rec, err := m.holds.Get(ctx, showtimeID, seatID)
	if errors.Is(err, repository.ErrHoldNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.UserID != userID {
		return false, seatErr(showtimeID, seatID, ErrSeatHeldByOther)
	}
	n, err := m.holds.ReleaseIfUnchanged(ctx, rec)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	m.events.Publish(ctx, showtimeID, seatID, model.SeatReleased, nil)
	return true, nil
}

// ListHeld returns the live holds of a showtime.
func (m *SeatLockManager) ListHeld(ctx context.Context, showtimeID uint64) ([]model.SeatHold, error) {
	entries, err := m.holds.ListByShowtime(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	out := make([]model.SeatHold, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.SeatHold{
			UserID:     e.UserID,
			ShowtimeID: e.ShowtimeID,
			SeatID:     e.SeatID,
			ExtraPrice: e.ExtraPrice,
			ExpiresAt:  e.ExpiresAt,
		})
	}
	return out, nil
}

// VerifyOwnership checks that userID currently holds the seat and returns
// the stored hold.  It returns ErrSeatNotHeld when no hold exists (never
// taken or expired) and ErrSeatHeldByOther when another user owns it.
func (m *SeatLockManager) VerifyOwnership(ctx context.Context, showtimeID, seatID, userID uint64) (repository.SeatHoldRecord, error) {
	rec, err := m.holds.Get(ctx, showtimeID, seatID)
	if errors.Is(err, repository.ErrHoldNotFound) {
		return repository.SeatHoldRecord{}, seatErr(showtimeID, seatID, ErrSeatNotHeld)
	}
	if err != nil {
		return repository.SeatHoldRecord{}, err
	}
	if rec.UserID != userID {
		return repository.SeatHoldRecord{}, seatErr(showtimeID, seatID, ErrSeatHeldByOther)
	}
	return rec, nil
}

// releaseCommitted drops holds that were converted into a booking.  Only
// holds still carrying the verified value are removed.  Failures are
// logged; the holds then simply expire.
func (m *SeatLockManager) releaseCommitted(ctx context.Context, recs []repository.SeatHoldRecord) {
	if len(recs) == 0 {
		return
	}
	if _, err := m.holds.ReleaseIfUnchanged(ctx, recs...); err != nil {
		m.log.WithError(err).WithField("showtime_id", recs[0].ShowtimeID).Warn("release committed holds")
	}
}
