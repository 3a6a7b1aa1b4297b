package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/pricing"
	"github.com/iliyamo/seat-reservation-engine/internal/repository"
)

// ItemRequest is an ancillary item line of a booking request.
type ItemRequest struct {
	ItemID   uint64 `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// CreateBookingInput is what a client submits to turn holds into a booking.
// CinemaID is optional; when set it must match the showtime's cinema.
type CreateBookingInput struct {
	ShowtimeID uint64
	CinemaID   uint64
	SeatIDs    []uint64
	Items      []ItemRequest
}

// Pricer prices a booking request.
type Pricer interface {
	Quote(ctx context.Context, showtimeID uint64, seats []pricing.SeatLine, items []pricing.ItemLine) (pricing.Quote, error)
}

// BookingCoordinator converts verified holds into a PENDING_PAYMENT
// booking.  It never mutates a booking after creating it; status changes
// belong to the PaymentReconciler.
type BookingCoordinator struct {
	locks    *SeatLockManager
	bookings *repository.BookingRepo
	pricer   Pricer
	events   SeatEvents
	log      logrus.FieldLogger
	newID    func() string
}

func NewBookingCoordinator(locks *SeatLockManager, bookings *repository.BookingRepo, pricer Pricer, events SeatEvents, log logrus.FieldLogger) *BookingCoordinator {
	return &BookingCoordinator{
		locks:    locks,
		bookings: bookings,
		pricer:   pricer,
		events:   events,
		log:      log.WithField("component", "booking"),
		newID:    uuid.NewString,
	}
}

// CreateBooking is all-or-nothing.  Every seat must be held by the
// requester; otherwise nothing is written and no hold is touched.  A failed
// ledger transaction also leaves the holds in place so the client can retry
// until they expire.  After the commit the holds are released and a held
// event is published per seat to mark it as awaiting payment.
func (c *BookingCoordinator) CreateBooking(ctx context.Context, req model.Requester, in CreateBookingInput) (*model.Booking, error) {
	items, err := validateBookingInput(in)
	if err != nil {
		return nil, err
	}
	holder := req.HolderID()

	verified := make([]repository.SeatHoldRecord, 0, len(in.SeatIDs))
	lines := make([]pricing.SeatLine, 0, len(in.SeatIDs))
	for _, seatID := range in.SeatIDs {
		rec, err := c.locks.VerifyOwnership(ctx, in.ShowtimeID, seatID, holder)
		if err != nil {
			return nil, err
		}
		verified = append(verified, rec)
		lines = append(lines, pricing.SeatLine{SeatID: seatID, ExtraPrice: rec.ExtraPrice})
	}
	itemLines := make([]pricing.ItemLine, 0, len(items))
	for _, it := range items {
		itemLines = append(itemLines, pricing.ItemLine{ItemID: it.ItemID, Quantity: it.Quantity})
	}

	quote, err := c.pricer.Quote(ctx, in.ShowtimeID, lines, itemLines)
	if err != nil {
		return nil, pricingErr(err)
	}
	if in.CinemaID != 0 && in.CinemaID != quote.CinemaID {
		return nil, ErrCinemaMismatch
	}

	rec := &repository.BookingRecord{
		ID:         c.newID(),
		ShowtimeID: in.ShowtimeID,
		CinemaID:   quote.CinemaID,
		TotalPrice: quote.Total,
		Status:     model.BookingPendingPayment,
	}
	switch r := req.(type) {
	case model.Self:
		uid := r.UserID
		rec.UserID = &uid
	case model.OnBehalf:
		oid := r.OperatorID
		rec.OperatorID = &oid
	}
	seats := make([]repository.BookingSeatRecord, 0, len(in.SeatIDs))
	for _, seatID := range in.SeatIDs {
		seats = append(seats, repository.BookingSeatRecord{
			BookingID:  rec.ID,
			ShowtimeID: in.ShowtimeID,
			SeatID:     seatID,
			Price:      quote.SeatPrices[seatID],
		})
	}
	itemRecs := make([]repository.BookingItemRecord, 0, len(items))
	for _, it := range items {
		itemRecs = append(itemRecs, repository.BookingItemRecord{
			BookingID: rec.ID,
			ItemID:    it.ItemID,
			Quantity:  it.Quantity,
			UnitPrice: quote.ItemPrices[it.ItemID],
		})
	}

	if err := c.commit(ctx, rec, seats, itemRecs); err != nil {
		c.log.WithError(err).WithField("showtime_id", in.ShowtimeID).Warn("booking commit failed")
		return nil, fmt.Errorf("%w: %w", ErrBookingCommit, err)
	}

	// The booking is durable now; finish the side effects even if the
	// client has gone away.
	after := context.WithoutCancel(ctx)
	c.locks.releaseCommitted(after, verified)
	c.events.PublishAll(after, in.ShowtimeID, in.SeatIDs, model.SeatHeld)

	b := &model.Booking{
		ID:         rec.ID,
		UserID:     rec.UserID,
		OperatorID: rec.OperatorID,
		ShowtimeID: rec.ShowtimeID,
		CinemaID:   rec.CinemaID,
		TotalPrice: rec.TotalPrice,
		Status:     rec.Status,
		Seats:      make([]model.BookingSeat, 0, len(seats)),
		Items:      make([]model.BookingItem, 0, len(itemRecs)),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	for _, s := range seats {
		b.Seats = append(b.Seats, model.BookingSeat{SeatID: s.SeatID, ShowtimeID: s.ShowtimeID, Price: s.Price})
	}
	for _, it := range itemRecs {
		b.Items = append(b.Items, model.BookingItem{ItemID: it.ItemID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	c.log.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"showtime_id": b.ShowtimeID,
		"seats":       len(b.Seats),
		"total":       b.TotalPrice,
	}).Info("booking created")
	return b, nil
}

func (c *BookingCoordinator) commit(ctx context.Context, rec *repository.BookingRecord, seats []repository.BookingSeatRecord, items []repository.BookingItemRecord) error {
	tx, err := c.bookings.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := c.bookings.CreateTx(ctx, tx, rec); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	if err := c.bookings.CreateSeatsBulkTx(ctx, tx, seats); err != nil {
		return fmt.Errorf("insert booking seats: %w", err)
	}
	if err := c.bookings.CreateItemsBulkTx(ctx, tx, items); err != nil {
		return fmt.Errorf("insert booking items: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// maxItemQuantity caps one item line, after repeated ids are merged.
const maxItemQuantity = 100

// validateBookingInput rejects duplicate seats before any hold is looked
// at.  Repeated item ids are merged into one line.
func validateBookingInput(in CreateBookingInput) ([]ItemRequest, error) {
	seen := make(map[uint64]struct{}, len(in.SeatIDs))
	for _, id := range in.SeatIDs {
		if _, dup := seen[id]; dup {
			return nil, seatErr(in.ShowtimeID, id, ErrDuplicateSeat)
		}
		seen[id] = struct{}{}
	}
	var items []ItemRequest
	index := make(map[uint64]int, len(in.Items))
	for _, it := range in.Items {
		if it.ItemID == 0 || it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d quantity %d", ErrInvalidItem, it.ItemID, it.Quantity)
		}
		if it.Quantity > maxItemQuantity {
			return nil, fmt.Errorf("%w: item %d quantity %d over %d", ErrInvalidItem, it.ItemID, it.Quantity, maxItemQuantity)
		}
		if i, ok := index[it.ItemID]; ok {
			items[i].Quantity += it.Quantity
			if items[i].Quantity > maxItemQuantity {
				return nil, fmt.Errorf("%w: item %d quantity %d over %d", ErrInvalidItem, it.ItemID, items[i].Quantity, maxItemQuantity)
			}
			continue
		}
		index[it.ItemID] = len(items)
		items = append(items, it)
	}
	if len(in.SeatIDs) == 0 && len(items) == 0 {
		return nil, ErrEmptyBooking
	}
	return items, nil
}

// GetBooking returns a booking visible to the requester.  Customers only
// see their own bookings; operators see all of them.
func (c *BookingCoordinator) GetBooking(ctx context.Context, req model.Requester, id string) (*model.Booking, error) {
	b, err := c.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if self, ok := req.(model.Self); ok {
		if b.UserID == nil || *b.UserID != self.UserID {
			return nil, ErrForbidden
		}
	}
	return b, nil
}

// ListBookings returns one page of the requester's bookings and the total
// count.  Customers see the bookings made for them, operators the ones they
// made at the counter.
func (c *BookingCoordinator) ListBookings(ctx context.Context, req model.Requester, page, limit int) ([]*model.Booking, int, error) {
	var f repository.BookingFilter
	switch r := req.(type) {
	case model.Self:
		f.UserID = &r.UserID
	case model.OnBehalf:
		f.OperatorID = &r.OperatorID
	default:
		return nil, 0, ErrForbidden
	}
	return c.bookings.List(ctx, f, page, limit)
}

// ListAllBookings returns one page of every booking.  Callers restrict it
// to admins.
func (c *BookingCoordinator) ListAllBookings(ctx context.Context, page, limit int) ([]*model.Booking, int, error) {
	return c.bookings.List(ctx, repository.BookingFilter{}, page, limit)
}

// BookedSeats lists seats of a showtime taken by pending or paid bookings.
func (c *BookingCoordinator) BookedSeats(ctx context.Context, showtimeID uint64) ([]uint64, error) {
	return c.bookings.ListBookedSeats(ctx, showtimeID)
}

// MarkUsed redeems the ticket of a paid booking.
func (c *BookingCoordinator) MarkUsed(ctx context.Context, id string) error {
	err := c.bookings.MarkUsed(ctx, id)
	if errors.Is(err, repository.ErrConflict) {
		return ErrNotRedeemable
	}
	return err
}
