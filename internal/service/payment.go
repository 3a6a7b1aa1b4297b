package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/payment"
	"github.com/iliyamo/seat-reservation-engine/internal/queue"
	"github.com/iliyamo/seat-reservation-engine/internal/repository"
)

// ApplyResult tells the caller what a payment outcome did to the booking.
type ApplyResult string

const (
	ResultPaid           ApplyResult = "paid"
	ResultFailed         ApplyResult = "failed"
	ResultAlreadyHandled ApplyResult = "already_handled"
	ResultPending        ApplyResult = "pending"
)

// PaymentOutcome is one report about a booking's payment, whatever its
// source (callback, poll or internal status update).
type PaymentOutcome struct {
	BookingID string
	Outcome   payment.Outcome
	Method    string
}

// Resolution describes how a callback or poll was resolved.
type Resolution struct {
	BookingID string          `json:"bookingId"`
	Outcome   payment.Outcome `json:"outcome"`
	Result    ApplyResult     `json:"result"`
	Authentic bool            `json:"authentic"`
}

// Notifier receives a message for every booking that becomes paid.
type Notifier interface {
	PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
}

// RetryPolicy bounds the retries of a provider status query.
type RetryPolicy struct {
	MaxTries        uint
	MaxElapsed      time.Duration
	InitialInterval time.Duration
}

// PaymentReconciler owns every status transition of a booking after it is
// created.  All entry points go through Apply, a compare-and-swap on the
// booking status, so duplicate or reordered deliveries are harmless.
type PaymentReconciler struct {
	bookings  *repository.BookingRepo
	events    SeatEvents
	notifier  Notifier
	initiators map[string]payment.Initiator
	verifiers  map[string]payment.Verifier
	checkers   map[string]payment.StatusChecker
	retry      RetryPolicy
	log        logrus.FieldLogger
}

func NewPaymentReconciler(bookings *repository.BookingRepo, events SeatEvents, notifier Notifier, retry RetryPolicy, log logrus.FieldLogger) *PaymentReconciler {
	if retry.MaxTries == 0 {
		retry.MaxTries = 1
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = 500 * time.Millisecond
	}
	return &PaymentReconciler{
		bookings:   bookings,
		events:     events,
		notifier:   notifier,
		initiators: make(map[string]payment.Initiator),
		verifiers:  make(map[string]payment.Verifier),
		checkers:   make(map[string]payment.StatusChecker),
		retry:      retry,
		log:        log.WithField("component", "payment"),
	}
}

// RegisterInitiator enables checkouts with i's provider.
func (r *PaymentReconciler) RegisterInitiator(i payment.Initiator) { r.initiators[i.Provider()] = i }

// RegisterVerifier enables callbacks for v's provider.
func (r *PaymentReconciler) RegisterVerifier(v payment.Verifier) { r.verifiers[v.Provider()] = v }

// RegisterChecker enables status polling for c's provider.
func (r *PaymentReconciler) RegisterChecker(c payment.StatusChecker) { r.checkers[c.Provider()] = c }

// Apply moves a booking to its terminal state.
//
//   - success: PENDING_PAYMENT -> PAID, then booked events and a
//     confirmation message.  A booking that is already PAID is left alone.
//   - failure: PENDING_PAYMENT -> FAILED and the booking is deleted with
//     its seats and items in the same transaction, then released events.
//     A booking that no longer exists was already handled.
//   - pending: nothing changes.
//
// A PAID booking never moves back; a failure for it returns
// ErrInvalidTransition.
func (r *PaymentReconciler) Apply(ctx context.Context, o PaymentOutcome) (ApplyResult, error) {
	switch o.Outcome {
	case payment.OutcomeSuccess:
		return r.markPaid(ctx, o.BookingID, o.Method)
	case payment.OutcomeFailure:
		return r.markFailed(ctx, o.BookingID, o.Method)
	case payment.OutcomePending:
		return ResultPending, nil
	}
	return "", fmt.Errorf("%w: unknown outcome %q", ErrInvalidTransition, o.Outcome)
}

func (r *PaymentReconciler) markPaid(ctx context.Context, id, method string) (ApplyResult, error) {
	var seats []model.BookingSeat
	won := false
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		won, err = r.bookings.TransitionStatusTx(ctx, tx, id, model.BookingPendingPayment, model.BookingPaid, method)
		if err != nil || !won {
			return err
		}
		seats, err = r.bookings.SeatsTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return "", err
	}
	if !won {
		status, err := r.currentStatus(ctx, id)
		if err != nil {
			return "", err
		}
		if status == model.BookingPaid {
			return ResultAlreadyHandled, nil
		}
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, model.BookingPaid)
	}

	after := context.WithoutCancel(ctx)
	for _, s := range seats {
		r.events.Publish(after, s.ShowtimeID, s.SeatID, model.SeatBooked, nil)
	}
	r.notifyConfirmed(after, id)
	r.log.WithFields(logrus.Fields{"booking_id": id, "method": method}).Info("booking paid")
	return ResultPaid, nil
}

func (r *PaymentReconciler) markFailed(ctx context.Context, id, method string) (ApplyResult, error) {
	var seats []model.BookingSeat
	won := false
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		won, err = r.bookings.TransitionStatusTx(ctx, tx, id, model.BookingPendingPayment, model.BookingFailed, method)
		if err != nil || !won {
			return err
		}
		if seats, err = r.bookings.SeatsTx(ctx, tx, id); err != nil {
			return err
		}
		return r.bookings.DeleteTx(ctx, tx, id)
	})
	if err != nil {
		return "", err
	}
	if !won {
		status, err := r.currentStatus(ctx, id)
		if errors.Is(err, repository.ErrBookingNotFound) {
			return ResultAlreadyHandled, nil
		}
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, model.BookingFailed)
	}

	after := context.WithoutCancel(ctx)
	for _, s := range seats {
		r.events.Publish(after, s.ShowtimeID, s.SeatID, model.SeatReleased, nil)
	}
	r.log.WithFields(logrus.Fields{"booking_id": id, "method": method, "seats": len(seats)}).Info("booking failed and removed")
	return ResultFailed, nil
}

// HandleCallback verifies a provider callback and applies it.  A callback
// whose signature does not match always fails the booking.
func (r *PaymentReconciler) HandleCallback(ctx context.Context, provider string, p payment.Payload) (Resolution, error) {
	v, ok := r.verifiers[provider]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	ver, err := v.Verify(ctx, p)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %w", ErrPaymentVerification, err)
	}
	res := Resolution{BookingID: ver.BookingID, Outcome: ver.Outcome, Authentic: ver.Authentic}
	if !ver.Authentic {
		r.log.WithFields(logrus.Fields{"provider": provider, "booking_id": ver.BookingID}).
			WithError(ErrPaymentVerification).Warn("callback signature mismatch, failing booking")
		res.Outcome = payment.OutcomeFailure
	}
	res.Result, err = r.Apply(ctx, PaymentOutcome{BookingID: res.BookingID, Outcome: res.Outcome, Method: provider})
	return res, err
}

// Checkout opens a payment for a booking that is still PENDING_PAYMENT.
// The booking status is not changed; the provider's callback settles it.
func (r *PaymentReconciler) Checkout(ctx context.Context, provider string, b *model.Booking, clientIP string) (payment.Checkout, error) {
	in, ok := r.initiators[provider]
	if !ok {
		return payment.Checkout{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if b.Status != model.BookingPendingPayment || b.TotalPrice <= 0 {
		return payment.Checkout{}, fmt.Errorf("%w: booking %s is %s", ErrNotPayable, b.ID, b.Status)
	}
	co, err := in.Checkout(ctx, payment.Order{BookingID: b.ID, Amount: b.TotalPrice, ClientIP: clientIP})
	if err != nil {
		return payment.Checkout{}, fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}
	r.log.WithFields(logrus.Fields{"booking_id": b.ID, "provider": provider, "reference": co.Reference}).Info("checkout opened")
	return co, nil
}

// CheckStatus polls the provider for a booking and applies the answer the
// same way a callback would.  Provider failures are retried with
// exponential backoff; if they persist ErrPaymentProvider is returned and
// the booking is untouched.
func (r *PaymentReconciler) CheckStatus(ctx context.Context, provider, bookingID string) (Resolution, error) {
	c, ok := r.checkers[provider]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retry.InitialInterval
	opts := []backoff.RetryOption{backoff.WithBackOff(b), backoff.WithMaxTries(r.retry.MaxTries)}
	if r.retry.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(r.retry.MaxElapsed))
	}
	outcome, err := backoff.Retry(ctx, func() (payment.Outcome, error) {
		o, err := c.CheckStatus(ctx, bookingID)
		if err == nil {
			return o, nil
		}
		if errors.Is(err, payment.ErrProviderUnavailable) {
			r.log.WithError(err).WithField("booking_id", bookingID).Debug("status query failed, retrying")
			return "", err
		}
		return "", backoff.Permanent(err)
	}, opts...)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}
	res := Resolution{BookingID: bookingID, Outcome: outcome, Authentic: true}
	res.Result, err = r.Apply(ctx, PaymentOutcome{BookingID: bookingID, Outcome: outcome, Method: provider})
	return res, err
}

// UpdateStatus applies an explicit status from a trusted internal caller.
// Only the terminal statuses are accepted.
func (r *PaymentReconciler) UpdateStatus(ctx context.Context, bookingID string, status model.BookingStatus, method string) (ApplyResult, error) {
	switch status {
	case model.BookingPaid:
		return r.Apply(ctx, PaymentOutcome{BookingID: bookingID, Outcome: payment.OutcomeSuccess, Method: method})
	case model.BookingFailed:
		return r.Apply(ctx, PaymentOutcome{BookingID: bookingID, Outcome: payment.OutcomeFailure, Method: method})
	}
	return "", fmt.Errorf("%w: cannot set %q", ErrInvalidTransition, status)
}

func (r *PaymentReconciler) currentStatus(ctx context.Context, id string) (model.BookingStatus, error) {
	var status model.BookingStatus
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		status, err = r.bookings.StatusTx(ctx, tx, id)
		return err
	})
	return status, err
}

func (r *PaymentReconciler) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.bookings.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (r *PaymentReconciler) notifyConfirmed(ctx context.Context, id string) {
	if r.notifier == nil {
		return
	}
	b, err := r.bookings.GetByID(ctx, id)
	if err != nil {
		r.log.WithError(err).WithField("booking_id", id).Warn("load paid booking for notification")
		return
	}
	if err := r.notifier.PublishBookingConfirmed(ctx, queue.NewBookingConfirmedEvent(b, time.Now().UTC())); err != nil {
		r.log.WithError(err).WithField("booking_id", id).Warn("publish booking confirmed")
	}
}
