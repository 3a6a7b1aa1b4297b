package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-reservation-engine/internal/logger"
	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/payment"
	"github.com/iliyamo/seat-reservation-engine/internal/queue"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []queue.BookingConfirmedEvent
}

func (n *recordingNotifier) PublishBookingConfirmed(_ context.Context, ev queue.BookingConfirmedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, ev)
	return nil
}

type stubVerifier struct {
	ver payment.Verification
	err error
}

func (stubVerifier) Provider() string { return "stub" }

func (s stubVerifier) Verify(context.Context, payment.Payload) (payment.Verification, error) {
	return s.ver, s.err
}

type flakyChecker struct {
	failures int
	err      error
	outcome  payment.Outcome
	calls    int
}

func (*flakyChecker) Provider() string { return "stub" }

func (c *flakyChecker) CheckStatus(context.Context, string) (payment.Outcome, error) {
	c.calls++
	if c.calls <= c.failures {
		return "", c.err
	}
	return c.outcome, nil
}

func newReconciler(h *harness, n Notifier) *PaymentReconciler {
	return NewPaymentReconciler(h.bookings, h.events, n,
		RetryPolicy{MaxTries: 4, InitialInterval: time.Millisecond}, logger.Discard())
}

var (
	updateSQL = regexp.QuoteMeta(`UPDATE bookings`)
	statusSQL = regexp.QuoteMeta(`SELECT status FROM bookings WHERE id = ?`)
	seatsSQL  = regexp.QuoteMeta(`SELECT showtime_id, seat_id, price FROM booking_seats WHERE booking_id = ?`)
)

func seatRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"showtime_id", "seat_id", "price"}).
		AddRow(3, 10, 10000).
		AddRow(3, 11, 10000)
}

func expectPaid(h *harness, method string) {
	now := time.Now().UTC()
	h.sql.ExpectBegin()
	h.sql.ExpectExec(updateSQL).WithArgs("PAID", method, "b-1", "PENDING_PAYMENT").WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectQuery(seatsSQL).WithArgs("b-1").WillReturnRows(seatRows())
	h.sql.ExpectCommit()
	// Confirmation message loads the booking.
	h.sql.ExpectQuery(regexp.QuoteMeta(`FROM bookings WHERE id = ?`)).WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow("b-1", 7, nil, 3, 1, 20000, "PAID", method, false, now, now))
	h.sql.ExpectQuery(regexp.QuoteMeta(`FROM booking_seats WHERE booking_id IN`)).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "showtime_id", "seat_id", "price"}).
			AddRow("b-1", 3, 10, 10000).AddRow("b-1", 3, 11, 10000))
	h.sql.ExpectQuery(regexp.QuoteMeta(`FROM booking_items`)).
		WillReturnRows(sqlmock.NewRows([]string{"item_id", "quantity", "unit_price"}))
}

func TestApply_SuccessIsIdempotent(t *testing.T) {
	h := newHarness(t)
	n := &recordingNotifier{}
	r := newReconciler(h, n)
	ctx := context.Background()

	expectPaid(h, "momo")
	res, err := r.Apply(ctx, PaymentOutcome{BookingID: "b-1", Outcome: payment.OutcomeSuccess, Method: "momo"})
	require.NoError(t, err)
	assert.Equal(t, ResultPaid, res)
	assert.Equal(t, []uint64{10, 11}, h.events.withStatus(model.SeatBooked))
	require.Len(t, n.sent, 1)
	assert.Equal(t, []uint64{10, 11}, n.sent[0].SeatIDs)

	// Duplicate delivery loses the CAS and finds the booking already paid.
	h.sql.ExpectBegin()
	h.sql.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	h.sql.ExpectCommit()
	h.sql.ExpectBegin()
	h.sql.ExpectQuery(statusSQL).WithArgs("b-1").WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("PAID"))
	h.sql.ExpectCommit()

	res, err = r.Apply(ctx, PaymentOutcome{BookingID: "b-1", Outcome: payment.OutcomeSuccess, Method: "momo"})
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyHandled, res)
	assert.Len(t, h.events.withStatus(model.SeatBooked), 2, "no second round of booked events")
	assert.Len(t, n.sent, 1)
	assert.NoError(t, h.sql.ExpectationsWereMet())
}

func TestApply_FailureDeletesAndReleases(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h, nil)
	ctx := context.Background()

	h.sql.ExpectBegin()
	h.sql.ExpectExec(updateSQL).WithArgs("FAILED", "vnpay", "b-1", "PENDING_PAYMENT").WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectQuery(seatsSQL).WithArgs("b-1").WillReturnRows(seatRows())
	h.sql.ExpectExec(regexp.QuoteMeta(`DELETE FROM booking_items`)).WillReturnResult(sqlmock.NewResult(0, 0))
	h.sql.ExpectExec(regexp.QuoteMeta(`DELETE FROM booking_seats`)).WillReturnResult(sqlmock.NewResult(0, 2))
	h.sql.ExpectExec(regexp.QuoteMeta(`DELETE FROM bookings`)).WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectCommit()

	res, err := r.Apply(ctx, PaymentOutcome{BookingID: "b-1", Outcome: payment.OutcomeFailure, Method: "vnpay"})
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, res)
	assert.Equal(t, []uint64{10, 11}, h.events.withStatus(model.SeatReleased))

	// A repeat failure finds nothing left to do.
	h.sql.ExpectBegin()
	h.sql.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	h.sql.ExpectCommit()
	h.sql.ExpectBegin()
	h.sql.ExpectQuery(statusSQL).WillReturnRows(sqlmock.NewRows([]string{"status"}))
	h.sql.ExpectRollback()

	res, err = r.Apply(ctx, PaymentOutcome{BookingID: "b-1", Outcome: payment.OutcomeFailure, Method: "vnpay"})
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyHandled, res)
	assert.Len(t, h.events.withStatus(model.SeatReleased), 2)
	assert.NoError(t, h.sql.ExpectationsWereMet())

	h.extras.prices[10] = 0
	h.extras.prices[11] = 1500
	for _, seat := range []uint64{10, 11} {
		hold, err := h.locks.Hold(ctx, 3, seat, 8)
		require.NoError(t, err, "seat %d", seat)
		assert.EqualValues(t, 8, hold.UserID)
	}
	assert.Equal(t, []uint64{10, 11}, h.events.withStatus(model.SeatHeld))
}

func TestApply_PaidNeverFails(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h, nil)

	h.sql.ExpectBegin()
	h.sql.ExpectExec(updateSQL).WithArgs("FAILED", "", "b-1", "PENDING_PAYMENT").WillReturnResult(sqlmock.NewResult(0, 0))
	h.sql.ExpectCommit()
	h.sql.ExpectBegin()
	h.sql.ExpectQuery(statusSQL).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("PAID"))
	h.sql.ExpectCommit()

	_, err := r.Apply(context.Background(), PaymentOutcome{BookingID: "b-1", Outcome: payment.OutcomeFailure})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, h.events.events)
	assert.NoError(t, h.sql.ExpectationsWereMet())
}

func TestApply_Pending(t *testing.T) {
	h := newHarness(t)
	res, err := newReconciler(h, nil).Apply(context.Background(), PaymentOutcome{BookingID: "b-1", Outcome: payment.OutcomePending})
	require.NoError(t, err)
	assert.Equal(t, ResultPending, res)
	assert.NoError(t, h.sql.ExpectationsWereMet())
}

func TestHandleCallback_TamperedFailsBooking(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h, nil)
	r.RegisterVerifier(stubVerifier{ver: payment.Verification{BookingID: "b-1", Outcome: payment.OutcomeSuccess, Authentic: false}})

	h.sql.ExpectBegin()
	h.sql.ExpectExec(updateSQL).WithArgs("FAILED", "stub", "b-1", "PENDING_PAYMENT").WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectQuery(seatsSQL).WillReturnRows(seatRows())
	h.sql.ExpectExec(regexp.QuoteMeta(`DELETE FROM booking_items`)).WillReturnResult(sqlmock.NewResult(0, 0))
	h.sql.ExpectExec(regexp.QuoteMeta(`DELETE FROM booking_seats`)).WillReturnResult(sqlmock.NewResult(0, 2))
	h.sql.ExpectExec(regexp.QuoteMeta(`DELETE FROM bookings`)).WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectCommit()

	res, err := r.HandleCallback(context.Background(), "stub", payment.Payload{})
	require.NoError(t, err)
	assert.False(t, res.Authentic)
	assert.Equal(t, payment.OutcomeFailure, res.Outcome)
	assert.Equal(t, ResultFailed, res.Result)
	assert.NoError(t, h.sql.ExpectationsWereMet())
}

func TestHandleCallback_Errors(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h, nil)

	_, err := r.HandleCallback(context.Background(), "nope", payment.Payload{})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	r.RegisterVerifier(stubVerifier{err: payment.ErrMalformedPayload})
	_, err = r.HandleCallback(context.Background(), "stub", payment.Payload{})
	assert.ErrorIs(t, err, ErrPaymentVerification)
	assert.ErrorIs(t, err, payment.ErrMalformedPayload)
}

func TestCheckStatus_RetriesProviderFailures(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h, nil)
	checker := &flakyChecker{failures: 2, err: payment.ErrProviderUnavailable, outcome: payment.OutcomePending}
	r.RegisterChecker(checker)

	res, err := r.CheckStatus(context.Background(), "stub", "b-1")
	require.NoError(t, err)
	assert.Equal(t, 3, checker.calls)
	assert.Equal(t, ResultPending, res.Result)
	assert.True(t, res.Authentic)
}

func TestCheckStatus_GivesUp(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h, nil)
	checker := &flakyChecker{failures: 100, err: payment.ErrProviderUnavailable}
	r.RegisterChecker(checker)

	_, err := r.CheckStatus(context.Background(), "stub", "b-1")
	assert.ErrorIs(t, err, ErrPaymentProvider)
	assert.Equal(t, 4, checker.calls)
	assert.NoError(t, h.sql.ExpectationsWereMet(), "the booking is untouched")
}

func TestCheckStatus_PermanentErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h, nil)
	checker := &flakyChecker{failures: 100, err: errors.New("order not found at provider")}
	r.RegisterChecker(checker)

	_, err := r.CheckStatus(context.Background(), "stub", "b-1")
	assert.ErrorIs(t, err, ErrPaymentProvider)
	assert.Equal(t, 1, checker.calls)
}

func TestUpdateStatus_RejectsPending(t *testing.T) {
	h := newHarness(t)
	_, err := newReconciler(h, nil).UpdateStatus(context.Background(), "b-1", model.BookingPendingPayment, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

type stubInitiator struct {
	got payment.Order
	err error
}

func (*stubInitiator) Provider() string { return "stub" }

func (s *stubInitiator) Checkout(_ context.Context, o payment.Order) (payment.Checkout, error) {
	s.got = o
	if s.err != nil {
		return payment.Checkout{}, s.err
	}
	return payment.Checkout{Provider: "stub", BookingID: o.BookingID, PayURL: "https://pay.example/" + o.BookingID}, nil
}

func TestCheckout(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h, nil)
	in := &stubInitiator{}
	r.RegisterInitiator(in)
	ctx := context.Background()
	pending := &model.Booking{ID: "b-1", Status: model.BookingPendingPayment, TotalPrice: 24000}

	co, err := r.Checkout(ctx, "stub", pending, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/b-1", co.PayURL)
	assert.Equal(t, payment.Order{BookingID: "b-1", Amount: 24000, ClientIP: "10.0.0.1"}, in.got)

	_, err = r.Checkout(ctx, "paypal", pending, "")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = r.Checkout(ctx, "stub", &model.Booking{ID: "b-2", Status: model.BookingPaid, TotalPrice: 24000}, "")
	assert.ErrorIs(t, err, ErrNotPayable)

	in.err = payment.ErrCheckoutRejected
	_, err = r.Checkout(ctx, "stub", pending, "")
	assert.ErrorIs(t, err, ErrPaymentProvider)
	assert.ErrorIs(t, err, payment.ErrCheckoutRejected)
	assert.NoError(t, h.sql.ExpectationsWereMet(), "checkout never touches the ledger")
}
