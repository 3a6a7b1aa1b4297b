package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/pricing"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

var bookingCols = []string{"id", "user_id", "operator_id", "showtime_id", "cinema_id", "total_price", "status", "payment_method", "is_used", "created_at", "updated_at"}

func TestBookingRepo_TransitionStatusTx(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepo(db)
	ctx := context.Background()

	update := regexp.QuoteMeta(`UPDATE bookings`)
	mock.ExpectBegin()
	mock.ExpectExec(update).
		WithArgs("PAID", "momo", "b-1", "PENDING_PAYMENT").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).
		WithArgs("PAID", "momo", "b-1", "PENDING_PAYMENT").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	won, err := repo.TransitionStatusTx(ctx, tx, "b-1", model.BookingPendingPayment, model.BookingPaid, "momo")
	require.NoError(t, err)
	assert.True(t, won)
	won, err = repo.TransitionStatusTx(ctx, tx, "b-1", model.BookingPendingPayment, model.BookingPaid, "momo")
	require.NoError(t, err)
	assert.False(t, won, "second transition must lose the compare-and-swap")
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepo_CreateTx_WithSeatsAndItems(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepo(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	uid := uint64(7)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bookings`)).
		WithArgs("b-1", uid, nil, 3, 1, 25000, "PENDING_PAYMENT").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM bookings WHERE id = ?`)).
		WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows(bookingCols).
			AddRow("b-1", 7, nil, 3, 1, 25000, "PENDING_PAYMENT", nil, false, now, now))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO booking_seats (booking_id, showtime_id, seat_id, price) VALUES (?, ?, ?, ?),(?, ?, ?, ?)`)).
		WithArgs("b-1", 3, 10, 10000, "b-1", 3, 11, 10000).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO booking_items`)).
		WithArgs("b-1", 4, 1, 5000).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	rec := &BookingRecord{ID: "b-1", UserID: &uid, ShowtimeID: 3, CinemaID: 1, TotalPrice: 25000, Status: model.BookingPendingPayment}
	require.NoError(t, repo.CreateTx(ctx, tx, rec))
	require.NoError(t, repo.CreateSeatsBulkTx(ctx, tx, []BookingSeatRecord{
		{BookingID: "b-1", ShowtimeID: 3, SeatID: 10, Price: 10000},
		{BookingID: "b-1", ShowtimeID: 3, SeatID: 11, Price: 10000},
	}))
	require.NoError(t, repo.CreateItemsBulkTx(ctx, tx, []BookingItemRecord{{BookingID: "b-1", ItemID: 4, Quantity: 1, UnitPrice: 5000}}))
	require.NoError(t, repo.CreateItemsBulkTx(ctx, tx, nil))
	require.NoError(t, tx.Commit())

	assert.Equal(t, now, rec.CreatedAt)
	assert.Nil(t, rec.OperatorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepo_DeleteTx_RemovesChildrenFirst(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepo(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM booking_items WHERE booking_id = ?`)).WithArgs("b-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM booking_seats WHERE booking_id = ?`)).WithArgs("b-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM bookings WHERE id = ?`)).WithArgs("b-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteTx(ctx, tx, "b-1"))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepo_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepo(db)
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM bookings WHERE id = ?`)).
		WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows(bookingCols).
			AddRow("b-1", nil, 2, 3, 1, 30000, "PAID", "vnpay", true, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM booking_seats WHERE booking_id IN (?)`)).
		WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "showtime_id", "seat_id", "price"}).
			AddRow("b-1", 3, 10, 15000).
			AddRow("b-1", 3, 11, 15000))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM booking_items WHERE booking_id = ?`)).
		WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows([]string{"item_id", "quantity", "unit_price"}))

	b, err := repo.GetByID(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Nil(t, b.UserID)
	require.NotNil(t, b.OperatorID)
	assert.EqualValues(t, 2, *b.OperatorID)
	assert.Equal(t, model.BookingPaid, b.Status)
	assert.Equal(t, "vnpay", b.PaymentMethod)
	assert.True(t, b.IsUsed)
	assert.Equal(t, []uint64{10, 11}, b.SeatIDs())
	assert.Empty(t, b.Items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepo_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM bookings WHERE id = ?`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(bookingCols))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestBookingRepo_List_ByUserEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepo(db)
	user := uint64(7)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM bookings WHERE user_id = ?`)).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM bookings WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`)).
		WithArgs(7, 10, 10).
		WillReturnRows(sqlmock.NewRows(bookingCols))

	items, total, err := repo.List(context.Background(), BookingFilter{UserID: &user}, 2, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepo_List_ByOperator(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepo(db)
	op := uint64(50)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM bookings WHERE operator_id = ?`)).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM bookings WHERE operator_id = ? ORDER BY`)).
		WithArgs(50, 20, 0).
		WillReturnRows(sqlmock.NewRows(bookingCols).
			AddRow("b-9", nil, 50, 3, 1, 10000, "PAID", "cash", false, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM booking_seats WHERE booking_id IN (?)`)).
		WithArgs("b-9").
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "showtime_id", "seat_id", "price"}).AddRow("b-9", 3, 10, 10000))

	items, total, err := repo.List(context.Background(), BookingFilter{OperatorID: &op}, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].UserID)
	require.NotNil(t, items[0].OperatorID)
	assert.EqualValues(t, 50, *items[0].OperatorID)
	assert.Equal(t, []uint64{10}, items[0].SeatIDs())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepo_List_All(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepo(db)

	mock.ExpectQuery(`^SELECT COUNT\(\*\) FROM bookings$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM bookings ORDER BY created_at DESC, id LIMIT ? OFFSET ?`)).
		WithArgs(5, 0).
		WillReturnRows(sqlmock.NewRows(bookingCols))

	_, total, err := repo.List(context.Background(), BookingFilter{}, 1, 5)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepo_ListBookedSeats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`b.status <> 'FAILED'`)).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"seat_id"}).AddRow(4).AddRow(9))

	seats, err := repo.ListBookedSeats(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 9}, seats)
}

func TestBookingRepo_MarkUsed(t *testing.T) {
	update := regexp.QuoteMeta(`UPDATE bookings SET is_used = 1`)
	exists := regexp.QuoteMeta(`SELECT 1 FROM bookings WHERE id = ?`)

	t.Run("paid booking", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(update).WithArgs("b-1").WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, NewBookingRepo(db).MarkUsed(context.Background(), "b-1"))
	})

	t.Run("not redeemable", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(update).WithArgs("b-1").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(exists).WithArgs("b-1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
		assert.ErrorIs(t, NewBookingRepo(db).MarkUsed(context.Background(), "b-1"), ErrConflict)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(update).WithArgs("b-2").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(exists).WithArgs("b-2").WillReturnRows(sqlmock.NewRows([]string{"1"}))
		assert.ErrorIs(t, NewBookingRepo(db).MarkUsed(context.Background(), "b-2"), ErrBookingNotFound)
	})
}

func TestCatalogRepo(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCatalogRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT cinema_id, price FROM showtimes WHERE id = ?`)).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"cinema_id", "price"}).AddRow(1, 9000))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT cinema_id, price FROM showtimes WHERE id = ?`)).
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"cinema_id", "price"}))
	mock.ExpectQuery(`SELECT s.extra_price\s+FROM seats s\s+JOIN showtimes st`).
		WithArgs(3, 10).
		WillReturnRows(sqlmock.NewRows([]string{"extra_price"}).AddRow(3000))
	mock.ExpectQuery(`SELECT s.extra_price\s+FROM seats s`).
		WithArgs(3, 99).
		WillReturnRows(sqlmock.NewRows([]string{"extra_price"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT price FROM food_items WHERE id = ?`)).
		WithArgs(8).
		WillReturnRows(sqlmock.NewRows([]string{"price"}).AddRow(4500))

	st, err := repo.Showtime(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, pricing.Showtime{ID: 3, CinemaID: 1, Price: 9000}, st)

	_, err = repo.Showtime(ctx, 4)
	assert.ErrorIs(t, err, pricing.ErrNotFound)

	extra, err := repo.SeatExtraPrice(ctx, 3, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3000, extra)

	_, err = repo.SeatExtraPrice(ctx, 3, 99)
	assert.ErrorIs(t, err, pricing.ErrNotFound)

	price, err := repo.ItemPrice(ctx, 8)
	require.NoError(t, err)
	assert.EqualValues(t, 4500, price)
	assert.NoError(t, mock.ExpectationsWereMet())
}
