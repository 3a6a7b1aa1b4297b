package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
)

// BookingRepo is the booking ledger.  A booking owns its booking_seats and
// booking_items rows; they are written and deleted together inside the
// caller's transaction.  All timestamps are stored in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// DB exposes the underlying sql.DB so callers can open transactions that
// span several repository calls.
func (r *BookingRepo) DB() *sql.DB { return r.db }

// BookingRecord mirrors the bookings table.  UserID is nil for bookings an
// operator made on behalf of a walk-in customer.
type BookingRecord struct {
	ID            string
	UserID        *uint64
	OperatorID    *uint64
	ShowtimeID    uint64
	CinemaID      uint64
	TotalPrice    int64
	Status        model.BookingStatus
	PaymentMethod *string
	IsUsed        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BookingSeatRecord mirrors booking_seats.
type BookingSeatRecord struct {
	BookingID  string
	ShowtimeID uint64
	SeatID     uint64
	Price      int64
}

// BookingItemRecord mirrors booking_items.
type BookingItemRecord struct {
	BookingID string
	ItemID    uint64
	Quantity  int
	UnitPrice int64
}

const bookingColumns = `id, user_id, operator_id, showtime_id, cinema_id, total_price, status, payment_method, is_used, created_at, updated_at`

// CreateTx inserts a booking inside the caller's transaction and reads the
// row back so database defaults (timestamps, status) are populated.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *BookingRecord) error {
	const q = `INSERT INTO bookings (id, user_id, operator_id, showtime_id, cinema_id, total_price, status) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, b.ID, nullUint(b.UserID), nullUint(b.OperatorID), b.ShowtimeID, b.CinemaID, b.TotalPrice, string(b.Status)); err != nil {
		return err
	}
	row := tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, b.ID)
	return scanBooking(row, b)
}

// CreateSeatsBulkTx inserts booking_seats rows in a single statement.
// Passing an empty slice has no effect.
func (r *BookingRepo) CreateSeatsBulkTx(ctx context.Context, tx *sql.Tx, seats []BookingSeatRecord) error {
	if len(seats) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO booking_seats (booking_id, showtime_id, seat_id, price) VALUES `)
	args := make([]interface{}, 0, len(seats)*4)
	for i, s := range seats {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?)")
		args = append(args, s.BookingID, s.ShowtimeID, s.SeatID, s.Price)
	}
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

// CreateItemsBulkTx inserts booking_items rows in a single statement.
// Passing an empty slice has no effect.
func (r *BookingRepo) CreateItemsBulkTx(ctx context.Context, tx *sql.Tx, items []BookingItemRecord) error {
	if len(items) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO booking_items (booking_id, item_id, quantity, unit_price) VALUES `)
	args := make([]interface{}, 0, len(items)*4)
	for i, it := range items {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?)")
		args = append(args, it.BookingID, it.ItemID, it.Quantity, it.UnitPrice)
	}
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

// TransitionStatusTx moves a booking from one status to another only if it
// is still in the expected status.  It reports whether this call performed
// the transition; false means another writer got there first or the row no
// longer exists.  paymentMethod is stored when non-empty.
func (r *BookingRepo) TransitionStatusTx(ctx context.Context, tx *sql.Tx, id string, from, to model.BookingStatus, paymentMethod string) (bool, error) {
	const q = `UPDATE bookings
	           SET status = ?, payment_method = COALESCE(NULLIF(?, ''), payment_method), updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, string(to), paymentMethod, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// StatusTx returns the current status of a booking, or ErrBookingNotFound.
func (r *BookingRepo) StatusTx(ctx context.Context, tx *sql.Tx, id string) (model.BookingStatus, error) {
	var s string
	err := tx.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, id).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrBookingNotFound
	}
	if err != nil {
		return "", err
	}
	return model.BookingStatus(s), nil
}

// SeatsTx lists the seats of a booking within a transaction.
func (r *BookingRepo) SeatsTx(ctx context.Context, tx *sql.Tx, id string) ([]model.BookingSeat, error) {
	rows, err := tx.QueryContext(ctx, `SELECT showtime_id, seat_id, price FROM booking_seats WHERE booking_id = ? ORDER BY seat_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seats := []model.BookingSeat{}
	for rows.Next() {
		var s model.BookingSeat
		if err := rows.Scan(&s.ShowtimeID, &s.SeatID, &s.Price); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// DeleteTx removes a booking with its items and seats.  The foreign keys
// cascade, but the child rows are deleted explicitly so the statement
// order does not depend on the engine settings.
func (r *BookingRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id string) error {
	for _, q := range []string{
		`DELETE FROM booking_items WHERE booking_id = ?`,
		`DELETE FROM booking_seats WHERE booking_id = ?`,
		`DELETE FROM bookings WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}

// GetByID loads a booking with its seats and items.
func (r *BookingRepo) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	var rec BookingRecord
	row := r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	if err := scanBooking(row, &rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	b := rec.toModel()
	seats, err := r.seatsByBookings(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	b.Seats = seats[id]
	if b.Items, err = r.items(ctx, id); err != nil {
		return nil, err
	}
	return b, nil
}

// BookingFilter narrows List.  A nil field matches every booking; when both
// are set they must both hold.
type BookingFilter struct {
	UserID     *uint64
	OperatorID *uint64
}

func (f BookingFilter) where() (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.UserID != nil {
		conds = append(conds, "user_id = ?")
		args = append(args, *f.UserID)
	}
	if f.OperatorID != nil {
		conds = append(conds, "operator_id = ?")
		args = append(args, *f.OperatorID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of the bookings matching f, newest first, together
// with the total number of matches.  Items are not loaded.
func (r *BookingRepo) List(ctx context.Context, f BookingFilter, page, limit int) ([]*model.Booking, int, error) {
	if page < 1 {
		page = 1
	}
	where, args := f.where()
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, limit, (page-1)*limit)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var (
		out []*model.Booking
		ids []string
	)
	for rows.Next() {
		var rec BookingRecord
		if err := scanBooking(rows, &rec); err != nil {
			return nil, 0, err
		}
		out = append(out, rec.toModel())
		ids = append(ids, rec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return []*model.Booking{}, total, nil
	}
	seats, err := r.seatsByBookings(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, b := range out {
		b.Seats = seats[b.ID]
	}
	return out, total, nil
}

// ListBookedSeats returns the seat ids of a showtime that belong to a
// pending or paid booking.
func (r *BookingRepo) ListBookedSeats(ctx context.Context, showtimeID uint64) ([]uint64, error) {
	const q = `SELECT bs.seat_id
	           FROM booking_seats bs
	           JOIN bookings b ON b.id = bs.booking_id
	           WHERE bs.showtime_id = ? AND b.status <> 'FAILED'
	           ORDER BY bs.seat_id`
	rows, err := r.db.QueryContext(ctx, q, showtimeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []uint64{}
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkUsed flags a paid booking as redeemed.  It returns ErrConflict when
// the booking is not paid or was already redeemed.
func (r *BookingRepo) MarkUsed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET is_used = 1, updated_at = UTC_TIMESTAMP() WHERE id = ? AND status = 'PAID' AND is_used = 0`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrBookingNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

func (r *BookingRepo) seatsByBookings(ctx context.Context, ids []string) (map[string][]model.BookingSeat, error) {
	q := `SELECT booking_id, showtime_id, seat_id, price FROM booking_seats WHERE booking_id IN (` + placeholders(len(ids)) + `) ORDER BY booking_id, seat_id`
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]model.BookingSeat, len(ids))
	for _, id := range ids {
		out[id] = []model.BookingSeat{}
	}
	for rows.Next() {
		var (
			bid string
			s   model.BookingSeat
		)
		if err := rows.Scan(&bid, &s.ShowtimeID, &s.SeatID, &s.Price); err != nil {
			return nil, err
		}
		out[bid] = append(out[bid], s)
	}
	return out, rows.Err()
}

func (r *BookingRepo) items(ctx context.Context, id string) ([]model.BookingItem, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT item_id, quantity, unit_price FROM booking_items WHERE booking_id = ? ORDER BY item_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []model.BookingItem{}
	for rows.Next() {
		var it model.BookingItem
		if err := rows.Scan(&it.ItemID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner, b *BookingRecord) error {
	var (
		userID, operatorID sql.NullInt64
		method             sql.NullString
		status             string
	)
	if err := row.Scan(&b.ID, &userID, &operatorID, &b.ShowtimeID, &b.CinemaID, &b.TotalPrice,
		&status, &method, &b.IsUsed, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return err
	}
	b.Status = model.BookingStatus(status)
	b.UserID = uintPtr(userID)
	b.OperatorID = uintPtr(operatorID)
	b.PaymentMethod = nil
	if method.Valid {
		m := method.String
		b.PaymentMethod = &m
	}
	return nil
}

func (b *BookingRecord) toModel() *model.Booking {
	m := &model.Booking{
		ID:         b.ID,
		UserID:     b.UserID,
		OperatorID: b.OperatorID,
		ShowtimeID: b.ShowtimeID,
		CinemaID:   b.CinemaID,
		TotalPrice: b.TotalPrice,
		Status:     b.Status,
		IsUsed:     b.IsUsed,
		Seats:      []model.BookingSeat{},
		Items:      []model.BookingItem{},
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
	if b.PaymentMethod != nil {
		m.PaymentMethod = *b.PaymentMethod
	}
	return m
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullUint(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func uintPtr(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	u := uint64(v.Int64)
	return &u
}
