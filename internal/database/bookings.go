package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"messhall/internal/domain"
	"messhall/internal/models"
)

const bookingColumns = `id, user_id, meal_id, date, slot, price, status, special_request, payment_ref,
    created_at, updated_at, consumed_at, version`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b          models.Booking
		date       string
		slot       string
		status     string
		consumedAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.UserID, &b.MealID, &date, &slot, &b.Price, &status, &b.SpecialRequest, &b.PaymentRef,
		&b.CreatedAt, &b.UpdatedAt, &consumedAt, &b.Version)
	if err != nil {
		return nil, err
	}
	d, err := parseDate(date)
	if err != nil {
		return nil, fmt.Errorf("invalid booking date %q: %w", date, err)
	}
	b.Date = d
	b.Slot = models.Slot(slot)
	b.Status = models.BookingStatus(status)
	if consumedAt.Valid {
		t := consumedAt.Time
		b.ConsumedAt = &t
	}
	return &b, nil
}

func (db *DB) queryBookings(ctx context.Context, op, query string, args ...any) ([]*models.Booking, error) {
	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Storage(op, err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, domain.Storage("scan booking", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage(op, err)
	}
	return bookings, nil
}

// CreateBooking inserts a booking. A second seat-holding booking for the
// same user and meal is rejected by the partial unique index.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	now := time.Now()
	result, err := db.q.ExecContext(ctx,
		`INSERT INTO bookings (user_id, meal_id, date, slot, price, status, special_request, payment_ref,
            created_at, updated_at, version) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		booking.UserID,
		booking.MealID,
		dateKey(booking.Date),
		string(booking.Slot),
		booking.Price.String(),
		string(booking.Status),
		booking.SpecialRequest,
		booking.PaymentRef,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.DuplicateBooking(booking.UserID, booking.MealID)
		}
		return domain.Storage("create booking", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Storage("get last insert id", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("booking", id)
	}
	if err != nil {
		return nil, domain.Storage("get booking", err)
	}
	return b, nil
}

// FindActiveBooking returns the seat-holding booking of a user for a meal, or nil.
func (db *DB) FindActiveBooking(ctx context.Context, userID, mealID int64) (*models.Booking, error) {
	row := db.q.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
         WHERE user_id = ? AND meal_id = ? AND status IN ('pending', 'booked', 'consumed')`,
		userID, mealID,
	)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Storage("find active booking", err)
	}
	return b, nil
}

func (db *DB) ListActiveUserBookingsInRange(ctx context.Context, userID int64, from, to time.Time) ([]*models.Booking, error) {
	return db.queryBookings(ctx, "list active user bookings",
		`SELECT `+bookingColumns+` FROM bookings
         WHERE user_id = ? AND date >= ? AND date <= ? AND status IN ('pending', 'booked', 'consumed')
         ORDER BY date, id`,
		userID, dateKey(from), dateKey(to),
	)
}

func (db *DB) ListUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error) {
	return db.queryBookings(ctx, "list user bookings",
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? ORDER BY date DESC, id DESC`,
		userID,
	)
}

func (db *DB) ListBookingsInRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	return db.queryBookings(ctx, "list bookings",
		`SELECT `+bookingColumns+` FROM bookings WHERE date >= ? AND date <= ? ORDER BY date, slot, id`,
		dateKey(from), dateKey(to),
	)
}

// UpdateBookingStatusWithVersion persists status, payment_ref and consumed_at
// only if the stored version still equals fromVersion.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, booking *models.Booking, fromVersion int64) error {
	now := time.Now()
	result, err := db.q.ExecContext(ctx,
		`UPDATE bookings SET status = ?, payment_ref = ?, consumed_at = ?, updated_at = ?, version = version + 1
         WHERE id = ? AND version = ?`,
		string(booking.Status), booking.PaymentRef, booking.ConsumedAt, now, booking.ID, fromVersion,
	)
	if err != nil {
		return domain.Storage("update booking status", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return domain.Storage("update booking status", err)
	}
	if n == 0 {
		return fmt.Errorf("booking %d: %w", booking.ID, domain.ErrConcurrentModification)
	}

	booking.Version = fromVersion + 1
	booking.UpdatedAt = now
	return nil
}
