package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-tourbooking/internal/booking"
	"ms-tourbooking/internal/models"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

const defaultListLimit = 100

// DB is the bun capacity ledger. It implements booking.AtomicLedger and the
// admin booking queries.
type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return booking.ErrNotFound
	}
	return err
}

// duplicateNumber recognises a booking_number unique key violation from
// Postgres and SQLite.
func duplicateNumber(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && strings.Contains(pqErr.Constraint, "booking_number")
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "booking_number")
}

func (d *DB) lockRows() bool {
	return d.Bun.Dialect().Name() == dialect.PG
}

// GetTour → fetch one tour by its ID
func (d *DB) GetTour(ctx context.Context, tourID string) (*models.Tour, error) {
	var tour models.Tour
	err := d.Bun.NewSelect().
		Model(&tour).
		Where("id = ?", tourID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &tour, nil
}

// GetTourDate → fetch one bookable date of a tour
func (d *DB) GetTourDate(ctx context.Context, tourID, tourDateID string) (*models.TourDate, error) {
	var date models.TourDate
	err := d.Bun.NewSelect().
		Model(&date).
		Where("id = ?", tourDateID).
		Where("tour_id = ?", tourID).
		Where("is_available = ?", true).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &date, nil
}

// GetTourDateRow → fetch one date of a tour, bookable or not
func (d *DB) GetTourDateRow(ctx context.Context, tourID, tourDateID string) (*models.TourDate, error) {
	var date models.TourDate
	err := d.Bun.NewSelect().
		Model(&date).
		Where("id = ?", tourDateID).
		Where("tour_id = ?", tourID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &date, nil
}

func (d *DB) SumBookingsForTour(ctx context.Context, tourID string) (int, error) {
	return sumBookings(ctx, d.Bun, tourID)
}

func sumBookings(ctx context.Context, idb bun.IDB, tourID string) (int, error) {
	var sum int
	err := idb.NewSelect().
		Model((*models.TourDate)(nil)).
		ColumnExpr("COALESCE(SUM(current_bookings), 0)").
		Where("tour_id = ?", tourID).
		Scan(ctx, &sum)
	if err != nil {
		return 0, fmt.Errorf("sum bookings of tour %s: %w", tourID, err)
	}
	return sum, nil
}

func (d *DB) InsertBooking(ctx context.Context, b *models.TourBooking) error {
	_, err := d.Bun.NewInsert().Model(b).Exec(ctx)
	if err != nil && duplicateNumber(err) {
		return booking.ErrDuplicateBookingNumber
	}
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// IncrementDateBookings → conditional counter update, ErrConflict when the row moved
func (d *DB) IncrementDateBookings(ctx context.Context, tourDateID string, delta, expectedCurrent int) error {
	return incrementDate(ctx, d.Bun, tourDateID, delta, expectedCurrent)
}

func incrementDate(ctx context.Context, idb bun.IDB, tourDateID string, delta, expectedCurrent int) error {
	res, err := idb.NewUpdate().
		Model((*models.TourDate)(nil)).
		Set("current_bookings = current_bookings + ?", delta).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", tourDateID).
		Where("current_bookings = ?", expectedCurrent).
		Where("current_bookings + ? BETWEEN 0 AND max_bookings", delta).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("increment date bookings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrConflict
	}
	return nil
}

// CommitBooking inserts the booking and takes its seats in one transaction.
// On Postgres the tour row is locked so that dates of the same tour cannot be
// booked past the tour ceiling in parallel.
func (d *DB) CommitBooking(ctx context.Context, b *models.TourBooking, expectedCurrent int) error {
	lock := d.lockRows()
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var tour models.Tour
		q := tx.NewSelect().Model(&tour).Where("id = ?", b.TourID)
		if lock {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			return notFound(err)
		}

		sum, err := sumBookings(ctx, tx, b.TourID)
		if err != nil {
			return err
		}
		if sum+b.NumberOfPeople > tour.MaxParticipants {
			return booking.ErrConflict
		}

		if err := incrementDate(ctx, tx, b.TourDateID, b.NumberOfPeople, expectedCurrent); err != nil {
			return err
		}

		b.CapacityApplied = true
		if _, err := tx.NewInsert().Model(b).Exec(ctx); err != nil {
			if duplicateNumber(err) {
				return booking.ErrDuplicateBookingNumber
			}
			return fmt.Errorf("insert booking: %w", err)
		}
		return nil
	})
}

func (d *DB) MarkCapacityApplied(ctx context.Context, bookingID string) error {
	return d.updateBooking(ctx, bookingID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("capacity_applied = ?", true).
			Set("needs_reconciliation = ?", false).
			Set("reconcile_reason = ?", "")
	})
}

func (d *DB) FlagBooking(ctx context.Context, bookingID, reason string) error {
	return d.updateBooking(ctx, bookingID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("needs_reconciliation = ?", true).
			Set("reconcile_reason = ?", reason)
	})
}

func (d *DB) VoidBooking(ctx context.Context, bookingID, reason string) error {
	return d.updateBooking(ctx, bookingID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("status = ?", models.BookingRejected).
			Set("capacity_applied = ?", false).
			Set("needs_reconciliation = ?", false).
			Set("reconcile_reason = ?", reason)
	})
}

func (d *DB) updateBooking(ctx context.Context, bookingID string, set func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	q := d.Bun.NewUpdate().
		Model((*models.TourBooking)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", bookingID)
	res, err := set(q).Exec(ctx)
	if err != nil {
		return fmt.Errorf("update booking %s: %w", bookingID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return booking.ErrNotFound
	}
	return nil
}

// AvailableDates → bookable dates of a tour from a day on, soonest first
func (d *DB) AvailableDates(ctx context.Context, tourID string, from time.Time) ([]models.TourDate, error) {
	var dates []models.TourDate
	err := d.Bun.NewSelect().
		Model(&dates).
		Where("tour_id = ?", tourID).
		Where("is_available = ?", true).
		Where("available_date >= ?", from).
		Order("available_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list available dates: %w", err)
	}
	return dates, nil
}

func (d *DB) GetBooking(ctx context.Context, id string) (*models.TourBooking, error) {
	var b models.TourBooking
	err := d.Bun.NewSelect().
		Model(&b).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// ListBookings → admin listing, newest first
func (d *DB) ListBookings(ctx context.Context, filter booking.ListFilter) ([]models.TourBooking, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	bookings := []models.TourBooking{}
	q := d.Bun.NewSelect().Model(&bookings)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Flagged {
		q = q.Where("needs_reconciliation = ?", true)
	}
	err := q.Order("created_at DESC").Limit(limit).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

func (d *DB) ListUserBookings(ctx context.Context, userID string) ([]models.TourBooking, error) {
	bookings := []models.TourBooking{}
	err := d.Bun.NewSelect().
		Model(&bookings).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user bookings: %w", err)
	}
	return bookings, nil
}

// ListFlaggedBookings → pending bookings waiting for reconciliation, oldest first
func (d *DB) ListFlaggedBookings(ctx context.Context) ([]models.TourBooking, error) {
	var bookings []models.TourBooking
	err := d.Bun.NewSelect().
		Model(&bookings).
		Where("needs_reconciliation = ?", true).
		Where("status = ?", models.BookingPending).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list flagged bookings: %w", err)
	}
	return bookings, nil
}

func (d *DB) ApproveBooking(ctx context.Context, id string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.TourBooking)(nil)).
		Set("status = ?", models.BookingApproved).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", models.BookingPending).
		Where("capacity_applied = ?", true).
		Where("needs_reconciliation = ?", false).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("approve booking: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return booking.ErrConflict
	}
	return nil
}

// RejectBooking rejects a pending booking and returns its counted seats to the
// date in the same transaction.
func (d *DB) RejectBooking(ctx context.Context, id string) error {
	lock := d.lockRows()
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var b models.TourBooking
		q := tx.NewSelect().Model(&b).Where("id = ?", id)
		if lock {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			return notFound(err)
		}
		if b.Status != models.BookingPending {
			return booking.ErrConflict
		}

		now := time.Now().UTC()
		res, err := tx.NewUpdate().
			Model((*models.TourBooking)(nil)).
			Set("status = ?", models.BookingRejected).
			Set("capacity_applied = ?", false).
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Where("status = ?", models.BookingPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("reject booking: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return booking.ErrConflict
		}

		if !b.CapacityApplied {
			return nil
		}
		_, err = tx.NewUpdate().
			Model((*models.TourDate)(nil)).
			Set("current_bookings = CASE WHEN current_bookings >= ? THEN current_bookings - ? ELSE 0 END", b.NumberOfPeople, b.NumberOfPeople).
			Set("updated_at = ?", now).
			Where("id = ?", b.TourDateID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("release seats: %w", err)
		}
		return nil
	})
}
