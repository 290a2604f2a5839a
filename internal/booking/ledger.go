package booking

import (
	"context"
	"errors"

	"ms-tourbooking/internal/models"
)

var (
	ErrNotFound = errors.New("booking: record not found")
	// ErrConflict reports that a conditional write matched no row because the
	// state it was computed from has changed.
	ErrConflict = errors.New("booking: conditional write conflict")
	// ErrDuplicateBookingNumber reports an insert that collided on the unique
	// booking_number column.
	ErrDuplicateBookingNumber = errors.New("booking: duplicate booking number")
)

// Ledger is the capacity store the Allocator reads and writes. It does not
// assume that a multi-statement transaction is available.
type Ledger interface {
	// GetTour returns the authoritative tour row, active or not.
	GetTour(ctx context.Context, tourID string) (*models.Tour, error)
	// GetTourDate returns the date row of the tour, only when is_available is set.
	GetTourDate(ctx context.Context, tourID, tourDateID string) (*models.TourDate, error)
	// GetTourDateRow returns the date row whatever its is_available flag. Seats
	// taken on a date that was closed afterwards are released through it.
	GetTourDateRow(ctx context.Context, tourID, tourDateID string) (*models.TourDate, error)
	SumBookingsForTour(ctx context.Context, tourID string) (int, error)
	// InsertBooking returns ErrDuplicateBookingNumber when the booking number is taken.
	InsertBooking(ctx context.Context, b *models.TourBooking) error
	// IncrementDateBookings adds delta to current_bookings only while it still
	// equals expectedCurrent and the result stays within [0, max_bookings].
	IncrementDateBookings(ctx context.Context, tourDateID string, delta, expectedCurrent int) error
	// MarkCapacityApplied records that the booking's seats were counted and clears
	// any reconciliation flag.
	MarkCapacityApplied(ctx context.Context, bookingID string) error
	// FlagBooking leaves the booking pending and marks it for reconciliation.
	FlagBooking(ctx context.Context, bookingID, reason string) error
	// VoidBooking rejects a booking whose seats were never counted.
	VoidBooking(ctx context.Context, bookingID, reason string) error
}

// AtomicLedger is implemented by stores that can insert the booking and apply
// the conditional increment in one transaction.
type AtomicLedger interface {
	Ledger
	// CommitBooking returns ErrConflict when the date counter moved away from
	// expectedCurrent or the tour-wide ceiling no longer fits the booking, and
	// ErrDuplicateBookingNumber when the booking number is taken.
	CommitBooking(ctx context.Context, b *models.TourBooking, expectedCurrent int) error
}
