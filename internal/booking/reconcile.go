package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/metrics"
	"ms-tourbooking/internal/models"
	"ms-tourbooking/internal/utils"

	"go.uber.org/multierr"
)

// Reconcile results.
const (
	ResultApplied = "applied"
	ResultVoided  = "voided"
	ResultCleared = "cleared"
	ResultSkipped = "skipped"
)

// Reconcile reasons written by the two-step commit.
const (
	// ReconcileAwaitingIncrement marks a booking inserted before its seats are
	// taken. MarkCapacityApplied or VoidBooking clears it when the request ends.
	ReconcileAwaitingIncrement = "awaiting_increment"
	// ReconcileCountedUnmarked prefixes the reason of a booking whose seats
	// were taken but whose capacity_applied flag could not be stored.
	ReconcileCountedUnmarked = "counted_unmarked"
)

// InFlightGrace is how long a two-step request started with requestTimeout
// may still be writing: its own deadline, the detached write budget and the
// bookkeeping timeout.
func InFlightGrace(requestTimeout time.Duration) time.Duration {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return 2*requestTimeout + detachedTimeout
}

func seatsCounted(b *models.TourBooking) bool {
	return b.CapacityApplied || strings.HasPrefix(b.ReconcileReason, ReconcileCountedUnmarked)
}

type FlaggedLister interface {
	ListFlaggedBookings(ctx context.Context) ([]models.TourBooking, error)
}

type ReconcileReport struct {
	Checked int `json:"checked"`
	Applied int `json:"applied"`
	Voided  int `json:"voided"`
	Cleared int `json:"cleared"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Reconciler settles bookings the Allocator flagged as LedgerInconsistency:
// seats are counted when they still fit, otherwise the booking is voided.
type Reconciler struct {
	ledger   Ledger
	flagged  FlaggedLister
	metrics  *metrics.BookingMetrics
	logger   *logger.Logger
	attempts int
	grace    time.Duration
	now      func() time.Time
}

func NewReconciler(ledger Ledger, flagged FlaggedLister, m *metrics.BookingMetrics, log *logger.Logger) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		flagged:  flagged,
		metrics:  m,
		logger:   log,
		attempts: DefaultMaxAttempts,
		grace:    InFlightGrace(DefaultRequestTimeout),
		now:      time.Now,
	}
}

// WithGrace sets how long a booking still awaiting its increment is left to
// the request that inserted it.
func (r *Reconciler) WithGrace(d time.Duration) *Reconciler {
	r.grace = d
	return r
}

func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	bookings, err := r.flagged.ListFlaggedBookings(ctx)
	if err != nil {
		return report, fmt.Errorf("list flagged bookings: %w", err)
	}

	var errs error
	for i := range bookings {
		b := &bookings[i]
		report.Checked++

		result, err := r.reconcile(ctx, b)
		if err != nil {
			report.Failed++
			r.metrics.IncReconciled("failed")
			errs = multierr.Append(errs, fmt.Errorf("booking %s: %w", b.BookingNumber, err))
			continue
		}
		r.metrics.IncReconciled(result)
		r.logger.LogBooking("RECONCILE", b.BookingNumber, result)

		switch result {
		case ResultApplied:
			report.Applied++
		case ResultVoided:
			report.Voided++
		case ResultCleared:
			report.Cleared++
		default:
			report.Skipped++
		}
	}
	return report, errs
}

// Run reconciles on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("RECONCILE", "Reconciler stopped")
			return
		case <-ticker.C:
			report, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.Error("RECONCILE", fmt.Sprintf("reconcile run: %v", err))
			}
			if report.Checked > 0 {
				r.logger.Info("RECONCILE", fmt.Sprintf("checked=%d applied=%d voided=%d cleared=%d skipped=%d failed=%d",
					report.Checked, report.Applied, report.Voided, report.Cleared, report.Skipped, report.Failed))
			}
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context, b *models.TourBooking) (string, error) {
	if b.ReconcileReason == ReconcileAwaitingIncrement && r.now().Sub(b.CreatedAt) < r.grace {
		return ResultSkipped, nil
	}
	if seatsCounted(b) {
		return r.settleCounted(ctx, b)
	}

	tour, err := r.ledger.GetTour(ctx, b.TourID)
	if errors.Is(err, ErrNotFound) {
		return r.void(ctx, b, ReasonInvalidRequest)
	}
	if err != nil {
		return "", err
	}
	if !tour.IsActive {
		return r.void(ctx, b, ReasonInvalidRequest)
	}

	date, err := r.ledger.GetTourDate(ctx, b.TourID, b.TourDateID)
	if errors.Is(err, ErrNotFound) {
		return r.void(ctx, b, ReasonInvalidRequest)
	}
	if err != nil {
		return "", err
	}
	if utils.IsBeforeDay(date.AvailableDate, r.now()) {
		return r.void(ctx, b, ReasonInvalidRequest)
	}
	if b.NumberOfPeople > date.Remaining() {
		return r.void(ctx, b, ReasonDateFull)
	}

	sum, err := r.ledger.SumBookingsForTour(ctx, b.TourID)
	if err != nil {
		return "", err
	}
	if sum+b.NumberOfPeople > tour.MaxParticipants {
		return r.void(ctx, b, ReasonTourFull)
	}

	err = r.ledger.IncrementDateBookings(ctx, b.TourDateID, b.NumberOfPeople, date.CurrentBookings)
	if errors.Is(err, ErrConflict) {
		return ResultSkipped, nil
	}
	if err != nil {
		return "", err
	}
	if err := r.ledger.MarkCapacityApplied(ctx, b.ID); err != nil {
		return "", fmt.Errorf("seats counted but booking not updated: %w", err)
	}
	return ResultApplied, nil
}

// settleCounted handles a flagged booking whose seats are counted: it is
// cleared while its tour is within the ceiling and voided otherwise.
func (r *Reconciler) settleCounted(ctx context.Context, b *models.TourBooking) (string, error) {
	tour, err := r.ledger.GetTour(ctx, b.TourID)
	if err != nil {
		return "", err
	}
	sum, err := r.ledger.SumBookingsForTour(ctx, b.TourID)
	if err != nil {
		return "", err
	}
	if sum <= tour.MaxParticipants {
		if err := r.ledger.MarkCapacityApplied(ctx, b.ID); err != nil {
			return "", err
		}
		return ResultCleared, nil
	}

	err = releaseSeats(ctx, r.ledger, b.TourID, b.TourDateID, b.NumberOfPeople, r.attempts)
	if errors.Is(err, ErrConflict) {
		return ResultSkipped, nil
	}
	if err != nil {
		return "", err
	}
	return r.void(ctx, b, ReasonTourFull)
}

func (r *Reconciler) void(ctx context.Context, b *models.TourBooking, reason Reason) (string, error) {
	if err := r.ledger.VoidBooking(ctx, b.ID, string(reason)); err != nil {
		return "", err
	}
	return ResultVoided, nil
}
