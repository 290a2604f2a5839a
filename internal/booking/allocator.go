package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/metrics"
	"ms-tourbooking/internal/models"
	"ms-tourbooking/internal/utils"

	"github.com/shopspring/decimal"
)

const (
	DefaultMaxAttempts    = 3
	DefaultRequestTimeout = 10 * time.Second

	// bookkeeping writes issued after the caller is gone get their own budget
	detachedTimeout = 5 * time.Second
)

type Request struct {
	UserID         string `json:"user_id"`
	TourID         string `json:"tour_id"`
	TourDateID     string `json:"tour_date_id"`
	NumberOfPeople int    `json:"number_of_people"`
}

type AllocatorConfig struct {
	MaxAttempts    int
	RequestTimeout time.Duration
}

// Allocator turns booking requests into committed bookings without letting a
// date or a tour go over capacity. It never returns an error; every result is
// an Outcome.
type Allocator struct {
	ledger  Ledger
	metrics *metrics.BookingMetrics
	logger  *logger.Logger
	cfg     AllocatorConfig
	now     func() time.Time
}

func NewAllocator(ledger Ledger, m *metrics.BookingMetrics, log *logger.Logger, cfg AllocatorConfig) *Allocator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Allocator{
		ledger:  ledger,
		metrics: m,
		logger:  log,
		cfg:     cfg,
		now:     time.Now,
	}
}

// capacity is one fresh read of the rows a booking decision depends on.
type capacity struct {
	tour    *models.Tour
	date    *models.TourDate
	tourSum int
}

func (c capacity) remainingOnTour() int {
	if c.tourSum >= c.tour.MaxParticipants {
		return 0
	}
	return c.tour.MaxParticipants - c.tourSum
}

// RequestBooking runs Validating → CapacityChecked → Committing for one request.
func (a *Allocator) RequestBooking(ctx context.Context, req Request) (out Outcome) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()
	defer func() { a.record(req, out) }()

	if req.UserID == "" || req.TourID == "" || req.TourDateID == "" {
		return rejected(ReasonInvalidRequest, DetailMissingIDs)
	}
	if req.NumberOfPeople < 1 {
		return rejected(ReasonInvalidRequest, DetailBadPartySize)
	}

	if atomic, ok := a.ledger.(AtomicLedger); ok {
		return a.commitAtomic(ctx, atomic, req)
	}
	return a.commitTwoStep(ctx, req)
}

func (a *Allocator) commitAtomic(ctx context.Context, ledger AtomicLedger, req Request) Outcome {
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return withAttempts(a.failure(ctx, "commit", err), attempt)
		}

		c, rej := a.check(ctx, req)
		if rej != nil {
			return withAttempts(*rej, attempt)
		}

		b := a.newBooking(req, c)
		err := a.withFreshNumber(b, func() error {
			return ledger.CommitBooking(ctx, b, c.date.CurrentBookings)
		})
		if err == nil {
			b.CapacityApplied = true
			return a.committed(b, c, req, attempt)
		}
		if !errors.Is(err, ErrConflict) {
			return withAttempts(a.failure(ctx, "commit", err), attempt)
		}
		a.metrics.IncConflict()
		a.logger.Debug("BOOKING", fmt.Sprintf("commit conflict on date %s (attempt %d/%d)", req.TourDateID, attempt, a.cfg.MaxAttempts))
	}

	return Outcome{
		Kind:     KindFailed,
		Reason:   ReasonContention,
		Detail:   "too many concurrent bookings for this date",
		Attempts: a.cfg.MaxAttempts,
	}
}

func (a *Allocator) commitTwoStep(ctx context.Context, req Request) Outcome {
	c, rej := a.check(ctx, req)
	if rej != nil {
		return withAttempts(*rej, 1)
	}

	if err := ctx.Err(); err != nil {
		return withAttempts(a.failure(ctx, "insert", err), 1)
	}
	b := a.newBooking(req, c)
	// The row stays flagged until MarkCapacityApplied clears it, so a process
	// that dies before the increment lands still leaves it to the reconciler.
	b.NeedsReconciliation = true
	b.ReconcileReason = ReconcileAwaitingIncrement
	err := a.withFreshNumber(b, func() error { return a.ledger.InsertBooking(ctx, b) })
	if err != nil {
		return withAttempts(a.failure(ctx, "insert", err), 1)
	}

	// The booking row exists from here on, so the remaining writes must not be
	// abandoned with the caller.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.RequestTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		err := a.ledger.IncrementDateBookings(wctx, req.TourDateID, req.NumberOfPeople, c.date.CurrentBookings)
		if err == nil {
			return a.applied(wctx, b, c, req, attempt)
		}
		if !errors.Is(err, ErrConflict) {
			return a.inconsistent(ctx, b, attempt, fmt.Sprintf("capacity increment failed: %v", err))
		}

		a.metrics.IncConflict()
		if attempt >= a.cfg.MaxAttempts {
			return a.inconsistent(ctx, b, attempt, "capacity increment conflicted on every attempt")
		}

		next, rej := a.check(wctx, req)
		if rej != nil {
			if rej.Kind == KindRejected {
				return a.void(ctx, b, *rej, attempt+1)
			}
			return a.inconsistent(ctx, b, attempt+1, "capacity re-check failed")
		}
		c = next
	}
}

// applied finishes a two-step booking whose date counter was incremented. The
// tour-wide ceiling is checked again because the two-step ledger cannot lock
// the tour while dates of the same tour are booked in parallel.
func (a *Allocator) applied(ctx context.Context, b *models.TourBooking, c capacity, req Request, attempt int) Outcome {
	b.CapacityApplied = true

	sum, err := a.ledger.SumBookingsForTour(ctx, req.TourID)
	if err != nil {
		a.logger.Warn("BOOKING", fmt.Sprintf("tour ceiling re-check skipped for %s: %v", b.BookingNumber, err))
	} else if sum > c.tour.MaxParticipants {
		if err := releaseSeats(ctx, a.ledger, req.TourID, req.TourDateID, req.NumberOfPeople, a.cfg.MaxAttempts); err != nil {
			return a.inconsistent(ctx, b, attempt,
				fmt.Sprintf("%s: tour ceiling exceeded and seats could not be released: %v", ReconcileCountedUnmarked, err))
		}
		b.CapacityApplied = false
		out := rejected(ReasonTourFull, fmt.Sprintf("tour %s is fully booked", c.tour.Name))
		return a.void(ctx, b, out, attempt)
	}

	if err := a.ledger.MarkCapacityApplied(ctx, b.ID); err != nil {
		a.logger.LogLedger("MARK_APPLIED", b.ID, fmt.Sprintf("seats counted for %s but flag not stored: %v", b.BookingNumber, err))
		return a.inconsistent(ctx, b, attempt, fmt.Sprintf("%s: %v", ReconcileCountedUnmarked, err))
	}
	b.NeedsReconciliation = false
	b.ReconcileReason = ""
	return a.committed(b, c, req, attempt)
}

// check reads tour, date and tour total fresh and decides whether the request fits.
func (a *Allocator) check(ctx context.Context, req Request) (capacity, *Outcome) {
	var c capacity

	tour, err := a.ledger.GetTour(ctx, req.TourID)
	if err != nil {
		out := a.readFailure(ctx, err, DetailTourUnavailable)
		return c, &out
	}
	if !tour.IsActive {
		out := rejected(ReasonInvalidRequest, DetailTourUnavailable)
		return c, &out
	}

	date, err := a.ledger.GetTourDate(ctx, req.TourID, req.TourDateID)
	if err != nil {
		out := a.readFailure(ctx, err, DetailDateUnavailable)
		return c, &out
	}
	if utils.IsBeforeDay(date.AvailableDate, a.now()) {
		out := rejected(ReasonInvalidRequest, DetailDateInPast)
		return c, &out
	}
	c.tour, c.date = tour, date

	if req.NumberOfPeople > date.Remaining() {
		out := rejected(ReasonDateFull, fmt.Sprintf("only %d spots left on %s", date.Remaining(), date.Date()))
		out.RemainingOnDate = date.Remaining()
		return c, &out
	}

	sum, err := a.ledger.SumBookingsForTour(ctx, req.TourID)
	if err != nil {
		out := a.failure(ctx, "sum", err)
		return c, &out
	}
	c.tourSum = sum

	if sum+req.NumberOfPeople > tour.MaxParticipants {
		out := rejected(ReasonTourFull, fmt.Sprintf("only %d spots left on this tour", c.remainingOnTour()))
		out.RemainingOnDate = date.Remaining()
		out.RemainingOnTour = c.remainingOnTour()
		return c, &out
	}
	return c, nil
}

func (a *Allocator) newBooking(req Request, c capacity) *models.TourBooking {
	now := a.now().UTC()
	return &models.TourBooking{
		ID:             utils.GenerateID(),
		BookingNumber:  utils.GenerateBookingNumber(now),
		UserID:         req.UserID,
		TourName:       c.tour.Name,
		TourDate:       c.date.Date(),
		NumberOfPeople: req.NumberOfPeople,
		Amount:         c.tour.Price.Mul(decimal.NewFromInt(int64(req.NumberOfPeople))),
		Status:         models.BookingPending,
		TourID:         req.TourID,
		TourDateID:     req.TourDateID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// withFreshNumber runs write again with a newly generated booking number
// while the number collides with an existing booking.
func (a *Allocator) withFreshNumber(b *models.TourBooking, write func() error) error {
	var err error
	for i := 0; i < a.cfg.MaxAttempts; i++ {
		if err = write(); !errors.Is(err, ErrDuplicateBookingNumber) {
			return err
		}
		a.logger.Debug("BOOKING", fmt.Sprintf("booking number %s already taken, generating another", b.BookingNumber))
		b.BookingNumber = utils.GenerateBookingNumber(a.now().UTC())
	}
	return err
}

func (a *Allocator) committed(b *models.TourBooking, c capacity, req Request, attempt int) Outcome {
	return Outcome{
		Kind:            KindCommitted,
		Booking:         b,
		RemainingOnDate: c.date.Remaining() - req.NumberOfPeople,
		RemainingOnTour: c.remainingOnTour() - req.NumberOfPeople,
		Attempts:        attempt,
	}
}

// void rejects an inserted booking whose seats are not counted.
func (a *Allocator) void(ctx context.Context, b *models.TourBooking, out Outcome, attempt int) Outcome {
	vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()

	if err := a.ledger.VoidBooking(vctx, b.ID, string(out.Reason)); err != nil {
		return a.inconsistent(ctx, b, attempt, fmt.Sprintf("booking could not be voided after %s: %v", out.Reason, err))
	}
	b.Status = models.BookingRejected
	b.CapacityApplied = false
	b.NeedsReconciliation = false
	b.ReconcileReason = string(out.Reason)

	out.Booking = b
	out.Attempts = attempt
	return out
}

// inconsistent flags a booking left pending whose seats the ledger does not
// confirm so that it is reconciled instead of silently lost.
func (a *Allocator) inconsistent(ctx context.Context, b *models.TourBooking, attempt int, why string) Outcome {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()

	b.NeedsReconciliation = true
	b.ReconcileReason = why
	if err := a.ledger.FlagBooking(fctx, b.ID, why); err != nil {
		a.logger.LogLedger("FLAG", b.ID, fmt.Sprintf("could not flag booking %s: %v", b.BookingNumber, err))
	}
	a.logger.LogLedger("RECONCILE", b.ID, fmt.Sprintf("booking %s for %d people on %s needs reconciliation: %s",
		b.BookingNumber, b.NumberOfPeople, b.TourDate, why))

	return Outcome{
		Kind:     KindFailed,
		Reason:   ReasonLedgerInconsistency,
		Detail:   why,
		Booking:  b,
		Attempts: attempt,
	}
}

func (a *Allocator) readFailure(ctx context.Context, err error, detail string) Outcome {
	if errors.Is(err, ErrNotFound) {
		return rejected(ReasonInvalidRequest, detail)
	}
	return a.failure(ctx, "read", err)
}

func (a *Allocator) failure(ctx context.Context, step string, err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failed(ReasonTimeout, "booking request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return failed(ReasonFailed, "booking request was cancelled")
	}
	a.logger.Error("BOOKING", fmt.Sprintf("ledger %s failed: %v", step, err))
	return failed(ReasonFailed, "booking service unavailable")
}

func (a *Allocator) record(req Request, out Outcome) {
	a.metrics.IncOutcome(string(out.Kind), string(out.Reason))
	if out.Attempts > 0 {
		a.metrics.ObserveAttempts(out.Attempts)
	}

	ref := req.TourDateID
	if out.Booking != nil {
		ref = out.Booking.BookingNumber
	}
	switch out.Kind {
	case KindCommitted:
		a.logger.LogBooking("COMMITTED", ref, fmt.Sprintf("%d people, %d left on date", req.NumberOfPeople, out.RemainingOnDate))
	case KindRejected:
		a.logger.LogBooking("REJECTED", ref, fmt.Sprintf("%s: %s", out.Reason, out.Detail))
	default:
		if out.Reason != ReasonLedgerInconsistency {
			a.logger.Warn("BOOKING", fmt.Sprintf("[FAILED] %s - %s: %s", ref, out.Reason, out.Detail))
		}
	}
}

func withAttempts(out Outcome, attempt int) Outcome {
	out.Attempts = attempt
	return out
}

// releaseSeats returns people seats to a date with the same conditional write
// used to take them. The date may have been closed since the seats were taken.
func releaseSeats(ctx context.Context, ledger Ledger, tourID, tourDateID string, people, attempts int) error {
	for i := 0; i < attempts; i++ {
		date, err := ledger.GetTourDateRow(ctx, tourID, tourDateID)
		if err != nil {
			return fmt.Errorf("read date: %w", err)
		}
		err = ledger.IncrementDateBookings(ctx, tourDateID, -people, date.CurrentBookings)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return fmt.Errorf("release seats: %w", err)
		}
	}
	return ErrConflict
}
