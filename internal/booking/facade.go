package booking

import (
	"context"
	"fmt"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/models"

	"github.com/go-playground/validator/v10"
)

const (
	MsgSubmitted     = "Booking submitted for approval"
	MsgNotEnough     = "Not enough spots, please reduce participants"
	MsgDateGone      = "The selected date is no longer available"
	MsgRetry         = "Something went wrong with your booking, please try again"
	MsgInProgress    = "Your booking is already being processed"
	MsgNeedsFollowUp = "Your booking was received and is being checked by our team"
)

// State is the presentation state a booking dialog moves to after a request.
type State string

const (
	StateSubmitted     State = "submitted"
	StateNotEnough     State = "insufficient_capacity"
	StateStaleDate     State = "stale_date"
	StateInvalid       State = "invalid"
	StateDuplicate     State = "duplicate"
	StateRetry         State = "retry"
	StateNeedsFollowUp State = "needs_follow_up"
)

// Form is the raw booking dialog input.
type Form struct {
	UserID         string `json:"-" validate:"required"`
	TourID         string `json:"tour_id" validate:"required"`
	SelectedDate   string `json:"selected_date" validate:"required,datetime=2006-01-02"`
	NumberOfPeople int    `json:"number_of_people" validate:"gte=1"`
}

type Result struct {
	Outcome Outcome `json:"outcome"`
	State   State   `json:"state"`
	Message string  `json:"message"`
}

type Booker interface {
	RequestBooking(ctx context.Context, req Request) Outcome
}

// DateLister serves the published list of bookable dates of a tour.
type DateLister interface {
	AvailableDates(ctx context.Context, tourID string) ([]models.TourDate, error)
	InvalidateDates(ctx context.Context, tourID string) error
}

// SubmissionGuard suppresses duplicate submits of the same booking dialog.
type SubmissionGuard interface {
	Acquire(ctx context.Context, userID, tourDateID string) (bool, error)
	Release(ctx context.Context, userID, tourDateID string) error
}

type ChangePublisher interface {
	PublishChange(ctx context.Context, event models.ChangeEvent) error
}

// Facade adapts booking dialog input to the Allocator and maps outcomes to
// presentation states.
type Facade struct {
	booker    Booker
	dates     DateLister
	guard     SubmissionGuard
	publisher ChangePublisher
	validate  *validator.Validate
	logger    *logger.Logger
}

func NewFacade(booker Booker, dates DateLister, guard SubmissionGuard, publisher ChangePublisher, log *logger.Logger) *Facade {
	return &Facade{
		booker:    booker,
		dates:     dates,
		guard:     guard,
		publisher: publisher,
		validate:  validator.New(),
		logger:    log,
	}
}

func (f *Facade) RequestBooking(ctx context.Context, form Form) Result {
	if err := f.validate.Struct(form); err != nil {
		return present(rejected(ReasonInvalidRequest, fmt.Sprintf("invalid booking form: %v", err)))
	}
	if ctx.Err() != nil {
		return present(failed(ReasonFailed, "booking request was cancelled"))
	}

	dates, err := f.dates.AvailableDates(ctx, form.TourID)
	if err != nil {
		f.logger.Error("BOOKING", fmt.Sprintf("list dates for tour %s: %v", form.TourID, err))
		return present(failed(ReasonFailed, "available dates could not be loaded"))
	}
	tourDateID := resolveDate(dates, form.SelectedDate)
	if tourDateID == "" {
		f.refresh(ctx, form.TourID, "", nil)
		return present(rejected(ReasonInvalidRequest, DetailDateUnavailable))
	}

	if f.guard != nil {
		ok, err := f.guard.Acquire(ctx, form.UserID, tourDateID)
		if err != nil {
			f.logger.Warn("BOOKING", fmt.Sprintf("submission guard unavailable: %v", err))
		} else if !ok {
			return Result{
				Outcome: rejected(ReasonContention, "a booking for this date is already in progress"),
				State:   StateDuplicate,
				Message: MsgInProgress,
			}
		}
	}

	if ctx.Err() != nil {
		f.releaseGuard(ctx, form.UserID, tourDateID)
		return present(failed(ReasonFailed, "booking request was cancelled"))
	}

	out := f.booker.RequestBooking(ctx, Request{
		UserID:         form.UserID,
		TourID:         form.TourID,
		TourDateID:     tourDateID,
		NumberOfPeople: form.NumberOfPeople,
	})
	if !out.Committed() {
		f.releaseGuard(ctx, form.UserID, tourDateID)
	}

	f.refresh(ctx, form.TourID, tourDateID, out.Booking)
	return present(out)
}

func resolveDate(dates []models.TourDate, selected string) string {
	for _, d := range dates {
		if d.Date() == selected {
			return d.ID
		}
	}
	return ""
}

func (f *Facade) releaseGuard(ctx context.Context, userID, tourDateID string) {
	if f.guard == nil {
		return
	}
	if err := f.guard.Release(context.WithoutCancel(ctx), userID, tourDateID); err != nil {
		f.logger.Warn("BOOKING", fmt.Sprintf("release submission guard: %v", err))
	}
}

// refresh drops the cached dates of the tour and notifies dashboards.
func (f *Facade) refresh(ctx context.Context, tourID, tourDateID string, b *models.TourBooking) {
	ctx = context.WithoutCancel(ctx)

	if err := f.dates.InvalidateDates(ctx, tourID); err != nil {
		f.logger.Warn("BOOKING", fmt.Sprintf("invalidate dates of tour %s: %v", tourID, err))
	}
	if f.publisher == nil {
		return
	}
	if tourDateID != "" {
		f.publish(ctx, models.NewChangeEvent(models.TableTourDates, models.ChangeUpdate, tourDateID, tourID))
	}
	if b != nil {
		f.publish(ctx, models.NewChangeEvent(models.TableTourBookings, models.ChangeInsert, b.ID, tourID))
	}
}

func (f *Facade) publish(ctx context.Context, event models.ChangeEvent) {
	if err := f.publisher.PublishChange(ctx, event); err != nil {
		f.logger.Warn("BOOKING", fmt.Sprintf("publish %s change: %v", event.Table, err))
	}
}

// present maps an outcome to the dialog state and message shown to the user.
func present(out Outcome) Result {
	res := Result{Outcome: out}
	switch {
	case out.Kind == KindCommitted:
		res.State, res.Message = StateSubmitted, MsgSubmitted
	case out.Reason == ReasonDateFull || out.Reason == ReasonTourFull:
		res.State, res.Message = StateNotEnough, MsgNotEnough
	case out.Stale():
		res.State, res.Message = StateStaleDate, MsgDateGone
	case out.Reason == ReasonInvalidRequest:
		res.State, res.Message = StateInvalid, MsgRetry
	case out.Reason == ReasonLedgerInconsistency:
		res.State, res.Message = StateNeedsFollowUp, MsgNeedsFollowUp
	default:
		res.State, res.Message = StateRetry, MsgRetry
	}
	return res
}
