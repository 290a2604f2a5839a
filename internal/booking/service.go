package booking

import (
	"context"
	"errors"
	"fmt"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/models"
)

type ListFilter struct {
	Status  models.BookingStatus
	Flagged bool
	Limit   int
}

// Store holds the booking queries used by the admin and account pages.
type Store interface {
	GetBooking(ctx context.Context, id string) (*models.TourBooking, error)
	ListBookings(ctx context.Context, filter ListFilter) ([]models.TourBooking, error)
	ListUserBookings(ctx context.Context, userID string) ([]models.TourBooking, error)
	// ApproveBooking moves a pending booking with counted seats to approved;
	// ErrConflict when it is no longer pending, counted and unflagged.
	ApproveBooking(ctx context.Context, id string) error
	// RejectBooking moves a pending booking to rejected and returns its counted seats.
	RejectBooking(ctx context.Context, id string) error
}

type Service struct {
	store     Store
	dates     DateLister
	publisher ChangePublisher
	logger    *logger.Logger
}

func NewService(store Store, dates DateLister, publisher ChangePublisher, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		dates:     dates,
		publisher: publisher,
		logger:    log,
	}
}

func (s *Service) GetBooking(ctx context.Context, id string) (*models.TourBooking, error) {
	return s.store.GetBooking(ctx, id)
}

func (s *Service) ListBookings(ctx context.Context, filter ListFilter) ([]models.TourBooking, error) {
	return s.store.ListBookings(ctx, filter)
}

func (s *Service) ListUserBookings(ctx context.Context, userID string) ([]models.TourBooking, error) {
	return s.store.ListUserBookings(ctx, userID)
}

// UpdateStatus applies an admin decision to a pending booking.
func (s *Service) UpdateStatus(ctx context.Context, id string, to models.BookingStatus) (*models.TourBooking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CanTransition(b.Status, to); err != nil {
		return nil, err
	}

	switch to {
	case models.BookingApproved:
		if b.NeedsReconciliation || !b.CapacityApplied {
			return nil, ErrNeedsReconciliation
		}
		err = s.store.ApproveBooking(ctx, id)
	case models.BookingRejected:
		err = s.store.RejectBooking(ctx, id)
	}
	if errors.Is(err, ErrConflict) {
		return nil, fmt.Errorf("%w: booking %s was changed by someone else", ErrInvalidTransition, b.BookingNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("update booking status: %w", err)
	}
	s.logger.LogBooking(string(to), b.BookingNumber, fmt.Sprintf("status %s → %s", b.Status, to))

	released := to == models.BookingRejected && b.CapacityApplied
	s.notify(ctx, b, released)

	return s.store.GetBooking(ctx, id)
}

func (s *Service) notify(ctx context.Context, b *models.TourBooking, released bool) {
	if released && s.dates != nil {
		if err := s.dates.InvalidateDates(ctx, b.TourID); err != nil {
			s.logger.Warn("BOOKING", fmt.Sprintf("invalidate dates of tour %s: %v", b.TourID, err))
		}
	}
	if s.publisher == nil {
		return
	}
	events := []models.ChangeEvent{models.NewChangeEvent(models.TableTourBookings, models.ChangeUpdate, b.ID, b.TourID)}
	if released {
		events = append(events, models.NewChangeEvent(models.TableTourDates, models.ChangeUpdate, b.TourDateID, b.TourID))
	}
	for _, e := range events {
		if err := s.publisher.PublishChange(ctx, e); err != nil {
			s.logger.Warn("BOOKING", fmt.Sprintf("publish %s change: %v", e.Table, err))
		}
	}
}
