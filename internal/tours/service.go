package tours

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/models"
	"ms-tourbooking/internal/utils"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound      = errors.New("tours: not found")
	ErrDuplicateDate = errors.New("tours: the tour already runs on that date")
	ErrDateInPast    = errors.New("tours: date is in the past")
	ErrInvalid       = errors.New("tours: invalid request")
)

type Store interface {
	CreateTour(ctx context.Context, t *models.Tour) error
	UpdateTour(ctx context.Context, t *models.Tour) error
	GetTour(ctx context.Context, id string) (*models.Tour, error)
	ListTours(ctx context.Context, activeOnly bool) ([]models.Tour, error)
	CreateDate(ctx context.Context, d *models.TourDate) error
	GetDate(ctx context.Context, tourID, dateID string) (*models.TourDate, error)
	ListDates(ctx context.Context, tourID string) ([]models.TourDate, error)
	SetDateAvailability(ctx context.Context, tourID, dateID string, available bool) error
	// DeleteEmptyDate removes a date only while nothing is booked on it.
	DeleteEmptyDate(ctx context.Context, tourID, dateID string) (bool, error)
}

type DateCache interface {
	InvalidateDates(ctx context.Context, tourID string) error
}

type ChangePublisher interface {
	PublishChange(ctx context.Context, event models.ChangeEvent) error
}

// Service manages the tour catalogue and the dates each tour runs on. It
// never touches current_bookings.
type Service struct {
	store     Store
	cache     DateCache
	publisher ChangePublisher
	validate  *validator.Validate
	logger    *logger.Logger
	now       func() time.Time
}

func NewService(store Store, cache DateCache, publisher ChangePublisher, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		cache:     cache,
		publisher: publisher,
		validate:  validator.New(),
		logger:    log,
		now:       time.Now,
	}
}

func (s *Service) CreateTour(ctx context.Context, req models.TourRequest) (*models.Tour, error) {
	if err := s.checkTour(req); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t := &models.Tour{
		ID:        utils.GenerateID(),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	apply(t, req)
	if err := s.store.CreateTour(ctx, t); err != nil {
		return nil, fmt.Errorf("create tour: %w", err)
	}
	s.logger.LogDatabase("INSERT", models.TableTours, "created tour "+t.Name)
	s.publish(ctx, models.NewChangeEvent(models.TableTours, models.ChangeInsert, t.ID, t.ID))
	return t, nil
}

func (s *Service) UpdateTour(ctx context.Context, id string, req models.TourRequest) (*models.Tour, error) {
	if err := s.checkTour(req); err != nil {
		return nil, err
	}
	t, err := s.store.GetTour(ctx, id)
	if err != nil {
		return nil, err
	}
	apply(t, req)
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTour(ctx, t); err != nil {
		return nil, fmt.Errorf("update tour: %w", err)
	}
	s.publish(ctx, models.NewChangeEvent(models.TableTours, models.ChangeUpdate, t.ID, t.ID))
	return t, nil
}

// DeactivateTour hides a tour from the storefront. Bookings keep their
// snapshots, so tours are never hard-deleted.
func (s *Service) DeactivateTour(ctx context.Context, id string) error {
	t, err := s.store.GetTour(ctx, id)
	if err != nil {
		return err
	}
	if !t.IsActive {
		return nil
	}
	t.IsActive = false
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTour(ctx, t); err != nil {
		return fmt.Errorf("deactivate tour: %w", err)
	}
	s.invalidate(ctx, id)
	s.publish(ctx, models.NewChangeEvent(models.TableTours, models.ChangeUpdate, id, id))
	return nil
}

func (s *Service) GetTour(ctx context.Context, id string) (*models.Tour, error) {
	return s.store.GetTour(ctx, id)
}

func (s *Service) ListTours(ctx context.Context, activeOnly bool) ([]models.Tour, error) {
	return s.store.ListTours(ctx, activeOnly)
}

// AddDate opens a new day for a tour with an empty counter.
func (s *Service) AddDate(ctx context.Context, tourID string, req models.TourDateRequest) (*models.TourDate, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	day, err := utils.ParseDate(req.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if utils.IsBeforeDay(day, s.now()) {
		return nil, ErrDateInPast
	}
	if _, err := s.store.GetTour(ctx, tourID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	d := &models.TourDate{
		ID:              utils.GenerateID(),
		TourID:          tourID,
		AvailableDate:   day,
		MaxBookings:     req.MaxBookings,
		CurrentBookings: 0,
		IsAvailable:     true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateDate(ctx, d); err != nil {
		if errors.Is(err, ErrDuplicateDate) {
			return nil, err
		}
		return nil, fmt.Errorf("add tour date: %w", err)
	}
	s.logger.LogDatabase("INSERT", models.TableTourDates, fmt.Sprintf("tour %s opens %s for %d", tourID, d.Date(), d.MaxBookings))
	s.dateChanged(ctx, models.ChangeInsert, d.ID, tourID)
	return d, nil
}

func (s *Service) ListDates(ctx context.Context, tourID string) ([]models.TourDate, error) {
	return s.store.ListDates(ctx, tourID)
}

func (s *Service) SetDateAvailability(ctx context.Context, tourID, dateID string, available bool) (*models.TourDate, error) {
	if err := s.store.SetDateAvailability(ctx, tourID, dateID, available); err != nil {
		return nil, err
	}
	s.dateChanged(ctx, models.ChangeUpdate, dateID, tourID)
	return s.store.GetDate(ctx, tourID, dateID)
}

// DeleteDate removes an unbooked date. A date that already has bookings is
// deactivated instead, and deleted reports false.
func (s *Service) DeleteDate(ctx context.Context, tourID, dateID string) (deleted bool, err error) {
	if _, err := s.store.GetDate(ctx, tourID, dateID); err != nil {
		return false, err
	}
	deleted, err = s.store.DeleteEmptyDate(ctx, tourID, dateID)
	if err != nil {
		return false, fmt.Errorf("delete tour date: %w", err)
	}
	if deleted {
		s.dateChanged(ctx, models.ChangeDelete, dateID, tourID)
		return true, nil
	}
	if _, err := s.SetDateAvailability(ctx, tourID, dateID, false); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Service) check(req interface{}) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (s *Service) checkTour(req models.TourRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	if req.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalid)
	}
	return nil
}

func apply(t *models.Tour, req models.TourRequest) {
	t.Name = req.Name
	t.Description = req.Description
	t.Location = req.Location
	t.Duration = req.Duration
	t.ImageURL = req.ImageURL
	t.Price = req.Price
	t.MaxParticipants = req.MaxParticipants
}

func (s *Service) dateChanged(ctx context.Context, action models.ChangeAction, dateID, tourID string) {
	s.invalidate(ctx, tourID)
	s.publish(ctx, models.NewChangeEvent(models.TableTourDates, action, dateID, tourID))
}

func (s *Service) invalidate(ctx context.Context, tourID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateDates(ctx, tourID); err != nil {
		s.logger.Warn("TOURS", fmt.Sprintf("invalidate dates of tour %s: %v", tourID, err))
	}
}

func (s *Service) publish(ctx context.Context, event models.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishChange(ctx, event); err != nil {
		s.logger.Warn("TOURS", fmt.Sprintf("publish %s change: %v", event.Table, err))
	}
}
