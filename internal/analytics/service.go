package analytics

import (
	"context"

	"ms-tourbooking/internal/models"

	"github.com/shopspring/decimal"
)

type Store interface {
	BookingsByStatus(ctx context.Context) ([]StatusCount, error)
	ApprovedRevenue(ctx context.Context) (decimal.Decimal, error)
	FlaggedBookings(ctx context.Context) (int, error)
	TourLoads(ctx context.Context) ([]TourLoad, error)
	OrderTotals(ctx context.Context) ([]OrderTotal, error)
}

// Service builds the admin dashboard figures.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

type Dashboard struct {
	Bookings        []StatusCount   `json:"bookings"`
	TotalBookings   int             `json:"total_bookings"`
	ApprovedRevenue decimal.Decimal `json:"approved_revenue"`
	FlaggedBookings int             `json:"flagged_bookings"`
	Orders          []OrderTotal    `json:"orders"`
	ShopRevenue     decimal.Decimal `json:"shop_revenue"`
}

// Occupancy is how full a tour is against its participant ceiling.
type Occupancy struct {
	TourID          string  `json:"tour_id"`
	TourName        string  `json:"tour_name"`
	MaxParticipants int     `json:"max_participants"`
	Booked          int     `json:"booked"`
	Remaining       int     `json:"remaining"`
	Dates           int     `json:"dates"`
	Rate            float64 `json:"rate"`
}

func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	bookings, err := s.store.BookingsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	revenue, err := s.store.ApprovedRevenue(ctx)
	if err != nil {
		return nil, err
	}
	flagged, err := s.store.FlaggedBookings(ctx)
	if err != nil {
		return nil, err
	}
	orderTotals, err := s.store.OrderTotals(ctx)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		Bookings:        bookings,
		ApprovedRevenue: revenue,
		FlaggedBookings: flagged,
		Orders:          orderTotals,
		ShopRevenue:     decimal.Zero,
	}
	for _, b := range bookings {
		d.TotalBookings += b.Count
	}
	for _, o := range orderTotals {
		if o.Status != string(models.OrderCancelled) {
			d.ShopRevenue = d.ShopRevenue.Add(o.Amount)
		}
	}
	return d, nil
}

func (s *Service) Occupancy(ctx context.Context) ([]Occupancy, error) {
	loads, err := s.store.TourLoads(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Occupancy, 0, len(loads))
	for _, l := range loads {
		o := Occupancy{
			TourID:          l.TourID,
			TourName:        l.Name,
			MaxParticipants: l.MaxParticipants,
			Booked:          l.Booked,
			Dates:           l.Dates,
		}
		if l.MaxParticipants > 0 {
			o.Rate = float64(l.Booked) / float64(l.MaxParticipants)
		}
		if l.Booked < l.MaxParticipants {
			o.Remaining = l.MaxParticipants - l.Booked
		}
		out = append(out, o)
	}
	return out, nil
}
