package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ms-tourbooking/internal/booking"
	"ms-tourbooking/internal/config"
	"ms-tourbooking/internal/models"
	"ms-tourbooking/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/supabase-community/supabase-go"
)

const (
	toursTable    = "tours"
	datesTable    = "tour_dates"
	bookingsTable = "tour_bookings"
)

// Ledger writes capacity through the hosted PostgREST API. The API has no
// multi-statement transaction, so this ledger only offers the two-step
// contract and the Allocator takes the insert-then-increment path.
type Ledger struct {
	client *supabase.Client
}

func NewClient(cfg config.SupabaseConfig) (*supabase.Client, error) {
	if cfg.URL == "" || cfg.Key == "" {
		return nil, errors.New("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for the supabase ledger")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.Key, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return client, nil
}

func NewLedger(client *supabase.Client) *Ledger {
	return &Ledger{client: client}
}

// PostgREST returns numbers, dates and timestamps as JSON scalars, so rows are
// decoded into these and converted.
type tourRow struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Price           decimal.Decimal `json:"price"`
	MaxParticipants int             `json:"max_participants"`
	IsActive        bool            `json:"is_active"`
}

type tourDateRow struct {
	ID              string `json:"id"`
	TourID          string `json:"tour_id"`
	AvailableDate   string `json:"available_date"`
	MaxBookings     int    `json:"max_bookings"`
	CurrentBookings int    `json:"current_bookings"`
	IsAvailable     bool   `json:"is_available"`
}

func (r tourDateRow) toModel() (*models.TourDate, error) {
	day := r.AvailableDate
	if len(day) > len(utils.DateLayout) {
		day = day[:len(utils.DateLayout)]
	}
	date, err := utils.ParseDate(day)
	if err != nil {
		return nil, fmt.Errorf("tour date %s: %w", r.ID, err)
	}
	return &models.TourDate{
		ID:              r.ID,
		TourID:          r.TourID,
		AvailableDate:   date,
		MaxBookings:     r.MaxBookings,
		CurrentBookings: r.CurrentBookings,
		IsAvailable:     r.IsAvailable,
	}, nil
}

// duplicateNumber recognises the "(23505) ..." error postgrest-go builds from
// a unique key violation on booking_number.
func duplicateNumber(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") && strings.Contains(msg, "booking_number")
}

func decodeRows(data []byte, err error, into interface{}) error {
	if err != nil {
		return fmt.Errorf("postgrest: %w", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decode postgrest rows: %w", err)
	}
	return nil
}

func (l *Ledger) GetTour(ctx context.Context, tourID string) (*models.Tour, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []tourRow
	data, _, err := l.client.From(toursTable).
		Select("id,name,description,price,max_participants,is_active", "", false).
		Eq("id", tourID).
		Execute()
	if err := decodeRows(data, err, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, booking.ErrNotFound
	}
	r := rows[0]
	return &models.Tour{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		Price:           r.Price,
		MaxParticipants: r.MaxParticipants,
		IsActive:        r.IsActive,
	}, nil
}

func (l *Ledger) GetTourDate(ctx context.Context, tourID, tourDateID string) (*models.TourDate, error) {
	return l.getTourDate(ctx, tourID, tourDateID, true)
}

func (l *Ledger) GetTourDateRow(ctx context.Context, tourID, tourDateID string) (*models.TourDate, error) {
	return l.getTourDate(ctx, tourID, tourDateID, false)
}

func (l *Ledger) getTourDate(ctx context.Context, tourID, tourDateID string, availableOnly bool) (*models.TourDate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []tourDateRow
	q := l.client.From(datesTable).
		Select("*", "", false).
		Eq("id", tourDateID).
		Eq("tour_id", tourID)
	if availableOnly {
		q = q.Eq("is_available", "true")
	}
	data, _, err := q.Execute()
	if err := decodeRows(data, err, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, booking.ErrNotFound
	}
	return rows[0].toModel()
}

func (l *Ledger) SumBookingsForTour(ctx context.Context, tourID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var rows []struct {
		CurrentBookings int `json:"current_bookings"`
	}
	data, _, err := l.client.From(datesTable).
		Select("current_bookings", "", false).
		Eq("tour_id", tourID).
		Execute()
	if err := decodeRows(data, err, &rows); err != nil {
		return 0, err
	}
	sum := 0
	for _, r := range rows {
		sum += r.CurrentBookings
	}
	return sum, nil
}

func (l *Ledger) InsertBooking(ctx context.Context, b *models.TourBooking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row := map[string]interface{}{
		"id":                   b.ID,
		"booking_number":       b.BookingNumber,
		"user_id":              b.UserID,
		"tour_name":            b.TourName,
		"tour_date":            b.TourDate,
		"number_of_people":     b.NumberOfPeople,
		"amount":               b.Amount,
		"status":               b.Status,
		"tour_id":              b.TourID,
		"tour_date_id":         b.TourDateID,
		"capacity_applied":     b.CapacityApplied,
		"needs_reconciliation": b.NeedsReconciliation,
		"reconcile_reason":     b.ReconcileReason,
		"created_at":           b.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":           b.UpdatedAt.UTC().Format(time.RFC3339),
	}
	var inserted []map[string]interface{}
	data, _, err := l.client.From(bookingsTable).Insert(row, false, "", "representation", "").Execute()
	if err != nil && duplicateNumber(err) {
		return booking.ErrDuplicateBookingNumber
	}
	if err := decodeRows(data, err, &inserted); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	if len(inserted) == 0 {
		return errors.New("insert booking: no row returned")
	}
	return nil
}

// IncrementDateBookings sets the counter to expected+delta only on a row whose
// counter still equals expected and whose ceiling admits the new value.
func (l *Ledger) IncrementDateBookings(ctx context.Context, tourDateID string, delta, expectedCurrent int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := expectedCurrent + delta
	if next < 0 {
		return booking.ErrConflict
	}

	var updated []tourDateRow
	data, _, err := l.client.From(datesTable).
		Update(map[string]interface{}{
			"current_bookings": next,
			"updated_at":       time.Now().UTC().Format(time.RFC3339),
		}, "representation", "").
		Eq("id", tourDateID).
		Eq("current_bookings", strconv.Itoa(expectedCurrent)).
		Gte("max_bookings", strconv.Itoa(next)).
		Execute()
	if err := decodeRows(data, err, &updated); err != nil {
		return fmt.Errorf("increment date bookings: %w", err)
	}
	if len(updated) == 0 {
		return booking.ErrConflict
	}
	return nil
}

func (l *Ledger) MarkCapacityApplied(ctx context.Context, bookingID string) error {
	return l.updateBooking(ctx, bookingID, map[string]interface{}{
		"capacity_applied":     true,
		"needs_reconciliation": false,
		"reconcile_reason":     "",
	})
}

func (l *Ledger) FlagBooking(ctx context.Context, bookingID, reason string) error {
	return l.updateBooking(ctx, bookingID, map[string]interface{}{
		"needs_reconciliation": true,
		"reconcile_reason":     reason,
	})
}

func (l *Ledger) VoidBooking(ctx context.Context, bookingID, reason string) error {
	return l.updateBooking(ctx, bookingID, map[string]interface{}{
		"status":               models.BookingRejected,
		"capacity_applied":     false,
		"needs_reconciliation": false,
		"reconcile_reason":     reason,
	})
}

func (l *Ledger) updateBooking(ctx context.Context, bookingID string, fields map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339)

	var updated []map[string]interface{}
	data, _, err := l.client.From(bookingsTable).
		Update(fields, "representation", "").
		Eq("id", bookingID).
		Execute()
	if err := decodeRows(data, err, &updated); err != nil {
		return fmt.Errorf("update booking %s: %w", bookingID, err)
	}
	if len(updated) == 0 {
		return booking.ErrNotFound
	}
	return nil
}
