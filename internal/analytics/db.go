package analytics

import (
	"context"
	"fmt"

	"ms-tourbooking/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// DB runs the dashboard aggregate queries.
type DB struct {
	bun *bun.DB
}

func NewDB(db *bun.DB) *DB {
	return &DB{bun: db}
}

type StatusCount struct {
	Status string `bun:"status" json:"status"`
	Count  int    `bun:"count" json:"count"`
	People int    `bun:"people" json:"people"`
}

// BookingsByStatus counts bookings and their participants per status.
func (db *DB) BookingsByStatus(ctx context.Context) ([]StatusCount, error) {
	var rows []StatusCount
	err := db.bun.NewSelect().
		Model((*models.TourBooking)(nil)).
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		ColumnExpr("COALESCE(SUM(number_of_people), 0) AS people").
		Group("status").
		Order("status ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("bookings by status: %w", err)
	}
	return rows, nil
}

func (db *DB) ApprovedRevenue(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.bun.NewSelect().
		Model((*models.TourBooking)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("status = ?", models.BookingApproved).
		Scan(ctx, &total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("approved revenue: %w", err)
	}
	return total, nil
}

func (db *DB) FlaggedBookings(ctx context.Context) (int, error) {
	n, err := db.bun.NewSelect().
		Model((*models.TourBooking)(nil)).
		Where("needs_reconciliation = ?", true).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count flagged bookings: %w", err)
	}
	return n, nil
}

type TourLoad struct {
	TourID          string `bun:"id"`
	Name            string `bun:"name"`
	MaxParticipants int    `bun:"max_participants"`
	Booked          int    `bun:"booked"`
	Dates           int    `bun:"dates"`
}

// TourLoads sums the counted seats of every active tour across its dates.
func (db *DB) TourLoads(ctx context.Context) ([]TourLoad, error) {
	var rows []TourLoad
	err := db.bun.NewSelect().
		TableExpr("tours AS t").
		ColumnExpr("t.id, t.name, t.max_participants").
		ColumnExpr("COALESCE(SUM(d.current_bookings), 0) AS booked").
		ColumnExpr("COUNT(d.id) AS dates").
		Join("LEFT JOIN tour_dates AS d ON d.tour_id = t.id").
		Where("t.is_active = ?", true).
		Group("t.id", "t.name", "t.max_participants").
		Order("t.name ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("tour loads: %w", err)
	}
	return rows, nil
}

type OrderTotal struct {
	Status string          `bun:"status" json:"status"`
	Count  int             `bun:"count" json:"count"`
	Amount decimal.Decimal `bun:"amount" json:"amount"`
}

// OrderTotals counts orders per status with their summed totals.
func (db *DB) OrderTotals(ctx context.Context) ([]OrderTotal, error) {
	var rows []OrderTotal
	err := db.bun.NewSelect().
		Model((*models.Order)(nil)).
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		ColumnExpr("COALESCE(SUM(total_amount), 0) AS amount").
		Group("status").
		Order("status ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("order totals: %w", err)
	}
	return rows, nil
}
