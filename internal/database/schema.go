package database

import (
	"context"
	"fmt"

	"ms-tourbooking/internal/models"

	"github.com/uptrace/bun"
)

var tables = []interface{}{
	(*models.Tour)(nil),
	(*models.TourDate)(nil),
	(*models.TourBooking)(nil),
	(*models.Product)(nil),
	(*models.Order)(nil),
}

// CreateSchema creates every table from the bun models. Production databases
// are migrated with the SQL files instead.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	_, err := db.NewCreateIndex().
		Model((*models.TourDate)(nil)).
		Index("tour_dates_tour_day_idx").
		Unique().
		IfNotExists().
		Column("tour_id", "available_date").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create tour_dates index: %w", err)
	}
	return nil
}

// ResetSchema drops and recreates every table.
func ResetSchema(ctx context.Context, db *bun.DB) error {
	if err := db.ResetModel(ctx, tables...); err != nil {
		return fmt.Errorf("reset schema: %w", err)
	}
	return CreateSchema(ctx, db)
}
