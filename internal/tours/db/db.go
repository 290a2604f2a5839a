package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-tourbooking/internal/models"
	"ms-tourbooking/internal/tours"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return tours.ErrNotFound
	}
	return err
}

// isUniqueViolation recognises duplicate keys from Postgres and SQLite.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (d *DB) CreateTour(ctx context.Context, t *models.Tour) error {
	_, err := d.Bun.NewInsert().Model(t).Exec(ctx)
	return err
}

func (d *DB) UpdateTour(ctx context.Context, t *models.Tour) error {
	res, err := d.Bun.NewUpdate().
		Model(t).
		Column("name", "description", "location", "duration", "image_url", "price", "max_participants", "is_active", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (d *DB) GetTour(ctx context.Context, id string) (*models.Tour, error) {
	var t models.Tour
	err := d.Bun.NewSelect().Model(&t).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ListTours → tours by name, optionally only the ones on sale
func (d *DB) ListTours(ctx context.Context, activeOnly bool) ([]models.Tour, error) {
	tourList := []models.Tour{}
	q := d.Bun.NewSelect().Model(&tourList).Order("name ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list tours: %w", err)
	}
	return tourList, nil
}

func (d *DB) CreateDate(ctx context.Context, date *models.TourDate) error {
	_, err := d.Bun.NewInsert().Model(date).Exec(ctx)
	if err != nil && isUniqueViolation(err) {
		return tours.ErrDuplicateDate
	}
	return err
}

func (d *DB) GetDate(ctx context.Context, tourID, dateID string) (*models.TourDate, error) {
	var date models.TourDate
	err := d.Bun.NewSelect().
		Model(&date).
		Where("id = ?", dateID).
		Where("tour_id = ?", tourID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &date, nil
}

// ListDates → every date of a tour, past and unavailable included
func (d *DB) ListDates(ctx context.Context, tourID string) ([]models.TourDate, error) {
	dates := []models.TourDate{}
	err := d.Bun.NewSelect().
		Model(&dates).
		Where("tour_id = ?", tourID).
		Order("available_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tour dates: %w", err)
	}
	return dates, nil
}

func (d *DB) SetDateAvailability(ctx context.Context, tourID, dateID string, available bool) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.TourDate)(nil)).
		Set("is_available = ?", available).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", dateID).
		Where("tour_id = ?", tourID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (d *DB) DeleteEmptyDate(ctx context.Context, tourID, dateID string) (bool, error) {
	res, err := d.Bun.NewDelete().
		Model((*models.TourDate)(nil)).
		Where("id = ?", dateID).
		Where("tour_id = ?", tourID).
		Where("current_bookings = 0").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tours.ErrNotFound
	}
	return nil
}
