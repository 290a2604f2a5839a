package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-tourbooking/internal/models"
	"ms-tourbooking/internal/orders"

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
		return orders.ErrNotFound
	}
	return err
}

// ListProducts → active products, optionally by category and a name or
// description search
func (d *DB) ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	products := []models.Product{}
	q := d.Bun.NewSelect().
		Model(&products).
		Where("is_active = ?", true).
		Order("name ASC")
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(name) LIKE ?", pattern).WhereOr("LOWER(description) LIKE ?", pattern)
		})
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

func (d *DB) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	err := d.Bun.NewSelect().Model(&p).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (d *DB) GetProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	products := []models.Product{}
	if len(ids) == 0 {
		return products, nil
	}
	err := d.Bun.NewSelect().
		Model(&products).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (d *DB) CreateOrder(ctx context.Context, o *models.Order) error {
	_, err := d.Bun.NewInsert().Model(o).Exec(ctx)
	return err
}

func (d *DB) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := d.Bun.NewSelect().Model(&o).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// ListOrders → admin listing, newest first
func (d *DB) ListOrders(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	list := []models.Order{}
	q := d.Bun.NewSelect().Model(&list).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return list, nil
}

func (d *DB) ListUserOrders(ctx context.Context, userID string) ([]models.Order, error) {
	list := []models.Order{}
	err := d.Bun.NewSelect().
		Model(&list).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user orders: %w", err)
	}
	return list, nil
}

func (d *DB) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return orders.ErrConflict
	}
	return nil
}
