package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID            string          `bun:"id,pk" json:"id"`
	Name          string          `bun:"name,notnull" json:"name"`
	Description   string          `bun:"description" json:"description"`
	Category      string          `bun:"category" json:"category"`
	ImageURL      string          `bun:"image_url" json:"image_url"`
	Price         decimal.Decimal `bun:"price,type:decimal(10,2),notnull" json:"price"`
	StockQuantity int             `bun:"stock_quantity,notnull" json:"stock_quantity"`
	IsActive      bool            `bun:"is_active,notnull" json:"is_active"`
	CreatedAt     time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

type ProductFilter struct {
	Category string
	Search   string
}
