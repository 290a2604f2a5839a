package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Tour is a bookable offering. MaxParticipants is the ceiling summed across all of its dates.
type Tour struct {
	bun.BaseModel `bun:"table:tours"`

	ID              string          `bun:"id,pk" json:"id"`
	Name            string          `bun:"name,notnull" json:"name"`
	Description     string          `bun:"description" json:"description"`
	Location        string          `bun:"location" json:"location"`
	Duration        string          `bun:"duration" json:"duration"`
	ImageURL        string          `bun:"image_url" json:"image_url"`
	Price           decimal.Decimal `bun:"price,type:decimal(10,2),notnull" json:"price"`
	MaxParticipants int             `bun:"max_participants,notnull" json:"max_participants"`
	IsActive        bool            `bun:"is_active,notnull" json:"is_active"`
	CreatedAt       time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

type TourRequest struct {
	Name            string          `json:"name" validate:"required"`
	Description     string          `json:"description"`
	Location        string          `json:"location"`
	Duration        string          `json:"duration"`
	ImageURL        string          `json:"image_url"`
	Price           decimal.Decimal `json:"price"`
	MaxParticipants int             `json:"max_participants" validate:"min=1"`
}
