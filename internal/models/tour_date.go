package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TourDate is one calendar occurrence of a tour with its own capacity ceiling.
// CurrentBookings is only ever changed through the booking allocator.
type TourDate struct {
	bun.BaseModel `bun:"table:tour_dates"`

	ID              string    `bun:"id,pk" json:"id"`
	TourID          string    `bun:"tour_id,notnull" json:"tour_id"`
	AvailableDate   time.Time `bun:"available_date,type:date,notnull" json:"available_date"`
	MaxBookings     int       `bun:"max_bookings,notnull" json:"max_bookings"`
	CurrentBookings int       `bun:"current_bookings,notnull" json:"current_bookings"`
	IsAvailable     bool      `bun:"is_available,notnull" json:"is_available"`
	CreatedAt       time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// Remaining returns the seats still free on this date.
func (d *TourDate) Remaining() int {
	if d.CurrentBookings >= d.MaxBookings {
		return 0
	}
	return d.MaxBookings - d.CurrentBookings
}

// Date returns the calendar date as YYYY-MM-DD.
func (d *TourDate) Date() string {
	return d.AvailableDate.Format("2006-01-02")
}

type TourDateRequest struct {
	Date        string `json:"date" validate:"required"`
	MaxBookings int    `json:"max_bookings" validate:"min=1"`
}
