package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingPending  BookingStatus = "pending"
	BookingApproved BookingStatus = "approved"
	BookingRejected BookingStatus = "rejected"
)

// TourBooking is a reservation against one tour date. TourName and TourDate are
// snapshots taken at booking time and are never rewritten when the tour changes.
// TourID and TourDateID are plain references used for capacity release and
// reconciliation only.
type TourBooking struct {
	bun.BaseModel `bun:"table:tour_bookings"`

	ID                  string          `bun:"id,pk" json:"id"`
	BookingNumber       string          `bun:"booking_number,notnull,unique" json:"booking_number"`
	UserID              string          `bun:"user_id,notnull" json:"user_id"`
	TourName            string          `bun:"tour_name,notnull" json:"tour_name"`
	TourDate            string          `bun:"tour_date,notnull" json:"tour_date"`
	NumberOfPeople      int             `bun:"number_of_people,notnull" json:"number_of_people"`
	Amount              decimal.Decimal `bun:"amount,type:decimal(10,2),notnull" json:"amount"`
	Status              BookingStatus   `bun:"status,notnull" json:"status"`
	TourID              string          `bun:"tour_id" json:"tour_id"`
	TourDateID          string          `bun:"tour_date_id" json:"tour_date_id"`
	CapacityApplied     bool            `bun:"capacity_applied,notnull" json:"capacity_applied"`
	NeedsReconciliation bool            `bun:"needs_reconciliation,notnull" json:"needs_reconciliation"`
	ReconcileReason     string          `bun:"reconcile_reason" json:"reconcile_reason,omitempty"`
	CreatedAt           time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt           time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

type BookingStatusRequest struct {
	Status BookingStatus `json:"status" validate:"required,oneof=approved rejected"`
}
