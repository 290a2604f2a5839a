package models

import (
	"time"
)

type ChangeAction string

const (
	ChangeInsert ChangeAction = "INSERT"
	ChangeUpdate ChangeAction = "UPDATE"
	ChangeDelete ChangeAction = "DELETE"
)

// Tables that publish change events to dashboards.
const (
	TableTours        = "tours"
	TableTourDates    = "tour_dates"
	TableTourBookings = "tour_bookings"
	TableProducts     = "products"
	TableOrders       = "orders"
)

// ChangeEvent is the realtime notification published after a row changes.
type ChangeEvent struct {
	Table      string       `json:"table"`
	Action     ChangeAction `json:"action"`
	RecordID   string       `json:"record_id"`
	TourID     string       `json:"tour_id,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

func NewChangeEvent(table string, action ChangeAction, recordID, tourID string) ChangeEvent {
	return ChangeEvent{
		Table:      table,
		Action:     action,
		RecordID:   recordID,
		TourID:     tourID,
		OccurredAt: time.Now().UTC(),
	}
}
