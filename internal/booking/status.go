package booking

import (
	"errors"
	"fmt"

	"ms-tourbooking/internal/models"
)

var (
	ErrInvalidTransition   = errors.New("booking: status transition not allowed")
	ErrNeedsReconciliation = errors.New("booking: seats not counted yet, reconcile before approving")
)

// bookingTransitions lists the admin status changes a booking allows.
var bookingTransitions = map[models.BookingStatus][]models.BookingStatus{
	models.BookingPending: {models.BookingApproved, models.BookingRejected},
}

func CanTransition(from, to models.BookingStatus) error {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}
