package orders

import (
	"fmt"

	"ms-tourbooking/internal/models"
)

// Delivery orders ship, pickup orders are collected at the shop. Either can
// be cancelled until it leaves processing.
var (
	deliveryTransitions = map[models.OrderStatus][]models.OrderStatus{
		models.OrderPending:    {models.OrderProcessing, models.OrderCancelled},
		models.OrderProcessing: {models.OrderShipped, models.OrderCancelled},
		models.OrderShipped:    {models.OrderDelivered},
	}
	pickupTransitions = map[models.OrderStatus][]models.OrderStatus{
		models.OrderPending:    {models.OrderProcessing, models.OrderCancelled},
		models.OrderProcessing: {models.OrderCollected, models.OrderCancelled},
	}
)

func CanTransition(method string, from, to models.OrderStatus) error {
	transitions := deliveryTransitions
	if method == models.DeliveryMethodPickup {
		transitions = pickupTransitions
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s order %s → %s", ErrInvalidTransition, method, from, to)
}
