//go:generate mockgen -source=contracts.go -destination=orders_mocks_test.go -package=orders_test

package orders

import (
	"context"

	"service-dispatch/internal/domain"
)

// Broadcaster offers a new order to the available couriers.
type Broadcaster interface {
	BroadcastNewOrder(orderID string, summary domain.OrderSummary) (int, error)
}

// DeliveryPort abstracts the subset of delivery service operations
// needed by orders Processor when handling order events
type DeliveryPort interface {
	Complete(ctx context.Context, orderID string) error
	Cancel(ctx context.Context, orderID string) error
}
