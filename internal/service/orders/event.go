package orders

import (
	"time"

	"service-dispatch/internal/domain"
)

// Event is a single order event
type Event struct {
	OrderID   string
	Status    string
	Summary   domain.OrderSummary
	CreatedAt time.Time
}
