//go:generate mockgen -source=contracts.go -destination=delivery_mocks_test.go -package=delivery_test

package delivery

import (
	"context"
	"time"

	"service-dispatch/internal/domain"
)

type courierFinder interface {
	FindNearest(originLat, originLon float64) (string, bool)
}

type assignmentRouter interface {
	Assign(orderID, courierID string, summary domain.OrderSummary) (domain.OrderAssignment, bool, error)
	AssignNew(orderID, courierID string, summary domain.OrderSummary) (domain.OrderAssignment, bool, error)
	Assignment(orderID string) (domain.OrderAssignment, bool)
	IsClosed(orderID string) bool
	CloseOrder(orderID string, reason domain.CloseReason) (*domain.OrderAssignment, error)
}

type assignmentJournal interface {
	Record(ctx context.Context, a domain.OrderAssignment) error
	Close(ctx context.Context, orderID string, reason domain.CloseReason, at time.Time) error
}
