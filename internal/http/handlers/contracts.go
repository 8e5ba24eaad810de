package handlers

import (
	"context"

	"service-dispatch/internal/dispatch"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/service/delivery"
)

type deliveryUsecase interface {
	NearestCourier(originLat, originLon float64) (string, error)
	Dispatch(ctx context.Context, orderID string, originLat, originLon float64, summary domain.OrderSummary) (delivery.Result, error)
	Reassign(ctx context.Context, orderID, courierID string) (delivery.Result, error)
	Complete(ctx context.Context, orderID string) error
	CompleteByCourier(ctx context.Context, orderID, courierID string) error
	Cancel(ctx context.Context, orderID string) error
}

// NewDeliveryUsecase wires a delivery Service into a deliveryUsecase.
func NewDeliveryUsecase(svc *delivery.Service) deliveryUsecase {
	return svc
}

type trackingReader interface {
	Tracking(orderID string) (domain.Tracking, error)
}

// NewTrackingReader wires the dispatch Router into a trackingReader.
func NewTrackingReader(r *dispatch.Router) trackingReader {
	return r
}
