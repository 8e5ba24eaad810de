package ws

import (
	"context"
	"time"

	"service-dispatch/internal/auth"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/outbox"
	"service-dispatch/internal/service/delivery"
)

type sessionRouter interface {
	Attach(s domain.Session) (*outbox.Queue, error)
	Detach(sessionID string)
	Touch(sessionID string) bool
	PublishLocation(sessionID string, lat, lon float64, recordedAt time.Time) error
	SetAvailability(courierID string, available bool) error
	Subscribe(sessionID, orderID string) error
	Unsubscribe(sessionID, orderID string)
}

type dispatchService interface {
	Dispatch(ctx context.Context, orderID string, originLat, originLon float64, summary domain.OrderSummary) (delivery.Result, error)
	CompleteByCourier(ctx context.Context, orderID, courierID string) error
}

type tokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}
