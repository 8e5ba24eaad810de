package dispatch

import (
	"time"

	"service-dispatch/internal/domain"
)

func assignmentMessage(a domain.OrderAssignment, summary domain.OrderSummary) domain.Message {
	return domain.Message{
		Type:      domain.MsgOrderAssignment,
		OrderID:   a.OrderID,
		CourierID: a.CourierID,
		Summary:   summary,
	}
}

func locationMessage(u domain.LocationUpdate) domain.Message {
	return domain.Message{
		Type:    domain.MsgLocationUpdate,
		OrderID: u.OrderID,
		Position: &domain.Position{
			Lat:       u.Lat,
			Lon:       u.Lon,
			Timestamp: u.RecordedAt.UnixMilli(),
		},
	}
}

func statusMessage(orderID, courierID string, online bool, lastSeen time.Time) domain.Message {
	m := domain.Message{
		Type:      domain.MsgCourierStatus,
		OrderID:   orderID,
		CourierID: courierID,
		Online:    &online,
	}
	if !online && !lastSeen.IsZero() {
		m.LastSeen = lastSeen.UnixMilli()
	}
	return m
}
