package kafka

import (
	"encoding/json"
	"strings"
	"time"

	"service-dispatch/internal/service/orders"
)

// EventDTO is a data transfer object for orders.Event
type EventDTO struct {
	OrderID   string          `json:"order_id"`
	Status    string          `json:"status"`
	Summary   json.RawMessage `json:"summary,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ToDomain converts EventDTO to orders.Event
func ToDomain(dto EventDTO) orders.Event {
	var summary json.RawMessage
	if len(dto.Summary) > 0 && string(dto.Summary) != "null" {
		summary = dto.Summary
	}
	return orders.Event{
		OrderID:   strings.TrimSpace(dto.OrderID),
		Status:    strings.TrimSpace(dto.Status),
		Summary:   summary,
		CreatedAt: dto.CreatedAt,
	}
}
