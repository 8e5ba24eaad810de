package domain

import (
	"encoding/json"
	"time"
)

// OrderAssignment binds an order to the courier delivering it.
type OrderAssignment struct {
	OrderID    string
	CourierID  string
	AssignedAt time.Time
}

// CloseReason says why an order left the dispatch core.
type CloseReason string

// List of order close reasons
const (
	CloseCompleted CloseReason = "completed"
	CloseCanceled  CloseReason = "canceled"
)

// OrderSummary is the opaque order payload fanned out to couriers.
// The core never inspects it.
type OrderSummary = json.RawMessage

// Tracking is the read view of one order for the polling API.
type Tracking struct {
	OrderID    string
	Assignment *OrderAssignment
	Last       *LocationUpdate
	Path       []CourierPosition
	Online     bool
}
