package domain

import "time"

// CourierPosition is the last known position of one courier.
type CourierPosition struct {
	CourierID  string
	Lat        float64
	Lon        float64
	RecordedAt time.Time
}

// Position is the wire form of a coordinate with its device timestamp (unix millis).
type Position struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp int64   `json:"timestamp"`
}

// PositionOf converts a stored position to its wire form.
func PositionOf(p CourierPosition) Position {
	return Position{Lat: p.Lat, Lon: p.Lon, Timestamp: p.RecordedAt.UnixMilli()}
}

// LocationUpdate is a courier position routed to the trackers of one order.
type LocationUpdate struct {
	OrderID    string
	Lat        float64
	Lon        float64
	RecordedAt time.Time
}
