package handlers

import (
	"encoding/json"
	"time"
)

type nearestCourierResponse struct {
	CourierID string `json:"courier_id"`
}

type dispatchRequest struct {
	OrderID   string          `json:"order_id"`
	OriginLat *float64        `json:"origin_lat"`
	OriginLon *float64        `json:"origin_lon"`
	Summary   json.RawMessage `json:"order_summary,omitempty"`
}

type reassignRequest struct {
	CourierID string `json:"courier_id"`
}

type assignmentResponse struct {
	OrderID    string    `json:"order_id"`
	CourierID  string    `json:"courier_id"`
	AssignedAt time.Time `json:"assigned_at"`
	Duplicate  bool      `json:"duplicate"`
}

type closeResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type positionDTO struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp int64   `json:"timestamp"`
}

type trackingResponse struct {
	OrderID       string        `json:"order_id"`
	CourierID     string        `json:"courier_id,omitempty"`
	AssignedAt    *time.Time    `json:"assigned_at,omitempty"`
	CourierOnline bool          `json:"courier_online"`
	LastPosition  *positionDTO  `json:"last_position,omitempty"`
	AgeMs         *int64        `json:"age_ms,omitempty"`
	Path          []positionDTO `json:"path"`
}
