package handlers

import (
	"time"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/service/delivery"
)

func resultToResponse(res delivery.Result) assignmentResponse {
	return assignmentResponse{
		OrderID:    res.OrderID,
		CourierID:  res.CourierID,
		AssignedAt: res.AssignedAt,
		Duplicate:  res.Duplicate,
	}
}

func trackingToResponse(t domain.Tracking, now time.Time) trackingResponse {
	out := trackingResponse{
		OrderID:       t.OrderID,
		CourierOnline: t.Online,
		Path:          make([]positionDTO, 0, len(t.Path)),
	}
	if t.Assignment != nil {
		at := t.Assignment.AssignedAt
		out.CourierID = t.Assignment.CourierID
		out.AssignedAt = &at
	}
	if t.Last != nil {
		out.LastPosition = &positionDTO{Lat: t.Last.Lat, Lon: t.Last.Lon, Timestamp: t.Last.RecordedAt.UnixMilli()}
		age := now.Sub(t.Last.RecordedAt).Milliseconds()
		if age < 0 {
			age = 0
		}
		out.AgeMs = &age
	}
	for _, p := range t.Path {
		out.Path = append(out.Path, positionDTO{Lat: p.Lat, Lon: p.Lon, Timestamp: p.RecordedAt.UnixMilli()})
	}
	return out
}
