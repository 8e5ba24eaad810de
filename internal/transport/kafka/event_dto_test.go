package kafka_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"service-dispatch/internal/service/orders"
	"service-dispatch/internal/transport/kafka"
)

func TestToDomain_TrimsAndCopiesFields(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	dto := kafka.EventDTO{
		OrderID:   "  order-1  ",
		Status:    "  created  ",
		Summary:   json.RawMessage(`{"restaurant":"R1"}`),
		CreatedAt: ts,
	}

	got := kafka.ToDomain(dto)

	require.Equal(t, orders.Event{
		OrderID:   "order-1",
		Status:    "created",
		Summary:   json.RawMessage(`{"restaurant":"R1"}`),
		CreatedAt: ts,
	}, got)
}

func TestToDomain_NullSummaryDropped(t *testing.T) {
	t.Parallel()

	var dto kafka.EventDTO
	require.NoError(t, json.Unmarshal([]byte(`{"order_id":"o","status":"created","summary":null}`), &dto))
	require.Nil(t, kafka.ToDomain(dto).Summary)
}
