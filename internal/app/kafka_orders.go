package app

import (
	"context"
	"time"

	"service-dispatch/internal/config"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/service/orders"
	"service-dispatch/internal/transport/kafka"
)

const orderEventTimeout = 5 * time.Second

type eventHandler interface {
	Handle(ctx context.Context, e orders.Event) error
}

// makeOrdersKafka bounds the handling of each event by timeout.
func makeOrdersKafka(h eventHandler, timeout time.Duration) kafka.HandleFunc {
	return func(ctx context.Context, event orders.Event) error {
		hctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return h.Handle(hctx, event)
	}
}

// newOrdersConsumer returns nil when KAFKA_BROKERS is empty.
func newOrdersConsumer(cfg *config.Config, logger logx.Logger, p *orders.Processor) (*kafka.Consumer, error) {
	if !cfg.Kafka.Enabled() {
		logger.Info("kafka consumer disabled")
		return nil, nil
	}
	return kafka.NewConsumer(logger, cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic, makeOrdersKafka(p, orderEventTimeout))
}
