package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/service/orders"
)

// HandleFunc processes a single orders.Event from Kafka
type HandleFunc func(context.Context, orders.Event) error

var newConsumerGroup = sarama.NewConsumerGroup

const consumeRetryDelay = time.Second

// Consumer wraps a Sarama consumer group and dispatches events to a handler
type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler HandleFunc
	logger  logx.Logger
}

// NewConsumer creates a new Kafka consumer. It returns a nil consumer when
// Kafka is not configured.
func NewConsumer(logger logx.Logger, brokers []string, groupID, topic string, h HandleFunc) (*Consumer, error) {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" || strings.TrimSpace(groupID) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logx.Nop()
	}

	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = false

	group, err := newConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:   group,
		topic:   topic,
		handler: h,
		logger: logger.With(
			logx.String("component", "kafka_consumer"),
			logx.String("topic", topic),
			logx.String("group_id", groupID),
		),
	}, nil
}

// Run consumes until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil {
		return nil
	}

	h := &groupHandler{handler: c.handler, logger: c.logger}
	c.logger.Info("kafka consumer started")

	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("kafka consume error", logx.Err(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(consumeRetryDelay):
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	return c.group.Close()
}

type groupHandler struct {
	handler HandleFunc
	logger  logx.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		fields := []logx.Field{
			logx.Int("partition", int(msg.Partition)),
			logx.Int64("offset", msg.Offset),
		}

		var dto EventDTO
		if err := json.Unmarshal(msg.Value, &dto); err != nil {
			h.logger.Warn("kafka bad json", append(fields, logx.Err(err))...)
			sess.MarkMessage(msg, "")
			continue
		}
		ev := ToDomain(dto)
		if ev.OrderID == "" {
			h.logger.Warn("kafka empty order_id", fields...)
			sess.MarkMessage(msg, "")
			continue
		}

		fields = append(fields, logx.String("order_id", ev.OrderID), logx.String("status", ev.Status))
		if h.handler != nil {
			if err := h.handler(sess.Context(), ev); err != nil {
				if isPermanent(err) {
					h.logger.Warn("kafka handle failed, skipping message", append(fields, logx.Err(err))...)
					sess.MarkMessage(msg, "")
					continue
				}
				h.logger.Error("kafka handle failed, will retry", append(fields, logx.Err(err))...)
				return err
			}
		}

		sess.MarkMessage(msg, "")
	}
	return nil
}

func isPermanent(err error) bool {
	var p PermanentError
	return errors.As(err, &p) || errors.Is(err, apperr.ErrInvalid)
}
