package orders

import (
	"context"
	"errors"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/logx"
)

// Processor processes orders events
type Processor struct {
	broadcaster Broadcaster
	delivery    DeliveryPort
	factory     *actionFactory
	logger      logx.Logger
}

// NewProcessor creates a new orders.Processor
func NewProcessor(b Broadcaster, d DeliveryPort, logger logx.Logger) *Processor {
	if logger == nil {
		logger = logx.Nop()
	}
	p := &Processor{
		broadcaster: b,
		delivery:    d,
		logger:      logger.With(logx.String("component", "orders_processor")),
	}
	p.factory = newActionFactory(p.onCreated, p.onCanceled, p.onCompleted)
	return p
}

// Handle processes a single orders.Event. Unknown statuses are ignored.
func (p *Processor) Handle(ctx context.Context, e Event) error {
	if p.factory == nil {
		return nil
	}
	fn, ok := p.factory.get(e.Status)
	if !ok {
		p.logger.Debug("order event ignored",
			logx.String("order_id", e.OrderID),
			logx.String("status", e.Status),
		)
		return nil
	}
	return fn(ctx, e)
}

func (p *Processor) onCreated(_ context.Context, e Event) error {
	n, err := p.broadcaster.BroadcastNewOrder(e.OrderID, e.Summary)
	if errors.Is(err, apperr.ErrOrderClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	p.logger.Info("new order offered",
		logx.String("order_id", e.OrderID),
		logx.Int("couriers", n),
	)
	return nil
}

func (p *Processor) onCanceled(ctx context.Context, e Event) error {
	err := p.delivery.Cancel(ctx, e.OrderID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

func (p *Processor) onCompleted(ctx context.Context, e Event) error {
	err := p.delivery.Complete(ctx, e.OrderID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}
