package connmgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
)

// DefaultPublishInterval is the courier's position cadence.
const DefaultPublishInterval = time.Second

// PositionSource yields the courier's current position.
type PositionSource interface {
	Next(ctx context.Context) (domain.Position, error)
}

// PositionSourceFunc adapts a function to PositionSource.
type PositionSourceFunc func(ctx context.Context) (domain.Position, error)

// Next calls f(ctx).
func (f PositionSourceFunc) Next(ctx context.Context) (domain.Position, error) { return f(ctx) }

// CourierOptions configures a Courier client.
type CourierOptions struct {
	Interval  time.Duration
	Available bool
	// OnError reports position source and publish failures. The connection
	// stays open.
	OnError       func(error)
	OnMessage     func(domain.Message)
	OnStateChange func(from, to State)
	Reconnect     Options
}

// Courier publishes positions while connected and receives offers and
// assignments.
type Courier struct {
	*Manager
	source PositionSource
	opts   CourierOptions
	logger logx.Logger
}

// NewCourier builds a courier client. Only the reconnect delays of
// opts.Reconnect are used.
func NewCourier(d Dialer, source PositionSource, opts CourierOptions, logger logx.Logger) *Courier {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPublishInterval
	}
	if logger == nil {
		logger = logx.Nop()
	}
	c := &Courier{source: source, opts: opts, logger: logger.With(logx.String("role", "courier"))}
	c.Manager = New(d, Options{
		OnConnected:       c.register,
		OnMessage:         opts.OnMessage,
		OnStateChange:     opts.OnStateChange,
		ReconnectDelay:    opts.Reconnect.ReconnectDelay,
		MaxReconnectDelay: opts.Reconnect.MaxReconnectDelay,
	}, c.logger)
	return c
}

// Start connects and starts the publishing loop.
func (c *Courier) Start(ctx context.Context) {
	c.Manager.Start(ctx)
	go c.publish(ctx)
}

// SetAvailability tells the core whether the courier takes new orders.
func (c *Courier) SetAvailability(available bool) error {
	return c.Send(domain.Inbound{Type: domain.MsgAvailability, Available: &available})
}

// Complete reports the order as delivered.
func (c *Courier) Complete(orderID string) error {
	return c.Send(domain.Inbound{Type: domain.MsgComplete, OrderID: orderID})
}

func (c *Courier) register(_ context.Context, m *Manager) error {
	if err := m.Send(domain.Inbound{Type: domain.MsgHello, Role: domain.RoleCourier}); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	available := c.opts.Available
	if err := m.Send(domain.Inbound{Type: domain.MsgAvailability, Available: &available}); err != nil {
		return fmt.Errorf("availability: %w", err)
	}
	return nil
}

func (c *Courier) publish(ctx context.Context) {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Done():
			return
		case <-ticker.C:
		}
		if c.State() != StateConnected {
			continue
		}

		p, err := c.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.reportError(fmt.Errorf("position source: %w", err))
			continue
		}
		err = c.Send(domain.Inbound{Type: domain.MsgLocation, Lat: p.Lat, Lon: p.Lon, Timestamp: p.Timestamp})
		if err != nil && !errors.Is(err, ErrNotConnected) {
			c.reportError(err)
		}
	}
}

func (c *Courier) reportError(err error) {
	c.logger.Warn("courier publish failed", logx.Err(err))
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}
