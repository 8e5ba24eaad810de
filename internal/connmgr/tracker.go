package connmgr

import (
	"context"
	"fmt"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
)

// TrackerOptions configures a Tracker client.
type TrackerOptions struct {
	OnLocation    func(orderID string, p domain.Position)
	OnStatus      func(domain.Message)
	OnClosed      func(orderID, reason string)
	OnStateChange func(from, to State)
	Reconnect     Options
}

// Tracker follows one order as a customer.
type Tracker struct {
	*Manager
	orderID string
	opts    TrackerOptions
}

// NewTracker builds a customer tracker for orderID. The subscription is
// repeated on every reconnect.
func NewTracker(d Dialer, orderID string, opts TrackerOptions, logger logx.Logger) *Tracker {
	if logger == nil {
		logger = logx.Nop()
	}
	t := &Tracker{orderID: orderID, opts: opts}
	t.Manager = New(d, Options{
		OnConnected:       t.register,
		OnMessage:         t.handle,
		OnStateChange:     opts.OnStateChange,
		ReconnectDelay:    opts.Reconnect.ReconnectDelay,
		MaxReconnectDelay: opts.Reconnect.MaxReconnectDelay,
	}, logger.With(logx.String("role", "tracker"), logx.String("order_id", orderID)))
	return t
}

// OrderID returns the tracked order.
func (t *Tracker) OrderID() string { return t.orderID }

func (t *Tracker) register(_ context.Context, m *Manager) error {
	if err := m.Send(domain.Inbound{Type: domain.MsgHello, Role: domain.RoleCustomer}); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	if err := m.Send(domain.Inbound{Type: domain.MsgSubscribe, OrderID: t.orderID}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (t *Tracker) handle(msg domain.Message) {
	if msg.OrderID != "" && msg.OrderID != t.orderID {
		return
	}
	switch msg.Type {
	case domain.MsgLocationUpdate:
		if msg.Position != nil && t.opts.OnLocation != nil {
			t.opts.OnLocation(msg.OrderID, *msg.Position)
		}
	case domain.MsgTrackingClosed:
		if t.opts.OnClosed != nil {
			t.opts.OnClosed(msg.OrderID, msg.Reason)
		}
	default:
		if t.opts.OnStatus != nil {
			t.opts.OnStatus(msg)
		}
	}
}
