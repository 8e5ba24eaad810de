package connmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
)

// DispatchResult is the core's answer to an assignment request.
type DispatchResult struct {
	OrderID   string
	CourierID string
	Duplicate bool
}

// DispatcherOptions configures a Dispatcher client.
type DispatcherOptions struct {
	OnMessage     func(domain.Message)
	OnStateChange func(from, to State)
	Reconnect     Options
}

// Dispatcher is the restaurant side: it requests couriers for orders.
type Dispatcher struct {
	*Manager
	opts DispatcherOptions

	mu      sync.Mutex
	pending map[string]chan domain.Message
}

// NewDispatcher builds a restaurant dispatcher client.
func NewDispatcher(d Dialer, opts DispatcherOptions, logger logx.Logger) *Dispatcher {
	if logger == nil {
		logger = logx.Nop()
	}
	c := &Dispatcher{opts: opts, pending: make(map[string]chan domain.Message)}
	c.Manager = New(d, Options{
		OnConnected:       c.register,
		OnMessage:         c.handle,
		OnStateChange:     opts.OnStateChange,
		ReconnectDelay:    opts.Reconnect.ReconnectDelay,
		MaxReconnectDelay: opts.Reconnect.MaxReconnectDelay,
	}, logger.With(logx.String("role", "dispatcher")))
	return c
}

// RequestDispatch asks the core to assign the nearest courier and waits for
// the correlated reply. Resolution failures come back as apperr sentinels
// (ErrNoCourierAvailable, ErrCourierUnreachable, ...).
func (c *Dispatcher) RequestDispatch(ctx context.Context, orderID string, originLat, originLon float64) (DispatchResult, error) {
	reqID := uuid.NewString()
	reply := make(chan domain.Message, 1)

	c.mu.Lock()
	c.pending[reqID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	err := c.Send(domain.Inbound{
		Type:      domain.MsgAssign,
		RequestID: reqID,
		OrderID:   orderID,
		OriginLat: originLat,
		OriginLon: originLon,
	})
	if err != nil {
		return DispatchResult{}, err
	}

	select {
	case <-ctx.Done():
		return DispatchResult{}, fmt.Errorf("await dispatch %s: %w", orderID, ctx.Err())
	case msg := <-reply:
		if err := apperr.FromCode(msg.Code, msg.Error); err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{OrderID: msg.OrderID, CourierID: msg.CourierID, Duplicate: msg.Duplicate}, nil
	}
}

func (c *Dispatcher) register(_ context.Context, m *Manager) error {
	if err := m.Send(domain.Inbound{Type: domain.MsgHello, Role: domain.RoleRestaurant}); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	return nil
}

func (c *Dispatcher) handle(msg domain.Message) {
	if msg.RequestID != "" {
		c.mu.Lock()
		ch, ok := c.pending[msg.RequestID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
			return
		}
	}
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(msg)
	}
}
