// Package dispatch routes order events and courier positions to the live
// sessions that care about them.
package dispatch

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/location"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/metrics"
	"service-dispatch/internal/outbox"
	"service-dispatch/internal/session"
)

// Default router settings.
const (
	DefaultSessionTimeout = 2 * time.Minute
	DefaultClosedOrderTTL = time.Hour
)

// ReasonReassigned is sent to a courier that lost an order to another courier.
const ReasonReassigned = "reassigned"

// Options configures a Router.
type Options struct {
	QueueSize      int
	SessionTimeout time.Duration
	ClosedOrderTTL time.Duration
	Now            func() time.Time
}

type order struct {
	mu          sync.Mutex
	id          string
	summary     domain.OrderSummary
	assignment  *domain.OrderAssignment
	last        *domain.LocationUpdate
	subscribers map[string]struct{}
	closed      bool
	closedAt    time.Time
	touchedAt   time.Time
}

func (o *order) idle() bool {
	return !o.closed && o.assignment == nil && len(o.subscribers) == 0
}

// Router owns per-order routing state: the current assignment, the tracking
// subscribers, and the last location delivered to them.
//
// Lock order is order.mu before Router.mu. Router.mu is never held while an
// order lock is acquired.
type Router struct {
	sessions  *session.Registry
	locations *location.Store
	metrics   *metrics.Dispatch
	logger    logx.Logger
	opts      Options

	mu        sync.RWMutex
	orders    map[string]*order
	byCourier map[string]map[string]struct{}
	bySession map[string]map[string]struct{}
}

// NewRouter wires a router over the session registry and the location store.
// m may be nil.
func NewRouter(
	sessions *session.Registry,
	locations *location.Store,
	m *metrics.Dispatch,
	logger logx.Logger,
	opts Options,
) *Router {
	if logger == nil {
		logger = logx.Nop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = outbox.DefaultCapacity
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.ClosedOrderTTL <= 0 {
		opts.ClosedOrderTTL = DefaultClosedOrderTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		sessions:  sessions,
		locations: locations,
		metrics:   m,
		logger:    logger.With(logx.String("component", "dispatch_router")),
		opts:      opts,
		orders:    make(map[string]*order),
		byCourier: make(map[string]map[string]struct{}),
		bySession: make(map[string]map[string]struct{}),
	}
}

// Attach registers a new connection and returns the outbound queue the
// transport must drain. A courier is made available unless it still holds
// active orders, in which case its current assignments are sent again.
func (r *Router) Attach(s domain.Session) (*outbox.Queue, error) {
	now := r.opts.Now()
	if s.ConnectedAt.IsZero() {
		s.ConnectedAt = now
	}
	if s.LastSeenAt.IsZero() {
		s.LastSeenAt = now
	}

	q := outbox.New(r.opts.QueueSize, func(m domain.Message) {
		r.metrics.ObserveDrop(string(m.Type))
	})
	evicted, err := r.sessions.Register(s, q)
	if err != nil {
		return nil, err
	}
	r.metrics.SessionOpened(string(s.Role))
	if evicted != nil {
		r.metrics.SessionClosed(string(evicted.Role))
		r.dropSubscriptions(evicted.ID)
	}

	if s.IsCourier() {
		r.locations.Join(s.Identity)
		active := r.ordersOf(s.Identity)
		if len(active) > 0 {
			r.locations.MarkUnavailable(s.Identity)
			r.resendAssignments(q, active)
		}
		if evicted == nil {
			r.notifyCourierStatus(s.Identity, true, now)
		}
	}

	r.logger.Info("session attached",
		logx.String("session_id", s.ID),
		logx.String("role", string(s.Role)),
		logx.String("identity", s.Identity),
	)
	return q, nil
}

func (r *Router) resendAssignments(q *outbox.Queue, orderIDs []string) {
	for _, id := range orderIDs {
		o := r.lookupOrder(id)
		if o == nil {
			continue
		}
		o.mu.Lock()
		if o.assignment != nil && !o.closed {
			q.Push(assignmentMessage(*o.assignment, o.summary))
		}
		o.mu.Unlock()
	}
}

// Detach removes a connection. Calling it more than once, or for a session
// that was already superseded, is a no-op. A departing courier's position is
// purged and the trackers of its orders learn it went offline.
func (r *Router) Detach(sessionID string) {
	s, ok := r.sessions.Deregister(sessionID)
	if !ok {
		return
	}
	r.metrics.SessionClosed(string(s.Role))
	r.dropSubscriptions(sessionID)

	if s.IsCourier() {
		r.locations.Remove(s.Identity)
		r.notifyCourierStatus(s.Identity, false, s.LastSeenAt)
	}

	r.logger.Info("session detached",
		logx.String("session_id", s.ID),
		logx.String("role", string(s.Role)),
		logx.String("identity", s.Identity),
	)
}

// Touch refreshes the liveness of a session.
func (r *Router) Touch(sessionID string) bool {
	return r.sessions.Touch(sessionID, r.opts.Now())
}

func (r *Router) dropSubscriptions(sessionID string) {
	r.mu.Lock()
	ids := r.bySession[sessionID]
	delete(r.bySession, sessionID)
	r.mu.Unlock()

	for id := range ids {
		if o := r.lookupOrder(id); o != nil {
			o.mu.Lock()
			delete(o.subscribers, sessionID)
			o.mu.Unlock()
		}
	}
}

// PublishLocation records the position sent on a courier session and forwards
// it to the trackers of every active order held by that courier. Sessions that
// were detached or superseded are rejected with apperr.ErrNotFound.
func (r *Router) PublishLocation(sessionID string, lat, lon float64, recordedAt time.Time) error {
	s, ok := r.sessions.Get(sessionID)
	if !ok || !s.IsCourier() {
		return fmt.Errorf("courier session %s: %w", sessionID, apperr.ErrNotFound)
	}
	courierID := s.Identity
	if live, ok := r.sessions.Lookup(courierID); !ok || live != sessionID {
		return fmt.Errorf("courier session %s superseded: %w", sessionID, apperr.ErrNotFound)
	}
	if err := r.locations.Update(courierID, lat, lon, recordedAt); err != nil {
		return err
	}
	for _, id := range r.ordersOf(courierID) {
		_, err := r.PublishLocationUpdate(domain.LocationUpdate{
			OrderID:    id,
			Lat:        lat,
			Lon:        lon,
			RecordedAt: recordedAt,
		})
		if err != nil {
			r.logger.Debug("location not forwarded",
				logx.String("order_id", id),
				logx.String("courier_id", courierID),
				logx.Err(err),
			)
		}
	}
	return nil
}

// PublishLocationUpdate delivers u to the current subscribers of its order and
// returns how many accepted it. Updates not newer than the last one delivered
// for the order are rejected with apperr.ErrStale.
func (r *Router) PublishLocationUpdate(u domain.LocationUpdate) (int, error) {
	o := r.lookupOrder(u.OrderID)
	if o == nil {
		return 0, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0, fmt.Errorf("order %s: %w", u.OrderID, apperr.ErrOrderClosed)
	}
	if o.last != nil && !u.RecordedAt.After(o.last.RecordedAt) {
		return 0, fmt.Errorf("order %s at %d, last %d: %w",
			u.OrderID, u.RecordedAt.UnixMilli(), o.last.RecordedAt.UnixMilli(), apperr.ErrStale)
	}
	last := u
	o.last = &last
	return r.fanout(o, locationMessage(u)), nil
}

// fanout pushes m to every subscriber of o. The caller holds o.mu.
func (r *Router) fanout(o *order, m domain.Message) int {
	delivered := 0
	for sid := range o.subscribers {
		q, ok := r.sessions.Outbox(sid)
		if !ok {
			continue
		}
		if q.Push(m) {
			delivered++
		}
	}
	return delivered
}

// BroadcastNewOrder offers an order to every available connected courier and
// returns how many sessions accepted the message.
func (r *Router) BroadcastNewOrder(orderID string, summary domain.OrderSummary) (int, error) {
	if strings.TrimSpace(orderID) == "" {
		return 0, fmt.Errorf("empty order id: %w", apperr.ErrInvalid)
	}
	o := r.ensureOrder(orderID)
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0, fmt.Errorf("order %s: %w", orderID, apperr.ErrOrderClosed)
	}
	if summary != nil {
		o.summary = summary
	}
	o.mu.Unlock()

	msg := domain.Message{Type: domain.MsgNewOrder, OrderID: orderID, Summary: summary}
	delivered := 0
	for _, s := range r.sessions.List(domain.RoleCourier) {
		if !r.locations.IsAvailable(s.Identity) {
			continue
		}
		if q, ok := r.sessions.Outbox(s.ID); ok && q.Push(msg) {
			delivered++
		}
	}
	r.logger.Debug("new order broadcast",
		logx.String("order_id", orderID),
		logx.Int("delivered", delivered),
	)
	return delivered, nil
}

// Assign binds orderID to courierID and notifies the courier and the order's
// trackers. Repeating the current binding is a no-op reported as duplicate.
// Binding to a different courier replaces the previous one, which is told it
// lost the order.
//
// The courier must have a live session (apperr.ErrCourierUnreachable) and be
// available (apperr.ErrConflict). A full courier queue fails the assignment
// with apperr.ErrCourierUnreachable and leaves the courier available.
func (r *Router) Assign(orderID, courierID string, summary domain.OrderSummary) (domain.OrderAssignment, bool, error) {
	return r.assign(orderID, courierID, summary, true)
}

// AssignNew is Assign for orders without a courier. An order that already has
// one keeps it, whoever holds it, and the existing binding is returned as
// duplicate.
func (r *Router) AssignNew(orderID, courierID string, summary domain.OrderSummary) (domain.OrderAssignment, bool, error) {
	return r.assign(orderID, courierID, summary, false)
}

func (r *Router) assign(orderID, courierID string, summary domain.OrderSummary, replace bool) (domain.OrderAssignment, bool, error) {
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(courierID) == "" {
		return domain.OrderAssignment{}, false, fmt.Errorf("order and courier ids are required: %w", apperr.ErrInvalid)
	}

	o := r.ensureOrder(orderID)
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return domain.OrderAssignment{}, false, fmt.Errorf("order %s: %w", orderID, apperr.ErrOrderClosed)
	}
	if o.assignment != nil && (!replace || o.assignment.CourierID == courierID) {
		return *o.assignment, true, nil
	}

	sid, ok := r.sessions.Lookup(courierID)
	if !ok {
		return domain.OrderAssignment{}, false, fmt.Errorf("courier %s has no session: %w", courierID, apperr.ErrCourierUnreachable)
	}
	q, ok := r.sessions.Outbox(sid)
	if !ok {
		return domain.OrderAssignment{}, false, fmt.Errorf("courier %s has no session: %w", courierID, apperr.ErrCourierUnreachable)
	}
	if !r.locations.Reserve(courierID) {
		return domain.OrderAssignment{}, false, fmt.Errorf("courier %s is not available: %w", courierID, apperr.ErrConflict)
	}

	if summary != nil {
		o.summary = summary
	}
	a := domain.OrderAssignment{OrderID: orderID, CourierID: courierID, AssignedAt: r.opts.Now()}
	if !q.Push(assignmentMessage(a, o.summary)) {
		r.locations.MarkAvailable(courierID)
		return domain.OrderAssignment{}, false, fmt.Errorf("courier %s outbound queue full: %w", courierID, apperr.ErrCourierUnreachable)
	}

	prev := o.assignment
	o.assignment = &a
	// positions of a new courier start a fresh sequence
	o.last = nil
	if pos, ok := r.locations.Get(courierID); ok {
		o.last = &domain.LocationUpdate{OrderID: orderID, Lat: pos.Lat, Lon: pos.Lon, RecordedAt: pos.RecordedAt}
	}
	o.touchedAt = a.AssignedAt

	r.mu.Lock()
	r.indexCourier(courierID, orderID)
	remaining := 0
	if prev != nil {
		remaining = r.unindexCourier(prev.CourierID, orderID)
	}
	r.mu.Unlock()

	r.fanout(o, assignmentMessage(a, nil))
	if o.last != nil {
		r.fanout(o, locationMessage(*o.last))
	}

	if prev != nil {
		r.release(prev.CourierID, orderID, remaining, ReasonReassigned)
		r.logger.Info("order reassigned",
			logx.String("order_id", orderID),
			logx.String("from_courier_id", prev.CourierID),
			logx.String("to_courier_id", courierID),
		)
	} else {
		r.logger.Info("order assigned",
			logx.String("order_id", orderID),
			logx.String("courier_id", courierID),
		)
	}
	return a, false, nil
}

// release tells a courier it no longer holds orderID and makes it available
// again once it holds nothing else.
func (r *Router) release(courierID, orderID string, remaining int, reason string) {
	if sid, ok := r.sessions.Lookup(courierID); ok {
		if q, ok := r.sessions.Outbox(sid); ok {
			q.Push(domain.Message{Type: domain.MsgOrderUnassigned, OrderID: orderID, CourierID: courierID, Reason: reason})
		}
	}
	if remaining == 0 {
		r.locations.MarkAvailable(courierID)
	}
}

// Subscribe starts routing an order's events to a session. The current
// assignment, courier status, and last position are replayed right away.
func (r *Router) Subscribe(sessionID, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return fmt.Errorf("empty order id: %w", apperr.ErrInvalid)
	}
	q, ok := r.sessions.Outbox(sessionID)
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, apperr.ErrNotFound)
	}

	o := r.ensureOrder(orderID)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("order %s: %w", orderID, apperr.ErrOrderClosed)
	}

	o.subscribers[sessionID] = struct{}{}
	o.touchedAt = r.opts.Now()
	r.mu.Lock()
	set := r.bySession[sessionID]
	if set == nil {
		set = make(map[string]struct{})
		r.bySession[sessionID] = set
	}
	set[orderID] = struct{}{}
	r.mu.Unlock()

	if o.assignment == nil {
		return nil
	}
	q.Push(assignmentMessage(*o.assignment, nil))
	_, online := r.sessions.Lookup(o.assignment.CourierID)
	q.Push(statusMessage(orderID, o.assignment.CourierID, online, time.Time{}))
	if o.last != nil {
		q.Push(locationMessage(*o.last))
	}
	return nil
}

// Unsubscribe stops routing an order's events to a session.
func (r *Router) Unsubscribe(sessionID, orderID string) {
	if o := r.lookupOrder(orderID); o != nil {
		o.mu.Lock()
		delete(o.subscribers, sessionID)
		o.mu.Unlock()
	}
	r.mu.Lock()
	if set := r.bySession[sessionID]; set != nil {
		delete(set, orderID)
		if len(set) == 0 {
			delete(r.bySession, sessionID)
		}
	}
	r.mu.Unlock()
}

// CloseOrder ends an order. Subscribers get tracking_closed and are dropped,
// the assigned courier is released, and any later assignment or subscription
// fails with apperr.ErrOrderClosed. Closing twice is a no-op. The returned
// assignment is the one active at close time, if any.
func (r *Router) CloseOrder(orderID string, reason domain.CloseReason) (*domain.OrderAssignment, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("empty order id: %w", apperr.ErrInvalid)
	}

	o := r.ensureOrder(orderID)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return o.assignment, nil
	}

	now := r.opts.Now()
	o.closed = true
	o.closedAt = now
	o.touchedAt = now
	r.fanout(o, domain.Message{Type: domain.MsgTrackingClosed, OrderID: orderID, Reason: string(reason)})

	r.mu.Lock()
	for sid := range o.subscribers {
		if set := r.bySession[sid]; set != nil {
			delete(set, orderID)
			if len(set) == 0 {
				delete(r.bySession, sid)
			}
		}
	}
	remaining := 0
	if o.assignment != nil {
		remaining = r.unindexCourier(o.assignment.CourierID, orderID)
	}
	r.mu.Unlock()
	o.subscribers = map[string]struct{}{}

	if o.assignment != nil {
		r.release(o.assignment.CourierID, orderID, remaining, string(reason))
	}
	r.logger.Info("order closed",
		logx.String("order_id", orderID),
		logx.String("reason", string(reason)),
	)
	return o.assignment, nil
}

// Assignment returns the current binding of an open or closed order.
func (r *Router) Assignment(orderID string) (domain.OrderAssignment, bool) {
	o := r.lookupOrder(orderID)
	if o == nil {
		return domain.OrderAssignment{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.assignment == nil {
		return domain.OrderAssignment{}, false
	}
	return *o.assignment, true
}

// IsClosed reports whether the order was completed or canceled.
func (r *Router) IsClosed(orderID string) bool {
	o := r.lookupOrder(orderID)
	if o == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Tracking returns the read view of an order for polling clients.
func (r *Router) Tracking(orderID string) (domain.Tracking, error) {
	o := r.lookupOrder(orderID)
	if o == nil {
		return domain.Tracking{}, fmt.Errorf("order %s: %w", orderID, apperr.ErrNotFound)
	}
	o.mu.Lock()
	t := domain.Tracking{OrderID: orderID}
	if o.assignment != nil {
		a := *o.assignment
		t.Assignment = &a
	}
	if o.last != nil {
		l := *o.last
		t.Last = &l
	}
	closed := o.closed
	o.mu.Unlock()

	if closed {
		return t, fmt.Errorf("order %s: %w", orderID, apperr.ErrOrderClosed)
	}
	if t.Assignment != nil {
		_, t.Online = r.sessions.Lookup(t.Assignment.CourierID)
		t.Path = r.locations.History(t.Assignment.CourierID)
	}
	return t, nil
}

// SetAvailability lets a courier go on or off duty. Going on duty while
// holding an active order fails with apperr.ErrConflict.
func (r *Router) SetAvailability(courierID string, available bool) error {
	if !available {
		if !r.locations.MarkUnavailable(courierID) {
			return fmt.Errorf("courier %s: %w", courierID, apperr.ErrNotFound)
		}
		return nil
	}
	if n := len(r.ordersOf(courierID)); n > 0 {
		return fmt.Errorf("courier %s holds %d active orders: %w", courierID, n, apperr.ErrConflict)
	}
	if !r.locations.MarkAvailable(courierID) {
		return fmt.Errorf("courier %s: %w", courierID, apperr.ErrNotFound)
	}
	return nil
}

// ActiveOrders returns the ids of the open orders assigned to a courier.
func (r *Router) ActiveOrders(courierID string) []string {
	return r.ordersOf(courierID)
}

// SweepResult reports what one Sweep call removed.
type SweepResult struct {
	ExpiredSessions int
	PrunedOrders    int
}

// Sweep detaches sessions silent for longer than the session timeout and
// forgets closed orders older than the closed-order TTL, along with open
// orders nobody is assigned to or watching.
func (r *Router) Sweep(now time.Time) SweepResult {
	var res SweepResult
	for _, s := range r.sessions.Expired(now, r.opts.SessionTimeout) {
		r.logger.Warn("session timed out",
			logx.String("session_id", s.ID),
			logx.String("role", string(s.Role)),
			logx.Time("last_seen_at", s.LastSeenAt),
		)
		r.Detach(s.ID)
		res.ExpiredSessions++
	}

	r.mu.RLock()
	candidates := make(map[string]*order, len(r.orders))
	for id, o := range r.orders {
		candidates[id] = o
	}
	r.mu.RUnlock()

	var prune []string
	for id, o := range candidates {
		o.mu.Lock()
		old := now.Sub(o.touchedAt) > r.opts.ClosedOrderTTL
		if (o.closed && now.Sub(o.closedAt) > r.opts.ClosedOrderTTL) || (o.idle() && old) {
			prune = append(prune, id)
		}
		o.mu.Unlock()
	}

	r.mu.Lock()
	for _, id := range prune {
		if r.orders[id] == candidates[id] {
			delete(r.orders, id)
			res.PrunedOrders++
		}
	}
	r.mu.Unlock()
	return res
}

func (r *Router) notifyCourierStatus(courierID string, online bool, lastSeen time.Time) {
	for _, id := range r.ordersOf(courierID) {
		o := r.lookupOrder(id)
		if o == nil {
			continue
		}
		o.mu.Lock()
		if !o.closed {
			r.fanout(o, statusMessage(id, courierID, online, lastSeen))
		}
		o.mu.Unlock()
	}
}

func (r *Router) lookupOrder(orderID string) *order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orders[orderID]
}

func (r *Router) ensureOrder(orderID string) *order {
	if o := r.lookupOrder(orderID); o != nil {
		return o
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if o := r.orders[orderID]; o != nil {
		return o
	}
	o := &order{id: orderID, subscribers: make(map[string]struct{}), touchedAt: r.opts.Now()}
	r.orders[orderID] = o
	return o
}

func (r *Router) ordersOf(courierID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byCourier[courierID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// indexCourier and unindexCourier require r.mu held for writing.
func (r *Router) indexCourier(courierID, orderID string) {
	set := r.byCourier[courierID]
	if set == nil {
		set = make(map[string]struct{})
		r.byCourier[courierID] = set
	}
	set[orderID] = struct{}{}
}

func (r *Router) unindexCourier(courierID, orderID string) int {
	set := r.byCourier[courierID]
	delete(set, orderID)
	if len(set) == 0 {
		delete(r.byCourier, courierID)
		return 0
	}
	return len(set)
}
