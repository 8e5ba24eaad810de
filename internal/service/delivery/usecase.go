package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/geo"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/metrics"
)

// Dispatch request outcomes recorded in metrics.
const (
	OutcomeAssigned    = "assigned"
	OutcomeDuplicate   = "duplicate"
	OutcomeNoCourier   = "no_courier"
	OutcomeUnreachable = "unreachable"
	OutcomeClosed      = "closed"
	OutcomeError       = "error"
)

// matchAttempts bounds re-matching when the picked courier was taken by a
// concurrent dispatch between the snapshot and the reservation.
const matchAttempts = 3

// Result is the outcome of a successful dispatch or reassignment.
type Result struct {
	OrderID    string
	CourierID  string
	AssignedAt time.Time
	Duplicate  bool
}

func resultOf(a domain.OrderAssignment, dup bool) Result {
	return Result{OrderID: a.OrderID, CourierID: a.CourierID, AssignedAt: a.AssignedAt, Duplicate: dup}
}

// Service - assigns orders to the nearest courier and keeps the journal in sync.
type Service struct {
	finder           courierFinder
	router           assignmentRouter
	journal          assignmentJournal
	metrics          *metrics.Dispatch
	operationTimeout time.Duration
	logger           logx.Logger
	now              func() time.Time
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.operationTimeout)
}

// NewDeliveryService - creates a new delivery Service. journal and m may be nil.
func NewDeliveryService(
	f courierFinder,
	r assignmentRouter,
	j assignmentJournal,
	m *metrics.Dispatch,
	timeout time.Duration,
	logger logx.Logger,
) *Service {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Service{
		finder:           f,
		router:           r,
		journal:          j,
		metrics:          m,
		operationTimeout: timeout,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// NearestCourier returns the closest live available courier to the origin.
func (s *Service) NearestCourier(originLat, originLon float64) (string, error) {
	if !geo.ValidCoordinates(originLat, originLon) {
		return "", fmt.Errorf("origin (%v, %v): %w", originLat, originLon, apperr.ErrInvalid)
	}
	id, ok := s.finder.FindNearest(originLat, originLon)
	if !ok {
		return "", apperr.ErrNoCourierAvailable
	}
	return id, nil
}

// Dispatch assigns the order to the nearest courier. An order that already has
// a courier, including one bound by a concurrent Dispatch, is not re-matched:
// the existing assignment is returned with Duplicate set.
func (s *Service) Dispatch(ctx context.Context, orderID string, originLat, originLon float64, summary domain.OrderSummary) (Result, error) {
	orderID, err := validateOrderID(orderID)
	if err != nil {
		return Result{}, err
	}
	if !geo.ValidCoordinates(originLat, originLon) {
		return Result{}, fmt.Errorf("origin (%v, %v): %w", originLat, originLon, apperr.ErrInvalid)
	}

	res, err := s.dispatch(ctx, orderID, originLat, originLon, summary)
	s.metrics.ObserveRequest(outcome(res, err))
	if err != nil {
		s.logger.Warn("dispatch failed",
			logx.String("order_id", orderID),
			logx.Float64("origin_lat", originLat),
			logx.Float64("origin_lon", originLon),
			logx.Err(err),
		)
		return Result{}, err
	}
	return res, nil
}

func (s *Service) dispatch(ctx context.Context, orderID string, lat, lon float64, summary domain.OrderSummary) (Result, error) {
	if s.router.IsClosed(orderID) {
		return Result{}, fmt.Errorf("order %s: %w", orderID, apperr.ErrOrderClosed)
	}
	if a, ok := s.router.Assignment(orderID); ok {
		return resultOf(a, true), nil
	}

	var lastErr error
	for attempt := 1; attempt <= matchAttempts; attempt++ {
		courierID, err := s.NearestCourier(lat, lon)
		if err != nil {
			return Result{}, err
		}
		a, dup, err := s.router.AssignNew(orderID, courierID, summary)
		if errors.Is(err, apperr.ErrConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return Result{}, err
		}
		if !dup {
			s.record(ctx, a)
			s.logger.Info("courier dispatched",
				logx.String("event", "courier_assigned"),
				logx.String("order_id", a.OrderID),
				logx.String("courier_id", a.CourierID),
				logx.Int("attempt", attempt),
			)
		}
		return resultOf(a, dup), nil
	}
	return Result{}, fmt.Errorf("no courier after %d attempts: %v: %w", matchAttempts, lastErr, apperr.ErrNoCourierAvailable)
}

// Reassign binds the order to a specific courier chosen by an operator.
func (s *Service) Reassign(ctx context.Context, orderID, courierID string) (Result, error) {
	orderID, err := validateOrderID(orderID)
	if err != nil {
		return Result{}, err
	}
	courierID = strings.TrimSpace(courierID)
	if courierID == "" {
		return Result{}, fmt.Errorf("empty courier id: %w", apperr.ErrInvalid)
	}

	a, dup, err := s.router.Assign(orderID, courierID, nil)
	res := resultOf(a, dup)
	s.metrics.ObserveRequest(outcome(res, err))
	if err != nil {
		return Result{}, err
	}
	if !dup {
		s.record(ctx, a)
	}
	return res, nil
}

// Complete closes a delivered order.
func (s *Service) Complete(ctx context.Context, orderID string) error {
	return s.close(ctx, orderID, domain.CloseCompleted)
}

// CompleteByCourier closes an order on behalf of the courier holding it.
func (s *Service) CompleteByCourier(ctx context.Context, orderID, courierID string) error {
	orderID, err := validateOrderID(orderID)
	if err != nil {
		return err
	}
	a, ok := s.router.Assignment(orderID)
	if !ok {
		return fmt.Errorf("order %s has no courier: %w", orderID, apperr.ErrNotFound)
	}
	if a.CourierID != courierID {
		return fmt.Errorf("order %s belongs to another courier: %w", orderID, apperr.ErrConflict)
	}
	return s.close(ctx, orderID, domain.CloseCompleted)
}

// Cancel closes an order that will not be delivered.
func (s *Service) Cancel(ctx context.Context, orderID string) error {
	return s.close(ctx, orderID, domain.CloseCanceled)
}

func (s *Service) close(ctx context.Context, orderID string, reason domain.CloseReason) error {
	orderID, err := validateOrderID(orderID)
	if err != nil {
		return err
	}
	a, err := s.router.CloseOrder(orderID, reason)
	if err != nil {
		return err
	}
	if a == nil || s.journal == nil {
		return nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.journal.Close(ctx, orderID, reason, s.now()); err != nil {
		s.journalFailed(orderID, err)
	}
	return nil
}

// record writes a fresh assignment to the journal. Failures never undo the
// in-memory assignment.
func (s *Service) record(ctx context.Context, a domain.OrderAssignment) {
	if s.journal == nil {
		return
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.journal.Record(ctx, a); err != nil {
		s.journalFailed(a.OrderID, err)
	}
}

func (s *Service) journalFailed(orderID string, err error) {
	s.metrics.ObserveJournalError()
	s.logger.Error("assignment journal write failed",
		logx.String("order_id", orderID),
		logx.Err(err),
	)
}

func outcome(res Result, err error) string {
	switch {
	case err == nil && res.Duplicate:
		return OutcomeDuplicate
	case err == nil:
		return OutcomeAssigned
	case errors.Is(err, apperr.ErrNoCourierAvailable):
		return OutcomeNoCourier
	case errors.Is(err, apperr.ErrCourierUnreachable):
		return OutcomeUnreachable
	case errors.Is(err, apperr.ErrOrderClosed):
		return OutcomeClosed
	default:
		return OutcomeError
	}
}

func validateOrderID(raw string) (string, error) {
	orderID := strings.TrimSpace(raw)
	if orderID == "" {
		return "", fmt.Errorf("empty order id: %w", apperr.ErrInvalid)
	}
	return orderID, nil
}
