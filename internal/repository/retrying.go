package repository

import (
	"context"
	"time"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
)

type journal interface {
	Record(ctx context.Context, a domain.OrderAssignment) error
	Close(ctx context.Context, orderID string, reason domain.CloseReason, at time.Time) error
}

type retryObserver interface {
	ObserveJournalRetry()
}

// RetryConfig bounds the attempts of a RetryingJournal.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryingJournal repeats journal writes that failed on a transient
// connection or transaction error.
type RetryingJournal struct {
	next    journal
	logger  logx.Logger
	retries retryObserver
	cfg     RetryConfig
}

// NewRetryingJournal wraps next. It returns nil when next is nil.
func NewRetryingJournal(next journal, logger logx.Logger, retries retryObserver, cfg RetryConfig) *RetryingJournal {
	if next == nil {
		return nil
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &RetryingJournal{next: next, logger: logger, retries: retries, cfg: cfg}
}

// Record implements the journal with retries.
func (j *RetryingJournal) Record(ctx context.Context, a domain.OrderAssignment) error {
	return j.do(ctx, "Record", a.OrderID, func() error { return j.next.Record(ctx, a) })
}

// Close implements the journal with retries.
func (j *RetryingJournal) Close(ctx context.Context, orderID string, reason domain.CloseReason, at time.Time) error {
	return j.do(ctx, "Close", orderID, func() error { return j.next.Close(ctx, orderID, reason, at) })
}

func (j *RetryingJournal) do(ctx context.Context, method, orderID string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= j.cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == j.cfg.MaxAttempts || !IsRetryable(err) {
			break
		}

		delay := backoff(j.cfg.BaseDelay, j.cfg.MaxDelay, attempt)
		if j.retries != nil {
			j.retries.ObserveJournalRetry()
		}
		j.logger.Warn("assignment journal retry",
			logx.String("method", method),
			logx.String("order_id", orderID),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		if !sleepWithContext(ctx, delay) {
			break
		}
	}
	return lastErr
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d > max {
		return max
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
