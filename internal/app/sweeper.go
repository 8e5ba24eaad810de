package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"service-dispatch/internal/config"
	"service-dispatch/internal/dispatch"
	"service-dispatch/internal/logx"
)

type sweepTarget interface {
	Sweep(now time.Time) dispatch.SweepResult
}

// Sweeper periodically expires silent sessions and prunes closed orders.
type Sweeper struct {
	cron   *cron.Cron
	target sweepTarget
	logger logx.Logger
	now    func() time.Time
}

func newSweeper(cfg *config.Config, r *dispatch.Router, logger logx.Logger) (*Sweeper, error) {
	return buildSweeper(cfg.Dispatch.SweepSchedule, r, logger)
}

func buildSweeper(schedule string, target sweepTarget, logger logx.Logger) (*Sweeper, error) {
	logger = logger.With(logx.String("component", "sweeper"))
	cl := cronLogger{logger}
	s := &Sweeper{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		target: target,
		logger: logger,
		now:    time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) sweep() {
	res := s.target.Sweep(s.now())
	if res.ExpiredSessions == 0 && res.PrunedOrders == 0 {
		return
	}
	s.logger.Info("sweep done",
		logx.Int("expired_sessions", res.ExpiredSessions),
		logx.Int("pruned_orders", res.PrunedOrders),
	)
}

// Start runs the schedule in the background.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep, at most until ctx ends.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("sweeper stop timed out")
	}
}

type cronLogger struct{ l logx.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(key, kv[i+1]))
	}
	return out
}
