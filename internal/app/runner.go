package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/dig"

	"service-dispatch/internal/logx"
	"service-dispatch/internal/transport/kafka"
	"service-dispatch/internal/transport/ws"
)

const shutdownTimeout = 15 * time.Second

// Runner runs the dispatch service until its context ends.
type Runner struct {
	runFn func(*dig.Container) error
}

// NewRunner returns a Runner for the service container.
func NewRunner() *Runner {
	return &Runner{runFn: run}
}

// MustRun starts the service using the provided DI container
func (r *Runner) MustRun(container *dig.Container) {
	err := r.runFn(container)
	if err == nil {
		return
	}
	logger := logx.Nop()
	_ = container.Invoke(func(l logx.Logger) { logger = l })

	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("shutdown requested, exiting")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("startup aborted: startup timeout exceeded")
	default:
		logger.Error("run error", logx.Err(err))
		panic(err)
	}
}

type appIn struct {
	dig.In

	Ctx      context.Context
	Logger   logx.Logger
	Server   *http.Server
	WS       *ws.Server
	Sweeper  *Sweeper
	Consumer *kafka.Consumer
	Pool     *pgxpool.Pool
}

func run(container *dig.Container) error {
	return container.Invoke(appRun)
}

func appRun(in appIn) error {
	ctx, stop := context.WithCancel(in.Ctx)
	defer stop()
	logger := in.Logger

	serveErr := make(chan error, 1)
	startServer(in.Server, logger, serveErr)
	in.Sweeper.Start()

	var wg sync.WaitGroup
	if in.Consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := in.Consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka consumer stopped", logx.Err(err))
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		logger.Info("shutting down service-dispatch...")
		err = ctx.Err()
	case err = <-serveErr:
		logger.Error("listen error", logx.Err(err))
	}
	stop()

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	gracefulShutdown(shCtx, in.Server, in.WS, logger)
	in.Sweeper.Stop(shCtx)
	closeResources(in.Consumer, in.Pool, logger)
	wg.Wait()
	return err
}

func startServer(server *http.Server, logger logx.Logger, errc chan<- error) {
	go func() {
		logger.Info("service-dispatch listening", logx.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
}

// gracefulShutdown closes websocket sessions first; http.Server.Shutdown does
// not wait for hijacked connections.
func gracefulShutdown(ctx context.Context, srv *http.Server, wsSrv *ws.Server, logger logx.Logger) {
	if wsSrv != nil {
		if err := wsSrv.Shutdown(ctx); err != nil {
			logger.Warn("websocket shutdown error", logx.Err(err))
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown error", logx.Err(err))
		if err := srv.Close(); err != nil {
			logger.Warn("server close error", logx.Err(err))
		}
	}
}

func closeResources(consumer *kafka.Consumer, pool *pgxpool.Pool, logger logx.Logger) {
	if err := consumer.Close(); err != nil {
		logger.Error("kafka close error", logx.Err(err))
	}
	if pool != nil {
		pool.Close()
	}
	_ = logger.Sync()
}
