package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/dig"

	"service-dispatch/internal/auth"
	"service-dispatch/internal/config"
	"service-dispatch/internal/dispatch"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/http/handlers"
	mw "service-dispatch/internal/http/middleware"
	"service-dispatch/internal/http/middleware/ratelimit"
	"service-dispatch/internal/http/pprofserver"
	"service-dispatch/internal/http/router"
	"service-dispatch/internal/location"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/matcher"
	"service-dispatch/internal/metrics"
	"service-dispatch/internal/repository"
	"service-dispatch/internal/service/delivery"
	"service-dispatch/internal/service/orders"
	"service-dispatch/internal/session"
	"service-dispatch/internal/transport/ws"
)

const (
	operationTimeout = 3 * time.Second
	dbRetries        = 10
	dbRetryDelay     = time.Second
)

var journalRetry = repository.RetryConfig{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

type dbConnectFunc func(ctx context.Context, logger logx.Logger, dsn string, retries int, delay time.Duration) (*pgxpool.Pool, error)

// ContainerBuilder is a dig container builder.
type ContainerBuilder struct {
	dbConnect  dbConnectFunc
	loadConfig func() (*config.Config, error)
	logFatalf  func(string, ...interface{})
}

// NewContainerBuilder returns a new dig container builder
func NewContainerBuilder() *ContainerBuilder {
	return &ContainerBuilder{
		dbConnect:  connectDbWithRetry,
		loadConfig: config.Load,
		logFatalf:  log.Fatalf,
	}
}

// WithDBConnect sets the database connection function
func (b *ContainerBuilder) WithDBConnect(fn dbConnectFunc) *ContainerBuilder {
	if fn != nil {
		b.dbConnect = fn
	}
	return b
}

// WithConfig replaces config.Load with a fixed config.
func (b *ContainerBuilder) WithConfig(cfg *config.Config) *ContainerBuilder {
	if cfg != nil {
		b.loadConfig = func() (*config.Config, error) { return cfg, nil }
	}
	return b
}

// WithLogFatalf sets the log.Fatalf function
func (b *ContainerBuilder) WithLogFatalf(fn func(string, ...interface{})) *ContainerBuilder {
	if fn != nil {
		b.logFatalf = fn
	}
	return b
}

// MustBuild builds and returns a new dig container
func (b *ContainerBuilder) MustBuild(ctx context.Context) *dig.Container {
	container, err := b.build(ctx)
	if err != nil {
		b.logFatalf("failed to build container: %v", err)
	}
	return container
}

func (b *ContainerBuilder) build(ctx context.Context) (*dig.Container, error) {
	container := dig.New()

	if err := registerCore(container, ctx, b.loadConfig); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	if err := registerDispatch(container); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if err := registerDb(container, b.dbConnect); err != nil {
		return nil, fmt.Errorf("DB: %w", err)
	}
	if err := registerService(container); err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	if err := registerHTTP(container); err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	return container, nil
}

// MustBuildContainer builds and returns a new dig container
func MustBuildContainer(ctx context.Context) *dig.Container {
	return NewContainerBuilder().MustBuild(ctx)
}

func provideAll(container *dig.Container, providers ...any) error {
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return fmt.Errorf("provide %T: %w", provider, err)
		}
	}
	return nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func registerCore(container *dig.Container, ctx context.Context, load func() (*config.Config, error)) error {
	err := provideAll(container,
		func() context.Context { return ctx },
		load,
		newLogger,
		newRegistry,
		func(reg *prometheus.Registry) prometheus.Registerer { return reg },
		func(reg *prometheus.Registry) prometheus.Gatherer { return reg },
		metrics.NewDispatch,
		mw.NewHTTPMetrics,
	)
	if err != nil {
		return err
	}
	return container.Provide(func(reg prometheus.Registerer) (prometheus.Counter, error) {
		c := metrics.NewRateLimitExceededTotal()
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register rate_limit_exceeded_total: %w", err)
		}
		return c, nil
	}, dig.Name("rate_limit_exceeded_total"))
}

func registerDispatch(container *dig.Container) error {
	return provideAll(container,
		func(cfg *config.Config, logger logx.Logger, m *metrics.Dispatch) *location.Store {
			return location.NewStore(logger, location.Options{
				LivenessWindow: cfg.Dispatch.LivenessWindow,
				HistorySize:    cfg.Dispatch.HistorySize,
				OnUpdate:       m.ObserveLocation,
			})
		},
		session.NewRegistry,
		func(cfg *config.Config, sessions *session.Registry, store *location.Store, m *metrics.Dispatch, logger logx.Logger) *dispatch.Router {
			return dispatch.NewRouter(sessions, store, m, logger, dispatch.Options{
				QueueSize:      cfg.Dispatch.QueueSize,
				SessionTimeout: cfg.Dispatch.SessionTimeout,
				ClosedOrderTTL: cfg.Dispatch.ClosedOrderTTL,
			})
		},
		func(store *location.Store) *matcher.Matcher { return matcher.New(store) },
		newSweeper,
	)
}

// assignmentJournal is the durable side of assignments; NopJournal when off.
type assignmentJournal interface {
	Record(ctx context.Context, a domain.OrderAssignment) error
	Close(ctx context.Context, orderID string, reason domain.CloseReason, at time.Time) error
}

func registerDb(container *dig.Container, dbConnect dbConnectFunc) error {
	// pool stays nil while the journal is disabled
	providerDB := func(ctx context.Context, cfg *config.Config, logger logx.Logger) (*pgxpool.Pool, error) {
		if !cfg.Journal.Enabled {
			return nil, nil
		}
		return dbConnect(ctx, logger, cfg.DB.DSN(), dbRetries, dbRetryDelay)
	}
	providerJournal := func(ctx context.Context, pool *pgxpool.Pool, dm *metrics.Dispatch, logger logx.Logger) (assignmentJournal, error) {
		if pool == nil {
			return repository.NopJournal{}, nil
		}
		j := repository.NewAssignmentJournal(pool)
		schemaCtx, cancel := context.WithTimeout(ctx, operationTimeout)
		defer cancel()
		if err := j.EnsureSchema(schemaCtx); err != nil {
			return nil, fmt.Errorf("ensure journal schema: %w", err)
		}
		logger.Info("assignment journal enabled")
		return repository.NewRetryingJournal(j, logger, dm, journalRetry), nil
	}
	return provideAll(container, providerDB, providerJournal)
}

func registerService(container *dig.Container) error {
	return provideAll(container,
		func(
			m *matcher.Matcher,
			r *dispatch.Router,
			j assignmentJournal,
			dm *metrics.Dispatch,
			logger logx.Logger,
		) *delivery.Service {
			return delivery.NewDeliveryService(m, r, j, dm, operationTimeout, logger)
		},
		func(r *dispatch.Router, svc *delivery.Service, logger logx.Logger) *orders.Processor {
			return orders.NewProcessor(r, svc, logger)
		},
		newOrdersConsumer,
	)
}

func registerHTTP(container *dig.Container) error {
	serverProvider := func(cfg *config.Config, mux http.Handler) *http.Server {
		// no Read/WriteTimeout: websocket connections are long-lived and
		// manage their own deadlines
		return &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}
	return provideAll(container,
		func(cfg *config.Config) *auth.Verifier { return auth.NewVerifier(cfg.Auth.Secret) },
		func(cfg *config.Config, r *dispatch.Router, svc *delivery.Service, v *auth.Verifier, logger logx.Logger) *ws.Server {
			return ws.NewServer(r, svc, v, logger, ws.Options{HelloTimeout: cfg.Dispatch.HelloTimeout})
		},
		handlers.New,
		handlers.NewDeliveryUsecase,
		handlers.NewTrackingReader,
		handlers.NewDeliveryHandler,
		newRateLimiter,
		newRateLimitMiddleware,
		func(cfg *config.Config, logger logx.Logger) pprofHandler {
			return pprofHandler{pprofserver.Handler(pprofserver.Config{User: cfg.Pprof.User, Pass: cfg.Pprof.Pass}, logger)}
		},
		newRouter,
		serverProvider,
	)
}

type pprofHandler struct{ http.Handler }

type routerIn struct {
	dig.In

	Config      *config.Config
	Logger      logx.Logger
	Base        *handlers.Handlers
	Delivery    *handlers.DeliveryHandler
	WS          *ws.Server
	Verifier    *auth.Verifier
	RateLimit   *ratelimit.Middleware
	HTTPMetrics *mw.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Pprof       pprofHandler
}

func newRouter(in routerIn) http.Handler {
	return router.New(router.Deps{
		Logger:      in.Logger,
		Base:        in.Base,
		Delivery:    in.Delivery,
		WS:          in.WS,
		Verifier:    in.Verifier,
		RateLimit:   in.RateLimit.Handler(),
		HTTPMetrics: in.HTTPMetrics,
		Gatherer:    in.Gatherer,
		Pprof:       in.Pprof.Handler,
		CORSOrigins: in.Config.CORS.AllowedOrigins,
	})
}
