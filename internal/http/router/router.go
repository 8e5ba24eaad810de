package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/http/handlers"
	mw "service-dispatch/internal/http/middleware"
	"service-dispatch/internal/logx"
)

const requestTimeout = 5 * time.Second

// Deps are the handlers and middleware the router mounts. Nil optional
// fields leave the matching route or middleware out.
type Deps struct {
	Logger      logx.Logger
	Base        *handlers.Handlers
	Delivery    *handlers.DeliveryHandler
	WS          http.Handler
	Verifier    mw.TokenVerifier
	RateLimit   func(http.Handler) http.Handler
	HTTPMetrics *mw.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Pprof       http.Handler
	CORSOrigins []string
}

// New constructs a chi-based http.Handler with base middleware and routes.
func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = logx.Nop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(mw.Observability(d.Logger, d.HTTPMetrics))

	// websocket connections outlive any request timeout
	if d.WS != nil {
		r.Get("/ws", d.WS.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/ping", d.Base.Ping)
		r.Method(http.MethodHead, "/healthcheck", http.HandlerFunc(d.Base.HealthcheckHead))
		if d.Gatherer != nil {
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
		}
		if d.Pprof != nil {
			r.Mount("/debug", d.Pprof)
		}
		if d.Delivery != nil && d.Verifier != nil {
			r.Route("/api", func(r chi.Router) {
				apiRoutes(r, d)
			})
		}
	})

	r.NotFound(http.HandlerFunc(d.Base.NotFound))
	return r
}

func apiRoutes(r chi.Router, d Deps) {
	r.Use(mw.Authenticate(d.Verifier, d.Logger))
	if d.RateLimit != nil {
		r.Use(d.RateLimit)
	}

	h := d.Delivery
	r.Get("/couriers/nearest", h.Nearest)
	r.Get("/orders/{orderID}/tracking", h.Tracking)

	r.With(mw.RequireRole(domain.RoleRestaurant)).Post("/dispatch", h.Dispatch)
	r.With(mw.RequireRole(domain.RoleRestaurant)).Put("/orders/{orderID}/assignment", h.Reassign)
	r.With(mw.RequireRole(domain.RoleRestaurant, domain.RoleCourier)).Post("/orders/{orderID}/complete", h.Complete)
	r.With(mw.RequireRole(domain.RoleRestaurant)).Post("/orders/{orderID}/cancel", h.Cancel)
}
