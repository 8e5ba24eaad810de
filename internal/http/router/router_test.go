package router_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"service-dispatch/internal/auth"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/http/handlers"
	mw "service-dispatch/internal/http/middleware"
	"service-dispatch/internal/http/middleware/ratelimit"
	"service-dispatch/internal/http/router"
	"service-dispatch/internal/service/delivery"
)

const secret = "router-secret"

type fakeDelivery struct{}

func (fakeDelivery) NearestCourier(float64, float64) (string, error) { return "C1", nil }

func (fakeDelivery) Dispatch(_ context.Context, orderID string, _, _ float64, _ domain.OrderSummary) (delivery.Result, error) {
	return delivery.Result{OrderID: orderID, CourierID: "C1"}, nil
}

func (fakeDelivery) Reassign(_ context.Context, orderID, courierID string) (delivery.Result, error) {
	return delivery.Result{OrderID: orderID, CourierID: courierID}, nil
}

func (fakeDelivery) Complete(context.Context, string) error                  { return nil }
func (fakeDelivery) CompleteByCourier(context.Context, string, string) error { return nil }
func (fakeDelivery) Cancel(context.Context, string) error                    { return nil }

type fakeTracking struct{}

func (fakeTracking) Tracking(orderID string) (domain.Tracking, error) {
	return domain.Tracking{OrderID: orderID}, nil
}

func newRouter(t *testing.T, limiter ratelimit.Limiter) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	d := router.Deps{
		Base:        handlers.New(nil),
		Delivery:    handlers.NewDeliveryHandler(nil, fakeDelivery{}, fakeTracking{}),
		Verifier:    auth.NewVerifier(secret),
		HTTPMetrics: mw.NewHTTPMetrics(reg),
		Gatherer:    reg,
		CORSOrigins: []string{"*"},
		WS: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusSwitchingProtocols)
		}),
	}
	if limiter != nil {
		d.RateLimit = ratelimit.New(nil, nil, limiter).Handler()
	}
	return router.New(d)
}

func token(t *testing.T, sub string, role domain.Role) string {
	t.Helper()
	tok, err := auth.Issue(secret, sub, role, time.Minute)
	require.NoError(t, err)
	return tok
}

func do(h http.Handler, method, path, tok, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_PublicRoutes(t *testing.T) {
	t.Parallel()

	h := newRouter(t, nil)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/ping", "", "").Code)
	assert.Equal(t, http.StatusNoContent, do(h, http.MethodHead, "/healthcheck", "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/nope", "", "").Code)
	assert.Equal(t, http.StatusSwitchingProtocols, do(h, http.MethodGet, "/ws", "", "").Code)

	rr := do(h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestRouter_APIRequiresToken(t *testing.T) {
	t.Parallel()

	h := newRouter(t, nil)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/couriers/nearest?lat=1&lon=1", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/couriers/nearest?lat=1&lon=1", "garbage", "").Code)
}

func TestRouter_RoleChecks(t *testing.T) {
	t.Parallel()

	h := newRouter(t, nil)
	restaurant := token(t, "R1", domain.RoleRestaurant)
	customer := token(t, "U1", domain.RoleCustomer)
	courier := token(t, "C1", domain.RoleCourier)
	body := `{"order_id":"o1","origin_lat":1,"origin_lon":1}`

	assert.Equal(t, http.StatusCreated, do(h, http.MethodPost, "/api/dispatch", restaurant, body).Code)
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodPost, "/api/dispatch", customer, body).Code)
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodPost, "/api/orders/o1/cancel", courier, "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/orders/o1/complete", courier, "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPut, "/api/orders/o1/assignment", restaurant, `{"courier_id":"C2"}`).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/orders/o1/tracking", customer, "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/couriers/nearest?lat=1&lon=1", customer, "").Code)
}

func TestRouter_RateLimitPerIdentity(t *testing.T) {
	t.Parallel()

	lim := ratelimit.NewTokenBucketLimiter(nil, ratelimit.Config{Rate: 0.001, Burst: 1})
	h := newRouter(t, lim)
	r1 := token(t, "R1", domain.RoleRestaurant)
	r2 := token(t, "R2", domain.RoleRestaurant)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/couriers/nearest?lat=1&lon=1", r1, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodGet, "/api/couriers/nearest?lat=1&lon=1", r1, "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/couriers/nearest?lat=1&lon=1", r2, "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/ping", "", "").Code, "public routes are not limited")
}
