package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"service-dispatch/internal/auth"
	"service-dispatch/internal/connmgr"
	"service-dispatch/internal/dispatch"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/location"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/matcher"
	"service-dispatch/internal/metrics"
	"service-dispatch/internal/service/delivery"
	"service-dispatch/internal/session"
	"service-dispatch/internal/transport/ws"
)

const (
	secret  = "test-secret"
	waitFor = 3 * time.Second
)

type harness struct {
	srv      *httptest.Server
	ws       *ws.Server
	router   *dispatch.Router
	store    *location.Store
	sessions *session.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := logx.Nop()
	m := metrics.NewDispatch(prometheus.NewRegistry())
	store := location.NewStore(logger, location.Options{OnUpdate: m.ObserveLocation})
	sessions := session.NewRegistry(logger)
	router := dispatch.NewRouter(sessions, store, m, logger, dispatch.Options{})
	svc := delivery.NewDeliveryService(matcher.New(store), router, nil, m, time.Second, logger)

	wsrv := ws.NewServer(router, svc, auth.NewVerifier(secret), logger, ws.Options{HelloTimeout: time.Second})
	srv := httptest.NewServer(wsrv)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = wsrv.Shutdown(ctx)
		srv.Close()
	})

	return &harness{srv: srv, ws: wsrv, router: router, store: store, sessions: sessions}
}

func (h *harness) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
}

func token(t *testing.T, subject string, role domain.Role) string {
	t.Helper()
	tok, err := auth.Issue(secret, subject, role, time.Hour)
	require.NoError(t, err)
	return tok
}

// connect dials, sends hello, and consumes the welcome frame.
func (h *harness) connect(t *testing.T, subject string, role domain.Role) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(h.url()+"?token="+token(t, subject, role), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	send(t, c, domain.Inbound{Type: domain.MsgHello, Role: role})
	welcome := read(t, c)
	require.Equal(t, domain.MsgWelcome, welcome.Type)
	require.NotEmpty(t, welcome.SessionID)
	return c
}

func send(t *testing.T, c *websocket.Conn, in domain.Inbound) {
	t.Helper()
	require.NoError(t, c.WriteJSON(in))
}

func read(t *testing.T, c *websocket.Conn) domain.Message {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	var m domain.Message
	require.NoError(t, c.ReadJSON(&m))
	return m
}

// readType skips frames until one of the given type arrives.
func readType(t *testing.T, c *websocket.Conn, typ domain.MessageType) domain.Message {
	t.Helper()
	for {
		m := read(t, c)
		if m.Type == typ {
			return m
		}
	}
}

func (h *harness) waitLive(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.store.Snapshot()) == n }, waitFor, 5*time.Millisecond)
}

func TestServer_RejectsMissingOrBadToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, resp, err := websocket.DefaultDialer.Dial(h.url(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad, err := auth.Issue("other-secret", "C1", domain.RoleCourier, time.Hour)
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(h.url()+"?token="+bad, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_HelloRoleMustMatchToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	c, _, err := websocket.DefaultDialer.Dial(h.url()+"?token="+token(t, "C1", domain.RoleCourier), nil)
	require.NoError(t, err)
	defer c.Close()

	send(t, c, domain.Inbound{Type: domain.MsgHello, Role: domain.RoleRestaurant})
	m := read(t, c)
	require.Equal(t, domain.MsgError, m.Type)
	require.Equal(t, "unauthorized", m.Code)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err = c.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	require.Zero(t, h.sessions.Count(domain.RoleCourier))
}

func TestServer_HelloTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	c, _, err := websocket.DefaultDialer.Dial(h.url()+"?token="+token(t, "U1", domain.RoleCustomer), nil)
	require.NoError(t, err)
	defer c.Close()

	m := read(t, c)
	require.Equal(t, domain.MsgError, m.Type)
}

func TestServer_DispatchNearestThenFallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	c1 := h.connect(t, "C1", domain.RoleCourier)
	c2 := h.connect(t, "C2", domain.RoleCourier)
	send(t, c1, domain.Inbound{Type: domain.MsgLocation, Lat: 6.9271, Lon: 79.8612, Timestamp: 1000})
	send(t, c2, domain.Inbound{Type: domain.MsgLocation, Lat: 6.9344, Lon: 79.8428, Timestamp: 1000})
	h.waitLive(t, 2)

	rest := h.connect(t, "R1", domain.RoleRestaurant)
	send(t, rest, domain.Inbound{Type: domain.MsgAssign, RequestID: "r1", OrderID: "A", OriginLat: 6.9280, OriginLon: 79.8600})
	res := readType(t, rest, domain.MsgAssignmentResult)
	require.Equal(t, "r1", res.RequestID)
	require.Equal(t, "C1", res.CourierID)
	require.Empty(t, res.Code)

	got := readType(t, c1, domain.MsgOrderAssignment)
	require.Equal(t, "A", got.OrderID)

	send(t, rest, domain.Inbound{Type: domain.MsgAssign, RequestID: "r2", OrderID: "A", OriginLat: 6.9280, OriginLon: 79.8600})
	dup := readType(t, rest, domain.MsgAssignmentResult)
	require.True(t, dup.Duplicate)
	require.Equal(t, "C1", dup.CourierID)

	require.NoError(t, c1.Close())
	require.Eventually(t, func() bool {
		_, ok := h.sessions.Lookup("C1")
		return !ok
	}, waitFor, 5*time.Millisecond)

	send(t, rest, domain.Inbound{Type: domain.MsgAssign, RequestID: "r3", OrderID: "B", OriginLat: 6.9280, OriginLon: 79.8600})
	res = readType(t, rest, domain.MsgAssignmentResult)
	require.Equal(t, "C2", res.CourierID)

	send(t, rest, domain.Inbound{Type: domain.MsgAssign, RequestID: "r4", OrderID: "C", OriginLat: 6.9280, OriginLon: 79.8600})
	res = readType(t, rest, domain.MsgAssignmentResult)
	require.Equal(t, "no_courier_available", res.Code)
	require.Equal(t, "r4", res.RequestID)
}

func TestServer_CustomerTracksOrderedPositions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	courier := h.connect(t, "C1", domain.RoleCourier)
	send(t, courier, domain.Inbound{Type: domain.MsgLocation, Lat: 6.9271, Lon: 79.8612, Timestamp: 50})
	h.waitLive(t, 1)

	_, _, err := h.router.Assign("A", "C1", nil)
	require.NoError(t, err)

	customer := h.connect(t, "U1", domain.RoleCustomer)
	send(t, customer, domain.Inbound{Type: domain.MsgSubscribe, OrderID: "A"})
	require.Equal(t, "C1", readType(t, customer, domain.MsgOrderAssignment).CourierID)

	for _, ts := range []int64{100, 105, 102, 110} {
		send(t, courier, domain.Inbound{Type: domain.MsgLocation, Lat: 6.9271, Lon: 79.8612, Timestamp: ts})
	}

	var seen []int64
	for len(seen) < 3 {
		m := readType(t, customer, domain.MsgLocationUpdate)
		require.Equal(t, "A", m.OrderID)
		if m.Position.Timestamp >= 100 {
			seen = append(seen, m.Position.Timestamp)
		}
	}
	require.Equal(t, []int64{100, 105, 110}, seen)
}

func TestServer_MalformedAndForbiddenFrames(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	customer := h.connect(t, "U1", domain.RoleCustomer)
	require.NoError(t, customer.WriteMessage(websocket.TextMessage, []byte("{nope")))
	m := read(t, customer)
	require.Equal(t, domain.MsgError, m.Type)
	require.Equal(t, "invalid_input", m.Code)

	send(t, customer, domain.Inbound{Type: domain.MsgLocation, RequestID: "x1", Lat: 1, Lon: 1})
	m = read(t, customer)
	require.Equal(t, domain.MsgError, m.Type)
	require.Equal(t, "x1", m.RequestID)

	courier := h.connect(t, "C1", domain.RoleCourier)
	// out-of-range positions are dropped silently
	send(t, courier, domain.Inbound{Type: domain.MsgLocation, Lat: 123, Lon: 1, Timestamp: 1})
	send(t, courier, domain.Inbound{Type: domain.MsgAvailability, RequestID: "av"})
	m = read(t, courier)
	require.Equal(t, "av", m.RequestID)
	require.Equal(t, "invalid_input", m.Code)
	_, ok := h.store.Get("C1")
	require.False(t, ok)

	// still connected
	send(t, customer, domain.Inbound{Type: domain.MsgSubscribe, OrderID: "Z"})
	send(t, customer, domain.Inbound{Type: domain.MsgUnsubscribe, OrderID: "Z"})
	require.Equal(t, 1, h.sessions.Count(domain.RoleCustomer))
}

func TestServer_CourierCompletesOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	courier := h.connect(t, "C1", domain.RoleCourier)
	send(t, courier, domain.Inbound{Type: domain.MsgLocation, Lat: 1, Lon: 1, Timestamp: 1})
	h.waitLive(t, 1)
	_, _, err := h.router.Assign("A", "C1", nil)
	require.NoError(t, err)
	readType(t, courier, domain.MsgOrderAssignment)

	send(t, courier, domain.Inbound{Type: domain.MsgComplete, RequestID: "done", OrderID: "A"})
	require.Eventually(t, func() bool { return h.router.IsClosed("A") }, waitFor, 5*time.Millisecond)

	send(t, courier, domain.Inbound{Type: domain.MsgComplete, RequestID: "again", OrderID: "B"})
	m := readType(t, courier, domain.MsgError)
	require.Equal(t, "again", m.RequestID)
	require.Equal(t, "not_found", m.Code)
}

func TestServer_SupersededCourierSessionIsClosed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	first := h.connect(t, "C1", domain.RoleCourier)
	_ = h.connect(t, "C1", domain.RoleCourier)

	m := readType(t, first, domain.MsgError)
	require.Equal(t, "session_superseded", m.Code)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err := first.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	require.Equal(t, 1, h.sessions.Count(domain.RoleCourier))
}

func TestServer_ShutdownDetachesSessions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	c := h.connect(t, "U1", domain.RoleCustomer)
	require.Equal(t, 1, h.sessions.Count(domain.RoleCustomer))

	go func() {
		// answer the close handshake
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.ws.Shutdown(ctx))
	require.Zero(t, h.sessions.Count(domain.RoleCustomer))
}

func TestConnmgrClientsOverWebsocket(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	quick := connmgr.Options{ReconnectDelay: 20 * time.Millisecond}

	var ts int64
	courier := connmgr.NewCourier(
		&ws.Dialer{URL: h.url(), Token: token(t, "C1", domain.RoleCourier)},
		connmgr.PositionSourceFunc(func(context.Context) (domain.Position, error) {
			ts += 10
			return domain.Position{Lat: 6.9271, Lon: 79.8612, Timestamp: ts}, nil
		}),
		connmgr.CourierOptions{Interval: 10 * time.Millisecond, Available: true, Reconnect: quick},
		nil,
	)
	courier.Start(context.Background())
	t.Cleanup(func() { _ = courier.Close() })
	h.waitLive(t, 1)

	dispatcher := connmgr.NewDispatcher(&ws.Dialer{URL: h.url(), Token: token(t, "R1", domain.RoleRestaurant)}, connmgr.DispatcherOptions{Reconnect: quick}, nil)
	dispatcher.Start(context.Background())
	t.Cleanup(func() { _ = dispatcher.Close() })
	require.Eventually(t, func() bool { return h.sessions.Count(domain.RoleRestaurant) == 1 }, waitFor, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	res, err := dispatcher.RequestDispatch(ctx, "A", 6.928, 79.86)
	require.NoError(t, err)
	require.Equal(t, "C1", res.CourierID)

	positions := make(chan domain.Position, 16)
	tracker := connmgr.NewTracker(&ws.Dialer{URL: h.url(), Token: token(t, "U1", domain.RoleCustomer)}, "A", connmgr.TrackerOptions{
		Reconnect: quick,
		OnLocation: func(_ string, p domain.Position) {
			select {
			case positions <- p:
			default:
			}
		},
	}, nil)
	tracker.Start(context.Background())
	t.Cleanup(func() { _ = tracker.Close() })

	select {
	case p := <-positions:
		require.Positive(t, p.Timestamp)
	case <-time.After(waitFor):
		t.Fatal("tracker got no position")
	}
}

func TestDialer_BadURL(t *testing.T) {
	t.Parallel()

	_, err := (&ws.Dialer{URL: "://bad"}).Dial(context.Background())
	require.Error(t, err)
}

func TestErrorFrameShape(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(domain.Message{Type: domain.MsgError, RequestID: "r", Code: "conflict", Error: "conflict"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"error","request_id":"r","code":"conflict","error":"conflict"}`, string(raw))
}
