// Package ws carries the dispatch protocol over websockets: the server
// endpoint for couriers, restaurants and customers, and the client dialer
// used by the connection manager.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/auth"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/outbox"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	// DefaultHelloTimeout bounds the wait for the first frame.
	DefaultHelloTimeout = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	HelloTimeout time.Duration
	CheckOrigin  func(r *http.Request) bool
	Now          func() time.Time
}

// Server upgrades authenticated requests and runs one session per connection.
type Server struct {
	router   sessionRouter
	delivery dispatchService
	verifier tokenVerifier
	logger   logx.Logger
	opts     Options
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates the websocket endpoint.
func NewServer(r sessionRouter, d dispatchService, v tokenVerifier, logger logx.Logger, opts Options) *Server {
	if logger == nil {
		logger = logx.Nop()
	}
	if opts.HelloTimeout <= 0 {
		opts.HelloTimeout = DefaultHelloTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		router:   r,
		delivery: d,
		verifier: v,
		logger:   logger.With(logx.String("component", "ws_server")),
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP authenticates the request token, upgrades and serves the session
// until the connection ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := s.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		s.logger.Warn("ws auth rejected", logx.String("remote", r.RemoteAddr), logx.Err(err))
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", logx.Err(err))
		return
	}
	if !s.track(conn) {
		closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(conn)

	s.serve(conn, id)
}

// Shutdown closes every live connection and waits for their sessions to
// detach, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		closeWith(c, websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range conns {
			_ = c.Close()
		}
		return ctx.Err()
	}
}

func (s *Server) track(c *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) serve(conn *websocket.Conn, id auth.Identity) {
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	if err := s.hello(conn, id); err != nil {
		s.logger.Warn("ws hello rejected", logx.String("identity", id.Subject), logx.Err(err))
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(errorMessage("", err))
		closeWith(conn, websocket.ClosePolicyViolation, "hello required")
		return
	}

	now := s.opts.Now()
	sess := domain.Session{
		ID:          uuid.NewString(),
		Role:        id.Role,
		Identity:    id.Subject,
		ConnectedAt: now,
		LastSeenAt:  now,
	}

	q, err := s.router.Attach(sess)
	if err != nil {
		s.logger.Warn("ws attach failed", logx.String("identity", id.Subject), logx.Err(err))
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(errorMessage("", err))
		closeWith(conn, websocket.CloseInternalServerErr, "attach failed")
		return
	}

	// Written before the write pump starts so welcome is the first frame.
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(domain.Message{Type: domain.MsgWelcome, SessionID: sess.ID}); err != nil {
		s.router.Detach(sess.ID)
		return
	}

	logger := s.logger.With(
		logx.String("session_id", sess.ID),
		logx.String("role", string(sess.Role)),
		logx.String("identity", sess.Identity),
	)
	c := &client{
		srv:     s,
		conn:    conn,
		session: sess,
		queue:   q,
		logger:  logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx)
	}()

	c.readPump(ctx)

	s.router.Detach(sess.ID)
	cancel()
	<-writerDone
}

func (s *Server) hello(conn *websocket.Conn, id auth.Identity) error {
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.HelloTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	var in domain.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decode hello: %v: %w", err, apperr.ErrInvalid)
	}
	if in.Type != domain.MsgHello {
		return fmt.Errorf("first frame %q is not hello: %w", in.Type, apperr.ErrInvalid)
	}
	if in.Role != id.Role {
		return fmt.Errorf("hello role %q does not match token role %q: %w", in.Role, id.Role, apperr.ErrUnauthorized)
	}
	return nil
}

type client struct {
	srv     *Server
	conn    *websocket.Conn
	session domain.Session
	queue   *outbox.Queue
	logger  logx.Logger
}

func (c *client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.srv.router.Touch(c.session.ID)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("ws read ended", logx.Err(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.srv.router.Touch(c.session.ID)

		var in domain.Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			c.reply(errorMessage("", fmt.Errorf("malformed frame: %v: %w", err, apperr.ErrInvalid)))
			continue
		}
		if err := c.handle(ctx, in); err != nil {
			c.reply(errorMessage(in.RequestID, err))
		}
	}
}

func (c *client) handle(ctx context.Context, in domain.Inbound) error {
	role := c.session.Role
	switch {
	case in.Type == domain.MsgLocation && role == domain.RoleCourier:
		return c.location(in)

	case in.Type == domain.MsgAvailability && role == domain.RoleCourier:
		if in.Available == nil {
			return fmt.Errorf("availability without value: %w", apperr.ErrInvalid)
		}
		return c.srv.router.SetAvailability(c.session.Identity, *in.Available)

	case in.Type == domain.MsgComplete && role == domain.RoleCourier:
		return c.srv.delivery.CompleteByCourier(ctx, in.OrderID, c.session.Identity)

	case in.Type == domain.MsgSubscribe && role != domain.RoleCourier:
		return c.srv.router.Subscribe(c.session.ID, in.OrderID)

	case in.Type == domain.MsgUnsubscribe && role != domain.RoleCourier:
		c.srv.router.Unsubscribe(c.session.ID, in.OrderID)
		return nil

	case in.Type == domain.MsgAssign && role == domain.RoleRestaurant:
		res, err := c.srv.delivery.Dispatch(ctx, in.OrderID, in.OriginLat, in.OriginLon, in.Summary)
		reply := domain.Message{Type: domain.MsgAssignmentResult, RequestID: in.RequestID, OrderID: in.OrderID}
		if err != nil {
			reply.Code = apperr.Code(err)
			reply.Error = err.Error()
		} else {
			reply.CourierID = res.CourierID
			reply.Duplicate = res.Duplicate
		}
		c.reply(reply)
		return nil

	default:
		return fmt.Errorf("message %q not allowed for role %q: %w", in.Type, role, apperr.ErrInvalid)
	}
}

func (c *client) location(in domain.Inbound) error {
	recordedAt := c.srv.opts.Now()
	if in.Timestamp > 0 {
		recordedAt = time.UnixMilli(in.Timestamp)
	}
	// Invalid and out-of-order positions, and frames read after the session
	// was detached, are dropped without telling the courier.
	err := c.srv.router.PublishLocation(c.session.ID, in.Lat, in.Lon, recordedAt)
	if errors.Is(err, apperr.ErrStale) || errors.Is(err, apperr.ErrInvalid) || errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

func (c *client) reply(m domain.Message) {
	if !c.queue.Push(m) {
		c.logger.Warn("reply dropped", logx.String("type", string(m.Type)))
	}
}

func (c *client) writePump(ctx context.Context) {
	nextPing := time.Now().Add(pingPeriod)
	for {
		waitCtx, cancel := context.WithDeadline(ctx, nextPing)
		msg, err := c.queue.Next(waitCtx)
		cancel()

		switch {
		case err == nil:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("ws write failed", logx.Err(err))
				_ = c.conn.Close()
				return
			}
		case errors.Is(err, outbox.ErrClosed):
			closeWith(c.conn, websocket.CloseNormalClosure, "session closed")
			_ = c.conn.Close()
			return
		case ctx.Err() != nil:
			return
		case errors.Is(err, context.DeadlineExceeded):
			nextPing = time.Now().Add(pingPeriod)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.conn.Close()
				return
			}
		default:
			return
		}
	}
}

func errorMessage(requestID string, err error) domain.Message {
	return domain.Message{
		Type:      domain.MsgError,
		RequestID: requestID,
		Code:      apperr.Code(err),
		Error:     err.Error(),
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
