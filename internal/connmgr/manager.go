// Package connmgr keeps one persistent client connection alive for a role
// (courier, restaurant dispatcher, customer tracker). It reconnects after
// unexpected drops until closed and re-registers the role on every connect.
package connmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
)

// DefaultReconnectDelay is the pause before a reconnect attempt.
const DefaultReconnectDelay = 5 * time.Second

// ErrNotConnected is returned by Send outside the Connected state.
var ErrNotConnected = errors.New("connmgr: not connected")

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("connmgr: closed")

// State is the connection lifecycle state.
type State int

// List of connection states
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is one established duplex channel carrying JSON frames.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame([]byte) error
	Close() error
}

// Dialer opens a Conn.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// Options configures a Manager.
type Options struct {
	// OnConnected runs after every successful dial. An error drops the
	// connection and schedules a reconnect.
	OnConnected func(ctx context.Context, m *Manager) error
	// OnMessage receives every decoded frame, on the read goroutine.
	OnMessage func(domain.Message)
	// OnStateChange observes transitions.
	OnStateChange func(from, to State)

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// Manager drives Disconnected -> Connecting -> Connected and back until Close.
type Manager struct {
	dialer Dialer
	opts   Options
	logger logx.Logger

	mu    sync.Mutex
	state State
	conn  Conn

	writeMu sync.Mutex

	startOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates a Manager in the Disconnected state. Call Start to connect.
func New(d Dialer, opts Options, logger logx.Logger) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = opts.ReconnectDelay
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Manager{
		dialer: d,
		opts:   opts,
		logger: logger.With(logx.String("component", "connmgr")),
		state:  StateDisconnected,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the connection loop. Canceling ctx closes the manager.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done is closed when the connection loop has exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Send encodes v as JSON and writes it on the live connection.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	state, conn := m.state, m.conn
	m.mu.Unlock()

	switch state {
	case StateClosed:
		return ErrClosed
	case StateConnected:
	default:
		return ErrNotConnected
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteFrame(raw); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close moves to the terminal Closed state and drops the connection.
// Further calls return ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	from := m.state
	m.state = StateClosed
	conn := m.conn
	m.conn = nil
	close(m.stop)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.notify(from, StateClosed)

	// Never started: nothing will close done.
	started := true
	m.startOnce.Do(func() { started = false })
	if !started {
		close(m.done)
	}
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			_ = m.Close()
		case <-m.stop:
			cancel()
		}
	}()

	failures := 0
	for {
		if !m.transition(StateConnecting) {
			return
		}

		conn, err := m.dialer.Dial(ctx)
		if err != nil {
			m.logger.Warn("dial failed", logx.Int("attempt", failures+1), logx.Err(err))
			if !m.transition(StateDisconnected) {
				return
			}
			if !m.wait(m.delay(failures)) {
				return
			}
			failures++
			continue
		}

		from, ok := m.connected(conn)
		if !ok {
			_ = conn.Close()
			return
		}

		if m.opts.OnConnected != nil {
			if err := m.opts.OnConnected(ctx, m); err != nil {
				m.logger.Warn("connect handshake failed", logx.Int("attempt", failures+1), logx.Err(err))
				if !m.rejected(conn, from) {
					return
				}
				if !m.wait(m.delay(failures)) {
					return
				}
				failures++
				continue
			}
		}
		failures = 0
		m.notify(from, StateConnected)

		m.readLoop(conn)

		if !m.disconnected(conn) {
			return
		}
		if !m.wait(m.delay(0)) {
			return
		}
	}
}

func (m *Manager) readLoop(conn Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			m.logger.Debug("connection read ended", logx.Err(err))
			return
		}
		var msg domain.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			m.logger.Warn("malformed frame", logx.Err(err))
			continue
		}
		if m.opts.OnMessage != nil {
			m.opts.OnMessage(msg)
		}
	}
}

// transition moves to the given state unless the manager is closed.
func (m *Manager) transition(to State) bool {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return false
	}
	from := m.state
	m.state = to
	m.mu.Unlock()

	if from != to {
		m.notify(from, to)
	}
	return true
}

// connected publishes conn for Send. Observers are notified by the caller
// once the handshake has been sent.
func (m *Manager) connected(conn Conn) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return m.state, false
	}
	from := m.state
	m.state = StateConnected
	m.conn = conn

	m.logger.Info("connected")
	return from, true
}

// rejected withdraws a conn whose handshake failed. Observers never saw it
// connected, so they are told about the move from the pre-connect state.
func (m *Manager) rejected(conn Conn, from State) bool {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		_ = conn.Close()
		return false
	}
	if m.conn == conn {
		m.conn = nil
	}
	m.state = StateDisconnected
	m.mu.Unlock()

	_ = conn.Close()
	if from != StateDisconnected {
		m.notify(from, StateDisconnected)
	}
	return true
}

func (m *Manager) disconnected(conn Conn) bool {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return false
	}
	if m.conn == conn {
		m.conn = nil
	}
	from := m.state
	m.state = StateDisconnected
	m.mu.Unlock()

	_ = conn.Close()
	m.logger.Warn("connection lost, reconnecting", logx.Duration("delay", m.opts.ReconnectDelay))
	m.notify(from, StateDisconnected)
	return true
}

func (m *Manager) delay(failures int) time.Duration {
	d := m.opts.ReconnectDelay
	for i := 0; i < failures && d < m.opts.MaxReconnectDelay; i++ {
		d *= 2
	}
	if d > m.opts.MaxReconnectDelay {
		d = m.opts.MaxReconnectDelay
	}
	return d
}

func (m *Manager) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-m.stop:
		return false
	}
}

func (m *Manager) notify(from, to State) {
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(from, to)
	}
}
