package connmgr

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"service-dispatch/internal/domain"
)

const waitFor = 2 * time.Second

var errConnClosed = errors.New("fake conn closed")

// fakeConn is an in-memory Conn. Frames pushed with deliver are read by the
// manager; frames written by the manager are recorded.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []domain.Inbound
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return nil, errConnClosed
	}
}

func (c *fakeConn) WriteFrame(raw []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	var in domain.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, in)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) drop() { _ = c.Close() }

func (c *fakeConn) deliver(t *testing.T, msg domain.Message) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	c.in <- raw
}

func (c *fakeConn) Written() []domain.Inbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Inbound, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) types() []domain.MessageType {
	var out []domain.MessageType
	for _, in := range c.Written() {
		out = append(out, in.Type)
	}
	return out
}

// fakeDialer hands out queued results in order, then blocks until ctx ends.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) push(conn *fakeConn, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, dialResult{conn: conn, err: err})
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	for {
		d.mu.Lock()
		if len(d.results) > 0 {
			r := d.results[0]
			d.results = d.results[1:]
			d.dials++
			d.mu.Unlock()
			if r.err != nil {
				return nil, r.err
			}
			return r.conn, nil
		}
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type stateLog struct {
	mu  sync.Mutex
	seq []State
}

func (l *stateLog) record(_, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq = append(l.seq, to)
}

func (l *stateLog) States() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.seq))
	copy(out, l.seq)
	return out
}

func fastReconnect() Options {
	return Options{ReconnectDelay: 5 * time.Millisecond, MaxReconnectDelay: 5 * time.Millisecond}
}
