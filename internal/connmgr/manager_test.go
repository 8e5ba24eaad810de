package connmgr

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"service-dispatch/internal/domain"
	testlog "service-dispatch/internal/testutil"
)

func TestState_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "disconnected", StateDisconnected.String())
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "state(9)", State(9).String())
}

func TestManager_DefaultsAndDelay(t *testing.T) {
	t.Parallel()

	m := New(&fakeDialer{}, Options{}, nil)
	require.Equal(t, DefaultReconnectDelay, m.delay(0))
	require.Equal(t, DefaultReconnectDelay, m.delay(5), "fixed delay by default")

	m = New(&fakeDialer{}, Options{ReconnectDelay: time.Second, MaxReconnectDelay: 5 * time.Second}, nil)
	require.Equal(t, time.Second, m.delay(0))
	require.Equal(t, 2*time.Second, m.delay(1))
	require.Equal(t, 4*time.Second, m.delay(2))
	require.Equal(t, 5*time.Second, m.delay(3))
	require.Equal(t, 5*time.Second, m.delay(30))
}

func TestManager_SendOutsideConnected(t *testing.T) {
	t.Parallel()

	m := New(&fakeDialer{}, Options{}, nil)
	require.Equal(t, StateDisconnected, m.State())
	require.ErrorIs(t, m.Send(domain.Inbound{Type: domain.MsgHello}), ErrNotConnected)

	require.NoError(t, m.Close())
	require.ErrorIs(t, m.Send(domain.Inbound{Type: domain.MsgHello}), ErrClosed)
	require.ErrorIs(t, m.Close(), ErrClosed)

	select {
	case <-m.Done():
	case <-time.After(waitFor):
		t.Fatal("Done not closed for a never-started manager")
	}
}

func TestManager_ReconnectsAfterUnexpectedClose(t *testing.T) {
	t.Parallel()

	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{}
	d.push(first, nil)
	d.push(second, nil)

	var registrations atomic.Int32
	var states stateLog
	opts := fastReconnect()
	opts.OnStateChange = states.record
	opts.OnConnected = func(_ context.Context, m *Manager) error {
		registrations.Add(1)
		return m.Send(domain.Inbound{Type: domain.MsgHello, Role: domain.RoleCustomer})
	}

	m := New(d, opts, testlog.New().Logger())
	m.Start(context.Background())
	t.Cleanup(func() { _ = m.Close() })

	require.Eventually(t, func() bool { return len(first.Written()) == 1 }, waitFor, time.Millisecond)
	require.Equal(t, StateConnected, m.State())

	first.drop()

	require.Eventually(t, func() bool { return len(second.Written()) == 1 }, waitFor, time.Millisecond)
	require.Equal(t, int32(2), registrations.Load())
	require.Equal(t, domain.MsgHello, second.Written()[0].Type)
	want := []State{
		StateConnecting, StateConnected,
		StateDisconnected,
		StateConnecting, StateConnected,
	}
	require.Eventually(t, func() bool { return len(states.States()) == len(want) }, waitFor, time.Millisecond)
	require.Equal(t, want, states.States())
}

func TestManager_NotifiesConnectedAfterHandshake(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(conn, nil)

	sentBefore := make(chan int, 1)
	opts := fastReconnect()
	opts.OnConnected = func(_ context.Context, m *Manager) error {
		return m.Send(domain.Inbound{Type: domain.MsgHello, Role: domain.RoleRestaurant})
	}
	opts.OnStateChange = func(_, to State) {
		if to == StateConnected {
			sentBefore <- len(conn.Written())
		}
	}

	m := New(d, opts, testlog.New().Logger())
	m.Start(context.Background())
	t.Cleanup(func() { _ = m.Close() })

	select {
	case n := <-sentBefore:
		require.Equal(t, 1, n)
	case <-time.After(waitFor):
		t.Fatal("no connected notification")
	}
}

func TestManager_RetriesFailedDials(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(nil, errors.New("no signal"))
	d.push(nil, errors.New("no signal"))
	d.push(conn, nil)

	m := New(d, fastReconnect(), nil)
	m.Start(context.Background())
	t.Cleanup(func() { _ = m.Close() })

	require.Eventually(t, func() bool { return m.State() == StateConnected }, waitFor, time.Millisecond)
	require.Equal(t, 3, d.Dials())
}

func TestManager_CloseIsTerminal(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(conn, nil)
	d.push(newFakeConn(), nil)

	var states stateLog
	opts := fastReconnect()
	opts.OnStateChange = states.record
	m := New(d, opts, nil)
	m.Start(context.Background())

	require.Eventually(t, func() bool { return m.State() == StateConnected }, waitFor, time.Millisecond)
	require.NoError(t, m.Close())

	select {
	case <-m.Done():
	case <-time.After(waitFor):
		t.Fatal("connection loop did not exit")
	}
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, StateClosed, m.State())
	require.Equal(t, 1, d.Dials(), "no reconnect after close")
	require.Equal(t, StateClosed, states.States()[len(states.States())-1])
}

func TestManager_CloseWhileDisconnectedCancelsTimer(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	d.push(nil, errors.New("down"))

	m := New(d, Options{ReconnectDelay: time.Hour}, nil)
	m.Start(context.Background())
	require.Eventually(t, func() bool { return m.State() == StateDisconnected && d.Dials() == 1 }, waitFor, time.Millisecond)

	require.NoError(t, m.Close())
	select {
	case <-m.Done():
	case <-time.After(waitFor):
		t.Fatal("reconnect timer not canceled")
	}
}

func TestManager_ContextCancelCloses(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	ctx, cancel := context.WithCancel(context.Background())
	m := New(d, fastReconnect(), nil)
	m.Start(ctx)

	require.Eventually(t, func() bool { return m.State() == StateConnecting }, waitFor, time.Millisecond)
	cancel()

	select {
	case <-m.Done():
	case <-time.After(waitFor):
		t.Fatal("loop did not exit on cancel")
	}
	require.Equal(t, StateClosed, m.State())
}

func TestManager_DeliversMessagesAndSkipsMalformed(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(conn, nil)

	got := make(chan domain.Message, 4)
	opts := fastReconnect()
	opts.OnMessage = func(msg domain.Message) { got <- msg }

	rec := testlog.New()
	m := New(d, opts, rec.Logger())
	m.Start(context.Background())
	t.Cleanup(func() { _ = m.Close() })

	require.Eventually(t, func() bool { return m.State() == StateConnected }, waitFor, time.Millisecond)
	conn.in <- []byte("{garbage")
	conn.deliver(t, domain.Message{Type: domain.MsgWelcome, SessionID: "s1"})

	select {
	case msg := <-got:
		require.Equal(t, domain.MsgWelcome, msg.Type)
		require.Equal(t, "s1", msg.SessionID)
	case <-time.After(waitFor):
		t.Fatal("message not delivered")
	}
	require.True(t, rec.Has("malformed frame"))
	require.Equal(t, StateConnected, m.State(), "malformed frame keeps the connection")
}

func TestManager_HandshakeFailureReconnects(t *testing.T) {
	t.Parallel()

	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{}
	d.push(first, nil)
	d.push(second, nil)

	var calls atomic.Int32
	opts := fastReconnect()
	opts.OnConnected = func(context.Context, *Manager) error {
		if calls.Add(1) == 1 {
			return errors.New("rejected")
		}
		return nil
	}
	m := New(d, opts, nil)
	m.Start(context.Background())
	t.Cleanup(func() { _ = m.Close() })

	require.Eventually(t, func() bool { return calls.Load() == 2 && m.State() == StateConnected }, waitFor, time.Millisecond)
	require.Equal(t, 2, d.Dials())
}

func TestManager_FailedHandshakeIsNotAnnounced(t *testing.T) {
	t.Parallel()

	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{}
	d.push(first, nil)
	d.push(second, nil)

	var calls atomic.Int32
	var states stateLog
	opts := fastReconnect()
	opts.OnStateChange = states.record
	opts.OnConnected = func(context.Context, *Manager) error {
		if calls.Add(1) == 1 {
			return errors.New("rejected")
		}
		return nil
	}
	m := New(d, opts, testlog.New().Logger())
	m.Start(context.Background())
	t.Cleanup(func() { _ = m.Close() })

	want := []State{
		StateConnecting, StateDisconnected,
		StateConnecting, StateConnected,
	}
	require.Eventually(t, func() bool { return len(states.States()) == len(want) }, waitFor, time.Millisecond)
	require.Equal(t, want, states.States())

	select {
	case <-first.closed:
	default:
		t.Fatal("rejected connection left open")
	}
}
