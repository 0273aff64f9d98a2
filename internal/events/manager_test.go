package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeConn feeds scripted frames to the receive loop. A nil entry yields a
// read error, simulating a dropped connection.
type fakeConn struct {
	frames chan []byte
	closed chan struct{}
}

func newFakeConn(frames ...[]byte) *fakeConn {
	ch := make(chan []byte, len(frames))
	for _, f := range frames {
		ch <- f
	}
	return &fakeConn{frames: ch, closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		if f == nil {
			return 0, nil, errors.New("connection reset")
		}
		return 1, f, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func testOptions() Options {
	return Options{
		InitialDelay: time.Millisecond,
		MaxDelay:     8 * time.Millisecond,
		MaxAttempts:  3,
	}
}

func newTestManager(dial Dialer, opts Options) *Manager {
	m := NewManager(zap.NewNop(), "kodi.test", 9090, nil, opts)
	m.dial = dial
	return m
}

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := retryDelay(tc.attempt, time.Second, 30*time.Second); got != tc.want {
			t.Fatalf("attempt %d: got %v want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestNotificationsArriveInOrder(t *testing.T) {
	conn := newFakeConn(
		[]byte(`{"jsonrpc":"2.0","method":"Player.OnPlay","params":{}}`),
		[]byte(`{"jsonrpc":"2.0","method":"Player.OnSeek","params":{}}`),
		[]byte(`{"jsonrpc":"2.0","method":"Player.OnStop","params":{}}`),
	)
	m := newTestManager(func(ctx context.Context, url string) (Conn, error) {
		return conn, nil
	}, testOptions())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	want := []string{"Player.OnPlay", "Player.OnSeek", "Player.OnStop"}
	for _, method := range want {
		select {
		case n := <-m.Notifications():
			if n.Method != method {
				t.Fatalf("expected %s, got %s", method, n.Method)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", method)
		}
	}
}

func TestResponseFramesAndGarbageIgnored(t *testing.T) {
	conn := newFakeConn(
		[]byte(`{"jsonrpc":"2.0","id":7,"result":"pong"}`),
		[]byte(`not json at all`),
		[]byte(`{"jsonrpc":"2.0","method":"Player.OnPause","params":{}}`),
	)
	m := newTestManager(func(ctx context.Context, url string) (Conn, error) {
		return conn, nil
	}, testOptions())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	select {
	case n := <-m.Notifications():
		if n.Method != "Player.OnPause" {
			t.Fatalf("expected Player.OnPause, got %s", n.Method)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for notification")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	dials := make(chan struct{}, 4)
	first := newFakeConn(
		[]byte(`{"jsonrpc":"2.0","method":"Player.OnPlay","params":{}}`),
		nil,
	)
	second := newFakeConn(
		[]byte(`{"jsonrpc":"2.0","method":"Player.OnPause","params":{}}`),
	)
	conns := make(chan Conn, 2)
	conns <- first
	conns <- second

	m := newTestManager(func(ctx context.Context, url string) (Conn, error) {
		dials <- struct{}{}
		return <-conns, nil
	}, testOptions())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	got := []string{}
	for len(got) < 2 {
		select {
		case n := <-m.Notifications():
			got = append(got, n.Method)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0] != "Player.OnPlay" || got[1] != "Player.OnPause" {
		t.Fatalf("unexpected order: %v", got)
	}
	if len(dials) != 2 {
		t.Fatalf("expected 2 dials, got %d", len(dials))
	}
}

func TestReconnectGivesUpAndClosesSequence(t *testing.T) {
	attempts := 0
	first := newFakeConn(nil)
	m := newTestManager(func(ctx context.Context, url string) (Conn, error) {
		attempts++
		if attempts == 1 {
			return first, nil
		}
		return nil, errors.New("connection refused")
	}, testOptions())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-m.Notifications():
			if !ok {
				// 1 initial + MaxAttempts failed redials.
				if attempts != 1+testOptions().MaxAttempts {
					t.Fatalf("expected %d dials, got %d", 1+testOptions().MaxAttempts, attempts)
				}
				return
			}
		case <-deadline:
			t.Fatalf("notification sequence never closed")
		}
	}
}

func TestReconnectStateTransitions(t *testing.T) {
	attempts := 0
	first := newFakeConn(nil)
	m := newTestManager(func(ctx context.Context, url string) (Conn, error) {
		attempts++
		if attempts == 1 {
			return first, nil
		}
		return nil, errors.New("connection refused")
	}, testOptions())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	seen := map[Phase]bool{}
	reconnectAttempts := []int{}
	deadline := time.After(2 * time.Second)
	for !seen[Disconnected] || !seen[Failed] {
		select {
		case st := <-m.States():
			seen[st.Phase] = true
			if st.Phase == Reconnecting {
				reconnectAttempts = append(reconnectAttempts, st.Attempt)
			}
			if st.Phase == Failed && st.Err == "" {
				t.Fatalf("error state without message")
			}
		case <-deadline:
			t.Fatalf("missing phases, saw %v", seen)
		}
	}
	if len(reconnectAttempts) == 0 || reconnectAttempts[0] != 1 {
		t.Fatalf("expected reconnect attempts starting at 1, got %v", reconnectAttempts)
	}
}

func TestConnectFailureSettlesDisconnected(t *testing.T) {
	m := newTestManager(func(ctx context.Context, url string) (Conn, error) {
		return nil, errors.New("connection refused")
	}, testOptions())

	if err := m.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}

	// No reconnection on initial failure: no dial loop should be running.
	select {
	case st := <-m.States():
		if st.Phase != Connecting {
			t.Fatalf("expected connecting first, got %v", st.Phase)
		}
	case <-time.After(time.Second):
		t.Fatalf("no state published")
	}
	select {
	case st := <-m.States():
		if st.Phase != Disconnected {
			t.Fatalf("expected disconnected, got %v", st.Phase)
		}
	case <-time.After(time.Second):
		t.Fatalf("no terminal state published")
	}
}

func TestProbeFailureClosesConn(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(zap.NewNop(), "kodi.test", 9090, func(ctx context.Context) error {
		return errors.New("no pong")
	}, testOptions())
	m.dial = func(ctx context.Context, url string) (Conn, error) {
		return conn, nil
	}

	if err := m.Connect(context.Background()); err == nil {
		t.Fatalf("expected probe failure")
	}
	select {
	case <-conn.closed:
	default:
		t.Fatalf("expected connection closed after failed probe")
	}
}

// floodConn produces frames as fast as the loop can read them, keeping
// the receive loop mid-delivery whenever Disconnect runs.
type floodConn struct {
	closed chan struct{}
}

func (c *floodConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	default:
		return 1, []byte(`{"jsonrpc":"2.0","method":"Player.OnSeek","params":{}}`), nil
	}
}

func (c *floodConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func TestDisconnectWhileFramesInFlight(t *testing.T) {
	for i := 0; i < 100; i++ {
		conn := &floodConn{closed: make(chan struct{})}
		m := newTestManager(func(ctx context.Context, url string) (Conn, error) {
			return conn, nil
		}, testOptions())

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("connect: %v", err)
		}

		// Wait for delivery to be in full swing, then tear down while the
		// loop is still pushing frames.
		select {
		case <-m.Notifications():
		case <-time.After(time.Second):
			t.Fatalf("no frames delivered")
		}
		m.Disconnect()

		// The sequence must end cleanly: buffered frames drain, then the
		// channel reports closed. A send after close panics the test.
		deadline := time.After(time.Second)
		for open := true; open; {
			select {
			case _, ok := <-m.Notifications():
				open = ok
			case <-deadline:
				t.Fatalf("notification sequence never closed")
			}
		}
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(func(ctx context.Context, url string) (Conn, error) {
		return conn, nil
	}, testOptions())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	m.Disconnect()
	m.Disconnect()
	m.Disconnect()

	select {
	case _, ok := <-m.Notifications():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("notification channel not closed")
	}
}

func TestConnectAfterDisconnectStartsFresh(t *testing.T) {
	m := newTestManager(func(ctx context.Context, url string) (Conn, error) {
		return newFakeConn([]byte(`{"jsonrpc":"2.0","method":"Player.OnPlay","params":{}}`)), nil
	}, testOptions())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer m.Disconnect()

	select {
	case n, ok := <-m.Notifications():
		if !ok {
			t.Fatalf("fresh sequence already closed")
		}
		if n.Method != "Player.OnPlay" {
			t.Fatalf("unexpected method %s", n.Method)
		}
	case <-time.After(time.Second):
		t.Fatalf("no notification on fresh sequence")
	}
}

func TestPhaseStrings(t *testing.T) {
	cases := map[Phase]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Connected:    "connected",
		Reconnecting: "reconnecting",
		Failed:       "error",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Fatalf("phase %d: got %s want %s", phase, got, want)
		}
	}
}
