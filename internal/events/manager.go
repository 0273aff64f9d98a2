package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kodilink/internal/kodi"
)

// Phase enumerates the connection lifecycle.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "error"
	default:
		return "disconnected"
	}
}

// State is a connection state snapshot. Attempt is set while reconnecting,
// Err while in the error phase.
type State struct {
	Phase   Phase
	Attempt int
	Err     string
}

// Conn is the subset of the websocket connection the manager reads from.
type Conn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// Dialer opens the persistent event connection.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Options tunes the bounded reconnection behaviour.
type Options struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

func (o Options) withDefaults() Options {
	if o.InitialDelay == 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	return o
}

// Manager owns the single persistent notification connection to one host.
// It republishes notification frames in arrival order and retries dropped
// connections with bounded exponential backoff. It never touches playback
// state; consumers observe State transitions instead.
type Manager struct {
	log   *zap.Logger
	dial  Dialer
	probe func(context.Context) error
	opts  Options
	url   string

	mu      sync.Mutex
	conn    Conn
	closing bool
	cancel  context.CancelFunc
	done    chan struct{}

	notifications chan kodi.Notification
	states        chan State
	closeNotif    *sync.Once
}

// NewManager creates a manager for ws://address:port/jsonrpc. probe is the
// liveness check run after each dial, typically Client.Ping.
func NewManager(log *zap.Logger, address string, port int, probe func(context.Context) error, opts Options) *Manager {
	return &Manager{
		log:           log.With(zap.String("module", "events")),
		dial:          wsDial,
		probe:         probe,
		opts:          opts.withDefaults(),
		url:           fmt.Sprintf("ws://%s/jsonrpc", net.JoinHostPort(address, strconv.Itoa(port))),
		notifications: make(chan kodi.Notification, 32),
		states:        make(chan State, 16),
		closeNotif:    &sync.Once{},
	}
}

func wsDial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Notifications returns the ordered notification sequence. The channel is
// closed exactly once, on disconnect or when reconnection gives up.
func (m *Manager) Notifications() <-chan kodi.Notification {
	return m.notifications
}

// States streams connection state transitions.
func (m *Manager) States() <-chan State {
	return m.states
}

// Connect dials the host, probes liveness, and starts the receive loop.
// An initial failure settles back in disconnected; the caller decides
// whether to fall back to polling.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	if m.closing {
		// Fresh connect after a terminal disconnect gets a fresh sequence.
		m.notifications = make(chan kodi.Notification, 32)
		m.closeNotif = &sync.Once{}
		m.closing = false
	}
	m.mu.Unlock()

	m.setState(State{Phase: Connecting})

	conn, err := m.dialAndProbe(ctx)
	if err != nil {
		m.setState(State{Phase: Disconnected})
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.conn = conn
	m.cancel = cancel
	m.done = done
	notifs := m.notifications
	once := m.closeNotif
	m.mu.Unlock()

	m.setState(State{Phase: Connected})
	go m.receiveLoop(loopCtx, notifs, once, done)
	return nil
}

// Disconnect is idempotent: it cancels any in-flight reconnection, closes
// the socket, waits for the receive loop to stop, and terminates the
// notification sequence exactly once. The channel is only closed once the
// loop can no longer send on it.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	m.closing = true
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	done := m.done
	m.done = nil
	once := m.closeNotif
	ch := m.notifications
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	m.setState(State{Phase: Disconnected})
	once.Do(func() { close(ch) })
}

func (m *Manager) dialAndProbe(ctx context.Context) (Conn, error) {
	conn, err := m.dial(ctx, m.url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.url, err)
	}
	if m.probe != nil {
		if err := m.probe(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("liveness probe: %w", err)
		}
	}
	return conn, nil
}

// receiveLoop reads frames until the connection is gone for good. It is
// the only goroutine that sends on notifs, and on a terminal exit it is
// the one that closes the sequence.
func (m *Manager) receiveLoop(ctx context.Context, notifs chan kodi.Notification, once *sync.Once, done chan struct{}) {
	defer close(done)
	for {
		m.mu.Lock()
		conn := m.conn
		m.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if m.isClosing() || ctx.Err() != nil {
				return
			}
			m.log.Debug("receive failed", zap.Error(err))
			m.setState(State{Phase: Failed, Err: err.Error()})
			if !m.reconnect(ctx) {
				m.terminate(notifs, once)
				return
			}
			continue
		}
		m.handleFrame(ctx, notifs, data)
	}
}

// handleFrame republishes notification frames and drops everything else.
// Frames carrying a request id belong to the request/response path and are
// ignored here; malformed frames must not terminate the loop.
func (m *Manager) handleFrame(ctx context.Context, notifs chan kodi.Notification, data []byte) {
	var frame struct {
		ID     *int64          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		m.log.Debug("dropping malformed frame", zap.Error(err))
		return
	}
	if frame.ID != nil || frame.Method == "" {
		return
	}
	select {
	case notifs <- kodi.Notification{Method: frame.Method, Params: frame.Params}:
	case <-ctx.Done():
	}
}

// reconnect retries the full connect sequence with exponential backoff.
// Returns false once every attempt has failed or the context is gone.
func (m *Manager) reconnect(ctx context.Context) bool {
	m.mu.Lock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()

	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		m.setState(State{Phase: Reconnecting, Attempt: attempt})
		delay := retryDelay(attempt, m.opts.InitialDelay, m.opts.MaxDelay)
		m.log.Info("reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if m.isClosing() {
			return false
		}

		conn, err := m.dialAndProbe(ctx)
		if err != nil {
			m.log.Debug("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.setState(State{Phase: Connected})
		return true
	}
	m.log.Warn("reconnection gave up", zap.Int("attempts", m.opts.MaxAttempts))
	return false
}

// terminate settles in disconnected after reconnection gives up and closes
// the notification sequence. Runs on the receive loop goroutine, so no
// send can race the close. A fresh Connect starts over.
func (m *Manager) terminate(notifs chan kodi.Notification, once *sync.Once) {
	m.mu.Lock()
	m.closing = true
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()

	m.setState(State{Phase: Disconnected})
	once.Do(func() { close(notifs) })
}

func (m *Manager) isClosing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

func (m *Manager) setState(s State) {
	select {
	case m.states <- s:
	default:
		// Slow consumers miss intermediate transitions, never block the loop.
	}
}

// retryDelay is min(initial * 2^(attempt-1), max).
func retryDelay(attempt int, initial, max time.Duration) time.Duration {
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
