// Package connection owns the single persistent WebSocket connection to the
// chat service: its lifecycle state, inbound frame delivery and the fixed
// delay reconnection policy.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/livechat/internal/metrics"
	"github.com/raphaelgruber/livechat/internal/protocol"
)

// Defaults for Options.
const (
	DefaultReconnectDelay   = 3000 * time.Millisecond
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultConfirmTimeout   = 10 * time.Second
	DefaultPingInterval     = 10 * time.Second
	DefaultPongWait         = 25 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

// ErrNotConnected is returned by Send unless the connection is confirmed.
var ErrNotConnected = errors.New("not connected")

// Options configures a Manager.
type Options struct {
	// URL is the ws:// or wss:// endpoint of the chat service.
	URL string

	// ReconnectDelay is the fixed wait between a drop and the next attempt.
	ReconnectDelay time.Duration

	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration

	// ConfirmTimeout bounds the wait for connection_established after the
	// socket opened. An unconfirmed socket is treated as dropped.
	ConfirmTimeout time.Duration

	// PingInterval is how often a ping is sent on an open socket.
	PingInterval time.Duration

	// PongWait is how long the socket may stay silent (no frame, no pong)
	// before it is treated as dropped. It must exceed PingInterval.
	PongWait time.Duration

	// WriteTimeout bounds every frame and control write.
	WriteTimeout time.Duration

	Dialer    Dialer
	Scheduler Scheduler
	Metrics   *metrics.Collector
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = DefaultConfirmTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = max(DefaultPongWait, 2*o.PingInterval+o.PingInterval/2)
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Dialer == nil {
		o.Dialer = NewWebSocketDialer(o.HandshakeTimeout, nil)
	}
	if o.Scheduler == nil {
		o.Scheduler = clockScheduler{}
	}
	return o
}

// Manager establishes, monitors and recovers exactly one logical connection.
// It retries forever while it is not explicitly disconnected.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	conn       Conn
	gen        uint64 // bumped for every attempt and on Disconnect; stale events are dropped
	retry      Timer
	confirm    Timer
	cancelDial context.CancelFunc

	// state notifications are queued under mu and dispatched in order by one flusher
	pending  []State
	flushing bool

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	onFrame   func(protocol.Frame)
	listeners map[string]func(State)
}

// New creates a disconnected manager. Pass nil logger for default.
func New(opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:      opts.withDefaults(),
		logger:    logger.With("component", "connection"),
		state:     Disconnected,
		listeners: make(map[string]func(State)),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnFrame registers the sole inbound frame consumer, replacing any previous one.
// The handler runs on the read goroutine, one frame at a time, in arrival order.
func (m *Manager) OnFrame(handler func(protocol.Frame)) {
	m.handlerMu.Lock()
	m.onFrame = handler
	m.handlerMu.Unlock()
}

// OnStateChange registers an observer of every state transition.
// The returned func removes it.
func (m *Manager) OnStateChange(fn func(State)) func() {
	id := uuid.New().String()
	m.handlerMu.Lock()
	m.listeners[id] = fn
	m.handlerMu.Unlock()

	return func() {
		m.handlerMu.Lock()
		delete(m.listeners, id)
		m.handlerMu.Unlock()
	}
}

// Connect starts a connection attempt. It is a no-op while Connecting or
// Connected; from Reconnecting it skips the remaining delay.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state == Connecting || m.state == Connected {
		m.mu.Unlock()
		return
	}

	m.stopTimersLocked()
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.HandshakeTimeout)
	m.cancelDial = cancel
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	m.logger.Info("connecting to chat service", "url", m.opts.URL)
	m.flush()

	go m.dial(ctx, cancel, gen)
}

// Send writes one frame. It never queues: callers get ErrNotConnected and
// decide what to tell the user.
func (m *Manager) Send(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != Connected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	m.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()
	if err != nil {
		// Closing wakes the read loop, which schedules the retry.
		_ = conn.Close()
		return fmt.Errorf("send %s: %w", f.Type, err)
	}

	m.opts.Metrics.IncFramesOut()
	m.logger.Debug("frame sent", "type", f.Type)
	return nil
}

// Disconnect closes the socket and cancels any pending retry. It is meant
// for teardown of the owning component.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopTimersLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	conn := m.conn
	m.conn = nil
	if m.state != Disconnected {
		m.setStateLocked(Disconnected)
	}
	m.mu.Unlock()

	if conn != nil {
		// WriteControl may run concurrently with a stalled Send.
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(m.opts.WriteTimeout),
		)
		_ = conn.Close()
	}

	m.logger.Info("disconnected")
	m.flush()
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()

	start := time.Now()
	conn, err := m.opts.Dialer.Dial(ctx, m.opts.URL)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	m.cancelDial = nil
	if err != nil {
		m.logger.Warn("dial failed", "url", m.opts.URL, "error", err)
		m.dropLocked()
		m.mu.Unlock()
		m.flush()
		return
	}

	m.opts.Metrics.RecordTiming(metrics.OpDial, time.Since(start))
	m.conn = conn
	m.confirm = m.opts.Scheduler.AfterFunc(m.opts.ConfirmTimeout, func() {
		m.confirmTimedOut(gen)
	})
	m.mu.Unlock()

	m.logger.Debug("socket open, awaiting confirmation", "duration_ms", time.Since(start).Milliseconds())

	_ = conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
	})

	done := make(chan struct{})
	go m.keepalive(conn, gen, done)
	m.readLoop(conn, gen)
	close(done)
}

// keepalive pings the peer until the read loop exits. A peer that stops
// answering lets the read deadline expire, which the read loop reports as a drop.
func (m *Manager) keepalive(conn Conn, gen uint64, done <-chan struct{}) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !m.current(gen) {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.opts.WriteTimeout)); err != nil {
				m.logger.Debug("ping failed", "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}

// readLoop delivers frames until the socket fails or is replaced.
func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(gen, err)
			return
		}
		if !m.current(gen) {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))

		frame, err := protocol.Decode(data)
		if err != nil {
			m.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		m.opts.Metrics.IncFramesIn()

		if frame.Type == protocol.TypeConnectionEstablished {
			m.confirmed(gen, frame.Message)
			continue
		}

		m.logger.Debug("frame received", "type", frame.Type)
		m.handlerMu.RLock()
		handler := m.onFrame
		m.handlerMu.RUnlock()
		if handler != nil {
			handler(frame)
		}
	}
}

func (m *Manager) confirmed(gen uint64, msg string) {
	m.mu.Lock()
	if gen != m.gen || m.state != Connecting {
		m.mu.Unlock()
		return
	}
	if m.confirm != nil {
		m.confirm.Stop()
		m.confirm = nil
	}
	m.setStateLocked(Connected)
	m.mu.Unlock()

	m.logger.Info("connection established", "message", msg)
	m.flush()
}

func (m *Manager) confirmTimedOut(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Connecting {
		m.mu.Unlock()
		return
	}
	m.confirm = nil
	m.logger.Warn("no connection confirmation", "timeout", m.opts.ConfirmTimeout)
	m.dropLocked()
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) handleReadError(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Info("connection closed by peer", "error", err)
	} else {
		m.logger.Warn("connection lost", "error", err)
	}
	m.dropLocked()
	m.mu.Unlock()
	m.flush()
}

// dropLocked tears down the current socket, enters Reconnecting and schedules
// the next attempt. Caller must hold mu.
func (m *Manager) dropLocked() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.stopTimersLocked()

	m.gen++
	gen := m.gen
	m.setStateLocked(Reconnecting)
	m.opts.Metrics.IncReconnects()
	m.retry = m.opts.Scheduler.AfterFunc(m.opts.ReconnectDelay, func() {
		m.retryFired(gen)
	})
	m.logger.Info("reconnect scheduled", "delay", m.opts.ReconnectDelay)
}

func (m *Manager) retryFired(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Reconnecting {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.mu.Unlock()

	m.logger.Info("attempting to reconnect")
	m.Connect()
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// stopTimersLocked cancels the retry and confirmation timers. Caller must hold mu.
func (m *Manager) stopTimersLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.confirm != nil {
		m.confirm.Stop()
		m.confirm = nil
	}
}

// setStateLocked records a transition and queues its notification. Caller must hold mu.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("state transition", "from", m.state.String(), "to", s.String())
	m.state = s
	m.pending = append(m.pending, s)
}

// flush dispatches queued notifications in order. Re-entrant calls from a
// listener return immediately; the active flusher picks up their transitions.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.pending) > 0 {
		s := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		m.handlerMu.RLock()
		listeners := make([]func(State), 0, len(m.listeners))
		for _, fn := range m.listeners {
			listeners = append(listeners, fn)
		}
		m.handlerMu.RUnlock()

		for _, fn := range listeners {
			fn(s)
		}

		m.mu.Lock()
	}
	m.flushing = false
	m.mu.Unlock()
}
