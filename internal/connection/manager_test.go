package connection

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/livechat/internal/metrics"
	"github.com/raphaelgruber/livechat/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// peer is a minimal chat service that upgrades every request.
type peer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	confirm  atomic.Bool
	accepted atomic.Int32
}

func newPeer(t *testing.T, confirm bool) *peer {
	t.Helper()
	p := &peer{conns: make(chan *websocket.Conn, 16)}
	p.confirm.Store(confirm)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.accepted.Add(1)
		if p.confirm.Load() {
			_ = conn.WriteJSON(protocol.ConnectionEstablished("Real-time chat connected successfully"))
		}
		p.conns <- conn
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *peer) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *peer) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-p.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(waitTimeout):
		t.Fatal("peer: no connection accepted")
		return nil
	}
}

// fakeScheduler records timers instead of running them.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (t *fakeTimer) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	ft := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, ft)
	return ft
}

// activeTimer returns the most recent pending timer with duration d.
func (s *fakeScheduler) activeTimer(d time.Duration) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.timers) - 1; i >= 0; i-- {
		if s.timers[i].d == d && s.timers[i].active() {
			return s.timers[i]
		}
	}
	return nil
}

// fire runs the pending timer with duration d.
func (s *fakeScheduler) fire(t *testing.T, d time.Duration) {
	t.Helper()
	var ft *fakeTimer
	require.Eventually(t, func() bool {
		ft = s.activeTimer(d)
		return ft != nil
	}, waitTimeout, 5*time.Millisecond, "no pending timer for %s", d)

	ft.mu.Lock()
	ft.fired = true
	ft.mu.Unlock()
	ft.f()
}

// recordStates subscribes to transitions and returns them on a channel.
func recordStates(m *Manager) <-chan State {
	ch := make(chan State, 64)
	m.OnStateChange(func(s State) { ch <- s })
	return ch
}

func expectStates(t *testing.T, ch <-chan State, want ...State) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-ch:
			require.Equal(t, w, got, "unexpected transition")
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for state %s", w)
		}
	}
}

func newTestManager(t *testing.T, url string, sched *fakeScheduler) *Manager {
	t.Helper()
	m := New(Options{URL: url, Scheduler: sched, Metrics: metrics.NewCollector()}, testLogger())
	t.Cleanup(m.Disconnect)
	return m
}

func TestConnectWaitsForConfirmation(t *testing.T) {
	p := newPeer(t, false)
	m := newTestManager(t, p.url(), &fakeScheduler{})
	states := recordStates(m)

	m.Connect()
	expectStates(t, states, Connecting)
	server := p.next(t)

	// socket is open but unconfirmed
	assert.Equal(t, Connecting, m.State())
	assert.ErrorIs(t, m.Send(protocol.ChatMessage("hi", "c1")), ErrNotConnected)

	require.NoError(t, server.WriteJSON(protocol.ConnectionEstablished("ok")))
	expectStates(t, states, Connected)
	assert.Equal(t, Connected, m.State())
}

func TestConnectIsIdempotent(t *testing.T) {
	p := newPeer(t, true)
	m := newTestManager(t, p.url(), &fakeScheduler{})
	states := recordStates(m)

	m.Connect()
	m.Connect()
	expectStates(t, states, Connecting, Connected)
	p.next(t)

	m.Connect()
	assert.Equal(t, Connected, m.State())
	assert.Equal(t, int32(1), p.accepted.Load(), "only one socket may be opened")
}

func TestSendWhileDisconnected(t *testing.T) {
	m := New(Options{URL: "ws://127.0.0.1:1"}, testLogger())
	err := m.Send(protocol.ChatMessage("hello", "local-1"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, Disconnected, m.State())
}

func TestSendWritesFrame(t *testing.T) {
	p := newPeer(t, true)
	m := newTestManager(t, p.url(), &fakeScheduler{})
	states := recordStates(m)

	m.Connect()
	expectStates(t, states, Connecting, Connected)
	server := p.next(t)

	require.NoError(t, m.Send(protocol.ChatMessage("Hello", "local-1")))

	var got protocol.Frame
	require.NoError(t, server.SetReadDeadline(time.Now().Add(waitTimeout)))
	require.NoError(t, server.ReadJSON(&got))
	assert.Equal(t, protocol.ChatMessage("Hello", "local-1"), got)
}

func TestFramesDeliveredInArrivalOrder(t *testing.T) {
	p := newPeer(t, true)
	m := newTestManager(t, p.url(), &fakeScheduler{})
	states := recordStates(m)

	const n = 50
	received := make(chan protocol.Frame, n)
	m.OnFrame(func(f protocol.Frame) { received <- f })

	m.Connect()
	expectStates(t, states, Connecting, Connected)
	server := p.next(t)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("garbage")))
	for i := 0; i < n; i++ {
		require.NoError(t, server.WriteJSON(protocol.ResponseChunk("c1", strings.Repeat("x", i), "")))
	}

	for i := 0; i < n; i++ {
		select {
		case f := <-received:
			require.Equal(t, protocol.TypeResponseChunk, f.Type)
			require.Len(t, f.Content, i, "frame %d out of order", i)
		case <-time.After(waitTimeout):
			t.Fatalf("timed out after %d frames", i)
		}
	}
}

func TestReconnectAfterAbruptDrop(t *testing.T) {
	p := newPeer(t, true)
	sched := &fakeScheduler{}
	m := newTestManager(t, p.url(), sched)
	states := recordStates(m)

	m.Connect()
	expectStates(t, states, Connecting, Connected)
	server := p.next(t)

	// kill the TCP connection without a close frame
	require.NoError(t, server.UnderlyingConn().Close())
	expectStates(t, states, Reconnecting)

	// exactly one retry, after the fixed delay
	require.NotNil(t, sched.activeTimer(DefaultReconnectDelay))
	sched.fire(t, DefaultReconnectDelay)

	expectStates(t, states, Connecting, Connected)
	p.next(t)
	assert.Equal(t, int32(2), p.accepted.Load())
	assert.Equal(t, int64(1), m.opts.Metrics.Snapshot().Reconnects)
}

func TestReconnectAfterServerClose(t *testing.T) {
	p := newPeer(t, true)
	sched := &fakeScheduler{}
	m := newTestManager(t, p.url(), sched)
	states := recordStates(m)

	m.Connect()
	expectStates(t, states, Connecting, Connected)
	server := p.next(t)

	require.NoError(t, server.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	expectStates(t, states, Reconnecting)

	sched.fire(t, DefaultReconnectDelay)
	expectStates(t, states, Connecting, Connected)
}

func TestDialFailureRetriesIndefinitely(t *testing.T) {
	p := newPeer(t, true)
	url := p.url()
	p.srv.Close()

	sched := &fakeScheduler{}
	m := newTestManager(t, url, sched)
	states := recordStates(m)

	m.Connect()
	for i := 0; i < 3; i++ {
		if i == 0 {
			expectStates(t, states, Connecting, Reconnecting)
		} else {
			sched.fire(t, DefaultReconnectDelay)
			expectStates(t, states, Connecting, Reconnecting)
		}
	}
	assert.NotNil(t, sched.activeTimer(DefaultReconnectDelay), "manager must keep retrying")
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	p := newPeer(t, true)
	sched := &fakeScheduler{}
	m := newTestManager(t, p.url(), sched)
	states := recordStates(m)

	m.Connect()
	expectStates(t, states, Connecting, Connected)
	server := p.next(t)
	require.NoError(t, server.UnderlyingConn().Close())
	expectStates(t, states, Reconnecting)

	retry := sched.activeTimer(DefaultReconnectDelay)
	require.NotNil(t, retry)

	m.Disconnect()
	expectStates(t, states, Disconnected)
	assert.False(t, retry.active(), "retry timer must be stopped")

	// a late firing of the cancelled timer is ignored
	retry.f()
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, int32(1), p.accepted.Load())
}

func TestUnconfirmedSocketIsDropped(t *testing.T) {
	p := newPeer(t, false)
	sched := &fakeScheduler{}
	m := newTestManager(t, p.url(), sched)
	states := recordStates(m)

	m.Connect()
	expectStates(t, states, Connecting)
	p.next(t)

	sched.fire(t, DefaultConfirmTimeout)
	expectStates(t, states, Reconnecting)
	assert.NotNil(t, sched.activeTimer(DefaultReconnectDelay))
}

func TestSilentPeerIsDropped(t *testing.T) {
	p := newPeer(t, true)
	sched := &fakeScheduler{}
	m := New(Options{
		URL:          p.url(),
		Scheduler:    sched,
		PingInterval: 20 * time.Millisecond,
		PongWait:     100 * time.Millisecond,
	}, testLogger())
	t.Cleanup(m.Disconnect)
	states := recordStates(m)

	m.Connect()
	expectStates(t, states, Connecting, Connected)
	// the peer never reads, so pings go unanswered
	p.next(t)

	expectStates(t, states, Reconnecting)
	assert.NotNil(t, sched.activeTimer(DefaultReconnectDelay))
}

func TestKeepaliveHoldsHealthyConnection(t *testing.T) {
	p := newPeer(t, true)
	m := New(Options{
		URL:          p.url(),
		Scheduler:    &fakeScheduler{},
		PingInterval: 20 * time.Millisecond,
		PongWait:     100 * time.Millisecond,
	}, testLogger())
	t.Cleanup(m.Disconnect)
	states := recordStates(m)

	m.Connect()
	expectStates(t, states, Connecting, Connected)
	server := p.next(t)

	// reading lets gorilla's default ping handler answer with pongs
	go func() {
		for {
			if _, _, err := server.ReadMessage(); err != nil {
				return
			}
		}
	}()

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, Connected, m.State())
	select {
	case s := <-states:
		t.Fatalf("unexpected transition to %s", s)
	default:
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{PingInterval: time.Minute}.withDefaults()
	assert.Equal(t, DefaultReconnectDelay, o.ReconnectDelay)
	assert.Equal(t, DefaultWriteTimeout, o.WriteTimeout)
	assert.Greater(t, o.PongWait, o.PingInterval, "pong wait must exceed the ping interval")

	o = Options{}.withDefaults()
	assert.Equal(t, DefaultPingInterval, o.PingInterval)
	assert.Equal(t, DefaultPongWait, o.PongWait)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}
