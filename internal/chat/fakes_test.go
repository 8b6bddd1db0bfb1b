package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/livechat/internal/connection"
	"github.com/raphaelgruber/livechat/internal/metrics"
	"github.com/raphaelgruber/livechat/internal/models"
	"github.com/raphaelgruber/livechat/internal/protocol"
	"github.com/raphaelgruber/livechat/internal/store"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a Connection driven by the test. Frames and state changes
// are delivered synchronously on the calling goroutine.
type fakeConn struct {
	mu        sync.Mutex
	state     connection.State
	onFrame   func(protocol.Frame)
	listeners map[int]func(connection.State)
	nextID    int
	sent      []protocol.Frame
	connects  int
	sendErr   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{listeners: make(map[int]func(connection.State))}
}

func (f *fakeConn) Connect() {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
}

func (f *fakeConn) Disconnect() { f.setState(connection.Disconnected) }

func (f *fakeConn) Send(fr protocol.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != connection.Connected {
		return connection.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, fr)
	return nil
}

func (f *fakeConn) State() connection.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) OnFrame(fn func(protocol.Frame)) {
	f.mu.Lock()
	f.onFrame = fn
	f.mu.Unlock()
}

func (f *fakeConn) OnStateChange(fn func(connection.State)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeConn) setState(s connection.State) {
	f.mu.Lock()
	if f.state == s {
		f.mu.Unlock()
		return
	}
	f.state = s
	var fns []func(connection.State)
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (f *fakeConn) deliver(frames ...protocol.Frame) {
	for _, fr := range frames {
		f.mu.Lock()
		fn := f.onFrame
		f.mu.Unlock()
		if fn != nil {
			fn(fr)
		}
	}
}

func (f *fakeConn) sentFrames() []protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Frame(nil), f.sent...)
}

func (f *fakeConn) connectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// flakyStore fails selected operations of an otherwise working router.
type flakyStore struct {
	*store.Router
	mu         sync.Mutex
	failCreate error
	failAppend map[models.Role]error
}

func (s *flakyStore) CreateConversation(ctx context.Context, title string) (models.Conversation, error) {
	s.mu.Lock()
	err := s.failCreate
	s.mu.Unlock()
	if err != nil {
		return models.Conversation{}, err
	}
	return s.Router.CreateConversation(ctx, title)
}

func (s *flakyStore) AppendMessage(ctx context.Context, id string, role models.Role, content string) (models.Message, error) {
	s.mu.Lock()
	err := s.failAppend[role]
	s.mu.Unlock()
	if err != nil {
		return models.Message{}, err
	}
	return s.Router.AppendMessage(ctx, id, role, content)
}

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(c *Controller) *recorder {
	r := &recorder{}
	c.Subscribe(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) ofKind(k EventKind) []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) notices() []string {
	var out []string
	for _, ev := range r.ofKind(EventNotice) {
		out = append(out, ev.Notice.Text)
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, k EventKind, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.ofKind(k)) >= n
	}, waitTimeout, 5*time.Millisecond, "waiting for %d %s events", n, k)
	return r.ofKind(k)
}

type harness struct {
	conn    *fakeConn
	router  *store.Router
	store   *flakyStore
	session *store.Session
	metrics *metrics.Collector
	ctrl    *Controller
	events  *recorder
}

// newHarness returns a started controller on a confirmed fake connection
// backed by an in-memory local store.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		conn:    newFakeConn(),
		session: store.NewSession(""),
		metrics: metrics.NewCollector(),
	}
	h.router = store.NewRouter(store.Options{Identity: h.session, Metrics: h.metrics}, testLogger())
	h.store = &flakyStore{Router: h.router, failAppend: map[models.Role]error{}}
	h.ctrl = New(Options{Conn: h.conn, Store: h.store, Metrics: h.metrics}, testLogger())
	h.events = record(h.ctrl)
	h.ctrl.Start()
	h.conn.setState(connection.Connected)
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) storedMessages(t *testing.T, conversationID string) []models.Message {
	t.Helper()
	msgs, err := h.router.ListMessages(context.Background(), conversationID)
	require.NoError(t, err)
	return msgs
}

func openMessages(msgs []models.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Open() {
			n++
		}
	}
	return n
}
