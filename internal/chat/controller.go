// Package chat orchestrates a chat session: it turns user input into
// stored messages and outbound frames, folds the streamed reply back into
// the message list, and publishes every change to subscribers.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/livechat/internal/connection"
	"github.com/raphaelgruber/livechat/internal/metrics"
	"github.com/raphaelgruber/livechat/internal/models"
	"github.com/raphaelgruber/livechat/internal/protocol"
	"github.com/raphaelgruber/livechat/internal/stream"
)

var (
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrResponseInFlight is returned while a previous reply is still pending.
	ErrResponseInFlight = errors.New("a response is still in flight")

	// ErrNotConnected is returned when the connection is not confirmed.
	ErrNotConnected = connection.ErrNotConnected

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")

	errConnectionLost = errors.New("connection lost during response")
)

// DefaultPersistTimeout bounds one background write of an assistant message.
const DefaultPersistTimeout = 30 * time.Second

// Connection is the transport the controller drives. *connection.Manager
// implements it.
type Connection interface {
	Connect()
	Disconnect()
	Send(protocol.Frame) error
	State() connection.State
	OnFrame(func(protocol.Frame))
	OnStateChange(func(connection.State)) func()
}

// Store persists conversations. *store.Router implements it.
type Store interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, title string) (models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	AppendMessage(ctx context.Context, conversationID string, role models.Role, content string) (models.Message, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

var _ Connection = (*connection.Manager)(nil)

// Options configures a Controller.
type Options struct {
	Conn  Connection
	Store Store

	// Assembler defaults to stream.New(nil).
	Assembler *stream.Assembler

	Metrics        *metrics.Collector
	PersistTimeout time.Duration
}

// cycle tracks one response from send to completion or failure.
type cycle struct {
	conversationID string
	// attached is false once the user switched away from the conversation;
	// the reply is still persisted but no longer shown.
	attached bool
	openID   string
	started  time.Time
	chunks   int64
	bytes    int64
}

// persistJob writes one finalized assistant message.
type persistJob struct {
	conversationID string
	messageID      string
	content        string
}

// Controller is the only writer of the message list it exposes.
type Controller struct {
	opts      Options
	conn      Connection
	store     Store
	assembler *stream.Assembler
	logger    *slog.Logger

	mu             sync.Mutex
	conversationID string
	messages       []models.Message
	loading        bool
	inFlight       bool
	cycle          *cycle
	connState      connection.State
	started        bool
	closed         bool

	pending  []Event
	flushing bool

	jobs []persistJob
	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	unsubscribeState func()
	closeOnce        sync.Once

	subMu       sync.RWMutex
	subscribers map[string]func(Event)
}

// New creates a controller. Call Start to connect.
func New(opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Assembler == nil {
		opts.Assembler = stream.New(nil)
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	return &Controller{
		opts:        opts,
		conn:        opts.Conn,
		store:       opts.Store,
		assembler:   opts.Assembler,
		logger:      logger.With("component", "chat"),
		connState:   connection.Disconnected,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		subscribers: make(map[string]func(Event)),
	}
}

// Start wires the controller to its connection and begins connecting.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.connState = c.conn.State()
	c.mu.Unlock()

	c.conn.OnFrame(c.handleFrame)
	c.unsubscribeState = c.conn.OnStateChange(c.handleState)

	c.wg.Add(1)
	go c.persistLoop()

	c.conn.Connect()
}

// Close disconnects and waits for queued writes to finish.
// The connection never outlives the controller.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.conn.Disconnect()

		c.mu.Lock()
		c.closed = true
		started := c.started
		c.mu.Unlock()

		if c.unsubscribeState != nil {
			c.unsubscribeState()
		}
		c.conn.OnFrame(nil)

		close(c.done)
		if started {
			c.wg.Wait()
		}
		c.flush()
		c.logger.Info("chat controller closed")
	})
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SendMessage submits text as the next user message. It rejects blank
// input, a pending reply, and a connection that is not confirmed; in each
// of those cases nothing is stored and no frame is sent. A disconnected
// controller additionally kicks off a connection attempt.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrResponseInFlight
	}
	if c.conn.State() != connection.Connected {
		c.noticeLocked(NoticeError, "Not connected to chat service. Reconnecting...")
		c.mu.Unlock()
		c.flush()
		c.conn.Connect()
		return ErrNotConnected
	}
	c.inFlight = true
	conversationID := c.conversationID
	c.mu.Unlock()

	if conversationID == "" {
		conv, err := c.store.CreateConversation(ctx, models.TitleFromText(text))
		if err != nil {
			c.mu.Lock()
			c.inFlight = false
			c.noticeLocked(NoticeError, "Failed to create conversation")
			c.mu.Unlock()
			c.flush()
			return err
		}
		conversationID = conv.ID

		c.mu.Lock()
		c.conversationID = conv.ID
		c.messages = nil
		c.publishLocked(Event{Kind: EventConversation})
		c.mu.Unlock()
		c.logger.Info("conversation created", "conversation_id", conv.ID, "title", conv.Title)
	}

	userMsg := models.Message{
		ID:        models.NewMessageID("user"),
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
		Complete:  true,
	}
	cyc := &cycle{conversationID: conversationID, attached: true, started: time.Now()}

	c.mu.Lock()
	c.messages = append(c.messages, userMsg)
	c.cycle = cyc
	c.publishLocked(Event{Kind: EventMessages, Message: &userMsg})
	c.mu.Unlock()
	c.flush()

	// The typed message stays visible even when it could not be stored.
	saved, err := c.store.AppendMessage(ctx, conversationID, models.RoleUser, text)
	c.mu.Lock()
	if err != nil {
		c.logger.Warn("failed to persist user message", "conversation_id", conversationID, "error", err)
		c.noticeLocked(NoticeError, "Failed to save message")
	} else {
		c.swapIDLocked(conversationID, userMsg.ID, saved)
	}
	aborted := c.cycle != cyc
	c.mu.Unlock()
	c.flush()

	if aborted {
		// the connection dropped while the message was being stored
		return ErrNotConnected
	}

	if err := c.conn.Send(protocol.ChatMessage(text, conversationID)); err != nil {
		c.mu.Lock()
		if c.cycle == cyc {
			c.cycle = nil
			c.inFlight = false
		}
		c.noticeLocked(NoticeError, "Connection lost. Please wait for reconnection...")
		c.mu.Unlock()
		c.flush()
		c.conn.Connect()
		return fmt.Errorf("send message: %w", err)
	}

	c.logger.Debug("message sent", "conversation_id", conversationID, "length", len(text))
	return nil
}

// handleFrame applies one inbound frame. It runs on the connection's read
// goroutine, one frame at a time.
func (c *Controller) handleFrame(f protocol.Frame) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	u := c.assembler.Apply(f)
	wake := false

	switch u.Kind {
	case stream.Pending:
		if c.ensureCycleLocked().attached {
			c.loading = true
		}
		c.publishLocked(Event{Kind: EventTyping})

	case stream.Started:
		cyc := c.ensureCycleLocked()
		if u.Discarded != nil {
			c.logger.Warn("protocol violation", "error", u.Err, "discarded_id", u.Discarded.ID)
			if cyc.attached {
				c.removeLocked(cyc.openID)
			}
			c.opts.Metrics.IncDroppedCycles()
			c.noticeLocked(NoticeError, "Response restarted by server; partial reply discarded")
		}
		cyc.openID = u.Message.ID
		cyc.chunks, cyc.bytes = 0, 0
		c.loading = false
		if cyc.attached {
			c.messages = append(c.messages, u.Message)
		}
		c.publishLocked(Event{Kind: EventMessages, Message: &u.Message})

	case stream.Chunk:
		cyc := c.ensureCycleLocked()
		cyc.chunks++
		cyc.bytes += int64(len(f.Content))
		if cyc.attached {
			c.replaceLocked(cyc.openID, u.Message)
		}
		c.publishLocked(Event{Kind: EventMessages, Message: &u.Message})

	case stream.Completed:
		wake = c.completeLocked(u.Message)

	case stream.Failed:
		c.failLocked(u)

	case stream.Ignored:
		if u.Err != nil {
			c.logger.Warn("ignoring out-of-cycle frame", "type", f.Type, "error", u.Err)
		}
	}
	c.mu.Unlock()

	if wake {
		c.wakeWorker()
	}
	c.flush()
}

// handleState reacts to connection transitions. Leaving Connected during a
// response cycle discards the partial reply.
func (c *Controller) handleState(s connection.State) {
	c.mu.Lock()
	prev := c.connState
	c.connState = s
	c.publishLocked(Event{Kind: EventConnection})

	if prev == connection.Connected && s != connection.Connected && c.inFlight {
		c.failLocked(c.assembler.Abort(errConnectionLost))
	}
	c.mu.Unlock()
	c.flush()
}

// ensureCycleLocked returns the current cycle, opening one for the active
// conversation when the peer starts a reply on its own. Caller must hold mu.
func (c *Controller) ensureCycleLocked() *cycle {
	if c.cycle == nil {
		c.cycle = &cycle{conversationID: c.conversationID, attached: true, started: time.Now()}
		c.inFlight = true
	}
	return c.cycle
}

// completeLocked shows the final message and queues it for persistence.
// Reports whether a job was queued. Caller must hold mu.
func (c *Controller) completeLocked(msg models.Message) bool {
	cyc := c.ensureCycleLocked()
	if cyc.attached {
		if !c.replaceLocked(cyc.openID, msg) {
			c.messages = append(c.messages, msg)
		}
	}
	c.cycle = nil
	c.inFlight = false
	c.loading = false

	c.opts.Metrics.RecordStream(metrics.OpResponseCycle, time.Since(cyc.started), cyc.chunks, int64(len(msg.Content)))
	c.logger.Info("response complete",
		"conversation_id", cyc.conversationID,
		"chunks", cyc.chunks,
		"length", len(msg.Content),
		"duration_ms", time.Since(cyc.started).Milliseconds(),
	)
	c.publishLocked(Event{Kind: EventCompleted, Message: &msg})

	if cyc.conversationID == "" {
		c.logger.Warn("completed response has no conversation; not persisted", "message_id", msg.ID)
		return false
	}
	c.jobs = append(c.jobs, persistJob{
		conversationID: cyc.conversationID,
		messageID:      msg.ID,
		content:        msg.Content,
	})
	return true
}

// failLocked discards the open message and reports why. Caller must hold mu.
func (c *Controller) failLocked(u stream.Update) {
	cyc := c.cycle
	if cyc != nil && cyc.attached && cyc.openID != "" {
		c.removeLocked(cyc.openID)
	}
	if cyc != nil {
		c.opts.Metrics.IncDroppedCycles()
	}
	c.cycle = nil
	c.inFlight = false
	c.loading = false

	text := "Connection lost. The response was discarded."
	var serr *stream.ServerError
	if errors.As(u.Err, &serr) {
		text = serr.Message
		c.logger.Warn("server reported error", "message", serr.Message, "detail", serr.Detail)
	} else {
		c.logger.Warn("response cycle aborted", "error", u.Err)
	}
	c.publishLocked(Event{Kind: EventMessages})
	c.noticeLocked(NoticeError, text)
}

// swapIDLocked gives a displayed message its storage id, if the message is
// still shown. Caller must hold mu.
func (c *Controller) swapIDLocked(conversationID, provisionalID string, saved models.Message) {
	if c.conversationID != conversationID {
		return
	}
	i := c.indexLocked(provisionalID)
	if i < 0 {
		return
	}
	msg := c.messages[i]
	msg.ID = saved.ID
	c.messages[i] = msg
	c.publishLocked(Event{Kind: EventPersisted, Message: &msg, PreviousID: provisionalID})
}

func (c *Controller) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) replaceLocked(id string, msg models.Message) bool {
	i := c.indexLocked(id)
	if i < 0 {
		return false
	}
	c.messages[i] = msg
	return true
}

func (c *Controller) removeLocked(id string) {
	i := c.indexLocked(id)
	if i < 0 {
		return
	}
	c.messages = append(c.messages[:i:i], c.messages[i+1:]...)
}
