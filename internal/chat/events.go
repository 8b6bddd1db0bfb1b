package chat

import (
	"github.com/google/uuid"
	"github.com/raphaelgruber/livechat/internal/connection"
	"github.com/raphaelgruber/livechat/internal/models"
)

// EventKind identifies what changed.
type EventKind int

const (
	// EventMessages: the message list changed (user message, stream start, chunk, discard).
	EventMessages EventKind = iota
	// EventTyping: the peer signalled it is preparing a response.
	EventTyping
	// EventCompleted: a response cycle finished; Event.Message is the final message.
	EventCompleted
	// EventPersisted: a message got its storage id; Event.Message carries it.
	EventPersisted
	// EventConnection: the connection state changed.
	EventConnection
	// EventNotice: a one-line user-facing notification.
	EventNotice
	// EventConversation: the active conversation changed.
	EventConversation
)

func (k EventKind) String() string {
	switch k {
	case EventMessages:
		return "messages"
	case EventTyping:
		return "typing"
	case EventCompleted:
		return "completed"
	case EventPersisted:
		return "persisted"
	case EventConnection:
		return "connection"
	case EventNotice:
		return "notice"
	case EventConversation:
		return "conversation"
	default:
		return "unknown"
	}
}

// NoticeLevel grades a notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a non-blocking notification for the user.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// Snapshot is the controller state as of one event. Messages is a copy.
type Snapshot struct {
	ConversationID string
	Messages       []models.Message
	// Loading is true between typing_start and response_start.
	Loading bool
	// Streaming is true while an assistant message is open.
	Streaming bool
	// InFlight is true from a successful send until the cycle ends.
	InFlight   bool
	Connection connection.State
}

// Event is delivered to subscribers synchronously and in order.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Message  *models.Message
	Notice   *Notice
	// PreviousID is the provisional id replaced by an EventPersisted.
	PreviousID string
}

// Subscribe registers fn for every event. The returned func removes it.
// fn runs outside the controller lock and may call back into the controller.
func (c *Controller) Subscribe(fn func(Event)) func() {
	id := uuid.New().String()
	c.subMu.Lock()
	c.subscribers[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subscribers, id)
		c.subMu.Unlock()
	}
}

// snapshotLocked copies the current state. Caller must hold mu.
func (c *Controller) snapshotLocked() Snapshot {
	msgs := make([]models.Message, len(c.messages))
	copy(msgs, c.messages)
	_, streaming := c.assembler.Open()
	return Snapshot{
		ConversationID: c.conversationID,
		Messages:       msgs,
		Loading:        c.loading,
		Streaming:      streaming && c.cycle != nil && c.cycle.attached,
		InFlight:       c.inFlight,
		Connection:     c.connState,
	}
}

// publishLocked queues an event stamped with the current state. Caller must hold mu.
func (c *Controller) publishLocked(ev Event) {
	ev.Snapshot = c.snapshotLocked()
	c.pending = append(c.pending, ev)
}

// noticeLocked queues a notice. Caller must hold mu.
func (c *Controller) noticeLocked(level NoticeLevel, text string) {
	if level == NoticeError {
		c.logger.Warn("notice", "text", text)
	} else {
		c.logger.Info("notice", "text", text)
	}
	c.publishLocked(Event{Kind: EventNotice, Notice: &Notice{Level: level, Text: text}})
}

// flush delivers queued events in order. A call made while another
// goroutine (or a subscriber) is flushing returns at once; the active
// flusher picks up whatever was queued.
func (c *Controller) flush() {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	for len(c.pending) > 0 {
		ev := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()

		c.subMu.RLock()
		subs := make([]func(Event), 0, len(c.subscribers))
		for _, fn := range c.subscribers {
			subs = append(subs, fn)
		}
		c.subMu.RUnlock()

		for _, fn := range subs {
			fn(ev)
		}

		c.mu.Lock()
	}
	c.flushing = false
	c.mu.Unlock()
}
