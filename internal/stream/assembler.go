// Package stream reduces the frames of one response cycle into a single
// finalized assistant message.
package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/livechat/internal/models"
	"github.com/raphaelgruber/livechat/internal/protocol"
)

var (
	// ErrDuplicateStart reports a response_start while a message was still open.
	ErrDuplicateStart = errors.New("response_start while a response is open")

	// ErrNoOpenMessage reports a chunk or completion outside a response cycle.
	ErrNoOpenMessage = errors.New("no open response")

	// ErrAborted reports a cycle cut short on the client side, e.g. by a dropped connection.
	ErrAborted = errors.New("response aborted")
)

// ServerError is the message carried by an error frame.
type ServerError struct {
	Message string
	Detail  string
}

func (e *ServerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server error: %s (%s)", e.Message, e.Detail)
	}
	return "server error: " + e.Message
}

// Kind tells the caller what an applied frame did.
type Kind int

const (
	Ignored Kind = iota
	Pending
	Started
	Chunk
	Completed
	Failed
)

func (k Kind) String() string {
	switch k {
	case Ignored:
		return "ignored"
	case Pending:
		return "pending"
	case Started:
		return "started"
	case Chunk:
		return "chunk"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Update is the result of applying one frame.
type Update struct {
	Kind Kind

	// Message is the open message after Started/Chunk and the finalized
	// message after Completed.
	Message models.Message

	// Discarded is the open message dropped by Failed or by a duplicate start.
	Discarded *models.Message

	// Err explains Failed updates and protocol violations.
	Err error
}

// Assembler holds at most one open message. It is not safe for concurrent
// use; the controller applies frames from the single read goroutine.
type Assembler struct {
	now     func() time.Time
	newID   func(prefix string) string
	open    *models.Message
	pending bool
}

// New returns an empty assembler. newID mints message ids from a prefix;
// nil uses models.NewMessageID.
func New(newID func(prefix string) string) *Assembler {
	if newID == nil {
		newID = models.NewMessageID
	}
	return &Assembler{now: time.Now, newID: newID}
}

// Pending reports whether the peer signalled typing without starting a response.
func (a *Assembler) Pending() bool {
	return a.pending
}

// Open returns a copy of the message being streamed, if any.
func (a *Assembler) Open() (models.Message, bool) {
	if a.open == nil {
		return models.Message{}, false
	}
	return *a.open, true
}

// Apply advances the cycle by one frame.
func (a *Assembler) Apply(f protocol.Frame) Update {
	switch f.Type {
	case protocol.TypeTypingStart:
		a.pending = true
		return Update{Kind: Pending}

	case protocol.TypeResponseStart:
		u := Update{Kind: Started}
		if a.open != nil {
			prev := *a.open
			u.Discarded = &prev
			u.Err = ErrDuplicateStart
		}
		a.pending = false
		a.open = &models.Message{
			ID:        a.newID("streaming"),
			Role:      models.RoleAssistant,
			CreatedAt: a.now(),
			Streaming: true,
		}
		u.Message = *a.open
		return u

	case protocol.TypeResponseChunk:
		if a.open == nil {
			return Update{Kind: Ignored, Err: ErrNoOpenMessage}
		}
		a.open.Content += f.Content
		return Update{Kind: Chunk, Message: *a.open}

	case protocol.TypeResponseComplete:
		var msg models.Message
		switch {
		case a.open != nil:
			msg = *a.open
		case f.FullResponse != "":
			// completion without a start still carries the authoritative text
			msg = models.Message{Role: models.RoleAssistant, CreatedAt: a.now()}
		default:
			a.pending = false
			return Update{Kind: Ignored, Err: ErrNoOpenMessage}
		}
		msg.ID = a.newID("msg")
		msg.Content = f.FullResponse
		msg.Streaming = false
		msg.Complete = true
		a.open = nil
		a.pending = false
		return Update{Kind: Completed, Message: msg}

	case protocol.TypeError:
		return a.fail(&ServerError{Message: f.Message, Detail: f.Error})

	default:
		return Update{Kind: Ignored}
	}
}

// Abort discards the open message, e.g. when the connection drops mid-stream.
func (a *Assembler) Abort(reason error) Update {
	if reason == nil {
		reason = ErrAborted
	}
	return a.fail(reason)
}

// Reset clears all cycle state without reporting anything.
func (a *Assembler) Reset() {
	a.open = nil
	a.pending = false
}

func (a *Assembler) fail(err error) Update {
	u := Update{Kind: Failed, Err: err}
	if a.open != nil {
		prev := *a.open
		u.Discarded = &prev
	}
	a.open = nil
	a.pending = false
	return u
}
