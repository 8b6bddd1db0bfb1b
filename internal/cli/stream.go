package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/raphaelgruber/livechat/internal/chat"
	"github.com/raphaelgruber/livechat/internal/models"
)

// streamPrinter writes assistant replies to a plain writer as they grow and
// reports the end of each response cycle.
type streamPrinter struct {
	out    io.Writer
	errOut io.Writer

	mu       sync.Mutex
	printed  string
	awaiting bool
	done     chan error
}

func newStreamPrinter(out, errOut io.Writer) *streamPrinter {
	return &streamPrinter{out: out, errOut: errOut, done: make(chan error, 1)}
}

// expect arms the printer for the next response cycle.
func (p *streamPrinter) expect() {
	p.mu.Lock()
	p.awaiting = true
	p.mu.Unlock()
}

// cancel disarms the printer after a rejected send.
func (p *streamPrinter) cancel() {
	p.mu.Lock()
	p.awaiting = false
	p.mu.Unlock()
}

// Done receives nil when a reply completed, or the failure notice.
func (p *streamPrinter) Done() <-chan error {
	return p.done
}

// handle is a chat.Controller subscriber.
func (p *streamPrinter) handle(ev chat.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case chat.EventMessages:
		if msg, ok := openReply(ev.Snapshot.Messages); ok {
			p.writeLocked(msg.Content)
		}

	case chat.EventCompleted:
		p.writeLocked(ev.Message.Content)
		p.endLineLocked()
		p.finishLocked(nil)

	case chat.EventNotice:
		if ev.Notice.Level != chat.NoticeError {
			fmt.Fprintf(p.errOut, "-- %s\n", ev.Notice.Text)
			return
		}
		p.endLineLocked()
		fmt.Fprintf(p.errOut, "! %s\n", ev.Notice.Text)
		if !ev.Snapshot.InFlight {
			p.finishLocked(errors.New(ev.Notice.Text))
		}
	}
}

// writeLocked prints whatever content adds to what is already on screen.
// A reply that no longer extends the printed text was restarted.
func (p *streamPrinter) writeLocked(content string) {
	if !strings.HasPrefix(content, p.printed) {
		p.endLineLocked()
	}
	fmt.Fprint(p.out, content[len(p.printed):])
	p.printed = content
}

func (p *streamPrinter) endLineLocked() {
	if p.printed != "" {
		fmt.Fprintln(p.out)
		p.printed = ""
	}
}

func (p *streamPrinter) finishLocked(err error) {
	if !p.awaiting {
		return
	}
	p.awaiting = false
	select {
	case p.done <- err:
	default:
	}
}

// openReply returns the assistant message still being streamed, if any.
func openReply(msgs []models.Message) (models.Message, bool) {
	if len(msgs) == 0 {
		return models.Message{}, false
	}
	last := msgs[len(msgs)-1]
	if last.Role != models.RoleAssistant || !last.Open() {
		return models.Message{}, false
	}
	return last, true
}
