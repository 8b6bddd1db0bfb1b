// Package relay is the server side of the chat wire protocol. It accepts
// WebSocket clients and answers each chat_message with a streamed reply from
// a Generator.
package relay

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/livechat/internal/metrics"
	"github.com/raphaelgruber/livechat/internal/protocol"
)

// Messages sent to clients.
const (
	WelcomeMessage = "Real-time chat connected successfully"
	FailureMessage = "Failed to process your request. Please try again."
)

// DefaultGenerateTimeout bounds a single reply.
const DefaultGenerateTimeout = 2 * time.Minute

// Generator produces a reply, reporting each fragment through onChunk in
// order. An error from onChunk must abort generation.
type Generator interface {
	Generate(ctx context.Context, prompt string, onChunk func(string) error) (string, error)
}

// Options configures a Handler.
type Options struct {
	Generator       Generator
	Metrics         *metrics.Collector
	GenerateTimeout time.Duration
}

// Handler upgrades requests to WebSocket and serves one chat session per
// connection.
type Handler struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a relay handler. A nil Generator means Echo.
// Pass nil logger for default.
func NewHandler(opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Generator == nil {
		opts.Generator = Echo{}
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = DefaultGenerateTimeout
	}
	return &Handler{
		opts:   opts,
		logger: logger.With("component", "relay"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // clients are CLIs and local tools
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := &session{
		conn:   conn,
		h:      h,
		logger: h.logger.With("remote", r.RemoteAddr),
	}
	s.logger.Info("client connected")
	defer func() {
		_ = conn.Close()
		s.logger.Info("client disconnected")
	}()

	if err := s.write(protocol.ConnectionEstablished(WelcomeMessage)); err != nil {
		s.logger.Warn("send welcome failed", "error", err)
		return
	}
	s.serve()
}

type session struct {
	conn   *websocket.Conn
	h      *Handler
	logger *slog.Logger

	writeMu sync.Mutex
}

func (s *session) write(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}
	s.h.opts.Metrics.IncFramesOut()
	return nil
}

// serve handles inbound frames until the client goes away. Messages are
// answered one at a time in arrival order.
func (s *session) serve() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read failed", "error", err)
			}
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		s.h.opts.Metrics.IncFramesIn()
		if frame.Type != protocol.TypeChatMessage {
			s.logger.Debug("ignoring frame", "type", frame.Type)
			continue
		}

		if err := s.answer(frame); err != nil {
			s.logger.Warn("client write failed", "error", err)
			return
		}
	}
}

// answer streams one reply. It returns an error only when the client can no
// longer be written to.
func (s *session) answer(req protocol.Frame) error {
	convID := req.ConversationID
	log := s.logger.With("conversation_id", convID)

	if strings.TrimSpace(req.Message) == "" {
		log.Warn("empty chat message")
		return s.write(protocol.ErrorFrame(FailureMessage, "message is required"))
	}

	if err := s.write(protocol.TypingStart(convID)); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.h.opts.GenerateTimeout)
	defer cancel()

	var (
		started   bool
		full      strings.Builder
		chunks    int64
		writeErr  error
		startTime = time.Now()
	)
	begin := func() error {
		if started {
			return nil
		}
		started = true
		return s.write(protocol.ResponseStart(convID))
	}

	reply, err := s.h.opts.Generator.Generate(ctx, req.Message, func(piece string) error {
		if err := begin(); err != nil {
			writeErr = err
			return err
		}
		full.WriteString(piece)
		chunks++
		if err := s.write(protocol.ResponseChunk(convID, piece, full.String())); err != nil {
			writeErr = err
			return err
		}
		return nil
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		log.Warn("reply failed", "error", err)
		return s.write(protocol.ErrorFrame(FailureMessage, err.Error()))
	}

	if reply == "" {
		reply = full.String()
	}
	if err := begin(); err != nil {
		return err
	}
	if err := s.write(protocol.ResponseComplete(convID, reply)); err != nil {
		return err
	}

	s.h.opts.Metrics.RecordStream(metrics.OpRelayGenerate, time.Since(startTime), chunks, int64(len(reply)))
	log.Debug("reply complete", "chunks", chunks, "bytes", len(reply), "duration_ms", time.Since(startTime).Milliseconds())
	return nil
}
