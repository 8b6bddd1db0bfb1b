package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/livechat/internal/metrics"
	"github.com/raphaelgruber/livechat/internal/models"
)

// Options configures a Router.
type Options struct {
	Identity IdentityProvider
	Local    Backend
	// Remote may be nil; owners then get ErrRemoteUnavailable.
	Remote  Backend
	Metrics *metrics.Collector
}

// Router resolves the backend for every call from the current identity.
// Nothing about the identity is cached between calls.
type Router struct {
	opts   Options
	logger *slog.Logger
}

// NewRouter creates a router. A nil Local gets an in-memory store and a nil
// Identity means always anonymous.
func NewRouter(opts Options, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Local == nil {
		opts.Local = NewLocal(nil)
	}
	if opts.Identity == nil {
		opts.Identity = NewSession("")
	}
	return &Router{opts: opts, logger: logger.With("component", "store")}
}

// Identity returns the caller identity the next call will use.
func (r *Router) Identity() Identity {
	return r.opts.Identity.Identity()
}

// resolve picks the backend for one operation.
func (r *Router) resolve(conversationID string) (Backend, Identity, Kind, error) {
	id := r.opts.Identity.Identity()
	kind := Select(id, conversationID)
	if kind == KindLocal {
		return r.opts.Local, id, kind, nil
	}
	if r.opts.Remote == nil {
		return nil, id, kind, ErrRemoteUnavailable
	}
	return r.opts.Remote, id, kind, nil
}

func (r *Router) observe(kind Kind, op string, start time.Time, err error) {
	metricOp := metrics.OpStoreLocal
	if kind == KindRemote {
		metricOp = metrics.OpStoreRemote
	}
	r.opts.Metrics.RecordTiming(metricOp, time.Since(start))

	if err != nil {
		r.logger.Warn("store operation failed", "op", op, "backend", kind.String(), "error", err)
		return
	}
	r.logger.Debug("store operation", "op", op, "backend", kind.String(), "duration_ms", time.Since(start).Milliseconds())
}

// ListConversations lists the caller's conversations.
func (r *Router) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	b, id, kind, err := r.resolve("")
	if err != nil {
		return nil, err
	}
	start := time.Now()
	convs, err := b.ListConversations(ctx, id.OwnerKey)
	r.observe(kind, "list_conversations", start, err)
	return convs, err
}

// CreateConversation creates a conversation for the caller.
func (r *Router) CreateConversation(ctx context.Context, title string) (models.Conversation, error) {
	b, id, kind, err := r.resolve("")
	if err != nil {
		return models.Conversation{}, err
	}
	start := time.Now()
	conv, err := b.CreateConversation(ctx, id.OwnerKey, title)
	r.observe(kind, "create_conversation", start, err)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// ListMessages loads a conversation's history.
func (r *Router) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	b, _, kind, err := r.resolve(conversationID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	msgs, err := b.ListMessages(ctx, conversationID)
	r.observe(kind, "list_messages", start, err)
	return msgs, err
}

// AppendMessage persists one message into a conversation.
func (r *Router) AppendMessage(ctx context.Context, conversationID string, role models.Role, content string) (models.Message, error) {
	b, _, kind, err := r.resolve(conversationID)
	if err != nil {
		return models.Message{}, err
	}
	start := time.Now()
	msg, err := b.AppendMessage(ctx, conversationID, role, content)
	r.observe(kind, "append_message", start, err)
	if err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// DeleteConversation removes a conversation and its messages.
func (r *Router) DeleteConversation(ctx context.Context, conversationID string) error {
	b, _, kind, err := r.resolve(conversationID)
	if err != nil {
		return err
	}
	start := time.Now()
	err = b.DeleteConversation(ctx, conversationID)
	r.observe(kind, "delete_conversation", start, err)
	return err
}
