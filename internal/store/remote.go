package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/livechat/internal/db"
	"github.com/raphaelgruber/livechat/internal/models"
)

// RecordStore is the network record store behind the remote backend.
// *db.Client implements it.
type RecordStore interface {
	CreateConversation(ctx context.Context, userID, title string) (*models.ConversationRecord, error)
	ListConversations(ctx context.Context, userID string) ([]models.ConversationRecord, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.MessageRecord, error)
	CreateMessage(ctx context.Context, conversationID string, role models.Role, content string) (*models.MessageRecord, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

var _ RecordStore = (*db.Client)(nil)

// Remote is the durable backend for signed-in owners. Every failure is
// wrapped with ErrRemote.
type Remote struct {
	records RecordStore
}

func NewRemote(records RecordStore) *Remote {
	return &Remote{records: records}
}

func remoteErr(op string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w: %w", ErrRemote, op, ErrConversationNotFound, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrRemote, op, err)
}

func (r *Remote) ListConversations(ctx context.Context, owner string) ([]models.Conversation, error) {
	recs, err := r.records.ListConversations(ctx, owner)
	if err != nil {
		return nil, remoteErr("list conversations", err)
	}
	convs := make([]models.Conversation, 0, len(recs))
	for _, rec := range recs {
		c, err := rec.Conversation()
		if err != nil {
			return nil, remoteErr("list conversations", err)
		}
		convs = append(convs, c)
	}
	return convs, nil
}

func (r *Remote) CreateConversation(ctx context.Context, owner, title string) (models.Conversation, error) {
	rec, err := r.records.CreateConversation(ctx, owner, title)
	if err != nil {
		return models.Conversation{}, remoteErr("create conversation", err)
	}
	c, err := rec.Conversation()
	if err != nil {
		return models.Conversation{}, remoteErr("create conversation", err)
	}
	return c, nil
}

func (r *Remote) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	recs, err := r.records.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, remoteErr("list messages", err)
	}
	msgs := make([]models.Message, 0, len(recs))
	for _, rec := range recs {
		m, err := rec.Message()
		if err != nil {
			return nil, remoteErr("list messages", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (r *Remote) AppendMessage(ctx context.Context, conversationID string, role models.Role, content string) (models.Message, error) {
	if !role.Valid() {
		return models.Message{}, fmt.Errorf("invalid role %q", role)
	}
	rec, err := r.records.CreateMessage(ctx, conversationID, role, content)
	if err != nil {
		return models.Message{}, remoteErr("append message", err)
	}
	m, err := rec.Message()
	if err != nil {
		return models.Message{}, remoteErr("append message", err)
	}
	return m, nil
}

func (r *Remote) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := r.records.DeleteConversation(ctx, conversationID); err != nil {
		return remoteErr("delete conversation", err)
	}
	return nil
}
