package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raphaelgruber/livechat/internal/models"
)

// Keys mirror the browser local-storage layout.
const (
	conversationsKey  = "chat_conversations"
	messagesKeyPrefix = "chat_messages_"
)

func messagesKey(conversationID string) string {
	return messagesKeyPrefix + conversationID
}

// Local is the ephemeral backend for anonymous callers. Conversations are
// one JSON array; each conversation's messages are another.
type Local struct {
	kv  KeyValue
	now func() time.Time

	// read-modify-write of the conversation index must not interleave
	mu sync.Mutex
}

// NewLocal creates a local backend over kv; nil uses a MemoryKV.
func NewLocal(kv KeyValue) *Local {
	if kv == nil {
		kv = NewMemoryKV()
	}
	return &Local{kv: kv, now: time.Now}
}

// ListConversations ignores owner: local storage belongs to this client.
func (l *Local) ListConversations(ctx context.Context, _ string) ([]models.Conversation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadConversations(ctx)
}

func (l *Local) CreateConversation(ctx context.Context, _ string, title string) (models.Conversation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	convs, err := l.loadConversations(ctx)
	if err != nil {
		return models.Conversation{}, err
	}

	now := l.now()
	conv := models.Conversation{
		ID:        models.NewLocalConversationID(now),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	convs = append([]models.Conversation{conv}, convs...)
	if err := l.saveJSON(ctx, conversationsKey, convs); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

func (l *Local) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadMessages(ctx, conversationID)
}

func (l *Local) AppendMessage(ctx context.Context, conversationID string, role models.Role, content string) (models.Message, error) {
	if !role.Valid() {
		return models.Message{}, fmt.Errorf("invalid role %q", role)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	convs, err := l.loadConversations(ctx)
	if err != nil {
		return models.Message{}, err
	}
	idx := -1
	for i := range convs {
		if convs[i].ID == conversationID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.Message{}, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}

	msgs, err := l.loadMessages(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}

	now := l.now()
	msg := models.Message{
		ID:        models.NewMessageID("local"),
		Role:      role,
		Content:   content,
		CreatedAt: now,
		Complete:  true,
	}
	if err := l.saveJSON(ctx, messagesKey(conversationID), append(msgs, msg)); err != nil {
		return models.Message{}, err
	}

	convs[idx].UpdatedAt = now
	if err := l.saveJSON(ctx, conversationsKey, sortConversations(convs)); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (l *Local) DeleteConversation(ctx context.Context, conversationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	convs, err := l.loadConversations(ctx)
	if err != nil {
		return err
	}
	kept := convs[:0]
	for _, c := range convs {
		if c.ID != conversationID {
			kept = append(kept, c)
		}
	}
	if err := l.saveJSON(ctx, conversationsKey, kept); err != nil {
		return err
	}
	return l.kv.Delete(ctx, messagesKey(conversationID))
}

func (l *Local) loadConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	if err := l.loadJSON(ctx, conversationsKey, &convs); err != nil {
		return nil, err
	}
	return sortConversations(convs), nil
}

func (l *Local) loadMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := l.loadJSON(ctx, messagesKey(conversationID), &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

func (l *Local) loadJSON(ctx context.Context, key string, v any) error {
	data, ok, err := l.kv.Get(ctx, key)
	if err != nil || !ok {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (l *Local) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return l.kv.Set(ctx, key, data)
}

// sortConversations orders newest activity first; ties keep stored order.
func sortConversations(convs []models.Conversation) []models.Conversation {
	if convs == nil {
		return []models.Conversation{}
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs
}
