package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/livechat/internal/db"
	"github.com/raphaelgruber/livechat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// fakeRecords is an in-memory RecordStore. Setting fail makes every call
// return that error.
type fakeRecords struct {
	mu    sync.Mutex
	seq   int
	convs []models.ConversationRecord
	msgs  []models.MessageRecord
	fail  error
}

func (f *fakeRecords) nextID(table string) surrealmodels.RecordID {
	f.seq++
	return surrealmodels.RecordID{Table: table, ID: fmt.Sprintf("id%d", f.seq)}
}

func (f *fakeRecords) CreateConversation(_ context.Context, userID, title string) (*models.ConversationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	now := time.Now()
	rec := models.ConversationRecord{ID: f.nextID("chat_conversation"), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	f.convs = append(f.convs, rec)
	return &rec, nil
}

func (f *fakeRecords) ListConversations(_ context.Context, userID string) ([]models.ConversationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	var out []models.ConversationRecord
	for i := len(f.convs) - 1; i >= 0; i-- {
		if f.convs[i].UserID == userID {
			out = append(out, f.convs[i])
		}
	}
	return out, nil
}

func (f *fakeRecords) ListMessages(_ context.Context, conversationID string) ([]models.MessageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	var out []models.MessageRecord
	for _, m := range f.msgs {
		if models.MustRecordIDString(m.Conversation) == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRecords) CreateMessage(_ context.Context, conversationID string, role models.Role, content string) (*models.MessageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	for i := range f.convs {
		if models.MustRecordIDString(f.convs[i].ID) == conversationID {
			f.convs[i].UpdatedAt = time.Now()
			rec := models.MessageRecord{
				ID:           f.nextID("chat_message"),
				Conversation: f.convs[i].ID,
				Role:         string(role),
				Content:      content,
				CreatedAt:    time.Now(),
			}
			f.msgs = append(f.msgs, rec)
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("create message: %w", db.ErrNotFound)
}

func (f *fakeRecords) DeleteConversation(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	keptConvs := f.convs[:0]
	for _, c := range f.convs {
		if models.MustRecordIDString(c.ID) != conversationID {
			keptConvs = append(keptConvs, c)
		}
	}
	f.convs = keptConvs
	keptMsgs := f.msgs[:0]
	for _, m := range f.msgs {
		if models.MustRecordIDString(m.Conversation) != conversationID {
			keptMsgs = append(keptMsgs, m)
		}
	}
	f.msgs = keptMsgs
	return nil
}

func TestRemoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := NewRemote(&fakeRecords{})

	conv, err := r.CreateConversation(ctx, "user-1", "Hello")
	require.NoError(t, err)
	assert.False(t, models.IsLocalID(conv.ID))

	_, err = r.AppendMessage(ctx, conv.ID, models.RoleUser, "Hello")
	require.NoError(t, err)
	saved, err := r.AppendMessage(ctx, conv.ID, models.RoleAssistant, "Hi there!")
	require.NoError(t, err)
	assert.True(t, saved.Complete)

	msgs, err := r.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hi there!", msgs[1].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)

	convs, err := r.ListConversations(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, conv.ID, convs[0].ID)

	require.NoError(t, r.DeleteConversation(ctx, conv.ID))
	msgs, err = r.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRemoteWrapsFailures(t *testing.T) {
	ctx := context.Background()
	outage := errors.New("dial tcp: connection refused")
	r := NewRemote(&fakeRecords{fail: outage})

	_, err := r.CreateConversation(ctx, "user-1", "x")
	assert.ErrorIs(t, err, ErrRemote)
	assert.ErrorIs(t, err, outage)

	_, err = r.ListConversations(ctx, "user-1")
	assert.ErrorIs(t, err, ErrRemote)

	_, err = r.ListMessages(ctx, "c1")
	assert.ErrorIs(t, err, ErrRemote)

	_, err = r.AppendMessage(ctx, "c1", models.RoleUser, "x")
	assert.ErrorIs(t, err, ErrRemote)

	assert.ErrorIs(t, r.DeleteConversation(ctx, "c1"), ErrRemote)
}

func TestRemoteMissingConversation(t *testing.T) {
	r := NewRemote(&fakeRecords{})
	_, err := r.AppendMessage(context.Background(), "nope", models.RoleUser, "x")
	assert.ErrorIs(t, err, ErrRemote)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, err, db.ErrNotFound)
}
