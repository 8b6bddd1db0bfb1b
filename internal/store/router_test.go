package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/raphaelgruber/livechat/internal/metrics"
	"github.com/raphaelgruber/livechat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterAnonymousUsesLocal(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRecords{}
	r := NewRouter(Options{
		Identity: NewSession(""),
		Remote:   NewRemote(remote),
	}, testLogger())

	conv, err := r.CreateConversation(ctx, models.TitleFromText("Hello"))
	require.NoError(t, err)
	assert.True(t, models.IsLocalID(conv.ID))

	msg, err := r.AppendMessage(ctx, conv.ID, models.RoleUser, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello", msg.Content)

	convs, err := r.ListConversations(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, convs)
	assert.Equal(t, conv.ID, convs[0].ID, "new conversation is listed first")

	msgs, err := r.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)

	assert.Empty(t, remote.convs, "remote store is never touched")
}

func TestRouterOwnerUsesRemote(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRecords{}
	r := NewRouter(Options{
		Identity: NewSession("user-1"),
		Remote:   NewRemote(remote),
	}, testLogger())

	conv, err := r.CreateConversation(ctx, "Hi")
	require.NoError(t, err)
	assert.False(t, models.IsLocalID(conv.ID))
	require.Len(t, remote.convs, 1)
	assert.Equal(t, "user-1", remote.convs[0].UserID)

	_, err = r.AppendMessage(ctx, conv.ID, models.RoleUser, "Hi")
	require.NoError(t, err)
	assert.Len(t, remote.msgs, 1)
}

func TestRouterResolvesIdentityPerCall(t *testing.T) {
	ctx := context.Background()
	session := NewSession("")
	remote := &fakeRecords{}
	r := NewRouter(Options{Identity: session, Remote: NewRemote(remote)}, testLogger())

	local, err := r.CreateConversation(ctx, "before sign-in")
	require.NoError(t, err)
	require.True(t, models.IsLocalID(local.ID))

	session.SignIn("user-1")

	// local conversations stay local after sign-in
	_, err = r.AppendMessage(ctx, local.ID, models.RoleUser, "still local")
	require.NoError(t, err)
	assert.Empty(t, remote.msgs)

	// listing now goes remote; local history is not migrated
	convs, err := r.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, convs)

	created, err := r.CreateConversation(ctx, "after sign-in")
	require.NoError(t, err)
	assert.False(t, models.IsLocalID(created.ID))

	session.SignOut()
	convs, err = r.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, local.ID, convs[0].ID)
}

func TestRouterRemoteUnavailable(t *testing.T) {
	r := NewRouter(Options{Identity: NewSession("user-1")}, testLogger())

	_, err := r.CreateConversation(context.Background(), "x")
	assert.ErrorIs(t, err, ErrRemoteUnavailable)

	_, err = r.ListConversations(context.Background())
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestRouterRemoteFailureLeavesLocalIntact(t *testing.T) {
	ctx := context.Background()
	session := NewSession("")
	remote := &fakeRecords{}
	r := NewRouter(Options{Identity: session, Remote: NewRemote(remote)}, testLogger())

	local, err := r.CreateConversation(ctx, "local")
	require.NoError(t, err)
	_, err = r.AppendMessage(ctx, local.ID, models.RoleUser, "kept")
	require.NoError(t, err)

	session.SignIn("user-1")
	remote.fail = errors.New("503")
	_, err = r.CreateConversation(ctx, "remote")
	assert.ErrorIs(t, err, ErrRemote)

	msgs, err := r.ListMessages(ctx, local.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Content)
}

func TestRouterRecordsTimings(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewCollector()
	session := NewSession("")
	r := NewRouter(Options{Identity: session, Remote: NewRemote(&fakeRecords{}), Metrics: m}, testLogger())

	_, err := r.ListConversations(ctx)
	require.NoError(t, err)
	session.SignIn("user-1")
	_, err = r.ListConversations(ctx)
	require.NoError(t, err)

	snap := m.Snapshot()
	require.NotNil(t, snap.StoreLocal)
	require.NotNil(t, snap.StoreRemote)
	assert.Equal(t, int64(1), snap.StoreLocal.Count)
	assert.Equal(t, int64(1), snap.StoreRemote.Count)
}
