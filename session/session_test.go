package session

import (
	"context"
	"testing"

	"github.com/hashgraphonline/holdesk/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewService(st)
}

func TestCreateAppliesDefaults(t *testing.T) {
	svc := newTestService(t)

	sess, err := svc.Create(context.Background(), "  ", "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "New chat", sess.Title)
	assert.Equal(t, DefaultMode, sess.Mode)
}

func TestCreateAndGetRoundTrips(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "Token research", "agent")
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Token research", got.Title)
	assert.Equal(t, "agent", got.Mode)
}

func TestGetMissingSessionReturnsNil(t *testing.T) {
	svc := newTestService(t)

	got, err := svc.Get(context.Background(), "no-such-session")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRename(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "Before", "")
	require.NoError(t, err)

	require.NoError(t, svc.Rename(ctx, sess.ID, "After"))

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "After", got.Title)

	assert.Error(t, svc.Rename(ctx, "missing", "x"))
	assert.Error(t, svc.Rename(ctx, sess.ID, "  "))
}

func TestDeleteRemovesSessionAndMessages(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "Doomed", "")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, sess.ID, "user", "hello", "")
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = svc.Delete(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	msgs, err := svc.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAppendAndListMessagesInOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "Chat", "")
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, sess.ID, "user", "what is my balance?", "")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, sess.ID, "assistant", "100.00 HBAR", `{"source":"mirror"}`)
	require.NoError(t, err)

	msgs, err := svc.Messages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "what is my balance?", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, `{"source":"mirror"}`, msgs[1].Metadata)
}

func TestAppendMessageToMissingSessionFails(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.AppendMessage(context.Background(), "missing", "user", "hi", "")
	assert.Error(t, err)
}

func TestListOrdersByRecentActivity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "first", "")
	require.NoError(t, err)
	second, err := svc.Create(ctx, "second", "")
	require.NoError(t, err)

	// Activity on the older session should float it to the top.
	_, err = svc.AppendMessage(ctx, first.ID, "user", "bump", "")
	require.NoError(t, err)

	sessions, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.Equal(t, second.ID, sessions[1].ID)
}
