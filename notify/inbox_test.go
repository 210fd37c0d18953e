package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexlx/marconilink/kv"
)

func newTestInbox(size int) *Inbox {
	in := NewInbox(kv.NewMemory(), size)
	in.now = func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }
	return in
}

func TestInbox_Subscriptions(t *testing.T) {
	ctx := context.Background()
	in := newTestInbox(0)

	_, ok, err := in.State(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, in.Subscribe(ctx, "u2"))
	require.NoError(t, in.Subscribe(ctx, "u1"))
	require.NoError(t, in.SaveState(ctx, "u1", State{UserPosition: 3}))
	require.NoError(t, in.Subscribe(ctx, "u1"), "resubscribing keeps state")

	st, ok, err := in.State(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, st.UserPosition)
	assert.NotNil(t, st.UserPostComments)

	ids, err := in.Subscribers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)

	require.NoError(t, in.Unsubscribe(ctx, "u2"))
	ids, err = in.Subscribers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)
}

func TestInbox_AppendCapsAndMarksRead(t *testing.T) {
	ctx := context.Background()
	in := newTestInbox(3)

	list, err := in.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	for i := 0; i < 5; i++ {
		require.NoError(t, in.Append(ctx, "u1", Notification{Title: fmt.Sprintf("n%d", i), Tag: TagNewPosts}))
	}
	list, err = in.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "n2", list[0].Title)
	assert.Equal(t, "n4", list[2].Title)
	assert.Equal(t, "u1", list[0].UserID)
	assert.NotEmpty(t, list[0].ID)
	assert.NotEqual(t, list[0].ID, list[1].ID)

	n, err := in.MarkRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = in.MarkRead(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err = in.List(ctx, "u1")
	require.NoError(t, err)
	for _, item := range list {
		require.NotNil(t, item.ReadAt)
	}
}

func TestInbox_Broadcast(t *testing.T) {
	ctx := context.Background()
	in := newTestInbox(0)
	require.NoError(t, in.Subscribe(ctx, "a"))
	require.NoError(t, in.Subscribe(ctx, "b"))

	n, err := in.Broadcast(ctx, Notification{Title: "Sciopero", Message: "Domani niente lezioni"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"a", "b"} {
		list, err := in.List(ctx, id)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, TagBroadcast, list[0].Tag)
		assert.Equal(t, id, list[0].UserID)
	}
}
