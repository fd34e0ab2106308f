package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/testutil"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type scenario struct {
	db                *database.MemoryChatRepository
	alice, bob, carol int
	group             int
}

// newScenario seeds A, B and C where A sent B three messages and two
// messages were posted to a group shared by A and B.
func newScenario(t *testing.T) scenario {
	t.Helper()
	ctx := context.Background()
	db := database.NewMemoryChatRepository()

	ids := make([]int, 3)
	for i, name := range []string{"alice", "bob", "carol"} {
		u, err := db.CreateAccount(ctx, database.CreateAccountParams{
			Username:     name,
			EmailAddress: name + "@example.com",
			PasswordHash: "hash",
		})
		require.NoError(t, err)
		ids[i] = u.Id
	}
	s := scenario{db: db, alice: ids[0], bob: ids[1], carol: ids[2]}

	g, err := db.CreateGroup(ctx, database.CreateGroupParams{Name: "G", OwnerId: s.alice, MemberIds: []int{s.bob}})
	require.NoError(t, err)
	s.group = g.Id

	for i := 0; i < 3; i++ {
		_, err := db.CreateMessage(ctx, database.CreateMessageParams{
			SenderId:   s.alice,
			ReceiverId: database.PrivateTarget(s.bob),
			Content:    fmt.Sprintf("dm %d", i),
		})
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := db.CreateMessage(ctx, database.CreateMessageParams{
			SenderId: s.alice,
			GroupId:  database.GroupTarget(s.group),
			Content:  fmt.Sprintf("group %d", i),
		})
		require.NoError(t, err)
	}

	return s
}

func TestTracker_UnreadCounts(t *testing.T) {
	s := newScenario(t)
	tr := NewTracker(testutil.TestLogger(t), s.db)
	ctx := context.Background()

	counts, err := tr.UnreadCounts(ctx, s.bob)
	require.NoError(t, err)
	assert.Equal(t, map[types.ChatId]int{
		types.PrivateChat(s.alice): 3,
		types.GroupChat(s.group):   2,
	}, counts)

	b, err := json.Marshal(counts)
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"user:%d":3,"group:%d":2}`, s.alice, s.group), string(b))

	counts, err = tr.UnreadCounts(ctx, s.alice)
	require.NoError(t, err)
	assert.Empty(t, counts, "expected own messages not to count as unread")

	counts, err = tr.UnreadCounts(ctx, s.carol)
	require.NoError(t, err)
	assert.Empty(t, counts, "expected conversations of others not to count")
	assert.NotNil(t, counts)
}

func TestTracker_MarkRead(t *testing.T) {
	s := newScenario(t)
	tr := NewTracker(testutil.TestLogger(t), s.db)
	ctx := context.Background()

	n, err := tr.MarkRead(ctx, s.bob, types.PrivateChat(s.alice))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = tr.MarkRead(ctx, s.bob, types.PrivateChat(s.alice))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "expected marking twice to be idempotent")

	counts, err := tr.UnreadCounts(ctx, s.bob)
	require.NoError(t, err)
	assert.Equal(t, map[types.ChatId]int{types.GroupChat(s.group): 2}, counts)

	n, err = tr.MarkRead(ctx, s.bob, types.GroupChat(s.group))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = tr.MarkRead(ctx, s.bob, types.PrivateChat(999))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "expected unknown peer to mark nothing")

	_, err = tr.MarkRead(ctx, s.carol, types.GroupChat(s.group))
	assert.ErrorIs(t, err, ErrForbidden)

	counts, err = tr.UnreadCounts(ctx, s.bob)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestTracker_StoreErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	db.On("IsGroupMember", mock.Anything, 1, 2).Return(false, boom)
	db.On("MarkChatRead", mock.Anything, 1, types.PrivateChat(3)).Return(0, boom)
	db.On("GetUnreadCounts", mock.Anything, 1).Return(nil, boom)

	tr := NewTracker(testutil.TestLogger(t), db)

	_, err := tr.MarkRead(ctx, 1, types.GroupChat(2))
	assert.ErrorIs(t, err, boom)

	_, err = tr.MarkRead(ctx, 1, types.PrivateChat(3))
	assert.ErrorIs(t, err, boom)

	_, err = tr.UnreadCounts(ctx, 1)
	assert.ErrorIs(t, err, boom)
}
