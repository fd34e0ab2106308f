package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusWrite struct {
	userId int
	online bool
}

// recordingWriter records every status write. When gate is set, writes for
// gateUser block until gate is closed.
type recordingWriter struct {
	mu       sync.Mutex
	writes   []statusWrite
	err      error
	gateUser int
	gate     chan struct{}
	entered  chan struct{}
	onWrite  func(userId int, online bool)
}

func (w *recordingWriter) SetOnline(ctx context.Context, userId int, online bool) error {
	if w.onWrite != nil {
		w.onWrite(userId, online)
	}
	if w.gate != nil && userId == w.gateUser {
		w.entered <- struct{}{}
		<-w.gate
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, statusWrite{userId, online})

	return w.err
}

func (w *recordingWriter) history(userId int) []bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []bool
	for _, s := range w.writes {
		if s.userId == userId {
			out = append(out, s.online)
		}
	}
	return out
}

func TestRegistry_Transitions(t *testing.T) {
	ctx := context.Background()
	db := database.NewMemoryChatRepository()
	seedUsers(t, db, 2)
	w := &recordingWriter{}
	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{}, w)
	reg := cs.presence

	bob := newTestClient(t, cs, 2)
	reg.Register(ctx, bob)
	drain(bob)

	alice1 := newTestClient(t, cs, 1)
	alice2 := newTestClient(t, cs, 1)

	// first connection brings alice online
	reg.Register(ctx, alice1)
	assert.True(t, reg.IsOnline(1))
	assert.Equal(t, []int{1, 2}, reg.OnlineUsers())
	assert.Equal(t, []bool{true}, w.history(1))
	acc, err := db.GetAccountById(ctx, 1)
	require.NoError(t, err)
	assert.True(t, acc.IsOnline, "expected online flag to be persisted")

	msgs := drain(bob)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventUserOnline, msgs[0].Event)
	assert.Equal(t, UserPayload{UserId: 1}, msgs[0].Data)
	assert.Empty(t, drain(alice1), "expected no self notification")

	// second connection is not a transition
	reg.Register(ctx, alice2)
	assert.Empty(t, drain(bob))
	assert.Equal(t, []bool{true}, w.history(1))
	assert.ElementsMatch(t, []*Client{alice1, alice2}, reg.ConnectionsOf(1))

	// closing one of two connections keeps alice online
	reg.Unregister(ctx, alice1)
	assert.True(t, reg.IsOnline(1))
	assert.Empty(t, drain(bob))
	assert.Equal(t, []*Client{alice2}, reg.ConnectionsOf(1))

	// unknown connections are ignored
	reg.Unregister(ctx, alice1)
	assert.Equal(t, []bool{true}, w.history(1))

	// closing the last connection takes alice offline
	reg.Unregister(ctx, alice2)
	assert.False(t, reg.IsOnline(1))
	assert.Empty(t, reg.ConnectionsOf(1))
	assert.Equal(t, []int{2}, reg.OnlineUsers())
	assert.Equal(t, []bool{true, false}, w.history(1))

	msgs = drain(bob)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventUserOffline, msgs[0].Event)

	acc, err = db.GetAccountById(ctx, 1)
	require.NoError(t, err)
	assert.False(t, acc.IsOnline)

	reg.mu.Lock()
	_, exists := reg.entries[1]
	reg.mu.Unlock()
	assert.False(t, exists, "expected empty entry to be removed")
}

func TestRegistry_PersistBeforeBroadcast(t *testing.T) {
	ctx := context.Background()
	db := database.NewMemoryChatRepository()
	seedUsers(t, db, 2)

	w := &recordingWriter{}
	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{}, w)
	bob := newTestClient(t, cs, 2)
	cs.presence.Register(ctx, bob)
	drain(bob)

	var queuedAtWrite int
	w.onWrite = func(userId int, online bool) {
		if userId == 1 {
			queuedAtWrite = len(bob.send)
		}
	}

	cs.presence.Register(ctx, newTestClient(t, cs, 1))
	assert.Equal(t, 0, queuedAtWrite, "expected status to be persisted before notifying")
	assert.Len(t, drain(bob), 1)
}

func TestRegistry_PersistenceFailure(t *testing.T) {
	ctx := context.Background()
	db := database.NewMemoryChatRepository()
	seedUsers(t, db, 2)

	w := &recordingWriter{err: errors.New("redis down")}
	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{}, w)
	bob := newTestClient(t, cs, 2)
	cs.presence.Register(ctx, bob)
	drain(bob)

	alice := newTestClient(t, cs, 1)
	cs.presence.Register(ctx, alice)

	assert.True(t, cs.presence.IsOnline(1), "expected transition to survive a failed write")
	assert.Equal(t, []string{EventUserOnline}, eventNames(drain(bob)))
}

func TestRegistry_PerUserIsolation(t *testing.T) {
	ctx := context.Background()
	db := database.NewMemoryChatRepository()
	seedUsers(t, db, 2)

	w := &recordingWriter{gateUser: 1, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{}, w)

	aliceDone := make(chan struct{})
	go func() {
		cs.presence.Register(ctx, newTestClient(t, cs, 1))
		close(aliceDone)
	}()
	<-w.entered

	bobDone := make(chan struct{})
	go func() {
		cs.presence.Register(ctx, newTestClient(t, cs, 2))
		close(bobDone)
	}()

	select {
	case <-bobDone:
	case <-time.After(time.Second):
		t.Fatal("expected bob's registration not to wait on alice's persistence")
	}

	// alice's own next transition must wait for the first
	aliceAgain := make(chan struct{})
	go func() {
		cs.presence.Register(ctx, newTestClient(t, cs, 1))
		close(aliceAgain)
	}()
	select {
	case <-aliceAgain:
		t.Fatal("expected alice's second registration to wait for the first transition")
	case <-time.After(50 * time.Millisecond):
	}

	close(w.gate)
	<-aliceDone
	<-aliceAgain
	assert.Len(t, cs.presence.ConnectionsOf(1), 2)
}

func TestRegistry_ConcurrentConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	db := database.NewMemoryChatRepository()
	seedUsers(t, db, 1)

	w := &recordingWriter{}
	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{}, w)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient(t, cs, 1)
			cs.presence.Register(ctx, c)
			cs.presence.Unregister(ctx, c)
		}()
	}
	wg.Wait()

	assert.False(t, cs.presence.IsOnline(1))

	history := w.history(1)
	require.NotEmpty(t, history)
	for i, online := range history {
		assert.Equal(t, i%2 == 0, online, "expected transitions to alternate, got %v", history)
	}
	assert.False(t, history[len(history)-1], "expected final persisted state to be offline")

	acc, err := db.GetAccountById(ctx, 1)
	require.NoError(t, err)
	assert.False(t, acc.IsOnline)

	cs.presence.mu.Lock()
	assert.Empty(t, cs.presence.entries)
	cs.presence.mu.Unlock()
}
