package server

import (
	"context"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/stats"
)

const statusWriteTimeout = 5 * time.Second

// StatusWriter persists the online flag of a user.
type StatusWriter interface {
	SetOnline(ctx context.Context, userId int, online bool) error
}

// StatusReader is implemented by writers that can report the flag they
// last stored.
type StatusReader interface {
	IsOnline(ctx context.Context, userId int) (bool, error)
}

// Registry tracks the live connections of every user. A user is online
// while it holds at least one connection.
//
// Transitions of a single user are serialized by the entry's own mutex so
// persistence I/O for one user never blocks another. The registry mutex
// only guards the map and connection sets and is never held across I/O.
type Registry struct {
	log     *log.Logger
	writers []StatusWriter
	stats   stats.StatsProvider

	mu      sync.Mutex
	entries map[int]*presenceEntry
}

type presenceEntry struct {
	transition sync.Mutex

	// guarded by Registry.mu
	conns map[*Client]struct{}
	refs  int
}

func NewRegistry(logger *log.Logger, su stats.StatsProvider, writers ...StatusWriter) *Registry {
	return &Registry{
		log:     logger,
		writers: writers,
		stats:   su,
		entries: make(map[int]*presenceEntry),
	}
}

// acquire returns the entry for userId, creating it if needed, and pins it
// until release.
func (r *Registry) acquire(userId int) *presenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userId]
	if !ok {
		e = &presenceEntry{conns: make(map[*Client]struct{})}
		r.entries[userId] = e
	}
	e.refs++

	return e
}

func (r *Registry) release(userId int, e *presenceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.refs--
	if e.refs == 0 && len(e.conns) == 0 {
		delete(r.entries, userId)
	}
}

// Register adds a connection. The first connection of a user makes the
// user online.
func (r *Registry) Register(ctx context.Context, c *Client) {
	userId := c.user.Id
	e := r.acquire(userId)
	defer r.release(userId, e)

	e.transition.Lock()
	defer e.transition.Unlock()

	r.mu.Lock()
	first := len(e.conns) == 0
	e.conns[c] = struct{}{}
	r.mu.Unlock()

	r.stats.Incr("ConnectedClients")
	if first {
		r.log.Printf("user %d online", userId)
		r.stats.Incr("OnlineUsers")
		r.transition(ctx, userId, true)
	}
}

// Unregister removes a connection. Removing the last connection makes the
// user offline. Unknown connections are ignored.
func (r *Registry) Unregister(ctx context.Context, c *Client) {
	userId := c.user.Id
	e := r.acquire(userId)
	defer r.release(userId, e)

	e.transition.Lock()
	defer e.transition.Unlock()

	r.mu.Lock()
	_, ok := e.conns[c]
	delete(e.conns, c)
	last := ok && len(e.conns) == 0
	r.mu.Unlock()

	if !ok {
		return
	}

	r.stats.Decr("ConnectedClients")
	if last {
		r.log.Printf("user %d offline", userId)
		r.stats.Decr("OnlineUsers")
		r.transition(ctx, userId, false)
	}
}

// transition persists the new status and then notifies every other online
// user. Persistence failures are logged only.
func (r *Registry) transition(ctx context.Context, userId int, online bool) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	for _, w := range r.writers {
		if err := w.SetOnline(wctx, userId, online); err != nil {
			r.log.Printf("persist online=%t for user %d: %v", online, userId, err)
		}
	}

	msg := UserOffline(userId)
	if online {
		msg = UserOnline(userId)
	}
	for _, c := range r.othersConnections(userId) {
		c.queueMessage(msg)
	}
}

func (r *Registry) othersConnections(userId int) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Client
	for id, e := range r.entries {
		if id == userId {
			continue
		}
		for c := range e.conns {
			out = append(out, c)
		}
	}

	return out
}

// ConnectionsOf returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsOf(userId int) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userId]
	if !ok {
		return nil
	}

	out := make([]*Client, 0, len(e.conns))
	for c := range e.conns {
		out = append(out, c)
	}

	return out
}

func (r *Registry) IsOnline(userId int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userId]
	return ok && len(e.conns) > 0
}

// OnlineUsers returns the sorted ids of every online user.
func (r *Registry) OnlineUsers() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int, 0, len(r.entries))
	for id, e := range r.entries {
		if len(e.conns) > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	return ids
}

// all returns every registered connection.
func (r *Registry) all() []*Client {
	return r.othersConnections(0)
}
