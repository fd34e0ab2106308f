package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/stats"
)

type stopReq struct {
	done chan struct{}
}

type ChatServer struct {
	log            *log.Logger
	db             database.ChatRepository
	stats          stats.StatsProvider
	presence       *Registry
	mirrors        []StatusWriter
	router         *Router
	rooms          map[int]*Room
	roomsLock      sync.Mutex
	unloadRoomChan chan int
	stop           chan stopReq
	done           chan struct{}
}

// NewChatServer wires the presence registry and message router. The
// repository always records the online flag; extra writers mirror it.
func NewChatServer(logger *log.Logger, db database.ChatRepository, su stats.StatsProvider, mirrors ...StatusWriter) (*ChatServer, error) {
	if db == nil {
		return nil, errors.New("chat server requires a repository")
	}

	for _, m := range []string{"ConnectedClients", "OnlineUsers", "ActiveRooms"} {
		su.RegisterMetric(m)
	}
	su.RegisterCounter("MessagesRouted")

	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		mirrors:        mirrors,
		rooms:          make(map[int]*Room),
		unloadRoomChan: make(chan int, 16),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}
	cs.presence = NewRegistry(logger, su, append([]StatusWriter{db}, mirrors...)...)
	cs.router = NewRouter(logger, db, db, cs.presence, cs, su)

	return cs, nil
}

// ResetPresence takes offline every user a previous process left marked
// online. It must run before the first connection is registered.
func (cs *ChatServer) ResetPresence(ctx context.Context) error {
	accounts, err := cs.db.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	var cleared int
	for _, acc := range accounts {
		stale := acc.IsOnline
		if acc.IsOnline {
			if err := cs.db.SetOnline(ctx, acc.Id, false); err != nil {
				return fmt.Errorf("reset presence of %d: %w", acc.Id, err)
			}
		}

		for _, m := range cs.mirrors {
			sr, ok := m.(StatusReader)
			if !ok {
				continue
			}
			online, err := sr.IsOnline(ctx, acc.Id)
			if err != nil {
				return fmt.Errorf("read mirrored presence of %d: %w", acc.Id, err)
			}
			if !online {
				continue
			}
			stale = true
			if err := m.SetOnline(ctx, acc.Id, false); err != nil {
				return fmt.Errorf("reset mirrored presence of %d: %w", acc.Id, err)
			}
		}

		if stale {
			cleared++
		}
	}

	if cleared > 0 {
		cs.log.Printf("reset stale presence of %d users", cleared)
	}
	return nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case id := <-cs.unloadRoomChan:
			cs.unloadRoom(id)
		case req := <-cs.stop:
			cs.log.Println("shutting down rooms")
			cs.roomsLock.Lock()
			for id, r := range cs.rooms {
				r.stop()
				delete(cs.rooms, id)
			}
			cs.roomsLock.Unlock()

			close(cs.done)
			close(req.done)
			return
		}
	}
}

// Shutdown closes every connection and waits for Run to exit. Every user
// still connected is taken offline, and persisted as such, before it returns.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	for _, c := range cs.presence.all() {
		c.stopClient()
		cs.UnregisterClient(ctx, c)
	}

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) Router() *Router { return cs.router }

func (cs *ChatServer) Presence() *Registry { return cs.presence }

// RegisterClient makes the connection reachable and confirms the session.
func (cs *ChatServer) RegisterClient(ctx context.Context, c *Client) {
	cs.log.Printf("adding connection %s for %q", c.id, c.user.Username)
	cs.presence.Register(ctx, c)
	c.queueMessage(Authenticated(c.user.Id))
}

func (cs *ChatServer) UnregisterClient(ctx context.Context, c *Client) {
	cs.log.Printf("removing connection %s for %q", c.id, c.user.Username)
	for _, r := range c.joinedRooms() {
		r.removeClient(c)
	}
	cs.presence.Unregister(ctx, c)
}

func (cs *ChatServer) room(groupId int) *Room {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	return cs.rooms[groupId]
}

// joinGroup subscribes the connection to a group room after re-checking
// membership.
func (cs *ChatServer) joinGroup(ctx context.Context, c *Client, groupId int) {
	if groupId <= 0 {
		c.queueMessage(NewError(CodeValidation, "invalid group", ""))
		return
	}

	ok, err := cs.db.IsGroupMember(ctx, c.user.Id, groupId)
	if err != nil {
		cs.log.Printf("check membership of %d in group %d: %v", c.user.Id, groupId, err)
		c.queueMessage(ErrServiceUnavailable(""))
		return
	}
	if !ok {
		c.queueMessage(NewError(CodeForbidden, "not a member of this group", ""))
		return
	}

	cs.roomsLock.Lock()
	r, exists := cs.rooms[groupId]
	if !exists {
		r = newRoom(groupId, cs)
		cs.rooms[groupId] = r
		cs.stats.Incr("ActiveRooms")
	}
	r.addClient(c)
	cs.roomsLock.Unlock()

	c.queueMessage(GroupJoined(groupId))
}

func (cs *ChatServer) leaveGroup(c *Client, groupId int) {
	if r := cs.room(groupId); r != nil {
		r.removeClient(c)
	}
	c.queueMessage(GroupLeft(groupId))
}

func (cs *ChatServer) requestGroups(ctx context.Context, c *Client) {
	groups, err := cs.db.ListGroups(ctx, c.user.Id)
	if err != nil {
		cs.log.Printf("list groups for %d: %v", c.user.Id, err)
		c.queueMessage(ErrServiceUnavailable(""))
		return
	}

	summaries := make([]GroupSummary, 0, len(groups))
	for _, g := range groups {
		summaries = append(summaries, GroupSummary{Id: g.Id, Name: g.Name})
	}
	c.queueMessage(UpdateGroups(summaries))
}

// RefreshGroups pushes the current group list to every connection of the user.
func (cs *ChatServer) RefreshGroups(ctx context.Context, userId int) {
	for _, c := range cs.presence.ConnectionsOf(userId) {
		cs.requestGroups(ctx, c)
	}
}

// unloadRoom drops a room that is still empty.
func (cs *ChatServer) unloadRoom(groupId int) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	r, ok := cs.rooms[groupId]
	if !ok || !r.isEmpty() {
		return
	}

	cs.log.Printf("removing room %d", groupId)
	r.stop()
	delete(cs.rooms, groupId)
	cs.stats.Decr("ActiveRooms")
}
