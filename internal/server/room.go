package server

import (
	"log"
	"sync"
	"time"
)

const idleRoomTimeout = time.Second * 5

// Room is the set of connections currently subscribed to a group.
type Room struct {
	groupId    int
	cs         *ChatServer
	log        *log.Logger
	clients    map[*Client]struct{}
	clientLock sync.RWMutex
	// killTimer unloads the room once it has been empty for idleRoomTimeout
	killTimer *time.Timer
}

func newRoom(groupId int, cs *ChatServer) *Room {
	r := &Room{
		groupId: groupId,
		cs:      cs,
		log:     cs.log,
		clients: make(map[*Client]struct{}),
	}
	r.killTimer = time.AfterFunc(idleRoomTimeout, r.handleRoomTimeout)
	r.killTimer.Stop()

	return r
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %d timed out", r.groupId)
	select {
	case r.cs.unloadRoomChan <- r.groupId:
	case <-r.cs.done:
	}
}

// addClient returns false when the client was already in the room.
func (r *Room) addClient(c *Client) bool {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; ok {
		return false
	}

	r.killTimer.Stop()
	r.clients[c] = struct{}{}
	c.addRoom(r)

	return true
}

// removeClient returns false when the client was not in the room.
func (r *Room) removeClient(c *Client) bool {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return false
	}

	delete(r.clients, c)
	c.delRoom(r.groupId)

	if len(r.clients) == 0 {
		r.log.Printf("no clients in room %d, starting kill timer", r.groupId)
		r.killTimer.Reset(idleRoomTimeout)
	}

	return true
}

func (r *Room) isEmpty() bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	return len(r.clients) == 0
}

func (r *Room) snapshot() []*Client {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}

	return out
}

// broadcast queues msg on every connection in the room except skip.
func (r *Room) broadcast(msg *ServerMessage, skip *Client) int {
	n := 0
	for _, c := range r.snapshot() {
		if c == skip {
			continue
		}
		if c.queueMessage(msg) {
			n++
		}
	}

	return n
}

func (r *Room) stop() {
	r.killTimer.Stop()
}
