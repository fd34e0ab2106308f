package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
	sendQueueSize  = 256
)

// Client is one live WebSocket connection of an authenticated user.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerMessage
	rooms      map[int]*Room
	roomsLock  sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:         shortid.MustGenerate(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, sendQueueSize),
		rooms:      make(map[int]*Room),
		ctx:        ctx,
		cancel:     cancel,
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string { return c.id }

func (c *Client) User() types.User { return c.user }

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Printf("serialize %s event: %v", msg.Event, err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Printf("parse message from %s: %v", c.id, err)
			c.queueMessage(ErrInvalidMessage())
			continue
		}

		c.handle(&msg)
	}
}

// handle dispatches one inbound event. Events of a connection are handled
// in arrival order.
func (c *Client) handle(msg *ClientMessage) {
	cs := c.chatServer

	switch msg.Event {
	case EventPrivateMessage:
		var req PrivateMessageRequest
		if !c.decode(msg, &req) {
			return
		}
		if err := cs.router.SendPrivate(c.ctx, c, req); err != nil {
			c.log.Printf("private message from %d: %v", c.user.Id, err)
		}
	case EventGroupMessage:
		var req GroupMessageRequest
		if !c.decode(msg, &req) {
			return
		}
		if err := cs.router.SendGroup(c.ctx, c, req); err != nil {
			c.log.Printf("group message from %d: %v", c.user.Id, err)
		}
	case EventJoinGroup:
		var req GroupRequest
		if !c.decode(msg, &req) {
			return
		}
		cs.joinGroup(c.ctx, c, req.GroupId)
	case EventLeaveGroup:
		var req GroupRequest
		if !c.decode(msg, &req) {
			return
		}
		cs.leaveGroup(c, req.GroupId)
	case EventRequestGroups:
		cs.requestGroups(c.ctx, c)
	default:
		c.log.Printf("unknown event %q from %s", msg.Event, c.id)
		c.queueMessage(ErrInvalidMessage())
	}
}

func (c *Client) decode(msg *ClientMessage, v any) bool {
	if len(msg.Data) == 0 {
		c.queueMessage(ErrInvalidMessage())
		return false
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		c.log.Printf("decode %s payload: %v", msg.Event, err)
		c.queueMessage(ErrInvalidMessage())
		return false
	}
	return true
}

// queueMessage never blocks. A full queue drops msg for this connection.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send queue full for client %s, dropping %s event", c.id, msg.Event)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.cancel()
	c.chatServer.UnregisterClient(context.Background(), c)
	c.stopClient()
}

func (c *Client) delRoom(id int) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.groupId] = r
}

func (c *Client) joinedRooms() []*Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	out := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r)
	}
	return out
}
