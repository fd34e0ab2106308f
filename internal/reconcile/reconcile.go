// Package reconcile keeps a client's local view of conversations consistent
// with what the server confirmed. Sends are rendered optimistically as
// pending entries and later replaced in place; every server message is
// rendered at most once no matter how often it is observed.
package reconcile

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

type Entry struct {
	LocalId     string
	ClientMsgId string
	Id          int
	ChatId      types.ChatId
	FromUserId  int
	Content     string
	Timestamp   time.Time
	Status      Status
}

// Inbound is a server message as observed by the client, either from a
// real-time event or from a history fetch.
type Inbound struct {
	Id          int
	ChatId      types.ChatId
	FromUserId  int
	Content     string
	Timestamp   time.Time
	ClientMsgId string
}

type Reconciler struct {
	self int

	mu    sync.Mutex
	chats map[types.ChatId][]*Entry
	seen  map[int]struct{}
}

func New(selfId int) *Reconciler {
	return &Reconciler{
		self:  selfId,
		chats: make(map[types.ChatId][]*Entry),
		seen:  make(map[int]struct{}),
	}
}

// AddPending renders an optimistic entry. Its ClientMsgId must be sent
// with the message so the server confirmation can be matched.
func (r *Reconciler) AddPending(chatId types.ChatId, content string) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	e := &Entry{
		LocalId:     "temp-" + id,
		ClientMsgId: id,
		ChatId:      chatId,
		FromUserId:  r.self,
		Content:     content,
		Timestamp:   time.Now().UTC(),
		Status:      StatusPending,
	}
	r.chats[chatId] = append(r.chats[chatId], e)

	return *e
}

// findPending returns the pending entry with the given correlation id or,
// when none matches, the oldest pending entry of chatId satisfying match.
func (r *Reconciler) findPending(chatId types.ChatId, clientMsgId string, match func(*Entry) bool) (int, *Entry) {
	entries := r.chats[chatId]
	if clientMsgId != "" {
		for i, e := range entries {
			if e.Status == StatusPending && e.ClientMsgId == clientMsgId {
				return i, e
			}
		}
	}
	for i, e := range entries {
		if e.Status == StatusPending && match(e) {
			return i, e
		}
	}
	return -1, nil
}

// settle turns a pending entry into the confirmed server message. If the
// message was already rendered the pending entry is dropped instead.
func (r *Reconciler) settle(chatId types.ChatId, idx int, e *Entry, id int, ts time.Time) {
	if _, dup := r.seen[id]; dup {
		r.chats[chatId] = append(r.chats[chatId][:idx], r.chats[chatId][idx+1:]...)
		return
	}
	r.seen[id] = struct{}{}
	e.Id = id
	e.Status = StatusSent
	if !ts.IsZero() {
		e.Timestamp = ts
	}
}

// Confirm applies a message_sent acknowledgement. Without a correlation
// id the oldest pending entry of the chat is confirmed, since a
// connection's acknowledgements arrive in send order.
func (r *Reconciler) Confirm(ack server.MessageSentPayload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, e := r.findPending(ack.ChatId, ack.ClientMsgId, func(e *Entry) bool {
		return ack.ClientMsgId == ""
	})
	if e == nil {
		return false
	}
	r.settle(ack.ChatId, idx, e, ack.MessageId, ack.Timestamp)

	return true
}

// Receive renders a server message once. It returns false for messages
// already rendered. Own messages settle a matching pending entry in place,
// matched by correlation id or, for servers that do not echo it, by
// pending status and content.
func (r *Reconciler) Receive(m Inbound) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.seen[m.Id]; dup {
		return false
	}

	if m.FromUserId == r.self {
		idx, e := r.findPending(m.ChatId, m.ClientMsgId, func(e *Entry) bool {
			// a foreign correlation id belongs to another device
			return m.ClientMsgId == "" && e.Content == m.Content
		})
		if e != nil {
			r.settle(m.ChatId, idx, e, m.Id, m.Timestamp)
			return true
		}
	}

	r.seen[m.Id] = struct{}{}
	r.chats[m.ChatId] = append(r.chats[m.ChatId], &Entry{
		Id:          m.Id,
		ClientMsgId: m.ClientMsgId,
		ChatId:      m.ChatId,
		FromUserId:  m.FromUserId,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		Status:      StatusSent,
	})

	return true
}

// LoadHistory renders a fetched page and returns how many messages were new.
func (r *Reconciler) LoadHistory(messages []Inbound) int {
	n := 0
	for _, m := range messages {
		if r.Receive(m) {
			n++
		}
	}
	return n
}

// Fail marks the pending entry as failed. Failed entries are never
// confirmed afterwards.
func (r *Reconciler) Fail(clientMsgId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entries := range r.chats {
		for _, e := range entries {
			if e.Status == StatusPending && e.ClientMsgId == clientMsgId {
				e.Status = StatusFailed
				return true
			}
		}
	}
	return false
}

// Messages returns the rendered conversation in arrival order.
func (r *Reconciler) Messages(chatId types.ChatId) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.chats[chatId]))
	for _, e := range r.chats[chatId] {
		out = append(out, *e)
	}
	return out
}

// FromPrivateMessage converts a private_message event seen by self.
func FromPrivateMessage(self int, p server.PrivateMessagePayload) Inbound {
	peer := p.FromUserId
	if peer == self {
		peer = p.ToUserId
	}
	return Inbound{
		Id:          p.Id,
		ChatId:      types.PrivateChat(peer),
		FromUserId:  p.FromUserId,
		Content:     p.Message,
		Timestamp:   p.Timestamp,
		ClientMsgId: p.ClientMsgId,
	}
}

func FromGroupMessage(p server.GroupMessagePayload) Inbound {
	return Inbound{
		Id:          p.Id,
		ChatId:      types.GroupChat(p.GroupId),
		FromUserId:  p.FromUserId,
		Content:     p.Message,
		Timestamp:   p.Timestamp,
		ClientMsgId: p.ClientMsgId,
	}
}

// FromHistory converts a stored message fetched for self.
func FromHistory(self int, m types.Message) Inbound {
	return Inbound{
		Id:         m.Id,
		ChatId:     m.ChatFor(self),
		FromUserId: m.SenderId,
		Content:    m.Content,
		Timestamp:  m.CreatedAt,
	}
}
