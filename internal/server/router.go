package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const maxContentLength = 4096

var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
)

// MessageStore persists messages and resolves recipients.
type MessageStore interface {
	GetAccountById(ctx context.Context, accountId int) (database.User, error)
	CreateMessage(ctx context.Context, params database.CreateMessageParams) (database.Message, error)
}

// GroupDirectory answers group membership questions.
type GroupDirectory interface {
	ListGroups(ctx context.Context, accountId int) ([]database.Group, error)
	IsGroupMember(ctx context.Context, accountId, groupId int) (bool, error)
}

type roomLookup interface {
	room(groupId int) *Room
}

// Router validates, persists and fans out messages. Every outcome is
// reported to the originating connection as an event; the returned error
// mirrors it for logging.
type Router struct {
	log      *log.Logger
	store    MessageStore
	groups   GroupDirectory
	presence *Registry
	rooms    roomLookup
	stats    stats.StatsProvider
}

func NewRouter(logger *log.Logger, store MessageStore, groups GroupDirectory, presence *Registry, rooms roomLookup, su stats.StatsProvider) *Router {
	return &Router{
		log:      logger,
		store:    store,
		groups:   groups,
		presence: presence,
		rooms:    rooms,
		stats:    su,
	}
}

func validateContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Errorf("%w: message is empty", ErrValidation)
	}
	if utf8.RuneCountInString(trimmed) > maxContentLength {
		return fmt.Errorf("%w: message exceeds %d characters", ErrValidation, maxContentLength)
	}
	return nil
}

func (rt *Router) reject(c *Client, code string, err error, clientMsgId string) error {
	c.queueMessage(NewError(code, err.Error(), clientMsgId))
	return err
}

// SendPrivate delivers a one-to-one message. Offline recipients get the
// message from history.
func (rt *Router) SendPrivate(ctx context.Context, sender *Client, req PrivateMessageRequest) error {
	from := sender.user.Id

	if err := validateContent(req.Message); err != nil {
		return rt.reject(sender, CodeValidation, err, req.ClientMsgId)
	}
	if req.ToUserId <= 0 {
		return rt.reject(sender, CodeValidation, fmt.Errorf("%w: invalid recipient", ErrValidation), req.ClientMsgId)
	}
	if req.ToUserId == from {
		return rt.reject(sender, CodeValidation, fmt.Errorf("%w: cannot message yourself", ErrValidation), req.ClientMsgId)
	}

	if _, err := rt.store.GetAccountById(ctx, req.ToUserId); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return rt.reject(sender, CodeNotFound, fmt.Errorf("recipient %d: %w", req.ToUserId, err), req.ClientMsgId)
		}
		rt.log.Printf("lookup recipient %d: %v", req.ToUserId, err)
		sender.queueMessage(ErrServiceUnavailable(req.ClientMsgId))
		return fmt.Errorf("lookup recipient: %w", err)
	}

	msg, err := rt.store.CreateMessage(ctx, database.CreateMessageParams{
		SenderId:   from,
		ReceiverId: database.PrivateTarget(req.ToUserId),
		Content:    req.Message,
	})
	if err != nil {
		rt.log.Printf("persist private message from %d: %v", from, err)
		sender.queueMessage(ErrPersistence(req.ClientMsgId))
		return fmt.Errorf("persist message: %w", err)
	}

	out := &ServerMessage{
		Event: EventPrivateMessage,
		Data: PrivateMessagePayload{
			Id:          msg.Id,
			FromUserId:  from,
			ToUserId:    req.ToUserId,
			Message:     msg.Content,
			Timestamp:   msg.CreatedAt,
			ClientMsgId: req.ClientMsgId,
		},
	}
	for _, c := range rt.presence.ConnectionsOf(req.ToUserId) {
		c.queueMessage(out)
	}

	rt.acknowledge(sender, req.ClientMsgId, msg, types.PrivateChat(req.ToUserId))
	return nil
}

// SendGroup delivers a message to every connection subscribed to the
// group except the originating one.
func (rt *Router) SendGroup(ctx context.Context, sender *Client, req GroupMessageRequest) error {
	from := sender.user.Id

	if err := validateContent(req.Message); err != nil {
		return rt.reject(sender, CodeValidation, err, req.ClientMsgId)
	}
	if req.GroupId <= 0 {
		return rt.reject(sender, CodeValidation, fmt.Errorf("%w: invalid group", ErrValidation), req.ClientMsgId)
	}

	ok, err := rt.groups.IsGroupMember(ctx, from, req.GroupId)
	if err != nil {
		rt.log.Printf("check membership of %d in group %d: %v", from, req.GroupId, err)
		sender.queueMessage(ErrServiceUnavailable(req.ClientMsgId))
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return rt.reject(sender, CodeForbidden, fmt.Errorf("%w: not a member of group %d", ErrForbidden, req.GroupId), req.ClientMsgId)
	}

	msg, err := rt.store.CreateMessage(ctx, database.CreateMessageParams{
		SenderId: from,
		GroupId:  database.GroupTarget(req.GroupId),
		Content:  req.Message,
	})
	if err != nil {
		rt.log.Printf("persist group message from %d: %v", from, err)
		sender.queueMessage(ErrPersistence(req.ClientMsgId))
		return fmt.Errorf("persist message: %w", err)
	}

	if room := rt.rooms.room(req.GroupId); room != nil {
		room.broadcast(&ServerMessage{
			Event: EventGroupMessage,
			Data: GroupMessagePayload{
				Id:          msg.Id,
				FromUserId:  from,
				GroupId:     req.GroupId,
				Message:     msg.Content,
				Timestamp:   msg.CreatedAt,
				ClientMsgId: req.ClientMsgId,
			},
		}, sender)
	}

	rt.acknowledge(sender, req.ClientMsgId, msg, types.GroupChat(req.GroupId))
	return nil
}

func (rt *Router) acknowledge(sender *Client, clientMsgId string, msg database.Message, chatId types.ChatId) {
	rt.stats.Incr("MessagesRouted")
	sender.queueMessage(&ServerMessage{
		Event: EventMessageSent,
		Data: MessageSentPayload{
			ClientMsgId: clientMsgId,
			MessageId:   msg.Id,
			ChatId:      chatId,
			Timestamp:   msg.CreatedAt,
		},
	})
}
