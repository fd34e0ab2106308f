package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

// Client to server events.
const (
	EventPrivateMessage = "private_message"
	EventGroupMessage   = "group_message"
	EventJoinGroup      = "join_group"
	EventLeaveGroup     = "leave_group"
	EventRequestGroups  = "request_groups"
)

// Server to client events. private_message and group_message are shared
// with the client to server direction.
const (
	EventAuthenticated = "authenticated"
	EventMessageSent   = "message_sent"
	EventUpdateGroups  = "update_groups"
	EventGroupJoined   = "group_joined"
	EventGroupLeft     = "group_left"
	EventUserOnline    = "user_online"
	EventUserOffline   = "user_offline"
	EventError         = "error"
)

// Error codes carried by error events.
const (
	CodeValidation         = "validation_error"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodePersistence        = "persistence_error"
	CodeInvalidMessage     = "invalid_message"
	CodeServiceUnavailable = "service_unavailable"
)

// ClientMessage is the envelope of every inbound frame.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is the envelope of every outbound frame.
type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type PrivateMessageRequest struct {
	ToUserId    int    `json:"toUserId"`
	Message     string `json:"message"`
	ClientMsgId string `json:"clientMsgId,omitempty"`
}

type GroupMessageRequest struct {
	GroupId     int    `json:"groupId"`
	Message     string `json:"message"`
	ClientMsgId string `json:"clientMsgId,omitempty"`
}

// GroupRequest is the payload of join_group and leave_group. Older clients
// send the bare group id instead of an object.
type GroupRequest struct {
	GroupId int `json:"groupId"`
}

func (g *GroupRequest) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] != '{' {
		var id int
		if err := json.Unmarshal(b, &id); err != nil {
			return fmt.Errorf("group id: %w", err)
		}
		g.GroupId = id
		return nil
	}

	type plain GroupRequest
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*g = GroupRequest(p)
	return nil
}

type PrivateMessagePayload struct {
	Id          int       `json:"id"`
	FromUserId  int       `json:"fromUserId"`
	ToUserId    int       `json:"toUserId"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	ClientMsgId string    `json:"clientMsgId,omitempty"`
}

type GroupMessagePayload struct {
	Id          int       `json:"id"`
	FromUserId  int       `json:"fromUserId"`
	GroupId     int       `json:"groupId"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	ClientMsgId string    `json:"clientMsgId,omitempty"`
}

type MessageSentPayload struct {
	ClientMsgId string       `json:"clientMsgId,omitempty"`
	MessageId   int          `json:"messageId"`
	ChatId      types.ChatId `json:"chatId"`
	Timestamp   time.Time    `json:"timestamp"`
}

type GroupSummary struct {
	Id   int    `json:"id"`
	Name string `json:"name"`
}

type GroupPayload struct {
	GroupId int `json:"groupId"`
}

type UserPayload struct {
	UserId int `json:"userId"`
}

type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ClientMsgId string `json:"clientMsgId,omitempty"`
}

func Authenticated(userId int) *ServerMessage {
	return &ServerMessage{Event: EventAuthenticated, Data: UserPayload{UserId: userId}}
}

func UserOnline(userId int) *ServerMessage {
	return &ServerMessage{Event: EventUserOnline, Data: UserPayload{UserId: userId}}
}

func UserOffline(userId int) *ServerMessage {
	return &ServerMessage{Event: EventUserOffline, Data: UserPayload{UserId: userId}}
}

func GroupJoined(groupId int) *ServerMessage {
	return &ServerMessage{Event: EventGroupJoined, Data: GroupPayload{GroupId: groupId}}
}

func GroupLeft(groupId int) *ServerMessage {
	return &ServerMessage{Event: EventGroupLeft, Data: GroupPayload{GroupId: groupId}}
}

func UpdateGroups(groups []GroupSummary) *ServerMessage {
	if groups == nil {
		groups = []GroupSummary{}
	}
	return &ServerMessage{Event: EventUpdateGroups, Data: groups}
}

func NewError(code, message, clientMsgId string) *ServerMessage {
	return &ServerMessage{
		Event: EventError,
		Data: ErrorPayload{
			Code:        code,
			Message:     message,
			ClientMsgId: clientMsgId,
		},
	}
}

func ErrInvalidMessage() *ServerMessage {
	return NewError(CodeInvalidMessage, "invalid message format", "")
}

func ErrServiceUnavailable(clientMsgId string) *ServerMessage {
	return NewError(CodeServiceUnavailable, "service unavailable", clientMsgId)
}

func ErrPersistence(clientMsgId string) *ServerMessage {
	return NewError(CodePersistence, "message could not be saved", clientMsgId)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
