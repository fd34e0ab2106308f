package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type ChatKind string

const (
	ChatKindUser  ChatKind = "user"
	ChatKindGroup ChatKind = "group"
)

var ErrInvalidChatId = errors.New("invalid chat id")

// ChatId identifies a conversation as seen by one user: the peer for a
// private chat or the group for a group chat. Its text form is
// "user:<peerId>" or "group:<groupId>".
type ChatId struct {
	Kind ChatKind
	Id   int
}

func PrivateChat(peerId int) ChatId {
	return ChatId{Kind: ChatKindUser, Id: peerId}
}

func GroupChat(groupId int) ChatId {
	return ChatId{Kind: ChatKindGroup, Id: groupId}
}

func (c ChatId) IsGroup() bool {
	return c.Kind == ChatKindGroup
}

func (c ChatId) String() string {
	return fmt.Sprintf("%s:%d", c.Kind, c.Id)
}

// ParseChatId parses the text form of a chat id. A bare positive integer is
// read as a private chat with that peer.
func ParseChatId(s string) (ChatId, error) {
	s = strings.TrimSpace(s)

	kind, rawId, found := strings.Cut(s, ":")
	if !found {
		kind, rawId = string(ChatKindUser), s
	}

	id, err := strconv.Atoi(rawId)
	if err != nil || id <= 0 {
		return ChatId{}, fmt.Errorf("%w: %q", ErrInvalidChatId, s)
	}

	switch ChatKind(kind) {
	case ChatKindUser, ChatKindGroup:
		return ChatId{Kind: ChatKind(kind), Id: id}, nil
	default:
		return ChatId{}, fmt.Errorf("%w: %q", ErrInvalidChatId, s)
	}
}

func (c ChatId) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ChatId) UnmarshalText(text []byte) error {
	parsed, err := ParseChatId(string(text))
	if err != nil {
		return err
	}

	*c = parsed
	return nil
}
