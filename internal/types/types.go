package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"emailAddress,omitempty"`
	IsOnline     bool      `json:"isOnline"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

type Group struct {
	Id        int       `json:"id"`
	Name      string    `json:"name"`
	OwnerId   int       `json:"ownerId,omitempty"`
	MemberIds []int     `json:"memberIds,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Message is a persisted message. Exactly one of ReceiverId and GroupId is set.
type Message struct {
	Id         int       `json:"id"`
	SenderId   int       `json:"senderId"`
	ReceiverId *int      `json:"receiverId,omitempty"`
	GroupId    *int      `json:"groupId,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ChatFor returns the conversation the message belongs to from userId's point of view.
func (m Message) ChatFor(userId int) ChatId {
	if m.GroupId != nil {
		return GroupChat(*m.GroupId)
	}

	if m.SenderId == userId && m.ReceiverId != nil {
		return PrivateChat(*m.ReceiverId)
	}

	return PrivateChat(m.SenderId)
}
