package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	IsOnline     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Group struct {
	Id        int
	Name      string
	OwnerId   int
	MemberIds []int
	CreatedAt time.Time
}

// Message targets either a single receiver or a group, never both.
type Message struct {
	Id         int
	SenderId   int
	ReceiverId *int
	GroupId    *int
	Content    string
	CreatedAt  time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateGroupParams struct {
	Name      string `json:"name"`
	OwnerId   int    `json:"-"`
	MemberIds []int  `json:"memberIds"`
}

type CreateMessageParams struct {
	SenderId   int
	ReceiverId *int
	GroupId    *int
	Content    string
}

func (p CreateMessageParams) validate() error {
	if p.SenderId <= 0 {
		return ErrInvalidMessage
	}
	if (p.ReceiverId == nil) == (p.GroupId == nil) {
		return ErrInvalidMessage
	}
	return nil
}

// MessageQuery pages conversation history backwards from Before.
type MessageQuery struct {
	Before int
	Limit  int
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

func (q MessageQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return defaultHistoryLimit
	case q.Limit > maxHistoryLimit:
		return maxHistoryLimit
	}
	return q.Limit
}

func (q MessageQuery) upper() int {
	if q.Before > 0 {
		return q.Before - 1
	}
	return 1<<31 - 1
}

func ptr(i int) *int { return &i }

// PrivateTarget and GroupTarget build the target half of CreateMessageParams.
func PrivateTarget(receiverId int) *int { return ptr(receiverId) }
func GroupTarget(groupId int) *int      { return ptr(groupId) }
