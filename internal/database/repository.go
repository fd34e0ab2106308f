package database

import (
	"context"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

type ChatRepository interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, accountId int) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
	ListAccounts(ctx context.Context) ([]User, error)
	SetOnline(ctx context.Context, accountId int, online bool) error
	CreateGroup(ctx context.Context, params CreateGroupParams) (Group, error)
	ListGroups(ctx context.Context, accountId int) ([]Group, error)
	IsGroupMember(ctx context.Context, accountId, groupId int) (bool, error)
	ListGroupMembers(ctx context.Context, groupId int) ([]User, error)
	JoinGroup(ctx context.Context, accountId, groupId int) (bool, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetPrivateMessages(ctx context.Context, accountId, peerId int, q MessageQuery) ([]Message, error)
	GetGroupMessages(ctx context.Context, groupId int, q MessageQuery) ([]Message, error)
	MarkChatRead(ctx context.Context, accountId int, chatId types.ChatId) (int, error)
	GetUnreadCounts(ctx context.Context, accountId int) (map[types.ChatId]int, error)
}
