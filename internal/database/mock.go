package database

import (
	"context"

	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(ctx context.Context, accountId int) (User, error) {
	args := m.Called(ctx, accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) ListAccounts(ctx context.Context) ([]User, error) {
	args := m.Called(ctx)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockChatRepository) SetOnline(ctx context.Context, accountId int, online bool) error {
	args := m.Called(ctx, accountId, online)
	return args.Error(0)
}
func (m *MockChatRepository) CreateGroup(ctx context.Context, params CreateGroupParams) (Group, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Group), args.Error(1)
}
func (m *MockChatRepository) ListGroups(ctx context.Context, accountId int) ([]Group, error) {
	args := m.Called(ctx, accountId)
	return args.Get(0).([]Group), args.Error(1)
}
func (m *MockChatRepository) IsGroupMember(ctx context.Context, accountId, groupId int) (bool, error) {
	args := m.Called(ctx, accountId, groupId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) ListGroupMembers(ctx context.Context, groupId int) ([]User, error) {
	args := m.Called(ctx, groupId)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockChatRepository) JoinGroup(ctx context.Context, accountId, groupId int) (bool, error) {
	args := m.Called(ctx, accountId, groupId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetPrivateMessages(ctx context.Context, accountId, peerId int, q MessageQuery) ([]Message, error) {
	args := m.Called(ctx, accountId, peerId, q)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) GetGroupMessages(ctx context.Context, groupId int, q MessageQuery) ([]Message, error) {
	args := m.Called(ctx, groupId, q)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) MarkChatRead(ctx context.Context, accountId int, chatId types.ChatId) (int, error) {
	args := m.Called(ctx, accountId, chatId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) GetUnreadCounts(ctx context.Context, accountId int) (map[types.ChatId]int, error) {
	args := m.Called(ctx, accountId)
	if counts, ok := args.Get(0).(map[types.ChatId]int); ok {
		return counts, args.Error(1)
	}
	return nil, args.Error(1)
}
