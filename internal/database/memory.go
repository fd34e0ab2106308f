package database

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

// MemoryChatRepository is a process-local ChatRepository used for
// development (-dsn memory://) and tests.
type MemoryChatRepository struct {
	mu       sync.RWMutex
	accounts map[int]User
	groups   map[int]Group
	members  map[int]map[int]struct{} // groupId -> accountIds
	messages []Message                // ordered by id
	reads    map[int]map[int]time.Time // messageId -> accountId -> readAt
	nextId   struct{ account, group, message int }
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		accounts: make(map[int]User),
		groups:   make(map[int]Group),
		members:  make(map[int]map[int]struct{}),
		reads:    make(map[int]map[int]time.Time),
	}
}

func (m *MemoryChatRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryChatRepository) Close() error { return nil }

func (m *MemoryChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.accounts {
		if u.EmailAddress == params.EmailAddress || u.Username == params.Username {
			return User{}, fmt.Errorf("create account: %w", ErrConflict)
		}
	}

	m.nextId.account++
	u := User{
		Id:           m.nextId.account,
		Username:     params.Username,
		EmailAddress: params.EmailAddress,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.accounts[u.Id] = u

	u.PasswordHash = ""
	return u, nil
}

func (m *MemoryChatRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.accounts[id]
	if !ok {
		return User{}, fmt.Errorf("get account: %w", ErrNotFound)
	}
	u.PasswordHash = ""

	return u, nil
}

func (m *MemoryChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.accounts {
		if u.EmailAddress == email {
			return u, nil
		}
	}

	return User{}, fmt.Errorf("get account by email: %w", ErrNotFound)
}

func (m *MemoryChatRepository) ListAccounts(ctx context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]User, 0, len(m.accounts))
	for _, u := range m.accounts {
		u.PasswordHash = ""
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b User) int { return a.Id - b.Id })

	return users, nil
}

func (m *MemoryChatRepository) SetOnline(ctx context.Context, accountId int, online bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.accounts[accountId]
	if !ok {
		return fmt.Errorf("set online: %w", ErrNotFound)
	}
	u.IsOnline = online
	u.UpdatedAt = time.Now().UTC()
	m.accounts[accountId] = u

	return nil
}

func (m *MemoryChatRepository) CreateGroup(ctx context.Context, params CreateGroupParams) (Group, error) {
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	members := groupMembers(params)
	for _, id := range members {
		if _, ok := m.accounts[id]; !ok {
			return Group{}, fmt.Errorf("add group members: %w", ErrNotFound)
		}
	}

	m.nextId.group++
	g := Group{
		Id:        m.nextId.group,
		Name:      params.Name,
		OwnerId:   params.OwnerId,
		CreatedAt: time.Now().UTC(),
	}
	m.groups[g.Id] = g

	set := make(map[int]struct{}, len(members))
	for _, id := range members {
		set[id] = struct{}{}
	}
	m.members[g.Id] = set

	g.MemberIds = members
	return g, nil
}

func (m *MemoryChatRepository) ListGroups(ctx context.Context, accountId int) ([]Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var groups []Group
	for id, set := range m.members {
		if _, ok := set[accountId]; ok {
			groups = append(groups, m.groups[id])
		}
	}
	slices.SortFunc(groups, func(a, b Group) int { return a.Id - b.Id })

	return groups, nil
}

func (m *MemoryChatRepository) IsGroupMember(ctx context.Context, accountId, groupId int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.members[groupId][accountId]
	return ok, nil
}

func (m *MemoryChatRepository) ListGroupMembers(ctx context.Context, groupId int) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.members[groupId]
	if !ok {
		return nil, fmt.Errorf("list group members: %w", ErrNotFound)
	}

	members := make([]User, 0, len(set))
	for id := range set {
		u := m.accounts[id]
		u.PasswordHash = ""
		members = append(members, u)
	}
	slices.SortFunc(members, func(a, b User) int { return a.Id - b.Id })

	return members, nil
}

func (m *MemoryChatRepository) JoinGroup(ctx context.Context, accountId, groupId int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[groupId]
	if !ok {
		return false, fmt.Errorf("join group: %w", ErrNotFound)
	}
	if _, ok := m.accounts[accountId]; !ok {
		return false, fmt.Errorf("join group: %w", ErrNotFound)
	}
	if _, ok := set[accountId]; ok {
		return false, nil
	}
	set[accountId] = struct{}{}

	return true, nil
}

func (m *MemoryChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	if err := params.validate(); err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[params.SenderId]; !ok {
		return Message{}, fmt.Errorf("create message: %w", ErrNotFound)
	}
	if params.ReceiverId != nil {
		if _, ok := m.accounts[*params.ReceiverId]; !ok {
			return Message{}, fmt.Errorf("create message: %w", ErrNotFound)
		}
	}
	if params.GroupId != nil {
		if _, ok := m.groups[*params.GroupId]; !ok {
			return Message{}, fmt.Errorf("create message: %w", ErrNotFound)
		}
	}

	m.nextId.message++
	msg := Message{
		Id:         m.nextId.message,
		SenderId:   params.SenderId,
		ReceiverId: params.ReceiverId,
		GroupId:    params.GroupId,
		Content:    params.Content,
		CreatedAt:  time.Now().UTC(),
	}
	m.messages = append(m.messages, msg)

	return msg, nil
}

func (m *MemoryChatRepository) GetPrivateMessages(ctx context.Context, accountId, peerId int, q MessageQuery) ([]Message, error) {
	return m.page(q, func(msg Message) bool {
		if msg.ReceiverId == nil {
			return false
		}
		return (msg.SenderId == accountId && *msg.ReceiverId == peerId) ||
			(msg.SenderId == peerId && *msg.ReceiverId == accountId)
	}), nil
}

func (m *MemoryChatRepository) GetGroupMessages(ctx context.Context, groupId int, q MessageQuery) ([]Message, error) {
	return m.page(q, func(msg Message) bool {
		return msg.GroupId != nil && *msg.GroupId == groupId
	}), nil
}

func (m *MemoryChatRepository) page(q MessageQuery, match func(Message) bool) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	upper, limit := q.upper(), q.limit()
	out := make([]Message, 0)
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := m.messages[i]
		if msg.Id <= upper && match(msg) {
			out = append(out, msg)
		}
	}
	slices.Reverse(out)

	return out
}

// inChat reports whether msg belongs to chatId from accountId's point of view
// and was sent by someone else.
func inChat(msg Message, accountId int, chatId types.ChatId) bool {
	if msg.SenderId == accountId {
		return false
	}
	if chatId.IsGroup() {
		return msg.GroupId != nil && *msg.GroupId == chatId.Id
	}
	return msg.ReceiverId != nil && *msg.ReceiverId == accountId && msg.SenderId == chatId.Id
}

func (m *MemoryChatRepository) MarkChatRead(ctx context.Context, accountId int, chatId types.ChatId) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	marked := 0
	for _, msg := range m.messages {
		if !inChat(msg, accountId, chatId) {
			continue
		}
		readers := m.reads[msg.Id]
		if readers == nil {
			readers = make(map[int]time.Time)
			m.reads[msg.Id] = readers
		}
		if _, ok := readers[accountId]; ok {
			continue
		}
		readers[accountId] = now
		marked++
	}

	return marked, nil
}

func (m *MemoryChatRepository) GetUnreadCounts(ctx context.Context, accountId int) (map[types.ChatId]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[types.ChatId]int)
	for _, msg := range m.messages {
		if msg.SenderId == accountId {
			continue
		}
		if _, ok := m.reads[msg.Id][accountId]; ok {
			continue
		}

		switch {
		case msg.GroupId != nil:
			if _, ok := m.members[*msg.GroupId][accountId]; ok {
				counts[types.GroupChat(*msg.GroupId)]++
			}
		case msg.ReceiverId != nil && *msg.ReceiverId == accountId:
			counts[types.PrivateChat(msg.SenderId)]++
		}
	}

	return counts, nil
}
