package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const (
	accountColumns = "id, username, email, is_online, created_at, updated_at"
	messageColumns = "id, sender_id, receiver_id, group_id, content, created_at"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner, withHash bool) (User, error) {
	var (
		u         User
		updatedAt sql.NullTime
	)
	dest := []any{&u.Id, &u.Username, &u.EmailAddress, &u.IsOnline, &u.CreatedAt, &updatedAt}
	if withHash {
		dest = append(dest, &u.PasswordHash)
	}
	if err := row.Scan(dest...); err != nil {
		return User{}, err
	}
	u.UpdatedAt = updatedAt.Time

	return u, nil
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg      Message
		receiver sql.NullInt64
		group    sql.NullInt64
	)
	if err := row.Scan(&msg.Id, &msg.SenderId, &receiver, &group, &msg.Content, &msg.CreatedAt); err != nil {
		return Message{}, err
	}
	if receiver.Valid {
		msg.ReceiverId = ptr(int(receiver.Int64))
	}
	if group.Valid {
		msg.GroupId = ptr(int(group.Int64))
	}

	return msg, nil
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func (db *PgChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING "+accountColumns,
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	u, err := scanAccount(row, false)
	if err != nil {
		return User{}, mapError("create account", err)
	}

	return u, nil
}

func (db *PgChatRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 LIMIT 1",
		id,
	)

	u, err := scanAccount(row, false)
	if err != nil {
		return User{}, mapError("get account", err)
	}

	return u, nil
}

func (db *PgChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+accountColumns+", password_hash FROM accounts WHERE email = $1 LIMIT 1",
		email,
	)

	u, err := scanAccount(row, true)
	if err != nil {
		return User{}, mapError("get account by email", err)
	}

	return u, nil
}

func (db *PgChatRepository) ListAccounts(ctx context.Context) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY id")
	if err != nil {
		return nil, mapError("list accounts", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanAccount(rows, false)
		if err != nil {
			return nil, mapError("scan account", err)
		}
		users = append(users, u)
	}

	return users, mapError("list accounts", rows.Err())
}

func (db *PgChatRepository) SetOnline(ctx context.Context, accountId int, online bool) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE accounts SET is_online = $2, updated_at = $3 WHERE id = $1",
		accountId,
		online,
		time.Now().UTC(),
	)
	if err != nil {
		return mapError("set online", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return mapError("set online", err)
	}
	if n == 0 {
		return fmt.Errorf("set online: %w", ErrNotFound)
	}

	return nil
}

func (db *PgChatRepository) CreateGroup(ctx context.Context, params CreateGroupParams) (Group, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Group{}, mapError("begin create group", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var group Group
	err = tx.QueryRowContext(ctx,
		"INSERT INTO groups (name, owner_id, created_at) VALUES ($1, $2, $3) "+
			"RETURNING id, name, owner_id, created_at",
		params.Name,
		params.OwnerId,
		time.Now().UTC(),
	).Scan(&group.Id, &group.Name, &group.OwnerId, &group.CreatedAt)
	if err != nil {
		return Group{}, mapError("create group", err)
	}

	members := groupMembers(params)
	ids := make([]int64, len(members))
	for i, id := range members {
		ids[i] = int64(id)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO group_members (group_id, account_id) "+
			"SELECT $1::int, unnest($2::int[]) ON CONFLICT DO NOTHING",
		group.Id,
		pq.Array(ids),
	)
	if err != nil {
		return Group{}, mapError("add group members", err)
	}

	if err = tx.Commit(); err != nil {
		return Group{}, mapError("commit create group", err)
	}
	group.MemberIds = members

	return group, nil
}

// groupMembers returns the sorted, de-duplicated member list including the owner.
func groupMembers(params CreateGroupParams) []int {
	members := append([]int{params.OwnerId}, params.MemberIds...)
	slices.Sort(members)
	return slices.Compact(members)
}

func (db *PgChatRepository) ListGroups(ctx context.Context, accountId int) ([]Group, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT g.id, g.name, g.owner_id, g.created_at FROM groups g "+
			"JOIN group_members gm ON gm.group_id = g.id "+
			"WHERE gm.account_id = $1 ORDER BY g.id",
		accountId,
	)
	if err != nil {
		return nil, mapError("list groups", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.Id, &g.Name, &g.OwnerId, &g.CreatedAt); err != nil {
			return nil, mapError("scan group", err)
		}
		groups = append(groups, g)
	}

	return groups, mapError("list groups", rows.Err())
}

func (db *PgChatRepository) IsGroupMember(ctx context.Context, accountId, groupId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM group_members WHERE account_id = $1 AND group_id = $2)",
		accountId,
		groupId,
	).Scan(&exists)
	if err != nil {
		return false, mapError("check group membership", err)
	}

	return exists, nil
}

// ListGroupMembers returns the members of a group ordered by id.
func (db *PgChatRepository) ListGroupMembers(ctx context.Context, groupId int) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts "+
			"JOIN group_members ON account_id = id "+
			"WHERE group_id = $1 ORDER BY id",
		groupId,
	)
	if err != nil {
		return nil, mapError("list group members", err)
	}
	defer rows.Close()

	var members []User
	for rows.Next() {
		u, err := scanAccount(rows, false)
		if err != nil {
			return nil, mapError("scan group member", err)
		}
		members = append(members, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list group members", err)
	}

	if len(members) == 0 {
		var exists bool
		err := db.conn.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)",
			groupId,
		).Scan(&exists)
		if err != nil {
			return nil, mapError("check group", err)
		}
		if !exists {
			return nil, fmt.Errorf("list group members: %w", ErrNotFound)
		}
	}

	return members, nil
}

// JoinGroup adds the account to the group. It reports false when the
// account was already a member.
func (db *PgChatRepository) JoinGroup(ctx context.Context, accountId, groupId int) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO group_members (group_id, account_id, joined_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT DO NOTHING",
		groupId,
		accountId,
		time.Now().UTC(),
	)
	if err != nil {
		return false, mapError("join group", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError("join group", err)
	}

	return n == 1, nil
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	if err := params.validate(); err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (sender_id, receiver_id, group_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING "+messageColumns,
		params.SenderId,
		nullInt(params.ReceiverId),
		nullInt(params.GroupId),
		params.Content,
		time.Now().UTC(),
	)

	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, mapError("create message", err)
	}

	return msg, nil
}

func (db *PgChatRepository) GetPrivateMessages(ctx context.Context, accountId, peerId int, q MessageQuery) ([]Message, error) {
	return db.queryMessages(ctx, "get private messages",
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)) "+
			"AND id <= $3 ORDER BY id DESC LIMIT $4",
		accountId, peerId, q.upper(), q.limit(),
	)
}

func (db *PgChatRepository) GetGroupMessages(ctx context.Context, groupId int, q MessageQuery) ([]Message, error) {
	return db.queryMessages(ctx, "get group messages",
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE group_id = $1 AND id <= $2 ORDER BY id DESC LIMIT $3",
		groupId, q.upper(), q.limit(),
	)
}

// queryMessages runs a newest-first page query and returns it oldest first.
func (db *PgChatRepository) queryMessages(ctx context.Context, op, query string, args ...any) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	slices.Reverse(messages)

	return messages, nil
}

const (
	markPrivateReadQuery = `
		INSERT INTO message_reads (message_id, account_id, read_at)
		SELECT m.id, $1::int, $3::timestamptz FROM messages m
		WHERE m.receiver_id = $1 AND m.sender_id = $2
		ON CONFLICT DO NOTHING`

	markGroupReadQuery = `
		INSERT INTO message_reads (message_id, account_id, read_at)
		SELECT m.id, $1::int, $3::timestamptz FROM messages m
		WHERE m.group_id = $2 AND m.sender_id <> $1
		ON CONFLICT DO NOTHING`

	unreadCountsQuery = `
		SELECT
			CASE WHEN m.group_id IS NULL THEN 'user' ELSE 'group' END AS kind,
			COALESCE(m.group_id, m.sender_id) AS chat_id,
			COUNT(*)
		FROM messages m
		LEFT JOIN message_reads r ON r.message_id = m.id AND r.account_id = $1
		WHERE r.message_id IS NULL
			AND m.sender_id <> $1
			AND (
				m.receiver_id = $1
				OR m.group_id IN (SELECT group_id FROM group_members WHERE account_id = $1)
			)
		GROUP BY kind, chat_id`
)

func (db *PgChatRepository) MarkChatRead(ctx context.Context, accountId int, chatId types.ChatId) (int, error) {
	query := markPrivateReadQuery
	if chatId.IsGroup() {
		query = markGroupReadQuery
	}

	res, err := db.conn.ExecContext(ctx, query, accountId, chatId.Id, time.Now().UTC())
	if err != nil {
		return 0, mapError("mark chat read", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError("mark chat read", err)
	}

	return int(n), nil
}

func (db *PgChatRepository) GetUnreadCounts(ctx context.Context, accountId int) (map[types.ChatId]int, error) {
	rows, err := db.conn.QueryContext(ctx, unreadCountsQuery, accountId)
	if err != nil {
		return nil, mapError("get unread counts", err)
	}
	defer rows.Close()

	counts := make(map[types.ChatId]int)
	for rows.Next() {
		var (
			kind  string
			id    int
			count int
		)
		if err := rows.Scan(&kind, &id, &count); err != nil {
			return nil, mapError("scan unread count", err)
		}
		counts[types.ChatId{Kind: types.ChatKind(kind), Id: id}] = count
	}

	return counts, mapError("get unread counts", rows.Err())
}
