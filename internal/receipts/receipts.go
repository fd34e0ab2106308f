// Package receipts tracks which messages each user has read.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

var ErrForbidden = errors.New("not a member of this group")

// Store is the persistence needed by the Tracker.
type Store interface {
	IsGroupMember(ctx context.Context, accountId, groupId int) (bool, error)
	MarkChatRead(ctx context.Context, accountId int, chatId types.ChatId) (int, error)
	GetUnreadCounts(ctx context.Context, accountId int) (map[types.ChatId]int, error)
}

type Tracker struct {
	log   *log.Logger
	store Store
}

func NewTracker(logger *log.Logger, store Store) *Tracker {
	return &Tracker{log: logger, store: store}
}

// MarkRead records every message of chatId sent by someone else as read by
// userId and returns how many markers were newly created. Marking an
// already read chat returns 0.
func (t *Tracker) MarkRead(ctx context.Context, userId int, chatId types.ChatId) (int, error) {
	if chatId.IsGroup() {
		ok, err := t.store.IsGroupMember(ctx, userId, chatId.Id)
		if err != nil {
			return 0, fmt.Errorf("check membership: %w", err)
		}
		if !ok {
			return 0, ErrForbidden
		}
	}

	n, err := t.store.MarkChatRead(ctx, userId, chatId)
	if err != nil {
		return 0, fmt.Errorf("mark %s read: %w", chatId, err)
	}
	if n > 0 {
		t.log.Printf("user %d marked %d messages read in %s", userId, n, chatId)
	}

	return n, nil
}

// UnreadCounts returns the number of unread messages per conversation.
// Conversations without unread messages are omitted.
func (t *Tracker) UnreadCounts(ctx context.Context, userId int) (map[types.ChatId]int, error) {
	counts, err := t.store.GetUnreadCounts(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	if counts == nil {
		counts = make(map[types.ChatId]int)
	}

	return counts, nil
}
