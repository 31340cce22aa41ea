package ledger

import (
	"fmt"
	"sort"

	"github.com/relves/hermod/pkg/types"
)

func sortIDs(ids []types.MessageID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// Restore rebuilds ledger state from persisted records. It is only valid on
// a fresh ledger; indices and the expiry tree are derived from the records,
// so callers supply records in id order to reproduce the committed index
// ordering.
//
// Counters are restored last so a partially persisted state cannot hand out
// an id that was already used.
func (l *Ledger) Restore(groups []types.Group, messages []types.DirectMessage, groupMessages []types.GroupMessage, nextMessageID types.MessageID, nextGroupID types.GroupID) error {
	if len(l.messages) != 0 || len(l.groups) != 0 || len(l.groupMessages) != 0 {
		return fmt.Errorf("restore requires an empty ledger")
	}

	for i := range groups {
		g := groups[i]
		if uint64(g.ID) >= uint64(nextGroupID) {
			return fmt.Errorf("group %d is not below the restored counter %d", g.ID, nextGroupID)
		}
		cp := g
		cp.Members = append([]types.AccountRef(nil), g.Members...)
		l.groups[g.ID] = &cp
		for _, m := range cp.Members {
			l.memberOf[m] = append(l.memberOf[m], g.ID)
		}
	}

	for i := range messages {
		m := messages[i]
		if uint64(m.ID) >= uint64(nextMessageID) {
			return fmt.Errorf("message %d is not below the restored counter %d", m.ID, nextMessageID)
		}
		cp := m
		cp.Locator = append([]byte(nil), m.Locator...)
		l.messages[m.ID] = &cp
		l.inbox[m.Recipient] = append(l.inbox[m.Recipient], m.ID)
		l.outbox[m.Sender] = append(l.outbox[m.Sender], m.ID)
		l.trackExpiry(m.ID, m.ExpiresAt, false)
	}

	for i := range groupMessages {
		m := groupMessages[i]
		if uint64(m.ID) >= uint64(nextMessageID) {
			return fmt.Errorf("group message %d is not below the restored counter %d", m.ID, nextMessageID)
		}
		if _, ok := l.groups[m.Group]; !ok {
			return fmt.Errorf("group message %d references unknown group %d", m.ID, m.Group)
		}
		cp := m
		cp.Locator = append([]byte(nil), m.Locator...)
		l.groupMessages[m.ID] = &cp
		l.groupFeed[m.Group] = append(l.groupFeed[m.Group], m.ID)
		l.outbox[m.Sender] = append(l.outbox[m.Sender], m.ID)
		l.trackExpiry(m.ID, m.ExpiresAt, true)
	}

	// Direct and group messages interleave in an outbox. Ids are allocated
	// monotonically, so sorting by id restores the original send order.
	for acct := range l.outbox {
		sortIDs(l.outbox[acct])
	}

	if nextMessageID == 0 {
		nextMessageID = 1
	}
	if nextGroupID == 0 {
		nextGroupID = 1
	}
	l.nextMessageID = uint64(nextMessageID)
	l.nextGroupID = uint64(nextGroupID)
	return nil
}
