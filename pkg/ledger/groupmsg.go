package ledger

import (
	"github.com/relves/hermod/pkg/types"
)

// SendGroupMessage records a message addressed to a group. The sender must
// be a current member at send time; membership is never re-checked
// retroactively. The id is allocated from the same counter as direct
// messages, so uniqueness spans both ledgers.
//
// There is no per-recipient fan-out: the record lands in the group's
// message list and the sender's outbox only, keeping send cost independent
// of member count.
func (l *Ledger) SendGroupMessage(sender types.AccountRef, groupID types.GroupID, loc []byte, height types.Height) (types.MessageID, error) {
	group, ok := l.groups[groupID]
	if !ok {
		return 0, ErrGroupNotFound
	}
	if !group.IsMember(sender) {
		return 0, ErrNotAMember
	}
	if err := l.validator.Validate(loc); err != nil {
		return 0, err
	}
	if len(l.groupFeed[groupID]) >= l.cfg.MaxGroupMessages {
		return 0, ErrGroupFeedFull
	}
	if len(l.outbox[sender]) >= l.cfg.MaxOutboxMessages {
		return 0, ErrOutboxFull
	}

	id := l.allocMessageID()
	msg := &types.GroupMessage{
		ID:        id,
		Group:     groupID,
		Sender:    sender,
		Locator:   append([]byte(nil), loc...),
		CreatedAt: height,
		ExpiresAt: l.expiryOf(height),
	}

	l.groupMessages[id] = msg
	l.groupFeed[groupID] = append(l.groupFeed[groupID], id)
	l.outbox[sender] = append(l.outbox[sender], id)
	l.trackExpiry(id, msg.ExpiresAt, true)

	l.emit(types.Event{
		Kind:    types.EventGroupMessageSent,
		Height:  height,
		Message: id,
		Group:   groupID,
		Actor:   sender,
	})
	return id, nil
}

// DeleteGroupMessage removes a group message. The original sender may
// delete their own message; the group owner may delete any message in the
// group (moderation). Like direct messages, deletion beats lazy expiry.
func (l *Ledger) DeleteGroupMessage(caller types.AccountRef, id types.MessageID, height types.Height) error {
	msg, ok := l.groupMessages[id]
	if !ok {
		return ErrMessageNotFound
	}
	group, ok := l.groups[msg.Group]
	if !ok {
		return ErrGroupNotFound
	}
	if msg.Sender != caller && group.Owner != caller {
		return ErrNotAuthorized
	}

	delete(l.groupMessages, id)
	l.groupFeed[msg.Group] = removeID(l.groupFeed[msg.Group], id)
	l.outbox[msg.Sender] = removeID(l.outbox[msg.Sender], id)
	l.untrackExpiry(id)

	l.emit(types.Event{
		Kind:    types.EventGroupMessageDeleted,
		Height:  height,
		Message: id,
		Group:   msg.Group,
		Actor:   caller,
	})
	return nil
}

// GroupMessages returns the ids of the group's messages live at the given
// height, in send order. Only current members may query the list.
func (l *Ledger) GroupMessages(caller types.AccountRef, groupID types.GroupID, height types.Height) ([]types.MessageID, error) {
	group, ok := l.groups[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	if !group.IsMember(caller) {
		return nil, ErrNotAMember
	}

	var live []types.MessageID
	for _, id := range l.groupFeed[groupID] {
		if msg, ok := l.groupMessages[id]; ok && types.Live(msg.ExpiresAt, height) {
			live = append(live, id)
		}
	}
	return live, nil
}

// GetGroupMessage returns the group message record if it is live at the
// given height.
func (l *Ledger) GetGroupMessage(id types.MessageID, height types.Height) (*types.GroupMessage, error) {
	msg, ok := l.groupMessages[id]
	if !ok || !types.Live(msg.ExpiresAt, height) {
		return nil, ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

// GroupMessageRecord returns the raw record regardless of expiry, for the
// persistence layer.
func (l *Ledger) GroupMessageRecord(id types.MessageID) (*types.GroupMessage, bool) {
	msg, ok := l.groupMessages[id]
	if !ok {
		return nil, false
	}
	cp := *msg
	return &cp, true
}
