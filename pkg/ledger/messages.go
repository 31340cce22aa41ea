package ledger

import (
	"github.com/relves/hermod/pkg/types"
)

// SendMessage records a direct message from sender to recipient referencing
// the given locator, and returns the allocated message id.
//
// The id counter advances only on success; a failed send is invisible.
func (l *Ledger) SendMessage(sender, recipient types.AccountRef, loc []byte, height types.Height) (types.MessageID, error) {
	if err := l.validator.Validate(loc); err != nil {
		return 0, err
	}
	if sender == recipient {
		return 0, ErrInvalidRecipient
	}
	if len(l.inbox[recipient]) >= l.cfg.MaxInboxMessages {
		return 0, ErrInboxFull
	}
	if len(l.outbox[sender]) >= l.cfg.MaxOutboxMessages {
		return 0, ErrOutboxFull
	}

	id := l.allocMessageID()
	msg := &types.DirectMessage{
		ID:        id,
		Sender:    sender,
		Recipient: recipient,
		Locator:   append([]byte(nil), loc...),
		CreatedAt: height,
		ExpiresAt: l.expiryOf(height),
	}

	l.messages[id] = msg
	l.inbox[recipient] = append(l.inbox[recipient], id)
	l.outbox[sender] = append(l.outbox[sender], id)
	l.trackExpiry(id, msg.ExpiresAt, false)

	l.emit(types.Event{
		Kind:    types.EventMessageSent,
		Height:  height,
		Message: id,
		Actor:   sender,
		Subject: recipient,
	})
	return id, nil
}

// ReadMessage marks a direct message read. Only the stored recipient may do
// so. Re-reading an already-read message succeeds without emitting a second
// event.
func (l *Ledger) ReadMessage(caller types.AccountRef, id types.MessageID, height types.Height) error {
	msg, ok := l.messages[id]
	if !ok || !types.Live(msg.ExpiresAt, height) {
		return ErrMessageNotFound
	}
	if msg.Recipient != caller {
		return ErrNotRecipient
	}
	if msg.Read {
		return nil
	}
	msg.Read = true
	l.emit(types.Event{
		Kind:    types.EventMessageRead,
		Height:  height,
		Message: id,
		Actor:   caller,
	})
	return nil
}

// DeleteMessage removes a direct message and both of its index entries.
// The sender or the recipient may delete. Deletion succeeds on records that
// are expired but not yet swept; explicit delete takes precedence over lazy
// expiry.
func (l *Ledger) DeleteMessage(caller types.AccountRef, id types.MessageID, height types.Height) error {
	msg, ok := l.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	if msg.Sender != caller && msg.Recipient != caller {
		return ErrNotAuthorized
	}

	delete(l.messages, id)
	l.inbox[msg.Recipient] = removeID(l.inbox[msg.Recipient], id)
	l.outbox[msg.Sender] = removeID(l.outbox[msg.Sender], id)
	l.untrackExpiry(id)

	l.emit(types.Event{
		Kind:    types.EventMessageDeleted,
		Height:  height,
		Message: id,
		Actor:   caller,
	})
	return nil
}

// GetMessage returns the direct message record if it is live at the given
// height.
func (l *Ledger) GetMessage(id types.MessageID, height types.Height) (*types.DirectMessage, error) {
	msg, ok := l.messages[id]
	if !ok || !types.Live(msg.ExpiresAt, height) {
		return nil, ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

// Inbox returns the ids of messages live at the given height addressed to
// the account, in arrival order.
func (l *Ledger) Inbox(account types.AccountRef, height types.Height) []types.MessageID {
	return l.liveMessages(l.inbox[account], height)
}

// Outbox returns the ids of live messages the account sent, direct and
// group alike, in send order.
func (l *Ledger) Outbox(account types.AccountRef, height types.Height) []types.MessageID {
	return l.liveMessages(l.outbox[account], height)
}

func (l *Ledger) liveMessages(ids []types.MessageID, height types.Height) []types.MessageID {
	var live []types.MessageID
	for _, id := range ids {
		if msg, ok := l.messages[id]; ok && types.Live(msg.ExpiresAt, height) {
			live = append(live, id)
			continue
		}
		if msg, ok := l.groupMessages[id]; ok && types.Live(msg.ExpiresAt, height) {
			live = append(live, id)
		}
	}
	return live
}

// MessageRecord returns the raw record regardless of expiry. Used by the
// persistence layer, which stores exactly the committed state.
func (l *Ledger) MessageRecord(id types.MessageID) (*types.DirectMessage, bool) {
	msg, ok := l.messages[id]
	if !ok {
		return nil, false
	}
	cp := *msg
	return &cp, true
}
