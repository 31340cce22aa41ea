package ledger

import (
	"gitlab.com/yawning/avl.git"

	"github.com/relves/hermod/pkg/types"
)

// expiryEntry is one record in the expiry-ordered index. Entries cover both
// direct and group messages; the tree is ordered by expiry height, with the
// message id breaking ties so ordering is total and deterministic.
type expiryEntry struct {
	expiresAt types.Height
	id        types.MessageID
	group     bool
}

func compareExpiry(a, b interface{}) int {
	ea, eb := a.(*expiryEntry), b.(*expiryEntry)
	switch {
	case ea.expiresAt < eb.expiresAt:
		return -1
	case ea.expiresAt > eb.expiresAt:
		return 1
	case ea.id < eb.id:
		return -1
	case ea.id > eb.id:
		return 1
	default:
		return 0
	}
}

func (l *Ledger) trackExpiry(id types.MessageID, expiresAt types.Height, group bool) {
	node := l.expiry.Insert(&expiryEntry{expiresAt: expiresAt, id: id, group: group})
	l.expiryNodes[id] = node
}

func (l *Ledger) untrackExpiry(id types.MessageID) {
	if node, ok := l.expiryNodes[id]; ok {
		l.expiry.Remove(node)
		delete(l.expiryNodes, id)
	}
}

// Sweep eagerly reclaims every record whose expiry height is strictly below
// the given height, removing it together with its index entries and
// emitting one expiry event per record, in expiry order. It returns the ids
// removed.
//
// Sweep is a normal transition: read paths already treat expired records as
// absent, so running it late changes storage footprint only, never
// observable state.
func (l *Ledger) Sweep(height types.Height) []types.MessageID {
	var swept []types.MessageID

	iter := l.expiry.Iterator(avl.Forward)
	for node := iter.First(); node != nil; node = iter.Next() {
		entry := node.Value.(*expiryEntry)
		if types.Live(entry.expiresAt, height) {
			break
		}

		if entry.group {
			msg := l.groupMessages[entry.id]
			delete(l.groupMessages, entry.id)
			l.groupFeed[msg.Group] = removeID(l.groupFeed[msg.Group], entry.id)
			l.outbox[msg.Sender] = removeID(l.outbox[msg.Sender], entry.id)
		} else {
			msg := l.messages[entry.id]
			delete(l.messages, entry.id)
			l.inbox[msg.Recipient] = removeID(l.inbox[msg.Recipient], entry.id)
			l.outbox[msg.Sender] = removeID(l.outbox[msg.Sender], entry.id)
		}

		delete(l.expiryNodes, entry.id)
		// Removing the current node is the one mutation the iterator
		// supports.
		l.expiry.Remove(node)

		swept = append(swept, entry.id)
		l.emit(types.Event{
			Kind:    types.EventMessageExpired,
			Height:  height,
			Message: entry.id,
		})
	}

	return swept
}

// PendingExpiry returns the number of records currently tracked by the
// expiry index. Storage growth between sweeps is bounded by this count.
func (l *Ledger) PendingExpiry() int {
	return l.expiry.Len()
}
