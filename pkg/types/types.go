// Package types defines the record and identifier types shared across the
// hermod ledger packages.
package types

// AccountRef identifies a network participant. It is opaque to the ledger
// beyond equality and byte ordering, which gives deterministic iteration.
type AccountRef string

// MessageID is a monotonically increasing identifier allocated from a single
// counter shared by direct and group messages. IDs are never reused.
type MessageID uint64

// GroupID is a monotonically increasing group identifier. Never reused.
type GroupID uint64

// Height is the ledger's logical clock, supplied by the surrounding
// execution environment.
type Height uint64

// DirectMessage is an on-ledger record of a direct message. The message
// content itself lives off-ledger; Locator references it.
type DirectMessage struct {
	ID        MessageID  `json:"id"`
	Sender    AccountRef `json:"sender"`
	Recipient AccountRef `json:"recipient"`
	Locator   []byte     `json:"locator"`
	CreatedAt Height     `json:"created_at"`
	ExpiresAt Height     `json:"expires_at"`
	Read      bool       `json:"read"`
}

// GroupMessage is an on-ledger record of a message sent to a group. Group
// messages have no per-recipient fan-out; they are discovered through the
// group's message list.
type GroupMessage struct {
	ID        MessageID  `json:"id"`
	Group     GroupID    `json:"group"`
	Sender    AccountRef `json:"sender"`
	Locator   []byte     `json:"locator"`
	CreatedAt Height     `json:"created_at"`
	ExpiresAt Height     `json:"expires_at"`
}

// Group is a named membership set with a single permanent owner. The owner
// is always a member and cannot be removed without deleting the group.
type Group struct {
	ID      GroupID      `json:"id"`
	Name    string       `json:"name"`
	Owner   AccountRef   `json:"owner"`
	Members []AccountRef `json:"members"`
}

// IsMember reports whether account is currently in the group.
func (g *Group) IsMember(account AccountRef) bool {
	for _, m := range g.Members {
		if m == account {
			return true
		}
	}
	return false
}

// Live reports whether a record with the given expiry is still observable at
// the given height. Records are live through their expiry height inclusive
// and expired strictly after it.
func Live(expiresAt, at Height) bool {
	return at <= expiresAt
}
