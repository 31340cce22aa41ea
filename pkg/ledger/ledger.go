// Package ledger implements the on-ledger messaging state machine: direct
// message records, group registry, group messages, expiry, and event
// emission.
//
// A Ledger is an explicitly owned state object. It is not safe for
// concurrent use; the surrounding execution environment applies one
// transition at a time in committed order. Every operation either fully
// applies (records, indices and event) or returns an error having mutated
// nothing.
package ledger

import (
	"fmt"
	"math"

	"gitlab.com/yawning/avl.git"

	"github.com/relves/hermod/pkg/locator"
	"github.com/relves/hermod/pkg/types"
)

// AdminPolicy selects who may administer group membership.
type AdminPolicy int

const (
	// PolicyOwnerOnly restricts member add/remove to the group owner.
	PolicyOwnerOnly AdminPolicy = iota
	// PolicyAnyMember lets any current member add or remove members. The
	// owner remains non-removable under either policy.
	PolicyAnyMember
)

// Config carries the deployment-time constants of the state machine. None
// of these are mutable at runtime.
type Config struct {
	// MaxMessageLength bounds locator byte length.
	MaxMessageLength int
	// MessageTTL is the record lifespan in height units.
	MessageTTL types.Height
	// MaxGroupMembers bounds a group's member set, owner included.
	MaxGroupMembers int
	// MaxGroupNameLength bounds a group name in bytes.
	MaxGroupNameLength int
	// MaxInboxMessages and MaxOutboxMessages bound the per-account indices.
	MaxInboxMessages  int
	MaxOutboxMessages int
	// MaxGroupsPerAccount bounds how many groups one account may be in.
	MaxGroupsPerAccount int
	// MaxGroupMessages bounds a group's live message list.
	MaxGroupMessages int
	// AdminPolicy selects group administration rights.
	AdminPolicy AdminPolicy
}

// DefaultConfig returns the deployment constants of the reference chain.
func DefaultConfig() Config {
	return Config{
		MaxMessageLength:    64,
		MessageTTL:          100_800, // one week of six-second blocks
		MaxGroupMembers:     50,
		MaxGroupNameLength:  32,
		MaxInboxMessages:    100,
		MaxOutboxMessages:   100,
		MaxGroupsPerAccount: 50,
		MaxGroupMessages:    1000,
		AdminPolicy:         PolicyOwnerOnly,
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("MaxMessageLength must be positive, got %d", c.MaxMessageLength)
	}
	if c.MessageTTL == 0 {
		return fmt.Errorf("MessageTTL must be positive")
	}
	if c.MaxGroupMembers <= 0 {
		return fmt.Errorf("MaxGroupMembers must be positive, got %d", c.MaxGroupMembers)
	}
	if c.MaxGroupNameLength <= 0 {
		return fmt.Errorf("MaxGroupNameLength must be positive, got %d", c.MaxGroupNameLength)
	}
	if c.MaxInboxMessages <= 0 || c.MaxOutboxMessages <= 0 {
		return fmt.Errorf("inbox/outbox bounds must be positive")
	}
	if c.MaxGroupsPerAccount <= 0 {
		return fmt.Errorf("MaxGroupsPerAccount must be positive, got %d", c.MaxGroupsPerAccount)
	}
	if c.MaxGroupMessages <= 0 {
		return fmt.Errorf("MaxGroupMessages must be positive, got %d", c.MaxGroupMessages)
	}
	if c.AdminPolicy != PolicyOwnerOnly && c.AdminPolicy != PolicyAnyMember {
		return fmt.Errorf("unknown admin policy %d", c.AdminPolicy)
	}
	return nil
}

// Ledger owns all mutable messaging state. All maps are keyed by the
// monotonic id counters, never by content hashes, so ids are unique for the
// lifetime of the ledger even across deletions.
type Ledger struct {
	cfg       Config
	validator *locator.Validator

	messages      map[types.MessageID]*types.DirectMessage
	groupMessages map[types.MessageID]*types.GroupMessage
	groups        map[types.GroupID]*types.Group

	inbox     map[types.AccountRef][]types.MessageID
	outbox    map[types.AccountRef][]types.MessageID
	groupFeed map[types.GroupID][]types.MessageID
	memberOf  map[types.AccountRef][]types.GroupID

	nextMessageID uint64
	nextGroupID   uint64

	expiry      *avl.Tree
	expiryNodes map[types.MessageID]*avl.Node

	events []types.Event
}

// New creates an empty ledger with the given configuration.
func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}
	v, err := locator.NewValidator(cfg.MaxMessageLength)
	if err != nil {
		return nil, err
	}
	return &Ledger{
		cfg:           cfg,
		validator:     v,
		messages:      make(map[types.MessageID]*types.DirectMessage),
		groupMessages: make(map[types.MessageID]*types.GroupMessage),
		groups:        make(map[types.GroupID]*types.Group),
		inbox:         make(map[types.AccountRef][]types.MessageID),
		outbox:        make(map[types.AccountRef][]types.MessageID),
		groupFeed:     make(map[types.GroupID][]types.MessageID),
		memberOf:      make(map[types.AccountRef][]types.GroupID),
		nextMessageID: 1,
		nextGroupID:   1,
		expiry:        avl.New(compareExpiry),
		expiryNodes:   make(map[types.MessageID]*avl.Node),
	}, nil
}

// Config returns the ledger's deployment constants.
func (l *Ledger) Config() Config {
	return l.cfg
}

// TakeEvents drains and returns the events emitted since the last call, in
// transition order.
func (l *Ledger) TakeEvents() []types.Event {
	ev := l.events
	l.events = nil
	return ev
}

func (l *Ledger) emit(ev types.Event) {
	l.events = append(l.events, ev)
}

// NextMessageID returns the id the next successful send will allocate.
// Exposed for persistence and tests; failed operations never advance it.
func (l *Ledger) NextMessageID() types.MessageID {
	return types.MessageID(l.nextMessageID)
}

// NextGroupID returns the id the next successful group creation will
// allocate.
func (l *Ledger) NextGroupID() types.GroupID {
	return types.GroupID(l.nextGroupID)
}

func (l *Ledger) allocMessageID() types.MessageID {
	id := types.MessageID(l.nextMessageID)
	l.nextMessageID++
	return id
}

func (l *Ledger) allocGroupID() types.GroupID {
	id := types.GroupID(l.nextGroupID)
	l.nextGroupID++
	return id
}

// expiryOf returns the expiry height of a record created at height,
// saturating instead of wrapping at the top of the height range.
func (l *Ledger) expiryOf(height types.Height) types.Height {
	e := height + l.cfg.MessageTTL
	if e < height {
		return types.Height(math.MaxUint64)
	}
	return e
}

// removeID removes id from the slice preserving order. The indices are
// ordered sets, so order must survive removal.
func removeID(ids []types.MessageID, id types.MessageID) []types.MessageID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func removeGroupID(ids []types.GroupID, id types.GroupID) []types.GroupID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func containsID(ids []types.MessageID, id types.MessageID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsGroupID(ids []types.GroupID, id types.GroupID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
