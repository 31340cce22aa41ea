// Package service applies ledger transitions in committed order. It is the
// boundary between the pure state machine and its execution environment:
// it owns the height clock, serializes transitions, persists each applied
// transition to the state store, folds events into the audit log, and
// reports the declared weight of every operation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relves/hermod/internal/storage/sqlite"
	"github.com/relves/hermod/pkg/audit"
	"github.com/relves/hermod/pkg/ledger"
	"github.com/relves/hermod/pkg/types"
)

// ErrUnavailable is returned once the service observed a storage failure.
// Committed memory state and the database may have diverged at that point,
// so the node must restart and restore from the store.
var ErrUnavailable = errors.New("service unavailable after storage failure")

// Config wires a Service.
type Config struct {
	Store  *sqlite.Store
	Ledger ledger.Config
	Logger *slog.Logger
	// Sink optionally receives events after each commit.
	Sink types.EventSink
}

// Service executes transitions one at a time against a single shared state.
type Service struct {
	mu     sync.Mutex
	ledger *ledger.Ledger
	store  *sqlite.Store
	audit  *audit.Log
	height types.Height
	logger *slog.Logger
	sink   types.EventSink
	broken bool
}

// Open restores the committed state from the store and returns a ready
// service.
func Open(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	snap, err := cfg.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load committed state: %w", err)
	}

	l, err := ledger.New(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	if err := l.Restore(snap.Groups, snap.Messages, snap.GroupMessages, snap.NextMessageID, snap.NextGroupID); err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}

	var auditLog *audit.Log
	if snap.AuditSize == 0 {
		auditLog, err = audit.NewLog()
	} else {
		auditLog, err = audit.Restore(snap.AuditSize, snap.AuditHashes)
	}
	if err != nil {
		return nil, fmt.Errorf("restore audit log: %w", err)
	}

	logger.Info("restored committed state",
		"height", snap.Height,
		"messages", len(snap.Messages),
		"groupMessages", len(snap.GroupMessages),
		"groups", len(snap.Groups),
		"auditSize", snap.AuditSize)

	return &Service{
		ledger: l,
		store:  cfg.Store,
		audit:  auditLog,
		height: snap.Height,
		logger: logger,
		sink:   cfg.Sink,
	}, nil
}

// Height returns the current height of the logical clock.
func (s *Service) Height() (types.Height, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return 0, ErrUnavailable
	}
	return s.height, nil
}

// SendMessage applies a direct-message send at the current height.
func (s *Service) SendMessage(ctx context.Context, sender, recipient types.AccountRef, loc []byte) (types.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return 0, ErrUnavailable
	}

	id, err := s.ledger.SendMessage(sender, recipient, loc, s.height)
	if err != nil {
		return 0, err
	}
	if err := s.commit(ctx, "send_message", ledger.SendMessageWeight()); err != nil {
		return 0, err
	}
	return id, nil
}

// ReadMessage marks a direct message read.
func (s *Service) ReadMessage(ctx context.Context, caller types.AccountRef, id types.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return ErrUnavailable
	}

	if err := s.ledger.ReadMessage(caller, id, s.height); err != nil {
		return err
	}
	return s.commit(ctx, "read_message", ledger.ReadMessageWeight())
}

// DeleteMessage removes a direct message.
func (s *Service) DeleteMessage(ctx context.Context, caller types.AccountRef, id types.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return ErrUnavailable
	}

	if err := s.ledger.DeleteMessage(caller, id, s.height); err != nil {
		return err
	}
	return s.commit(ctx, "delete_message", ledger.DeleteMessageWeight())
}

// CreateGroup registers a new group.
func (s *Service) CreateGroup(ctx context.Context, owner types.AccountRef, name string, members []types.AccountRef) (types.GroupID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return 0, ErrUnavailable
	}

	id, err := s.ledger.CreateGroup(owner, name, members, s.height)
	if err != nil {
		return 0, err
	}
	if err := s.commit(ctx, "create_group", ledger.CreateGroupWeight(len(members)+1)); err != nil {
		return 0, err
	}
	return id, nil
}

// AddMember adds an account to a group.
func (s *Service) AddMember(ctx context.Context, caller types.AccountRef, groupID types.GroupID, member types.AccountRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return ErrUnavailable
	}

	if err := s.ledger.AddMember(caller, groupID, member, s.height); err != nil {
		return err
	}
	return s.commit(ctx, "add_member", ledger.AddMemberWeight())
}

// RemoveMember removes an account from a group.
func (s *Service) RemoveMember(ctx context.Context, caller types.AccountRef, groupID types.GroupID, member types.AccountRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return ErrUnavailable
	}

	if err := s.ledger.RemoveMember(caller, groupID, member, s.height); err != nil {
		return err
	}
	return s.commit(ctx, "remove_member", ledger.RemoveMemberWeight())
}

// SendGroupMessage applies a group-message send at the current height.
func (s *Service) SendGroupMessage(ctx context.Context, sender types.AccountRef, groupID types.GroupID, loc []byte) (types.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return 0, ErrUnavailable
	}

	id, err := s.ledger.SendGroupMessage(sender, groupID, loc, s.height)
	if err != nil {
		return 0, err
	}
	if err := s.commit(ctx, "send_group_message", ledger.SendGroupMessageWeight()); err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteGroupMessage removes a group message.
func (s *Service) DeleteGroupMessage(ctx context.Context, caller types.AccountRef, id types.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return ErrUnavailable
	}

	if err := s.ledger.DeleteGroupMessage(caller, id, s.height); err != nil {
		return err
	}
	return s.commit(ctx, "delete_group_message", ledger.DeleteGroupMessageWeight())
}

// AdvanceBlock moves the logical clock forward one height and eagerly
// sweeps expired records. Returns the new height and the number of records
// reclaimed.
func (s *Service) AdvanceBlock(ctx context.Context) (types.Height, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return 0, 0, ErrUnavailable
	}

	s.height++
	swept := s.ledger.Sweep(s.height)
	if err := s.commit(ctx, "sweep", ledger.SweepWeight(len(swept))); err != nil {
		return 0, 0, err
	}
	return s.height, len(swept), nil
}

// commit persists everything the last ledger call changed, in one store
// transaction, then hands events to the sink. Callers hold s.mu.
//
// The in-memory ledger has already applied the transition; a storage
// failure therefore poisons the service, and callers must restart the node
// to recover a consistent state.
func (s *Service) commit(ctx context.Context, op string, w ledger.Weight) error {
	events := s.ledger.TakeEvents()

	delta := sqlite.Delta{
		Height:        s.height,
		NextMessageID: s.ledger.NextMessageID(),
		NextGroupID:   s.ledger.NextGroupID(),
	}

	for _, ev := range events {
		body, err := s.audit.EncodeEvent(ev)
		if err != nil {
			s.broken = true
			return fmt.Errorf("encode event: %w", err)
		}
		leaf, err := s.audit.Append(ev)
		if err != nil {
			s.broken = true
			return fmt.Errorf("append audit leaf: %w", err)
		}
		delta.Events = append(delta.Events, sqlite.EventRecord{Event: ev, Body: body, LeafHash: leaf})

		switch ev.Kind {
		case types.EventMessageSent, types.EventMessageRead:
			if msg, ok := s.ledger.MessageRecord(ev.Message); ok {
				delta.UpsertMessages = append(delta.UpsertMessages, *msg)
			}
		case types.EventMessageDeleted:
			delta.DeleteMessages = append(delta.DeleteMessages, ev.Message)
		case types.EventGroupMessageSent:
			if msg, ok := s.ledger.GroupMessageRecord(ev.Message); ok {
				delta.UpsertGroupMessages = append(delta.UpsertGroupMessages, *msg)
			}
		case types.EventGroupMessageDeleted:
			delta.DeleteGroupMessages = append(delta.DeleteGroupMessages, ev.Message)
		case types.EventMessageExpired:
			// The swept record is gone from memory and its kind is not in
			// the event; ids are unique across both tables, so delete from
			// both.
			delta.DeleteMessages = append(delta.DeleteMessages, ev.Message)
			delta.DeleteGroupMessages = append(delta.DeleteGroupMessages, ev.Message)
		case types.EventGroupCreated, types.EventMemberAdded, types.EventMemberRemoved:
			if group, err := s.ledger.GetGroup(ev.Group); err == nil {
				delta.UpsertGroups = append(delta.UpsertGroups, *group)
			}
		}
	}

	delta.AuditSize = s.audit.Size()
	delta.AuditHashes = s.audit.Hashes()

	if err := s.store.Commit(ctx, delta); err != nil {
		s.broken = true
		s.logger.Error("state commit failed, service poisoned", "op", op, "error", err)
		return fmt.Errorf("commit transition: %w", err)
	}

	s.logger.Debug("applied transition",
		"op", op,
		"height", s.height,
		"events", len(events),
		"refTime", w.RefTime,
		"reads", w.Reads,
		"writes", w.Writes)

	if s.sink != nil && len(events) > 0 {
		s.sink.Publish(events)
	}
	return nil
}

// Queries below read the in-memory state under the same serialization as
// transitions. Once the service is poisoned that state may be ahead of the
// store, so they refuse to answer rather than expose an uncommitted
// mutation.

// Inbox returns the live inbox of an account.
func (s *Service) Inbox(account types.AccountRef) ([]types.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return nil, ErrUnavailable
	}
	return s.ledger.Inbox(account, s.height), nil
}

// Outbox returns the live outbox of an account.
func (s *Service) Outbox(account types.AccountRef) ([]types.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return nil, ErrUnavailable
	}
	return s.ledger.Outbox(account, s.height), nil
}

// GetMessage returns a live direct message.
func (s *Service) GetMessage(id types.MessageID) (*types.DirectMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return nil, ErrUnavailable
	}
	return s.ledger.GetMessage(id, s.height)
}

// GetGroup returns a group record.
func (s *Service) GetGroup(id types.GroupID) (*types.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return nil, ErrUnavailable
	}
	return s.ledger.GetGroup(id)
}

// GetGroupMessage returns a live group message.
func (s *Service) GetGroupMessage(id types.MessageID) (*types.GroupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return nil, ErrUnavailable
	}
	return s.ledger.GetGroupMessage(id, s.height)
}

// GroupMessages returns the live message list of a group, member-only.
func (s *Service) GroupMessages(caller types.AccountRef, groupID types.GroupID) ([]types.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return nil, ErrUnavailable
	}
	return s.ledger.GroupMessages(caller, groupID, s.height)
}

// GroupsOf returns the groups an account belongs to.
func (s *Service) GroupsOf(account types.AccountRef) ([]types.GroupID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return nil, ErrUnavailable
	}
	return s.ledger.GroupsOf(account), nil
}

// AuditHead returns the current commitment root and the number of
// committed events.
func (s *Service) AuditHead() ([]byte, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return nil, 0, ErrUnavailable
	}
	root, err := s.audit.Root()
	if err != nil {
		return nil, 0, err
	}
	return root, s.audit.Size(), nil
}

// Events returns committed events after the given sequence number.
func (s *Service) Events(ctx context.Context, after uint64, limit int) ([]sqlite.EventRecord, error) {
	return s.store.ListEvents(ctx, after, limit)
}
