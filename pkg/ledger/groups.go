package ledger

import (
	"github.com/relves/hermod/pkg/types"
)

// CreateGroup registers a new group owned by owner. The initial member list
// is deduplicated and the owner is included whether or not the caller
// listed them. Returns the allocated group id.
func (l *Ledger) CreateGroup(owner types.AccountRef, name string, initialMembers []types.AccountRef, height types.Height) (types.GroupID, error) {
	if len(name) > l.cfg.MaxGroupNameLength {
		return 0, ErrNameTooLong
	}

	// Owner first, then the requested members in input order, dropping
	// duplicates. Input order keeps the result deterministic.
	members := make([]types.AccountRef, 0, len(initialMembers)+1)
	members = append(members, owner)
	for _, m := range initialMembers {
		dup := false
		for _, existing := range members {
			if existing == m {
				dup = true
				break
			}
		}
		if !dup {
			members = append(members, m)
		}
	}
	if len(members) > l.cfg.MaxGroupMembers {
		return 0, ErrTooManyMembers
	}
	for _, m := range members {
		if len(l.memberOf[m]) >= l.cfg.MaxGroupsPerAccount {
			return 0, ErrTooManyGroups
		}
	}

	id := l.allocGroupID()
	l.groups[id] = &types.Group{
		ID:      id,
		Name:    name,
		Owner:   owner,
		Members: members,
	}
	for _, m := range members {
		l.memberOf[m] = append(l.memberOf[m], id)
	}

	l.emit(types.Event{
		Kind:   types.EventGroupCreated,
		Height: height,
		Group:  id,
		Actor:  owner,
	})
	return id, nil
}

// AddMember adds an account to a group. Authorization follows the
// configured admin policy: the owner always may; under PolicyAnyMember any
// current member may.
func (l *Ledger) AddMember(caller types.AccountRef, groupID types.GroupID, member types.AccountRef, height types.Height) error {
	group, ok := l.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	if err := l.authorizeAdmin(group, caller); err != nil {
		return err
	}
	if group.IsMember(member) {
		return ErrAlreadyMember
	}
	if len(group.Members) >= l.cfg.MaxGroupMembers {
		return ErrTooManyMembers
	}
	if len(l.memberOf[member]) >= l.cfg.MaxGroupsPerAccount {
		return ErrTooManyGroups
	}

	group.Members = append(group.Members, member)
	l.memberOf[member] = append(l.memberOf[member], groupID)

	l.emit(types.Event{
		Kind:    types.EventMemberAdded,
		Height:  height,
		Group:   groupID,
		Actor:   caller,
		Subject: member,
	})
	return nil
}

// RemoveMember removes an account from a group. The owner is a permanent
// member and cannot be removed through this path under any policy.
func (l *Ledger) RemoveMember(caller types.AccountRef, groupID types.GroupID, member types.AccountRef, height types.Height) error {
	group, ok := l.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	if err := l.authorizeAdmin(group, caller); err != nil {
		return err
	}
	if member == group.Owner {
		return ErrCannotRemoveOwner
	}
	if !group.IsMember(member) {
		return ErrNotAMember
	}

	for i, m := range group.Members {
		if m == member {
			group.Members = append(group.Members[:i], group.Members[i+1:]...)
			break
		}
	}
	l.memberOf[member] = removeGroupID(l.memberOf[member], groupID)

	l.emit(types.Event{
		Kind:    types.EventMemberRemoved,
		Height:  height,
		Group:   groupID,
		Actor:   caller,
		Subject: member,
	})
	return nil
}

func (l *Ledger) authorizeAdmin(group *types.Group, caller types.AccountRef) error {
	switch l.cfg.AdminPolicy {
	case PolicyAnyMember:
		if !group.IsMember(caller) {
			return ErrNotAuthorized
		}
	default:
		if group.Owner != caller {
			return ErrNotAuthorized
		}
	}
	return nil
}

// GetGroup returns a copy of the group record.
func (l *Ledger) GetGroup(id types.GroupID) (*types.Group, error) {
	group, ok := l.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	cp := *group
	cp.Members = append([]types.AccountRef(nil), group.Members...)
	return &cp, nil
}

// GroupsOf returns the ids of the groups the account belongs to, in join
// order.
func (l *Ledger) GroupsOf(account types.AccountRef) []types.GroupID {
	return append([]types.GroupID(nil), l.memberOf[account]...)
}
