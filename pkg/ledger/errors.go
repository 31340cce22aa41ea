package ledger

import "errors"

// Transition errors. Every failed operation returns one of these (possibly
// wrapped) and leaves the ledger completely unchanged.
var (
	// ErrInvalidRecipient rejects self-addressed direct messages.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrMessageNotFound means the message id is unknown or no longer live.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotRecipient means only the stored recipient may mark a message read.
	ErrNotRecipient = errors.New("caller is not the recipient")
	// ErrNotAuthorized means the caller lacks the role the operation requires.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrInboxFull means the recipient's inbox reached its bound.
	ErrInboxFull = errors.New("inbox full")
	// ErrOutboxFull means the sender's outbox reached its bound.
	ErrOutboxFull = errors.New("outbox full")
	// ErrGroupNotFound means the group id is unknown.
	ErrGroupNotFound = errors.New("group not found")
	// ErrNotAMember means the account is not a member of the group.
	ErrNotAMember = errors.New("not a group member")
	// ErrAlreadyMember means the account is already a member of the group.
	ErrAlreadyMember = errors.New("already a member")
	// ErrTooManyMembers means the group's member bound would be exceeded.
	ErrTooManyMembers = errors.New("too many members")
	// ErrTooManyGroups means the account's group membership bound would be
	// exceeded.
	ErrTooManyGroups = errors.New("account is in too many groups")
	// ErrCannotRemoveOwner rejects removal of the group owner.
	ErrCannotRemoveOwner = errors.New("cannot remove group owner")
	// ErrNameTooLong means the group name exceeds its byte bound.
	ErrNameTooLong = errors.New("group name too long")
	// ErrGroupFeedFull means the group's message list reached its bound.
	ErrGroupFeedFull = errors.New("group message list full")
)
