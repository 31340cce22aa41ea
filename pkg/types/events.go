package types

// EventKind names a ledger state transition for event consumers.
type EventKind string

const (
	EventMessageSent         EventKind = "message_sent"
	EventMessageRead         EventKind = "message_read"
	EventMessageDeleted      EventKind = "message_deleted"
	EventMessageExpired      EventKind = "message_expired"
	EventGroupCreated        EventKind = "group_created"
	EventMemberAdded         EventKind = "member_added"
	EventMemberRemoved       EventKind = "member_removed"
	EventGroupMessageSent    EventKind = "group_message_sent"
	EventGroupMessageDeleted EventKind = "group_message_deleted"
)

// Event is one observable state-change notification. Exactly one event is
// emitted per successful transition, in transition order; events are never
// retried or deduplicated.
//
// Only the fields relevant to the Kind are populated. The struct is encoded
// deterministically for audit commitment, so field order here is part of the
// committed format.
type Event struct {
	Kind    EventKind  `json:"kind" cbor:"1,keyasint"`
	Height  Height     `json:"height" cbor:"2,keyasint"`
	Message MessageID  `json:"message,omitempty" cbor:"3,keyasint,omitempty"`
	Group   GroupID    `json:"group,omitempty" cbor:"4,keyasint,omitempty"`
	Actor   AccountRef `json:"actor,omitempty" cbor:"5,keyasint,omitempty"`
	Subject AccountRef `json:"subject,omitempty" cbor:"6,keyasint,omitempty"`
}

// EventSink receives committed events. Implementations must not retain the
// slice beyond the call.
type EventSink interface {
	Publish(events []Event)
}
