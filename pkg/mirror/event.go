package mirror

import (
	"fmt"
	"time"
)

// EventKind discriminates the payload carried by one update event.
type EventKind string

const (
	// EventKindMessage is an incoming message.
	EventKindMessage EventKind = "message"
	// EventKindAction is an interactive action such as a button press.
	EventKindAction EventKind = "action"
	// EventKindUserNickChanged reports a user nickname change.
	EventKindUserNickChanged EventKind = "user_nick_changed"
	// EventKindGroupTitleChanged reports a group title change.
	EventKindGroupTitleChanged EventKind = "group_title_changed"
	// EventKindMembershipChanged reports a join or leave in a group.
	EventKindMembershipChanged EventKind = "membership_changed"
	// EventKindOther is any update the mirror does not interpret.
	EventKindOther EventKind = "other"
)

// UpdateEvent is one unit of the server's ordered update stream.
type UpdateEvent struct {
	// Seq is the server sequence position, or zero when the update is untracked.
	Seq int64
	// Kind selects which payload field is set.
	Kind EventKind
	// OccurredAt is the server timestamp when known.
	OccurredAt time.Time

	Message     *Message
	Action      *Action
	NickChange  *NickChange
	TitleChange *TitleChange
	Membership  *MembershipChange
	// RawType names the backend update type for EventKindOther.
	RawType string

	// Sidecar carries entities the backend attached to the update.
	Sidecar Sidecar
}

// Message is the payload of EventKindMessage.
type Message struct {
	ID           MessageID
	Peer         Peer
	SenderUserID int64
	Date         time.Time
	Text         string
	ReplyToID    MessageID
}

// Action is the payload of EventKindAction.
type Action struct {
	// ID identifies the action so the backend can answer it.
	ID        string
	Peer      Peer
	UserID    int64
	MessageID MessageID
	Value     string
}

// NickChange is the payload of EventKindUserNickChanged.
type NickChange struct {
	UserID int64
	Nick   string
	Name   string
}

// TitleChange is the payload of EventKindGroupTitleChanged.
type TitleChange struct {
	GroupID int64
	Title   string
}

// MembershipChange is the payload of EventKindMembershipChanged.
type MembershipChange struct {
	GroupID       int64
	UserID        int64
	InviterUserID int64
	Joined        bool
}

// Validate checks that the event kind and its payload branch agree.
func (e *UpdateEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.Seq < 0 {
		return fmt.Errorf("%w: negative seq %d", ErrInvalidEvent, e.Seq)
	}

	return validatePayloadByKind(e)
}

func validatePayloadByKind(e *UpdateEvent) error {
	switch e.Kind {
	case EventKindMessage:
		if e.Message == nil {
			return fmt.Errorf("%w: message event requires message payload", ErrInvalidEvent)
		}
		if err := e.Message.Peer.Validate(); err != nil {
			return fmt.Errorf("%w: message peer: %v", ErrInvalidEvent, err)
		}
	case EventKindAction:
		if e.Action == nil {
			return fmt.Errorf("%w: action event requires action payload", ErrInvalidEvent)
		}
	case EventKindUserNickChanged:
		if e.NickChange == nil || e.NickChange.UserID == 0 {
			return fmt.Errorf("%w: nick change event requires user id", ErrInvalidEvent)
		}
	case EventKindGroupTitleChanged:
		if e.TitleChange == nil || e.TitleChange.GroupID == 0 {
			return fmt.Errorf("%w: title change event requires group id", ErrInvalidEvent)
		}
	case EventKindMembershipChanged:
		if e.Membership == nil || e.Membership.GroupID == 0 || e.Membership.UserID == 0 {
			return fmt.Errorf("%w: membership event requires group and user ids", ErrInvalidEvent)
		}
	case EventKindOther:
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}

// References lists every entity the event implicates, including side-car refs.
//
// The result is deduplicated by peer and keeps first-seen order.
func (e *UpdateEvent) References() []Ref {
	if e == nil {
		return nil
	}

	refs := make([]Ref, 0, 4)
	switch {
	case e.Message != nil:
		refs = append(refs, e.Message.Peer.Ref())
		if e.Message.SenderUserID != 0 {
			refs = append(refs, UserRef(e.Message.SenderUserID, 0))
		}
	case e.Action != nil:
		if e.Action.Peer.ID != 0 {
			refs = append(refs, e.Action.Peer.Ref())
		}
		if e.Action.UserID != 0 {
			refs = append(refs, UserRef(e.Action.UserID, 0))
		}
	case e.NickChange != nil:
		refs = append(refs, UserRef(e.NickChange.UserID, 0))
	case e.TitleChange != nil:
		refs = append(refs, GroupRef(e.TitleChange.GroupID, 0))
	case e.Membership != nil:
		refs = append(refs, GroupRef(e.Membership.GroupID, 0), UserRef(e.Membership.UserID, 0))
		if e.Membership.InviterUserID != 0 {
			refs = append(refs, UserRef(e.Membership.InviterUserID, 0))
		}
	}
	refs = append(refs, e.Sidecar.UserRefs...)
	refs = append(refs, e.Sidecar.GroupRefs...)

	return DedupeRefs(refs)
}

// InterestSet filters which events one subscription receives.
//
// An empty Kinds list matches every event.
type InterestSet struct {
	Kinds []EventKind
}

// Matches reports whether event falls inside the interest set.
func (s InterestSet) Matches(event *UpdateEvent) bool {
	if event == nil {
		return false
	}
	if len(s.Kinds) == 0 {
		return true
	}
	for _, kind := range s.Kinds {
		if kind == event.Kind {
			return true
		}
	}

	return false
}
