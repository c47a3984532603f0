package mirror

import (
	"fmt"
	"strconv"
	"time"
)

// PeerKind classifies which entity family backs one peer.
type PeerKind string

const (
	// PeerKindUser identifies a private conversation with a user.
	PeerKindUser PeerKind = "user"
	// PeerKindGroup identifies a group or channel conversation.
	PeerKindGroup PeerKind = "group"
)

// Valid reports whether the kind is one of the closed set of peer kinds.
func (k PeerKind) Valid() bool {
	switch k {
	case PeerKindUser, PeerKindGroup:
		return true
	default:
		return false
	}
}

// Peer identifies one conversation by kind and numeric id.
type Peer struct {
	// Kind selects the backing entity family.
	Kind PeerKind
	// ID is the numeric identifier of the backing entity.
	ID int64
}

// UserPeer returns the private peer for one user id.
func UserPeer(id int64) Peer {
	return Peer{Kind: PeerKindUser, ID: id}
}

// GroupPeer returns the group peer for one group id.
func GroupPeer(id int64) Peer {
	return Peer{Kind: PeerKindGroup, ID: id}
}

// String renders the peer as kind:id.
func (p Peer) String() string {
	return string(p.Kind) + ":" + strconv.FormatInt(p.ID, 10)
}

// Validate checks that the peer carries a known kind and a non-zero id.
func (p Peer) Validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidPeer, p.Kind)
	}
	if p.ID == 0 {
		return fmt.Errorf("%w: missing id", ErrInvalidPeer)
	}

	return nil
}

// Ref returns a reference to the entity behind this peer with no access hash.
func (p Peer) Ref() Ref {
	return Ref{Kind: p.Kind, ID: p.ID}
}

// OutPeer is a peer reference carrying the access hash required by
// authenticated remote calls.
type OutPeer struct {
	// Peer identifies the addressed conversation.
	Peer Peer
	// AccessHash is the server-issued hash proving the client may address Peer.
	AccessHash int64
}

// Ref identifies an entity implicated by a payload that may or may not be cached.
type Ref struct {
	// Kind selects users or groups.
	Kind PeerKind
	// ID is the referenced entity id.
	ID int64
	// AccessHash optionally carries a hash the server attached to the reference.
	AccessHash int64
}

// UserRef creates one user reference.
func UserRef(id int64, accessHash int64) Ref {
	return Ref{Kind: PeerKindUser, ID: id, AccessHash: accessHash}
}

// GroupRef creates one group reference.
func GroupRef(id int64, accessHash int64) Ref {
	return Ref{Kind: PeerKindGroup, ID: id, AccessHash: accessHash}
}

// Peer returns the peer identity of the reference.
func (r Ref) Peer() Peer {
	return Peer{Kind: r.Kind, ID: r.ID}
}

// User is one known remote user.
type User struct {
	// ID is the stable user identifier.
	ID int64
	// Nick is the public nickname when the user has one.
	Nick string
	// Name is the display name.
	Name string
	// IsBot reports whether the account is a bot.
	IsBot bool
	// AccessHash is the server-issued hash for addressing this user.
	AccessHash int64
	// HasAccessHash reports whether AccessHash carries a server value.
	HasAccessHash bool
}

// Peer returns the private peer for this user.
func (u User) Peer() Peer {
	return UserPeer(u.ID)
}

// GroupKind is the closed set of group type tags.
type GroupKind string

const (
	// GroupKindUnknown marks a group whose type was not yet reported.
	GroupKindUnknown GroupKind = "unknown"
	// GroupKindPublicGroup marks a group reachable by shortname.
	GroupKindPublicGroup GroupKind = "public_group"
	// GroupKindPrivateGroup marks an invite-only group.
	GroupKindPrivateGroup GroupKind = "private_group"
	// GroupKindPublicChannel marks a broadcast channel reachable by shortname.
	GroupKindPublicChannel GroupKind = "public_channel"
	// GroupKindPrivateChannel marks an invite-only broadcast channel.
	GroupKindPrivateChannel GroupKind = "private_channel"
)

// GroupType is a tagged group classification.
//
// Shortname is only meaningful for the public variants.
type GroupType struct {
	Kind      GroupKind
	Shortname string
}

// PublicGroupType returns the public group variant.
func PublicGroupType(shortname string) GroupType {
	return GroupType{Kind: GroupKindPublicGroup, Shortname: shortname}
}

// PrivateGroupType returns the private group variant.
func PrivateGroupType() GroupType {
	return GroupType{Kind: GroupKindPrivateGroup}
}

// PublicChannelType returns the public channel variant.
func PublicChannelType(shortname string) GroupType {
	return GroupType{Kind: GroupKindPublicChannel, Shortname: shortname}
}

// PrivateChannelType returns the private channel variant.
func PrivateChannelType() GroupType {
	return GroupType{Kind: GroupKindPrivateChannel}
}

// Known reports whether the type carries a concrete classification.
func (t GroupType) Known() bool {
	switch t.Kind {
	case GroupKindPublicGroup, GroupKindPrivateGroup, GroupKindPublicChannel, GroupKindPrivateChannel:
		return true
	default:
		return false
	}
}

// IsChannel reports whether the type is a broadcast channel variant.
func (t GroupType) IsChannel() bool {
	return t.Kind == GroupKindPublicChannel || t.Kind == GroupKindPrivateChannel
}

// IsPublic reports whether the type is reachable by shortname.
func (t GroupType) IsPublic() bool {
	return t.Kind == GroupKindPublicGroup || t.Kind == GroupKindPublicChannel
}

// Group is one known remote group or channel.
type Group struct {
	// ID is the stable group identifier.
	ID int64
	// Title is the current group title.
	Title string
	// Type is the group classification; immutable once known.
	Type GroupType
	// AccessHash is the server-issued hash for addressing this group.
	AccessHash int64
	// HasAccessHash reports whether AccessHash carries a server value.
	HasAccessHash bool
}

// Peer returns the group peer for this group.
func (g Group) Peer() Peer {
	return GroupPeer(g.ID)
}

// GroupMember is one member of a group roster.
type GroupMember struct {
	UserID        int64
	InviterUserID int64
	JoinedAt      time.Time
	IsAdmin       bool
}

// GroupMemberList is the roster cached for one group.
type GroupMemberList struct {
	// GroupID identifies the group the roster belongs to.
	GroupID int64
	// Members is the roster in server order.
	Members []GroupMember
	// Loaded becomes true only after a complete paginated load.
	Loaded bool
}

// Dialog is one conversation the client participates in.
type Dialog struct {
	Peer         Peer
	UnreadCount  int
	TopMessageID MessageID
}

// MessageID identifies one message within its peer.
type MessageID string
