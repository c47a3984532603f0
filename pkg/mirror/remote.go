package mirror

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Credential authenticates the client against the remote service.
//
// Exactly one of Token or Phone selects the login flow.
type Credential struct {
	// Token is a bot token.
	Token string
	// Phone starts a user login flow.
	Phone string
	// Password is the optional second factor of a user login.
	Password string
	// Code is the optional pre-supplied login code of a user login.
	Code string
}

// Validate checks that exactly one login flow is selected.
func (c Credential) Validate() error {
	token := strings.TrimSpace(c.Token)
	phone := strings.TrimSpace(c.Phone)
	switch {
	case token == "" && phone == "":
		return fmt.Errorf("%w: token or phone is required", ErrInvalidCredential)
	case token != "" && phone != "":
		return fmt.Errorf("%w: token and phone are mutually exclusive", ErrInvalidCredential)
	default:
		return nil
	}
}

// MessageRef addresses one message inside its conversation.
//
// AccessHash addresses the conversation; the client fills it from the mirror.
type MessageRef struct {
	Peer       Peer
	AccessHash int64
	ID         MessageID
}

// EntityRequest names the entities one backfill call should load.
type EntityRequest struct {
	UserRefs     []Ref
	GroupRefs    []Ref
	MessageIDs   []MessageRef
	GroupMembers *GroupMembersSubset
}

// IsEmpty reports whether the request names nothing.
func (r EntityRequest) IsEmpty() bool {
	return len(r.UserRefs) == 0 && len(r.GroupRefs) == 0 && len(r.MessageIDs) == 0
}

// EntityResponse carries the entities returned by one backfill call.
//
// Messages is only filled when the request named message ids.
type EntityResponse struct {
	Users    []User
	Groups   []Group
	Messages []Message
}

// MembersPage is one page of a group roster.
//
// An empty NextCursor ends pagination.
type MembersPage struct {
	Members    []GroupMember
	NextCursor []byte
	Sidecar    Sidecar
}

// SearchResult carries the peers matched by a contacts search.
type SearchResult struct {
	Peers   []Peer
	Sidecar Sidecar
}

// UpdateStream is one live subscription to the server's ordered update feed.
type UpdateStream interface {
	// Recv blocks until the next event, a stream failure, or ctx cancellation.
	Recv(ctx context.Context) (UpdateEvent, error)
	// Close releases the subscription.
	Close() error
}

// RemoteService is the typed remote-call surface the mirror consumes.
//
// Implementations attach deadlines to one-shot calls and report failures as
// *RemoteCallError. SubscribeUpdates carries no deadline.
type RemoteService interface {
	// Authorize logs in and returns the client's own user.
	Authorize(ctx context.Context, credential Credential) (User, error)
	// FetchDialogIndex lists the peers of every dialog in server order.
	FetchDialogIndex(ctx context.Context) ([]Peer, error)
	// LoadDialogs loads dialog details for a set of peers.
	LoadDialogs(ctx context.Context, peers []Peer) (Response[[]Dialog], error)
	// LoadReferencedEntities loads users and groups by reference in one call.
	LoadReferencedEntities(ctx context.Context, request EntityRequest) (EntityResponse, error)
	// LoadGroupMembers loads one roster page following an opaque cursor.
	LoadGroupMembers(ctx context.Context, group OutPeer, cursor []byte) (MembersPage, error)
	// GetParameters loads every client-scoped parameter.
	GetParameters(ctx context.Context) (map[string]string, error)
	// EditParameter stores one parameter remotely.
	EditParameter(ctx context.Context, key string, value string) error
	// SubscribeUpdates opens the live ordered update stream.
	SubscribeUpdates(ctx context.Context) (UpdateStream, error)
}

// Difference is one slice of updates missed since a sequence position.
type Difference struct {
	// Events are the missed updates in server order.
	Events []UpdateEvent
	// Seq is the position reached after applying Events.
	Seq int64
	// Final reports whether Seq is the current server position.
	Final bool
	// Truncated reports that the server refused to replay the gap.
	Truncated bool
}

// DifferenceFetcher is implemented by backends able to replay missed updates.
type DifferenceFetcher interface {
	// GetState returns the current server sequence position.
	GetState(ctx context.Context) (int64, error)
	// GetDifference returns updates after seq.
	GetDifference(ctx context.Context, seq int64) (Difference, error)
}

// HistoryDirection selects which side of the anchor date a history read covers.
type HistoryDirection string

const (
	// HistoryForward reads messages sent after the anchor date.
	HistoryForward HistoryDirection = "forward"
	// HistoryBackward reads messages sent before the anchor date.
	HistoryBackward HistoryDirection = "backward"
)

// Valid reports whether d is a known direction.
func (d HistoryDirection) Valid() bool {
	return d == HistoryForward || d == HistoryBackward
}

// HistoryQuery selects one window of a conversation's history.
//
// A zero Date anchors backward reads at the newest message.
type HistoryQuery struct {
	Date      time.Time
	Direction HistoryDirection
	Limit     int
}

// Validate checks the direction and the limit.
func (q HistoryQuery) Validate() error {
	if !q.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidQuery, q.Direction)
	}
	if q.Limit <= 0 {
		return fmt.Errorf("%w: limit %d must be positive", ErrInvalidQuery, q.Limit)
	}

	return nil
}

// UserProfile is the extended profile of one user.
type UserProfile struct {
	User              User
	About             string
	CommonGroupsCount int
}

// HistoryLoader is implemented by backends that can read stored messages.
//
// Messages come back oldest first.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, peer OutPeer, query HistoryQuery) (Response[[]Message], error)
}

// ProfileLoader is implemented by backends that expose extended user profiles.
type ProfileLoader interface {
	LoadUserProfile(ctx context.Context, peer OutPeer) (Response[UserProfile], error)
}

// GroupCreator is implemented by backends that can create groups.
type GroupCreator interface {
	CreateGroup(ctx context.Context, title string, groupType GroupType) (Response[Group], error)
}

// Messenger is implemented by backends that can send and manage messages.
type Messenger interface {
	SendText(ctx context.Context, peer OutPeer, text string) (MessageID, error)
	EditText(ctx context.Context, peer OutPeer, messageID MessageID, text string) error
	DeleteMessage(ctx context.Context, peer OutPeer, messageID MessageID) error
	// ReadMessages marks every message up to and including messageID as read.
	ReadMessages(ctx context.Context, peer OutPeer, messageID MessageID) error
	SearchContacts(ctx context.Context, query string) (SearchResult, error)
}
