// Package store holds the in-memory entity mirror.
//
// A Store is owned by one client instance; nothing here is process-global.
// Every exported method is atomic with respect to readers, and reads return
// copies so callers never observe a partially merged entity.
package store

import (
	"fmt"
	"strings"
	"sync"

	"ex-mirror/pkg/mirror"
)

// Store caches users, groups, rosters, dialogs, parameters and self.
type Store struct {
	mu         sync.RWMutex
	self       *mirror.User
	users      map[int64]mirror.User
	groups     map[int64]mirror.Group
	members    map[int64]mirror.GroupMemberList
	rosterGen  map[int64]uint64
	dialogs    []mirror.Peer
	parameters map[string]string
}

// New creates an empty, concurrency-safe store.
func New() *Store {
	return &Store{
		users:      make(map[int64]mirror.User),
		groups:     make(map[int64]mirror.Group),
		members:    make(map[int64]mirror.GroupMemberList),
		rosterGen:  make(map[int64]uint64),
		parameters: make(map[string]string),
	}
}

// SetSelf records the client's own identity. It may succeed only once.
func (s *Store) SetSelf(user mirror.User) error {
	if user.ID == 0 {
		return fmt.Errorf("set self: missing user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.self != nil {
		return fmt.Errorf("set self %d: %w", user.ID, mirror.ErrSelfAlreadySet)
	}
	s.mergeUserLocked(user)
	self := s.users[user.ID]
	s.self = &self

	return nil
}

// Self returns the client's own identity once set.
func (s *Store) Self() (mirror.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.self == nil {
		return mirror.User{}, false
	}

	return *s.self, true
}

// MergeUsers upserts users by id.
func (s *Store) MergeUsers(users ...mirror.User) {
	if len(users) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range users {
		s.mergeUserLocked(user)
	}
}

// mergeUserLocked applies last-value-wins except that a known access hash
// is never cleared by a merge that lacks one.
func (s *Store) mergeUserLocked(user mirror.User) {
	if user.ID == 0 {
		return
	}
	if existing, ok := s.users[user.ID]; ok && !user.HasAccessHash && existing.HasAccessHash {
		user.AccessHash = existing.AccessHash
		user.HasAccessHash = true
	}
	s.users[user.ID] = user
}

// MergeGroups upserts groups by id.
func (s *Store) MergeGroups(groups ...mirror.Group) {
	if len(groups) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, group := range groups {
		s.mergeGroupLocked(group)
	}
}

// mergeGroupLocked keeps a known type classification. A public variant may
// still refresh its shortname.
func (s *Store) mergeGroupLocked(group mirror.Group) {
	if group.ID == 0 {
		return
	}
	if group.Type.Kind == "" {
		group.Type.Kind = mirror.GroupKindUnknown
	}

	existing, ok := s.groups[group.ID]
	if ok {
		if !group.HasAccessHash && existing.HasAccessHash {
			group.AccessHash = existing.AccessHash
			group.HasAccessHash = true
		}
		if existing.Type.Known() {
			shortname := existing.Type.Shortname
			if group.Type.Kind == existing.Type.Kind && existing.Type.IsPublic() && group.Type.Shortname != "" {
				shortname = group.Type.Shortname
			}
			group.Type = mirror.GroupType{Kind: existing.Type.Kind, Shortname: shortname}
		}
	}
	s.groups[group.ID] = group
}

// MergeDialogs replaces the dialog list, dropping repeated peers.
func (s *Store) MergeDialogs(peers []mirror.Peer) {
	dialogs := make([]mirror.Peer, 0, len(peers))
	seen := make(map[mirror.Peer]struct{}, len(peers))
	for _, peer := range peers {
		if _, exists := seen[peer]; exists {
			continue
		}
		seen[peer] = struct{}{}
		dialogs = append(dialogs, peer)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialogs = dialogs
}

// MergeGroupMembers stores a complete roster and marks it loaded.
func (s *Store) MergeGroupMembers(groupID int64, members []mirror.GroupMember) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.members[groupID] = mirror.GroupMemberList{
		GroupID: groupID,
		Members: append([]mirror.GroupMember(nil), members...),
		Loaded:  true,
	}
}

// RosterGeneration counts the membership changes seen for one group.
func (s *Store) RosterGeneration(groupID int64) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rosterGen[groupID]
}

// MergeGroupMembersSince stores a roster fetched while the group was at
// generation. It is marked loaded only if no membership change arrived since;
// otherwise it is kept as a stale roster and false is returned.
func (s *Store) MergeGroupMembersSince(groupID int64, generation uint64, members []mirror.GroupMember) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := s.rosterGen[groupID] == generation
	s.members[groupID] = mirror.GroupMemberList{
		GroupID: groupID,
		Members: append([]mirror.GroupMember(nil), members...),
		Loaded:  loaded,
	}

	return loaded
}

// MergeParameters bulk-loads parameters.
func (s *Store) MergeParameters(parameters map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range parameters {
		s.parameters[key] = value
	}
}

// SetParameter records one parameter the server already accepted.
func (s *Store) SetParameter(key string, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parameters[key] = value
}

// User returns one cached user.
func (s *Store) User(id int64) (mirror.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	return user, ok
}

// Group returns one cached group.
func (s *Store) Group(id int64) (mirror.Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[id]
	return group, ok
}

// Dialogs returns the ordered dialog peers.
func (s *Store) Dialogs() []mirror.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]mirror.Peer(nil), s.dialogs...)
}

// GroupMembers returns the cached roster of one group.
//
// A roster invalidated by a membership change is reported with Loaded false.
func (s *Store) GroupMembers(groupID int64) (mirror.GroupMemberList, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, ok := s.members[groupID]
	if !ok {
		return mirror.GroupMemberList{}, false
	}
	list.Members = append([]mirror.GroupMember(nil), list.Members...)

	return list, true
}

// Parameter returns one cached parameter.
func (s *Store) Parameter(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.parameters[key]
	return value, ok
}

// Parameters returns a copy of every cached parameter.
func (s *Store) Parameters() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.parameters))
	for key, value := range s.parameters {
		out[key] = value
	}

	return out
}

// FindUserByNick returns the first cached user whose nick matches, ignoring case.
func (s *Store) FindUserByNick(nick string) (mirror.User, bool) {
	nick = strings.TrimPrefix(strings.TrimSpace(nick), "@")
	if nick == "" {
		return mirror.User{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if strings.EqualFold(user.Nick, nick) {
			return user, true
		}
	}

	return mirror.User{}, false
}

// FindGroupByShortname returns the cached public group with the shortname, ignoring case.
func (s *Store) FindGroupByShortname(shortname string) (mirror.Group, bool) {
	shortname = strings.TrimPrefix(strings.TrimSpace(shortname), "@")
	if shortname == "" {
		return mirror.Group{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, group := range s.groups {
		if group.Type.IsPublic() && strings.EqualFold(group.Type.Shortname, shortname) {
			return group, true
		}
	}

	return mirror.Group{}, false
}

// MissingReferences returns the refs whose entities are not cached.
//
// The result keeps input order and lists each peer once. It performs no I/O.
func (s *Store) MissingReferences(refs []mirror.Ref) []mirror.Ref {
	refs = mirror.DedupeRefs(refs)
	if len(refs) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []mirror.Ref
	for _, ref := range refs {
		if !s.hasLocked(ref.Peer()) {
			missing = append(missing, ref)
		}
	}

	return missing
}

func (s *Store) hasLocked(peer mirror.Peer) bool {
	switch peer.Kind {
	case mirror.PeerKindUser:
		_, ok := s.users[peer.ID]
		return ok
	case mirror.PeerKindGroup:
		_, ok := s.groups[peer.ID]
		return ok
	default:
		return false
	}
}

// ResolveOutPeer derives the authenticated reference for one cached peer.
//
// It fails with *mirror.UnresolvedReferenceError when the entity or its
// access hash was never cached.
func (s *Store) ResolveOutPeer(peer mirror.Peer) (mirror.OutPeer, error) {
	if err := peer.Validate(); err != nil {
		return mirror.OutPeer{}, fmt.Errorf("resolve out peer: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found         bool
		hasAccessHash bool
		accessHash    int64
	)
	switch peer.Kind {
	case mirror.PeerKindUser:
		var user mirror.User
		user, found = s.users[peer.ID]
		hasAccessHash, accessHash = user.HasAccessHash, user.AccessHash
	case mirror.PeerKindGroup:
		var group mirror.Group
		group, found = s.groups[peer.ID]
		hasAccessHash, accessHash = group.HasAccessHash, group.AccessHash
	}

	if !found {
		return mirror.OutPeer{}, &mirror.UnresolvedReferenceError{Peer: peer, Reason: "entity not cached"}
	}
	if !hasAccessHash {
		return mirror.OutPeer{}, &mirror.UnresolvedReferenceError{Peer: peer, Reason: "access hash unknown"}
	}

	return mirror.OutPeer{Peer: peer, AccessHash: accessHash}, nil
}
