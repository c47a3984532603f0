package store

import (
	"fmt"

	"ex-mirror/pkg/mirror"
)

// ApplyUpdate mutates the mirror for one ordered event under a single lock.
//
// Entities the event references must already be merged; a change event for
// an uncached entity fails with *mirror.UnresolvedReferenceError and leaves
// the store untouched.
func (s *Store) ApplyUpdate(event mirror.UpdateEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mergeSidecarLocked(event.Sidecar)

	switch event.Kind {
	case mirror.EventKindMessage:
		s.appendDialogLocked(event.Message.Peer)
	case mirror.EventKindUserNickChanged:
		return s.applyNickChangeLocked(*event.NickChange)
	case mirror.EventKindGroupTitleChanged:
		return s.applyTitleChangeLocked(*event.TitleChange)
	case mirror.EventKindMembershipChanged:
		s.applyMembershipLocked(*event.Membership)
	case mirror.EventKindAction, mirror.EventKindOther:
	}

	return nil
}

func (s *Store) mergeSidecarLocked(sidecar mirror.Sidecar) {
	for _, user := range sidecar.Users {
		s.mergeUserLocked(user)
	}
	for _, group := range sidecar.Groups {
		s.mergeGroupLocked(group)
	}
}

func (s *Store) appendDialogLocked(peer mirror.Peer) {
	for _, existing := range s.dialogs {
		if existing == peer {
			return
		}
	}
	s.dialogs = append(s.dialogs, peer)
}

func (s *Store) applyNickChangeLocked(change mirror.NickChange) error {
	user, ok := s.users[change.UserID]
	if !ok {
		return &mirror.UnresolvedReferenceError{Peer: mirror.UserPeer(change.UserID), Reason: "nick change for uncached user"}
	}
	user.Nick = change.Nick
	if change.Name != "" {
		user.Name = change.Name
	}
	s.users[change.UserID] = user

	return nil
}

func (s *Store) applyTitleChangeLocked(change mirror.TitleChange) error {
	group, ok := s.groups[change.GroupID]
	if !ok {
		return &mirror.UnresolvedReferenceError{Peer: mirror.GroupPeer(change.GroupID), Reason: "title change for uncached group"}
	}
	group.Title = change.Title
	s.groups[change.GroupID] = group

	return nil
}

// applyMembershipLocked marks a loaded roster stale rather than patching it.
// The generation bump also covers rosters still being fetched.
func (s *Store) applyMembershipLocked(change mirror.MembershipChange) {
	s.rosterGen[change.GroupID]++
	if list, ok := s.members[change.GroupID]; ok {
		list.Loaded = false
		s.members[change.GroupID] = list
	}
	if change.Joined && s.self != nil && s.self.ID == change.UserID {
		s.appendDialogLocked(mirror.GroupPeer(change.GroupID))
	}
}
