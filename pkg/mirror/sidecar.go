package mirror

// Sidecar carries the entity lists a remote response attaches to its primary
// payload.
//
// Refs name entities the payload implicates; Users and Groups carry entities
// the server chose to include in full. Carried entities are merged before
// missing references are computed.
type Sidecar struct {
	UserRefs  []Ref
	GroupRefs []Ref
	Users     []User
	Groups    []Group
	// GroupMembers scopes user refs that stem from one group roster.
	GroupMembers *GroupMembersSubset
}

// GroupMembersSubset names roster members whose users should be fetched in
// the context of their group.
type GroupMembersSubset struct {
	Group   OutPeer
	UserIDs []int64
}

// Response couples one primary payload with its side-car entities.
type Response[T any] struct {
	Payload T
	Sidecar Sidecar
}

// MessageSidecar names the conversations and senders of messages.
func MessageSidecar(messages []Message) Sidecar {
	var sidecar Sidecar
	for _, message := range messages {
		switch message.Peer.Kind {
		case PeerKindUser:
			sidecar.UserRefs = append(sidecar.UserRefs, message.Peer.Ref())
		case PeerKindGroup:
			sidecar.GroupRefs = append(sidecar.GroupRefs, message.Peer.Ref())
		}
		if message.SenderUserID != 0 {
			sidecar.UserRefs = append(sidecar.UserRefs, UserRef(message.SenderUserID, 0))
		}
	}
	sidecar.UserRefs = DedupeRefs(sidecar.UserRefs)
	sidecar.GroupRefs = DedupeRefs(sidecar.GroupRefs)

	return sidecar
}

// Refs returns all user and group refs, deduplicated by peer and in order.
func (s Sidecar) Refs() []Ref {
	return DedupeRefs(append(append([]Ref(nil), s.UserRefs...), s.GroupRefs...))
}

// IsEmpty reports whether the side-car names or carries nothing.
func (s Sidecar) IsEmpty() bool {
	return len(s.UserRefs) == 0 &&
		len(s.GroupRefs) == 0 &&
		len(s.Users) == 0 &&
		len(s.Groups) == 0 &&
		s.GroupMembers == nil
}

// Merge appends other's lists to a copy of s.
//
// The roster subset of s wins when both carry one.
func (s Sidecar) Merge(other Sidecar) Sidecar {
	merged := Sidecar{
		UserRefs:     append(append([]Ref(nil), s.UserRefs...), other.UserRefs...),
		GroupRefs:    append(append([]Ref(nil), s.GroupRefs...), other.GroupRefs...),
		Users:        append(append([]User(nil), s.Users...), other.Users...),
		Groups:       append(append([]Group(nil), s.Groups...), other.Groups...),
		GroupMembers: s.GroupMembers,
	}
	if merged.GroupMembers == nil {
		merged.GroupMembers = other.GroupMembers
	}

	return merged
}

// DedupeRefs removes repeated peers keeping the first occurrence.
//
// A later duplicate that carries an access hash fills in a missing one.
func DedupeRefs(refs []Ref) []Ref {
	if len(refs) == 0 {
		return nil
	}

	out := make([]Ref, 0, len(refs))
	index := make(map[Peer]int, len(refs))
	for _, ref := range refs {
		if ref.ID == 0 || !ref.Kind.Valid() {
			continue
		}
		if position, seen := index[ref.Peer()]; seen {
			if out[position].AccessHash == 0 && ref.AccessHash != 0 {
				out[position].AccessHash = ref.AccessHash
			}
			continue
		}
		index[ref.Peer()] = len(out)
		out = append(out, ref)
	}

	return out
}
