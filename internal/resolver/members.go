package resolver

import (
	"context"
	"fmt"

	"ex-mirror/pkg/mirror"
)

// maxRosterAttempts bounds reloads caused by membership changes that land
// while a roster is being fetched.
const maxRosterAttempts = 3

// LoadGroupMembers loads a complete roster by following server cursors.
//
// Pages are accumulated until the server returns an empty cursor. Member users
// are then resolved and the roster is merged once per attempt. A membership
// change during the fetch makes the roster stale, and the load starts over.
// After maxRosterAttempts the last roster is kept unloaded.
// A failed page leaves the cached roster untouched.
func (r *Resolver) LoadGroupMembers(ctx context.Context, group mirror.OutPeer) ([]mirror.GroupMember, error) {
	if group.Peer.Kind != mirror.PeerKindGroup {
		return nil, fmt.Errorf("load group members %s: %w", group.Peer, mirror.ErrInvalidPeer)
	}

	var members []mirror.GroupMember
	for attempt := 1; attempt <= maxRosterAttempts; attempt++ {
		generation := r.store.RosterGeneration(group.Peer.ID)

		fetched, pages, err := r.fetchRoster(ctx, group)
		if err != nil {
			return nil, err
		}
		members = fetched

		if r.store.MergeGroupMembersSince(group.Peer.ID, generation, members) {
			r.logger.DebugContext(ctx, "group roster loaded",
				"group_id", group.Peer.ID,
				"members", len(members),
				"pages", pages,
				"attempt", attempt,
			)
			return append([]mirror.GroupMember(nil), members...), nil
		}
		r.logger.DebugContext(ctx, "group roster changed during load",
			"group_id", group.Peer.ID,
			"attempt", attempt,
		)
	}

	r.logger.WarnContext(ctx, "group roster kept stale",
		"group_id", group.Peer.ID,
		"attempts", maxRosterAttempts,
	)

	return append([]mirror.GroupMember(nil), members...), nil
}

// fetchRoster pages through one roster and resolves every member user.
func (r *Resolver) fetchRoster(ctx context.Context, group mirror.OutPeer) ([]mirror.GroupMember, int, error) {
	var (
		members []mirror.GroupMember
		sidecar mirror.Sidecar
		cursor  []byte
		pages   int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, pages, fmt.Errorf("load group members %s page %d: %w", group.Peer, pages+1, err)
		}

		page, err := r.loader.LoadGroupMembers(ctx, group, cursor)
		if err != nil {
			return nil, pages, fmt.Errorf("load group members %s page %d: %w", group.Peer, pages+1, err)
		}
		pages++
		members = append(members, page.Members...)
		sidecar = sidecar.Merge(page.Sidecar)

		if len(page.NextCursor) == 0 {
			break
		}
		cursor = page.NextCursor
	}

	subset := &mirror.GroupMembersSubset{Group: group, UserIDs: make([]int64, 0, len(members))}
	for _, member := range members {
		sidecar.UserRefs = append(sidecar.UserRefs, mirror.UserRef(member.UserID, 0))
		subset.UserIDs = append(subset.UserIDs, member.UserID)
	}
	sidecar.GroupMembers = subset

	if err := r.Resolve(ctx, sidecar); err != nil {
		return nil, pages, fmt.Errorf("load group members %s: %w", group.Peer, err)
	}

	return members, pages, nil
}
