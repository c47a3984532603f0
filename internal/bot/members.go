package bot

import (
	"context"
	"fmt"
	"strconv"

	"ex-mirror/pkg/mirror"
)

// GroupMembers returns the full roster of a cached group.
//
// The first access after bootstrap, or after a membership change invalidated
// the roster, pages through the server. Concurrent callers share one load.
// A group that is not cached reports false.
func (b *Bot) GroupMembers(ctx context.Context, groupID int64) (mirror.GroupMemberList, bool, error) {
	if err := b.ready.wait(ctx); err != nil {
		return mirror.GroupMemberList{}, false, fmt.Errorf("group members %d: %w", groupID, err)
	}
	if list, ok := b.store.GroupMembers(groupID); ok && list.Loaded {
		return list, true, nil
	}
	if _, ok := b.store.Group(groupID); !ok {
		return mirror.GroupMemberList{}, false, nil
	}

	group, err := b.store.ResolveOutPeer(mirror.GroupPeer(groupID))
	if err != nil {
		return mirror.GroupMemberList{}, false, fmt.Errorf("group members %d: %w", groupID, err)
	}

	// The shared load outlives any single caller's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	result := b.members.DoChan(strconv.FormatInt(groupID, 10), func() (any, error) {
		return b.resolver.LoadGroupMembers(loadCtx, group)
	})

	select {
	case <-ctx.Done():
		return mirror.GroupMemberList{}, false, fmt.Errorf("group members %d: %w", groupID, ctx.Err())
	case res := <-result:
		if res.Err != nil {
			return mirror.GroupMemberList{}, false, fmt.Errorf("group members %d: %w", groupID, res.Err)
		}
	}

	list, ok := b.store.GroupMembers(groupID)

	return list, ok, nil
}
