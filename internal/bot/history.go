package bot

import (
	"context"
	"fmt"

	"ex-mirror/internal/resolver"
	"ex-mirror/pkg/mirror"
)

// FetchMessages loads messages by id and mirrors their senders and
// conversations before returning them.
//
// Every referenced conversation must already be known to the mirror.
func (b *Bot) FetchMessages(ctx context.Context, refs []mirror.MessageRef) ([]mirror.Message, error) {
	if err := b.ready.wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	if len(refs) == 0 {
		return nil, nil
	}

	request := mirror.EntityRequest{MessageIDs: make([]mirror.MessageRef, 0, len(refs))}
	for _, ref := range refs {
		outPeer, err := b.store.ResolveOutPeer(ref.Peer)
		if err != nil {
			return nil, fmt.Errorf("fetch messages: %w", err)
		}
		ref.AccessHash = outPeer.AccessHash
		request.MessageIDs = append(request.MessageIDs, ref)
	}

	response, err := b.remote.LoadReferencedEntities(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	carried := mirror.Sidecar{Users: response.Users, Groups: response.Groups}
	messages, err := resolver.Apply(ctx, b.resolver, mirror.Response[[]mirror.Message]{
		Payload: response.Messages,
		Sidecar: carried.Merge(mirror.MessageSidecar(response.Messages)),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	return messages, nil
}

// LoadHistory reads one window of a conversation, oldest message first.
func (b *Bot) LoadHistory(ctx context.Context, peer mirror.Peer, query mirror.HistoryQuery) ([]mirror.Message, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("load history %s: %w", peer, err)
	}
	loader, outPeer, err := capability[mirror.HistoryLoader](ctx, b, "load history", peer)
	if err != nil {
		return nil, err
	}

	response, err := loader.LoadHistory(ctx, outPeer, query)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", peer, err)
	}
	messages, err := resolver.Apply(ctx, b.resolver, response)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", peer, err)
	}

	return messages, nil
}

// UserFullProfile loads the extended profile of one cached user and refreshes
// the mirrored user on the way.
func (b *Bot) UserFullProfile(ctx context.Context, userID int64) (mirror.UserProfile, error) {
	peer := mirror.UserPeer(userID)
	loader, outPeer, err := capability[mirror.ProfileLoader](ctx, b, "user profile", peer)
	if err != nil {
		return mirror.UserProfile{}, err
	}

	response, err := loader.LoadUserProfile(ctx, outPeer)
	if err != nil {
		return mirror.UserProfile{}, fmt.Errorf("user profile %d: %w", userID, err)
	}
	profile, err := resolver.Apply(ctx, b.resolver, response)
	if err != nil {
		return mirror.UserProfile{}, fmt.Errorf("user profile %d: %w", userID, err)
	}
	if user, ok := b.store.User(userID); ok {
		profile.User = user
	}

	return profile, nil
}

// CreateGroup creates a group and mirrors it before returning.
func (b *Bot) CreateGroup(ctx context.Context, title string, groupType mirror.GroupType) (mirror.Group, error) {
	if err := b.ready.wait(ctx); err != nil {
		return mirror.Group{}, fmt.Errorf("create group %q: %w", title, err)
	}
	creator, ok := b.remote.(mirror.GroupCreator)
	if !ok {
		return mirror.Group{}, fmt.Errorf("create group %q: %w", title, mirror.ErrUnsupported)
	}

	response, err := creator.CreateGroup(ctx, title, groupType)
	if err != nil {
		return mirror.Group{}, fmt.Errorf("create group %q: %w", title, err)
	}
	group, err := resolver.Apply(ctx, b.resolver, response)
	if err != nil {
		return mirror.Group{}, fmt.Errorf("create group %q: %w", title, err)
	}
	if mirrored, ok := b.store.Group(group.ID); ok {
		group = mirrored
	}

	return group, nil
}

// capability awaits readiness and resolves an optional backend capability
// together with the addressed peer.
func capability[T any](ctx context.Context, b *Bot, operation string, peer mirror.Peer) (T, mirror.OutPeer, error) {
	var zero T
	if err := b.ready.wait(ctx); err != nil {
		return zero, mirror.OutPeer{}, fmt.Errorf("%s: %w", operation, err)
	}
	implementation, ok := b.remote.(T)
	if !ok {
		return zero, mirror.OutPeer{}, fmt.Errorf("%s: %w", operation, mirror.ErrUnsupported)
	}
	outPeer, err := b.store.ResolveOutPeer(peer)
	if err != nil {
		return zero, mirror.OutPeer{}, fmt.Errorf("%s: %w", operation, err)
	}

	return implementation, outPeer, nil
}
