package bot

import (
	"context"
	"fmt"

	"ex-mirror/pkg/mirror"
)

// Self returns the authorized user.
func (b *Bot) Self(ctx context.Context) (mirror.User, error) {
	if err := b.ready.wait(ctx); err != nil {
		return mirror.User{}, fmt.Errorf("self: %w", err)
	}
	self, _ := b.store.Self()

	return self, nil
}

// User returns one cached user.
func (b *Bot) User(ctx context.Context, id int64) (mirror.User, bool, error) {
	if err := b.ready.wait(ctx); err != nil {
		return mirror.User{}, false, fmt.Errorf("user %d: %w", id, err)
	}
	user, ok := b.store.User(id)

	return user, ok, nil
}

// Group returns one cached group.
func (b *Bot) Group(ctx context.Context, id int64) (mirror.Group, bool, error) {
	if err := b.ready.wait(ctx); err != nil {
		return mirror.Group{}, false, fmt.Errorf("group %d: %w", id, err)
	}
	group, ok := b.store.Group(id)

	return group, ok, nil
}

// Dialogs returns the dialog peers in server order.
func (b *Bot) Dialogs(ctx context.Context) ([]mirror.Peer, error) {
	if err := b.ready.wait(ctx); err != nil {
		return nil, fmt.Errorf("dialogs: %w", err)
	}

	return b.store.Dialogs(), nil
}

// Parameter returns one client-scoped parameter.
func (b *Bot) Parameter(ctx context.Context, key string) (string, bool, error) {
	if err := b.ready.wait(ctx); err != nil {
		return "", false, fmt.Errorf("parameter %s: %w", key, err)
	}
	value, ok := b.store.Parameter(key)

	return value, ok, nil
}

// Parameters returns a copy of every parameter.
func (b *Bot) Parameters(ctx context.Context) (map[string]string, error) {
	if err := b.ready.wait(ctx); err != nil {
		return nil, fmt.Errorf("parameters: %w", err)
	}

	return b.store.Parameters(), nil
}

// SetParameter edits one parameter remotely and mirrors it locally once the
// server accepted it.
func (b *Bot) SetParameter(ctx context.Context, key string, value string) error {
	if err := b.ready.wait(ctx); err != nil {
		return fmt.Errorf("set parameter %s: %w", key, err)
	}
	if err := b.remote.EditParameter(ctx, key, value); err != nil {
		return fmt.Errorf("set parameter %s: %w", key, err)
	}
	b.store.SetParameter(key, value)

	return nil
}

// ResolveOutPeer returns the addressable form of a cached peer.
func (b *Bot) ResolveOutPeer(ctx context.Context, peer mirror.Peer) (mirror.OutPeer, error) {
	if err := b.ready.wait(ctx); err != nil {
		return mirror.OutPeer{}, fmt.Errorf("resolve out peer %s: %w", peer, err)
	}
	outPeer, err := b.store.ResolveOutPeer(peer)
	if err != nil {
		return mirror.OutPeer{}, fmt.Errorf("resolve out peer: %w", err)
	}

	return outPeer, nil
}
