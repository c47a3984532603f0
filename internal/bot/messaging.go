package bot

import (
	"context"
	"fmt"

	"ex-mirror/pkg/mirror"
)

// SendText sends a plain text message to a cached peer.
func (b *Bot) SendText(ctx context.Context, peer mirror.Peer, text string) (mirror.MessageID, error) {
	messenger, outPeer, err := capability[mirror.Messenger](ctx, b, "send text", peer)
	if err != nil {
		return "", err
	}
	messageID, err := messenger.SendText(ctx, outPeer, text)
	if err != nil {
		return "", fmt.Errorf("send text to %s: %w", peer, err)
	}

	return messageID, nil
}

// EditText replaces the text of one previously sent message.
func (b *Bot) EditText(ctx context.Context, peer mirror.Peer, messageID mirror.MessageID, text string) error {
	messenger, outPeer, err := capability[mirror.Messenger](ctx, b, "edit text", peer)
	if err != nil {
		return err
	}
	if err := messenger.EditText(ctx, outPeer, messageID, text); err != nil {
		return fmt.Errorf("edit text %s in %s: %w", messageID, peer, err)
	}

	return nil
}

// DeleteMessage removes one message.
func (b *Bot) DeleteMessage(ctx context.Context, peer mirror.Peer, messageID mirror.MessageID) error {
	messenger, outPeer, err := capability[mirror.Messenger](ctx, b, "delete message", peer)
	if err != nil {
		return err
	}
	if err := messenger.DeleteMessage(ctx, outPeer, messageID); err != nil {
		return fmt.Errorf("delete message %s in %s: %w", messageID, peer, err)
	}

	return nil
}

// ReadMessages marks a dialog as read up to and including messageID.
func (b *Bot) ReadMessages(ctx context.Context, peer mirror.Peer, messageID mirror.MessageID) error {
	messenger, outPeer, err := capability[mirror.Messenger](ctx, b, "read messages", peer)
	if err != nil {
		return err
	}
	if err := messenger.ReadMessages(ctx, outPeer, messageID); err != nil {
		return fmt.Errorf("read messages in %s: %w", peer, err)
	}

	return nil
}

// FindUserByNick looks a user up by nickname, asking the server when the
// mirror does not know it yet.
func (b *Bot) FindUserByNick(ctx context.Context, nick string) (mirror.User, bool, error) {
	if err := b.ready.wait(ctx); err != nil {
		return mirror.User{}, false, fmt.Errorf("find user %s: %w", nick, err)
	}
	if user, ok := b.store.FindUserByNick(nick); ok {
		return user, true, nil
	}
	if err := b.searchContacts(ctx, nick); err != nil {
		return mirror.User{}, false, fmt.Errorf("find user %s: %w", nick, err)
	}
	user, ok := b.store.FindUserByNick(nick)

	return user, ok, nil
}

// FindGroupByShortname looks a public group up by shortname, asking the
// server when the mirror does not know it yet.
func (b *Bot) FindGroupByShortname(ctx context.Context, shortname string) (mirror.Group, bool, error) {
	if err := b.ready.wait(ctx); err != nil {
		return mirror.Group{}, false, fmt.Errorf("find group %s: %w", shortname, err)
	}
	if group, ok := b.store.FindGroupByShortname(shortname); ok {
		return group, true, nil
	}
	if err := b.searchContacts(ctx, shortname); err != nil {
		return mirror.Group{}, false, fmt.Errorf("find group %s: %w", shortname, err)
	}
	group, ok := b.store.FindGroupByShortname(shortname)

	return group, ok, nil
}

func (b *Bot) searchContacts(ctx context.Context, query string) error {
	messenger, ok := b.remote.(mirror.Messenger)
	if !ok {
		return fmt.Errorf("search contacts: %w", mirror.ErrUnsupported)
	}
	result, err := messenger.SearchContacts(ctx, query)
	if err != nil {
		return fmt.Errorf("search contacts: %w", err)
	}

	sidecar := result.Sidecar
	for _, peer := range result.Peers {
		switch peer.Kind {
		case mirror.PeerKindUser:
			sidecar.UserRefs = append(sidecar.UserRefs, peer.Ref())
		case mirror.PeerKindGroup:
			sidecar.GroupRefs = append(sidecar.GroupRefs, peer.Ref())
		}
	}
	if err := b.resolver.Resolve(ctx, sidecar); err != nil {
		return fmt.Errorf("search contacts: %w", err)
	}

	return nil
}
