package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"

	"ex-mirror/pkg/mirror"
)

// SendText sends one plain text message.
func (s *Service) SendText(ctx context.Context, peer mirror.OutPeer, text string) (mirror.MessageID, error) {
	randomID, err := crypto.RandInt64(s.rand)
	if err != nil {
		return "", fmt.Errorf("send text random id: %w", err)
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	updates, err := s.api.MessagesSendMessage(callCtx, &tg.MessagesSendMessageRequest{
		Peer:     s.peers.Resolve(peer),
		Message:  text,
		RandomID: randomID,
	})
	if err != nil {
		return "", mapRemoteError(mirror.RemoteOperationSendText, err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return "", fmt.Errorf("extract sent message id: %w", err)
	}

	return formatMessageID(messageID), nil
}

// EditText replaces the text of one message.
func (s *Service) EditText(ctx context.Context, peer mirror.OutPeer, messageID mirror.MessageID, text string) error {
	id, err := parseMessageID(messageID)
	if err != nil {
		return fmt.Errorf("edit text parse message id %s: %w", messageID, err)
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.api.MessagesEditMessage(callCtx, &tg.MessagesEditMessageRequest{
		Peer:    s.peers.Resolve(peer),
		ID:      id,
		Message: text,
	}); err != nil {
		return mapRemoteError(mirror.RemoteOperationEditText, err)
	}

	return nil
}

// DeleteMessage deletes one message for every participant.
func (s *Service) DeleteMessage(ctx context.Context, peer mirror.OutPeer, messageID mirror.MessageID) error {
	id, err := parseMessageID(messageID)
	if err != nil {
		return fmt.Errorf("delete message parse message id %s: %w", messageID, err)
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if channel, ok := s.peers.Resolve(peer).(*tg.InputPeerChannel); ok {
		_, err = s.api.ChannelsDeleteMessages(callCtx, &tg.ChannelsDeleteMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
			ID:      []int{id},
		})
	} else {
		_, err = s.api.MessagesDeleteMessages(callCtx, &tg.MessagesDeleteMessagesRequest{
			Revoke: true,
			ID:     []int{id},
		})
	}
	if err != nil {
		return mapRemoteError(mirror.RemoteOperationDeleteMessage, err)
	}

	return nil
}

// ReadMessages marks history up to messageID as read.
func (s *Service) ReadMessages(ctx context.Context, peer mirror.OutPeer, messageID mirror.MessageID) error {
	id, err := parseMessageID(messageID)
	if err != nil {
		return fmt.Errorf("read messages parse message id %s: %w", messageID, err)
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	input := s.peers.Resolve(peer)
	if channel, ok := input.(*tg.InputPeerChannel); ok {
		_, err = s.api.ChannelsReadHistory(callCtx, &tg.ChannelsReadHistoryRequest{
			Channel: &tg.InputChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
			MaxID:   id,
		})
	} else {
		_, err = s.api.MessagesReadHistory(callCtx, &tg.MessagesReadHistoryRequest{Peer: input, MaxID: id})
	}
	if err != nil {
		return mapRemoteError(mirror.RemoteOperationReadMessages, err)
	}

	return nil
}

// SearchContacts searches users and groups by name or nickname.
func (s *Service) SearchContacts(ctx context.Context, query string) (mirror.SearchResult, error) {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	found, err := s.api.ContactsSearch(callCtx, &tg.ContactsSearchRequest{Q: query, Limit: defaultSearchLimit})
	if err != nil {
		return mirror.SearchResult{}, mapRemoteError(mirror.RemoteOperationSearchContacts, err)
	}
	s.peers.Remember(found.Users, found.Chats)

	result := mirror.SearchResult{Sidecar: carriedEntities(found.Users, found.Chats)}
	seen := make(map[mirror.Peer]struct{})
	for _, raw := range append(append([]tg.PeerClass(nil), found.MyResults...), found.Results...) {
		peer, ok := mapPeer(raw)
		if !ok {
			continue
		}
		if _, dup := seen[peer]; dup {
			continue
		}
		seen[peer] = struct{}{}
		result.Peers = append(result.Peers, peer)
	}

	return result, nil
}
