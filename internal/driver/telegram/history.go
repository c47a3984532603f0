package telegram

import (
	"context"
	"fmt"
	"slices"

	"github.com/gotd/td/tg"

	"ex-mirror/pkg/mirror"
)

// LoadHistory reads one window of a conversation, oldest message first.
//
// Forward reads start at query.Date and walk towards newer messages.
func (s *Service) LoadHistory(
	ctx context.Context,
	peer mirror.OutPeer,
	query mirror.HistoryQuery,
) (mirror.Response[[]mirror.Message], error) {
	limit := min(query.Limit, maxHistoryLimit)
	request := &tg.MessagesGetHistoryRequest{
		Peer:  s.peers.Resolve(peer),
		Limit: limit,
	}
	if !query.Date.IsZero() {
		request.OffsetDate = int(query.Date.Unix())
	}
	if query.Direction == mirror.HistoryForward {
		request.AddOffset = -limit
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	result, err := s.api.MessagesGetHistory(callCtx, request)
	if err != nil {
		return mirror.Response[[]mirror.Message]{}, mapRemoteError(mirror.RemoteOperationLoadHistory, err)
	}

	messages, carried := s.rememberMessages(result)
	slices.Reverse(messages)

	return mirror.Response[[]mirror.Message]{
		Payload: messages,
		Sidecar: carried.Merge(mirror.MessageSidecar(messages)),
	}, nil
}

// LoadUserProfile loads the extended profile of one user.
func (s *Service) LoadUserProfile(
	ctx context.Context,
	peer mirror.OutPeer,
) (mirror.Response[mirror.UserProfile], error) {
	input, ok := s.peers.Resolve(peer).(*tg.InputPeerUser)
	if !ok {
		return mirror.Response[mirror.UserProfile]{}, fmt.Errorf("load user profile %s: %w", peer.Peer, mirror.ErrInvalidPeer)
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	full, err := s.api.UsersGetFullUser(callCtx, &tg.InputUser{UserID: input.UserID, AccessHash: input.AccessHash})
	if err != nil {
		return mirror.Response[mirror.UserProfile]{}, mapRemoteError(mirror.RemoteOperationLoadUserProfile, err)
	}
	s.peers.Remember(full.Users, full.Chats)

	carried := carriedEntities(full.Users, full.Chats)
	profile := mirror.UserProfile{
		User:              mirror.User{ID: full.FullUser.ID},
		About:             full.FullUser.About,
		CommonGroupsCount: full.FullUser.CommonChatsCount,
	}
	for _, user := range carried.Users {
		if user.ID == full.FullUser.ID {
			profile.User = user
		}
	}
	carried.UserRefs = append(carried.UserRefs, mirror.UserRef(full.FullUser.ID, input.AccessHash))

	return mirror.Response[mirror.UserProfile]{Payload: profile, Sidecar: carried}, nil
}

// CreateGroup creates a private supergroup or a private channel.
//
// Public variants need a username claimed in a second call and are refused.
func (s *Service) CreateGroup(
	ctx context.Context,
	title string,
	groupType mirror.GroupType,
) (mirror.Response[mirror.Group], error) {
	if !groupType.Known() || groupType.IsPublic() {
		return mirror.Response[mirror.Group]{}, fmt.Errorf("create group %q as %s: %w", title, groupType.Kind, mirror.ErrUnsupported)
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	updates, err := s.api.ChannelsCreateChannel(callCtx, &tg.ChannelsCreateChannelRequest{
		Title:     title,
		Broadcast: groupType.IsChannel(),
		Megagroup: !groupType.IsChannel(),
	})
	if err != nil {
		return mirror.Response[mirror.Group]{}, mapRemoteError(mirror.RemoteOperationCreateGroup, err)
	}

	users, chats := updatesEntities(updates)
	s.peers.Remember(users, chats)
	carried := carriedEntities(users, chats)
	if len(carried.Groups) == 0 {
		return mirror.Response[mirror.Group]{}, fmt.Errorf("create group %q: server returned no group", title)
	}

	return mirror.Response[mirror.Group]{Payload: carried.Groups[0], Sidecar: carried}, nil
}

// loadMessages fetches messages by id, one call for users and basic chats
// and one call per channel.
func (s *Service) loadMessages(
	ctx context.Context,
	refs []mirror.MessageRef,
) ([]mirror.Message, mirror.Sidecar, error) {
	var (
		common    []tg.InputMessageClass
		channels  []*tg.ChannelsGetMessagesRequest
		byChannel = make(map[int64]*tg.ChannelsGetMessagesRequest)
	)
	for _, ref := range refs {
		id, err := parseMessageID(ref.ID)
		if err != nil {
			return nil, mirror.Sidecar{}, fmt.Errorf("load messages parse message id %s: %w", ref.ID, err)
		}
		input := &tg.InputMessageID{ID: id}

		channel, ok := s.peers.Resolve(mirror.OutPeer{Peer: ref.Peer, AccessHash: ref.AccessHash}).(*tg.InputPeerChannel)
		if !ok {
			common = append(common, input)
			continue
		}
		request, seen := byChannel[channel.ChannelID]
		if !seen {
			request = &tg.ChannelsGetMessagesRequest{
				Channel: &tg.InputChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
			}
			byChannel[channel.ChannelID] = request
			channels = append(channels, request)
		}
		request.ID = append(request.ID, input)
	}

	var (
		messages []mirror.Message
		sidecar  mirror.Sidecar
	)
	if len(common) > 0 {
		callCtx, cancel := s.withTimeout(ctx)
		result, err := s.api.MessagesGetMessages(callCtx, common)
		cancel()
		if err != nil {
			return nil, mirror.Sidecar{}, mapRemoteError(mirror.RemoteOperationLoadEntities, err)
		}
		batch, carried := s.rememberMessages(result)
		messages = append(messages, batch...)
		sidecar = sidecar.Merge(carried)
	}
	for _, request := range channels {
		callCtx, cancel := s.withTimeout(ctx)
		result, err := s.api.ChannelsGetMessages(callCtx, request)
		cancel()
		if err != nil {
			return nil, mirror.Sidecar{}, mapRemoteError(mirror.RemoteOperationLoadEntities, err)
		}
		batch, carried := s.rememberMessages(result)
		messages = append(messages, batch...)
		sidecar = sidecar.Merge(carried)
	}

	return messages, sidecar, nil
}

// rememberMessages maps the plain messages of a result and caches the peers
// it carries. Deleted and service messages are skipped.
func (s *Service) rememberMessages(result tg.MessagesMessagesClass) ([]mirror.Message, mirror.Sidecar) {
	modified, ok := result.AsModified()
	if !ok {
		return nil, mirror.Sidecar{}
	}
	s.peers.Remember(modified.GetUsers(), modified.GetChats())

	var messages []mirror.Message
	for _, raw := range modified.GetMessages() {
		message, ok := raw.(*tg.Message)
		if !ok {
			continue
		}
		if event, ok := mapMessage(message); ok {
			messages = append(messages, *event.Message)
		}
	}

	return messages, carriedEntities(modified.GetUsers(), modified.GetChats())
}

func updatesEntities(updates tg.UpdatesClass) ([]tg.UserClass, []tg.ChatClass) {
	switch typed := updates.(type) {
	case *tg.Updates:
		return typed.Users, typed.Chats
	case *tg.UpdatesCombined:
		return typed.Users, typed.Chats
	default:
		return nil, nil
	}
}
