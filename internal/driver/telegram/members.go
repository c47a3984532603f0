package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gotd/td/tg"

	"ex-mirror/pkg/mirror"
)

// LoadGroupMembers loads one roster page.
//
// Channel rosters page by a decimal participant offset carried in the cursor.
// Basic chat rosters arrive whole with the full chat and end in one page.
func (s *Service) LoadGroupMembers(
	ctx context.Context,
	group mirror.OutPeer,
	cursor []byte,
) (mirror.MembersPage, error) {
	switch input := s.peers.Resolve(group).(type) {
	case *tg.InputPeerChannel:
		return s.loadChannelMembers(ctx, group, input, cursor)
	case *tg.InputPeerChat:
		return s.loadChatMembers(ctx, group, input.ChatID)
	default:
		return mirror.MembersPage{}, fmt.Errorf("load group members %s: %w", group.Peer, mirror.ErrInvalidPeer)
	}
}

func (s *Service) loadChannelMembers(
	ctx context.Context,
	group mirror.OutPeer,
	input *tg.InputPeerChannel,
	cursor []byte,
) (mirror.MembersPage, error) {
	offset := 0
	if len(cursor) > 0 {
		parsed, err := strconv.Atoi(string(cursor))
		if err != nil || parsed < 0 {
			return mirror.MembersPage{}, fmt.Errorf("load group members %s: invalid cursor %q", group.Peer, cursor)
		}
		offset = parsed
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	result, err := s.api.ChannelsGetParticipants(callCtx, &tg.ChannelsGetParticipantsRequest{
		Channel: &tg.InputChannel{ChannelID: input.ChannelID, AccessHash: input.AccessHash},
		Filter:  &tg.ChannelParticipantsRecent{},
		Offset:  offset,
		Limit:   s.cfg.memberPageSize,
	})
	if err != nil {
		return mirror.MembersPage{}, mapRemoteError(mirror.RemoteOperationLoadGroupMembers, err)
	}

	participants, ok := result.(*tg.ChannelsChannelParticipants)
	if !ok {
		return mirror.MembersPage{}, nil
	}
	s.peers.Remember(participants.Users, participants.Chats)

	page := mirror.MembersPage{
		Members: make([]mirror.GroupMember, 0, len(participants.Participants)),
		Sidecar: carriedEntities(participants.Users, participants.Chats),
	}
	for _, participant := range participants.Participants {
		if member, ok := mapChannelMember(participant); ok {
			page.Members = append(page.Members, member)
		}
	}
	page.Sidecar.GroupMembers = memberSubset(group, page.Members)

	next := offset + len(participants.Participants)
	if len(participants.Participants) > 0 && next < participants.Count {
		page.NextCursor = []byte(strconv.Itoa(next))
	}

	return page, nil
}

func (s *Service) loadChatMembers(ctx context.Context, group mirror.OutPeer, chatID int64) (mirror.MembersPage, error) {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	result, err := s.api.MessagesGetFullChat(callCtx, chatID)
	if err != nil {
		return mirror.MembersPage{}, mapRemoteError(mirror.RemoteOperationLoadGroupMembers, err)
	}
	s.peers.Remember(result.Users, result.Chats)

	page := mirror.MembersPage{Sidecar: carriedEntities(result.Users, result.Chats)}
	full, ok := result.FullChat.(*tg.ChatFull)
	if !ok {
		return page, nil
	}
	roster, ok := full.Participants.(*tg.ChatParticipants)
	if !ok {
		return page, nil
	}
	for _, participant := range roster.Participants {
		if member, ok := mapChatMember(participant); ok {
			page.Members = append(page.Members, member)
		}
	}
	page.Sidecar.GroupMembers = memberSubset(group, page.Members)

	return page, nil
}

func mapChannelMember(participant tg.ChannelParticipantClass) (mirror.GroupMember, bool) {
	switch typed := participant.(type) {
	case *tg.ChannelParticipant:
		return mirror.GroupMember{UserID: typed.UserID, JoinedAt: intToTimeUTC(typed.Date)}, true
	case *tg.ChannelParticipantSelf:
		return mirror.GroupMember{
			UserID:        typed.UserID,
			InviterUserID: typed.InviterID,
			JoinedAt:      intToTimeUTC(typed.Date),
		}, true
	case *tg.ChannelParticipantCreator:
		return mirror.GroupMember{UserID: typed.UserID, IsAdmin: true}, true
	case *tg.ChannelParticipantAdmin:
		inviter, _ := typed.GetInviterID()
		return mirror.GroupMember{
			UserID:        typed.UserID,
			InviterUserID: inviter,
			JoinedAt:      intToTimeUTC(typed.Date),
			IsAdmin:       true,
		}, true
	default:
		return mirror.GroupMember{}, false
	}
}

func mapChatMember(participant tg.ChatParticipantClass) (mirror.GroupMember, bool) {
	switch typed := participant.(type) {
	case *tg.ChatParticipant:
		return mirror.GroupMember{
			UserID:        typed.UserID,
			InviterUserID: typed.InviterID,
			JoinedAt:      intToTimeUTC(typed.Date),
		}, true
	case *tg.ChatParticipantCreator:
		return mirror.GroupMember{UserID: typed.UserID, IsAdmin: true}, true
	case *tg.ChatParticipantAdmin:
		return mirror.GroupMember{
			UserID:        typed.UserID,
			InviterUserID: typed.InviterID,
			JoinedAt:      intToTimeUTC(typed.Date),
			IsAdmin:       true,
		}, true
	default:
		return mirror.GroupMember{}, false
	}
}

func memberSubset(group mirror.OutPeer, members []mirror.GroupMember) *mirror.GroupMembersSubset {
	if len(members) == 0 {
		return nil
	}

	subset := &mirror.GroupMembersSubset{Group: group, UserIDs: make([]int64, 0, len(members))}
	for _, member := range members {
		subset.UserIDs = append(subset.UserIDs, member.UserID)
	}

	return subset
}
