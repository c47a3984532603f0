package telegram

import (
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"ex-mirror/pkg/mirror"
)

// mapUpdate converts one flattened Telegram update into mirror events.
//
// Updates the mirror does not interpret become EventKindOther. Only common
// message box updates carry a sequence position; channel updates have their
// own per-channel counters and stay untracked.
func mapUpdate(update tg.UpdateClass, occurredAt time.Time, sidecar mirror.Sidecar) []mirror.UpdateEvent {
	var (
		events []mirror.UpdateEvent
		seq    int64
	)

	switch typed := update.(type) {
	case *tg.UpdateNewMessage:
		seq = int64(typed.Pts)
		events = mapMessageClass(typed.Message, occurredAt)
	case *tg.UpdateNewChannelMessage:
		events = mapMessageClass(typed.Message, occurredAt)
	case *tg.UpdateUserName:
		events = []mirror.UpdateEvent{{
			Kind: mirror.EventKindUserNickChanged,
			NickChange: &mirror.NickChange{
				UserID: typed.UserID,
				Nick:   activeUsername(typed.Usernames),
				Name:   strings.TrimSpace(typed.FirstName + " " + typed.LastName),
			},
		}}
	case *tg.UpdateChatParticipantAdd:
		events = []mirror.UpdateEvent{membershipEvent(typed.ChatID, typed.UserID, typed.InviterID, true)}
		if at := intToTimeUTC(typed.Date); !at.IsZero() {
			occurredAt = at
		}
	case *tg.UpdateChatParticipantDelete:
		events = []mirror.UpdateEvent{membershipEvent(typed.ChatID, typed.UserID, 0, false)}
	case *tg.UpdateChannelParticipant:
		if event, ok := mapChannelParticipant(typed); ok {
			events = []mirror.UpdateEvent{event}
		}
		if at := intToTimeUTC(typed.Date); !at.IsZero() {
			occurredAt = at
		}
	case *tg.UpdateBotCallbackQuery:
		peer, _ := mapPeer(typed.Peer)
		data, _ := typed.GetData()
		events = []mirror.UpdateEvent{{
			Kind: mirror.EventKindAction,
			Action: &mirror.Action{
				ID:        strconv.FormatInt(typed.QueryID, 10),
				Peer:      peer,
				UserID:    typed.UserID,
				MessageID: formatMessageID(typed.MsgID),
				Value:     string(data),
			},
		}}
	case *tg.UpdateEditMessage:
		seq = int64(typed.Pts)
	case *tg.UpdateDeleteMessages:
		seq = int64(typed.Pts)
	case *tg.UpdateReadHistoryInbox:
		seq = int64(typed.Pts)
	case *tg.UpdateReadHistoryOutbox:
		seq = int64(typed.Pts)
	}

	if len(events) == 0 {
		events = []mirror.UpdateEvent{{Kind: mirror.EventKindOther, RawType: update.TypeName()}}
	}
	for index := range events {
		events[index].Seq = seq
		events[index].Sidecar = sidecar
		if events[index].OccurredAt.IsZero() {
			events[index].OccurredAt = occurredAt
		}
	}

	return events
}

func mapMessageClass(message tg.MessageClass, occurredAt time.Time) []mirror.UpdateEvent {
	switch typed := message.(type) {
	case *tg.Message:
		event, ok := mapMessage(typed)
		if !ok {
			return nil
		}
		return []mirror.UpdateEvent{event}
	case *tg.MessageService:
		return mapServiceMessage(typed, occurredAt)
	default:
		return nil
	}
}

func mapMessage(message *tg.Message) (mirror.UpdateEvent, bool) {
	peer, ok := mapPeer(message.PeerID)
	if !ok {
		return mirror.UpdateEvent{}, false
	}

	payload := &mirror.Message{
		ID:   formatMessageID(message.ID),
		Peer: peer,
		Date: intToTimeUTC(message.Date),
		Text: message.Message,
	}
	if fromID, ok := message.GetFromID(); ok {
		payload.SenderUserID = peerUserID(fromID)
	} else if !message.Out {
		payload.SenderUserID = peerUserID(message.PeerID)
	}
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if replyToMessageID, ok := header.GetReplyToMsgID(); ok {
				payload.ReplyToID = formatMessageID(replyToMessageID)
			}
		}
	}

	return mirror.UpdateEvent{
		Kind:       mirror.EventKindMessage,
		OccurredAt: payload.Date,
		Message:    payload,
	}, true
}

func mapServiceMessage(message *tg.MessageService, occurredAt time.Time) []mirror.UpdateEvent {
	peer, ok := mapPeer(message.PeerID)
	if !ok || peer.Kind != mirror.PeerKindGroup {
		return nil
	}
	if at := intToTimeUTC(message.Date); !at.IsZero() {
		occurredAt = at
	}
	var actorID int64
	if fromID, ok := message.GetFromID(); ok {
		actorID = peerUserID(fromID)
	}

	var events []mirror.UpdateEvent
	switch action := message.Action.(type) {
	case *tg.MessageActionChatEditTitle:
		events = append(events, mirror.UpdateEvent{
			Kind:        mirror.EventKindGroupTitleChanged,
			TitleChange: &mirror.TitleChange{GroupID: peer.ID, Title: action.Title},
		})
	case *tg.MessageActionChatAddUser:
		for _, userID := range action.Users {
			inviter := actorID
			if inviter == userID {
				inviter = 0
			}
			events = append(events, membershipEvent(peer.ID, userID, inviter, true))
		}
	case *tg.MessageActionChatDeleteUser:
		events = append(events, membershipEvent(peer.ID, action.UserID, 0, false))
	case *tg.MessageActionChatJoinedByLink:
		if actorID != 0 {
			events = append(events, membershipEvent(peer.ID, actorID, action.InviterID, true))
		}
	case *tg.MessageActionChatJoinedByRequest:
		if actorID != 0 {
			events = append(events, membershipEvent(peer.ID, actorID, 0, true))
		}
	}
	for index := range events {
		events[index].OccurredAt = occurredAt
	}

	return events
}

func mapChannelParticipant(update *tg.UpdateChannelParticipant) (mirror.UpdateEvent, bool) {
	prevParticipant, prevExists := update.GetPrevParticipant()
	newParticipant, newExists := update.GetNewParticipant()

	oldActive := prevExists && isChannelRoleActive(channelParticipantRole(prevParticipant))
	newActive := newExists && isChannelRoleActive(channelParticipantRole(newParticipant))

	switch {
	case !oldActive && newActive:
		inviter := update.ActorID
		if inviter == update.UserID {
			inviter = 0
		}
		return membershipEvent(update.ChannelID, update.UserID, inviter, true), true
	case oldActive && !newActive:
		return membershipEvent(update.ChannelID, update.UserID, 0, false), true
	default:
		return mirror.UpdateEvent{}, false
	}
}

func membershipEvent(groupID int64, userID int64, inviterID int64, joined bool) mirror.UpdateEvent {
	return mirror.UpdateEvent{
		Kind: mirror.EventKindMembershipChanged,
		Membership: &mirror.MembershipChange{
			GroupID:       groupID,
			UserID:        userID,
			InviterUserID: inviterID,
			Joined:        joined,
		},
	}
}

func channelParticipantRole(participant tg.ChannelParticipantClass) string {
	switch participant.(type) {
	case *tg.ChannelParticipantCreator:
		return "owner"
	case *tg.ChannelParticipantAdmin:
		return "admin"
	case *tg.ChannelParticipant, *tg.ChannelParticipantSelf:
		return "member"
	case *tg.ChannelParticipantBanned:
		return "banned"
	case *tg.ChannelParticipantLeft:
		return "left"
	default:
		return ""
	}
}

func isChannelRoleActive(role string) bool {
	switch role {
	case "", "left", "banned":
		return false
	default:
		return true
	}
}
