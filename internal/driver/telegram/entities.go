package telegram

import (
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"ex-mirror/pkg/mirror"
)

func indexGotdUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}

	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if user == nil {
			continue
		}
		notEmpty, ok := user.AsNotEmpty()
		if !ok || notEmpty == nil {
			continue
		}
		out[notEmpty.ID] = notEmpty
	}

	return out
}

// mapUser converts one Telegram user. Min users carry a hash that is only
// valid inside the update that delivered them, so it is not kept.
func mapUser(user *tg.User) mirror.User {
	firstName, _ := user.GetFirstName()
	lastName, _ := user.GetLastName()

	mapped := mirror.User{
		ID:    user.ID,
		Nick:  primaryUsername(user),
		Name:  strings.TrimSpace(firstName + " " + lastName),
		IsBot: user.Bot,
	}
	if hash, ok := user.GetAccessHash(); ok && !user.Min {
		mapped.AccessHash = hash
		mapped.HasAccessHash = true
	}

	return mapped
}

func primaryUsername(user *tg.User) string {
	if username, ok := user.GetUsername(); ok && username != "" {
		return username
	}

	return activeUsername(user.Usernames)
}

func activeUsername(usernames []tg.Username) string {
	for _, username := range usernames {
		if username.Active {
			return username.Username
		}
	}

	return ""
}

// mapChat converts one Telegram chat or channel into a group.
//
// Basic chats are addressed by id alone, so they count as carrying a hash.
func mapChat(chat tg.ChatClass) (mirror.Group, bool) {
	switch typed := chat.(type) {
	case *tg.Chat:
		// Basic chats have no access hash; a zero hash addresses them correctly.
		return mirror.Group{
			ID:            typed.ID,
			Title:         typed.Title,
			Type:          mirror.PrivateGroupType(),
			HasAccessHash: true,
		}, true
	case *tg.ChatForbidden:
		// Same as *tg.Chat: the id alone addresses a basic chat.
		return mirror.Group{
			ID:            typed.ID,
			Title:         typed.Title,
			Type:          mirror.PrivateGroupType(),
			HasAccessHash: true,
		}, true
	case *tg.Channel:
		username, _ := typed.GetUsername()
		if username == "" {
			username = activeUsername(typed.Usernames)
		}
		group := mirror.Group{
			ID:    typed.ID,
			Title: typed.Title,
			Type:  channelGroupType(typed.Broadcast, username),
		}
		if hash, ok := typed.GetAccessHash(); ok && !typed.Min {
			group.AccessHash = hash
			group.HasAccessHash = true
		}
		return group, true
	case *tg.ChannelForbidden:
		return mirror.Group{
			ID:            typed.ID,
			Title:         typed.Title,
			Type:          channelGroupType(typed.Broadcast, ""),
			AccessHash:    typed.AccessHash,
			HasAccessHash: true,
		}, true
	default:
		return mirror.Group{}, false
	}
}

func channelGroupType(broadcast bool, username string) mirror.GroupType {
	switch {
	case broadcast && username != "":
		return mirror.PublicChannelType(username)
	case broadcast:
		return mirror.PrivateChannelType()
	case username != "":
		return mirror.PublicGroupType(username)
	default:
		return mirror.PrivateGroupType()
	}
}

// carriedEntities converts the entity lists a response attaches into a side-car.
func carriedEntities(users []tg.UserClass, chats []tg.ChatClass) mirror.Sidecar {
	var sidecar mirror.Sidecar
	for _, user := range users {
		notEmpty, ok := user.AsNotEmpty()
		if !ok || notEmpty == nil {
			continue
		}
		sidecar.Users = append(sidecar.Users, mapUser(notEmpty))
	}
	for _, chat := range chats {
		if group, ok := mapChat(chat); ok {
			sidecar.Groups = append(sidecar.Groups, group)
		}
	}

	return sidecar
}

func mapPeer(peer tg.PeerClass) (mirror.Peer, bool) {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return mirror.UserPeer(typed.UserID), true
	case *tg.PeerChat:
		return mirror.GroupPeer(typed.ChatID), true
	case *tg.PeerChannel:
		return mirror.GroupPeer(typed.ChannelID), true
	default:
		return mirror.Peer{}, false
	}
}

func peerUserID(peer tg.PeerClass) int64 {
	if typed, ok := peer.(*tg.PeerUser); ok {
		return typed.UserID
	}

	return 0
}

func formatMessageID(id int) mirror.MessageID {
	return mirror.MessageID(strconv.Itoa(id))
}

func parseMessageID(id mirror.MessageID) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(string(id)))
	if err != nil {
		return 0, err
	}

	return value, nil
}

func intToTimeUTC(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(value), 0).UTC()
}
