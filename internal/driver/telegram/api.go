package telegram

import (
	"context"

	"github.com/gotd/td/tg"
)

// gotdAPI is the subset of *tg.Client the remote service calls.
type gotdAPI interface {
	MessagesGetDialogs(ctx context.Context, request *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error)
	MessagesGetPeerDialogs(ctx context.Context, peers []tg.InputDialogPeerClass) (*tg.MessagesPeerDialogs, error)
	UsersGetUsers(ctx context.Context, id []tg.InputUserClass) ([]tg.UserClass, error)
	MessagesGetChats(ctx context.Context, id []int64) (tg.MessagesChatsClass, error)
	ChannelsGetChannels(ctx context.Context, id []tg.InputChannelClass) (tg.MessagesChatsClass, error)
	ChannelsGetParticipants(
		ctx context.Context,
		request *tg.ChannelsGetParticipantsRequest,
	) (tg.ChannelsChannelParticipantsClass, error)
	MessagesGetFullChat(ctx context.Context, chatID int64) (*tg.MessagesChatFull, error)
	BotsGetBotInfo(ctx context.Context, request *tg.BotsGetBotInfoRequest) (*tg.BotsBotInfo, error)
	BotsSetBotInfo(ctx context.Context, request *tg.BotsSetBotInfoRequest) (bool, error)
	UpdatesGetState(ctx context.Context) (*tg.UpdatesState, error)
	UpdatesGetDifference(ctx context.Context, request *tg.UpdatesGetDifferenceRequest) (tg.UpdatesDifferenceClass, error)
	MessagesSendMessage(ctx context.Context, request *tg.MessagesSendMessageRequest) (tg.UpdatesClass, error)
	MessagesEditMessage(ctx context.Context, request *tg.MessagesEditMessageRequest) (tg.UpdatesClass, error)
	MessagesDeleteMessages(
		ctx context.Context,
		request *tg.MessagesDeleteMessagesRequest,
	) (*tg.MessagesAffectedMessages, error)
	ChannelsDeleteMessages(
		ctx context.Context,
		request *tg.ChannelsDeleteMessagesRequest,
	) (*tg.MessagesAffectedMessages, error)
	MessagesReadHistory(ctx context.Context, request *tg.MessagesReadHistoryRequest) (*tg.MessagesAffectedMessages, error)
	ChannelsReadHistory(ctx context.Context, request *tg.ChannelsReadHistoryRequest) (bool, error)
	ContactsSearch(ctx context.Context, request *tg.ContactsSearchRequest) (*tg.ContactsFound, error)
	MessagesGetMessages(ctx context.Context, id []tg.InputMessageClass) (tg.MessagesMessagesClass, error)
	ChannelsGetMessages(ctx context.Context, request *tg.ChannelsGetMessagesRequest) (tg.MessagesMessagesClass, error)
	MessagesGetHistory(ctx context.Context, request *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
	UsersGetFullUser(ctx context.Context, id tg.InputUserClass) (*tg.UsersUserFull, error)
	ChannelsCreateChannel(ctx context.Context, request *tg.ChannelsCreateChannelRequest) (tg.UpdatesClass, error)
}

var _ gotdAPI = (*tg.Client)(nil)
