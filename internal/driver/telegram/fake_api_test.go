package telegram

import (
	"context"
	"errors"
	"sync"

	"github.com/gotd/td/tg"

	"ex-mirror/pkg/mirror"
)

var errNotScripted = errors.New("call not scripted")

// fakeAPI records requests and serves scripted responses.
type fakeAPI struct {
	mu sync.Mutex

	dialogPages    []tg.MessagesDialogsClass
	dialogRequests []*tg.MessagesGetDialogsRequest
	peerDialogs    *tg.MessagesPeerDialogs
	users          []tg.UserClass
	userRequests   [][]tg.InputUserClass
	chats          []tg.ChatClass
	chatRequests   [][]int64
	channels       []tg.ChatClass
	channelInputs  [][]tg.InputChannelClass
	participants   map[int]tg.ChannelsChannelParticipantsClass
	fullChat       *tg.MessagesChatFull
	botInfo        *tg.BotsBotInfo
	setInfo        []*tg.BotsSetBotInfoRequest
	state          *tg.UpdatesState
	differences    []tg.UpdatesDifferenceClass
	diffRequests   []*tg.UpdatesGetDifferenceRequest
	sent           []*tg.MessagesSendMessageRequest
	sendResult     tg.UpdatesClass
	deletedChannel []*tg.ChannelsDeleteMessagesRequest
	deleted        []*tg.MessagesDeleteMessagesRequest
	found          *tg.ContactsFound
	messages       tg.MessagesMessagesClass
	messageInputs  [][]tg.InputMessageClass
	channelMsgs    map[int64]tg.MessagesMessagesClass
	channelMsgReqs []*tg.ChannelsGetMessagesRequest
	history        tg.MessagesMessagesClass
	historyReqs    []*tg.MessagesGetHistoryRequest
	fullUser       *tg.UsersUserFull
	created        tg.UpdatesClass
	createRequests []*tg.ChannelsCreateChannelRequest
	err            error
}

func (f *fakeAPI) MessagesGetDialogs(
	_ context.Context,
	request *tg.MessagesGetDialogsRequest,
) (tg.MessagesDialogsClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialogRequests = append(f.dialogRequests, request)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.dialogPages) == 0 {
		return nil, errNotScripted
	}
	page := f.dialogPages[0]
	f.dialogPages = f.dialogPages[1:]

	return page, nil
}

func (f *fakeAPI) MessagesGetPeerDialogs(context.Context, []tg.InputDialogPeerClass) (*tg.MessagesPeerDialogs, error) {
	if f.peerDialogs == nil {
		return nil, errNotScripted
	}

	return f.peerDialogs, nil
}

func (f *fakeAPI) UsersGetUsers(_ context.Context, id []tg.InputUserClass) ([]tg.UserClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userRequests = append(f.userRequests, id)
	if f.err != nil {
		return nil, f.err
	}

	return f.users, nil
}

func (f *fakeAPI) MessagesGetChats(_ context.Context, id []int64) (tg.MessagesChatsClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatRequests = append(f.chatRequests, id)

	return &tg.MessagesChats{Chats: f.chats}, nil
}

func (f *fakeAPI) ChannelsGetChannels(_ context.Context, id []tg.InputChannelClass) (tg.MessagesChatsClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelInputs = append(f.channelInputs, id)

	return &tg.MessagesChats{Chats: f.channels}, nil
}

func (f *fakeAPI) ChannelsGetParticipants(
	_ context.Context,
	request *tg.ChannelsGetParticipantsRequest,
) (tg.ChannelsChannelParticipantsClass, error) {
	page, ok := f.participants[request.Offset]
	if !ok {
		return nil, errNotScripted
	}

	return page, nil
}

func (f *fakeAPI) MessagesGetFullChat(context.Context, int64) (*tg.MessagesChatFull, error) {
	if f.fullChat == nil {
		return nil, errNotScripted
	}

	return f.fullChat, nil
}

func (f *fakeAPI) BotsGetBotInfo(context.Context, *tg.BotsGetBotInfoRequest) (*tg.BotsBotInfo, error) {
	if f.botInfo == nil {
		return nil, errNotScripted
	}

	return f.botInfo, nil
}

func (f *fakeAPI) BotsSetBotInfo(_ context.Context, request *tg.BotsSetBotInfoRequest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setInfo = append(f.setInfo, request)

	return true, nil
}

func (f *fakeAPI) UpdatesGetState(context.Context) (*tg.UpdatesState, error) {
	if f.state == nil {
		return nil, errNotScripted
	}

	return f.state, nil
}

func (f *fakeAPI) UpdatesGetDifference(
	_ context.Context,
	request *tg.UpdatesGetDifferenceRequest,
) (tg.UpdatesDifferenceClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diffRequests = append(f.diffRequests, request)
	if len(f.differences) == 0 {
		return nil, errNotScripted
	}
	diff := f.differences[0]
	f.differences = f.differences[1:]

	return diff, nil
}

func (f *fakeAPI) MessagesSendMessage(_ context.Context, request *tg.MessagesSendMessageRequest) (tg.UpdatesClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, request)
	if f.err != nil {
		return nil, f.err
	}

	return f.sendResult, nil
}

func (f *fakeAPI) MessagesEditMessage(context.Context, *tg.MessagesEditMessageRequest) (tg.UpdatesClass, error) {
	return &tg.Updates{}, nil
}

func (f *fakeAPI) MessagesDeleteMessages(
	_ context.Context,
	request *tg.MessagesDeleteMessagesRequest,
) (*tg.MessagesAffectedMessages, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, request)

	return &tg.MessagesAffectedMessages{}, nil
}

func (f *fakeAPI) ChannelsDeleteMessages(
	_ context.Context,
	request *tg.ChannelsDeleteMessagesRequest,
) (*tg.MessagesAffectedMessages, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedChannel = append(f.deletedChannel, request)

	return &tg.MessagesAffectedMessages{}, nil
}

func (f *fakeAPI) MessagesReadHistory(context.Context, *tg.MessagesReadHistoryRequest) (*tg.MessagesAffectedMessages, error) {
	return &tg.MessagesAffectedMessages{}, nil
}

func (f *fakeAPI) ChannelsReadHistory(context.Context, *tg.ChannelsReadHistoryRequest) (bool, error) {
	return true, nil
}

func (f *fakeAPI) ContactsSearch(context.Context, *tg.ContactsSearchRequest) (*tg.ContactsFound, error) {
	if f.found == nil {
		return nil, errNotScripted
	}

	return f.found, nil
}

func (f *fakeAPI) MessagesGetMessages(_ context.Context, id []tg.InputMessageClass) (tg.MessagesMessagesClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageInputs = append(f.messageInputs, id)
	if f.messages == nil {
		return nil, errNotScripted
	}

	return f.messages, nil
}

func (f *fakeAPI) ChannelsGetMessages(
	_ context.Context,
	request *tg.ChannelsGetMessagesRequest,
) (tg.MessagesMessagesClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelMsgReqs = append(f.channelMsgReqs, request)
	channel, ok := request.Channel.(*tg.InputChannel)
	if !ok {
		return nil, errNotScripted
	}
	result, ok := f.channelMsgs[channel.ChannelID]
	if !ok {
		return nil, errNotScripted
	}

	return result, nil
}

func (f *fakeAPI) MessagesGetHistory(
	_ context.Context,
	request *tg.MessagesGetHistoryRequest,
) (tg.MessagesMessagesClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyReqs = append(f.historyReqs, request)
	if f.err != nil {
		return nil, f.err
	}
	if f.history == nil {
		return nil, errNotScripted
	}

	return f.history, nil
}

func (f *fakeAPI) UsersGetFullUser(context.Context, tg.InputUserClass) (*tg.UsersUserFull, error) {
	if f.fullUser == nil {
		return nil, errNotScripted
	}

	return f.fullUser, nil
}

func (f *fakeAPI) ChannelsCreateChannel(
	_ context.Context,
	request *tg.ChannelsCreateChannelRequest,
) (tg.UpdatesClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createRequests = append(f.createRequests, request)
	if f.created == nil {
		return nil, errNotScripted
	}

	return f.created, nil
}

// fakeAuthorizer returns a fixed account.
type fakeAuthorizer struct {
	self *tg.User
	err  error
}

func (a fakeAuthorizer) Authorize(context.Context, mirror.Credential) (*tg.User, error) {
	return a.self, a.err
}

func newTestService(api *fakeAPI, self *tg.User, options ...Option) *Service {
	service, err := newService(api, fakeAuthorizer{self: self}, NewPeerCache(), nil, options...)
	if err != nil {
		panic(err)
	}

	return service
}

func userAccount() *tg.User {
	user := &tg.User{ID: 1}
	user.SetFirstName("Ada")
	user.SetAccessHash(11)
	return user
}

func botAccount() *tg.User {
	user := &tg.User{ID: 2, Bot: true}
	user.SetFirstName("Mirror")
	user.SetAccessHash(22)
	user.SetUsername("mirror_bot")
	return user
}
