package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ex-mirror/pkg/mirror"
)

// fakeRemote is an in-memory server with a directory of known entities.
type fakeRemote struct {
	mu sync.Mutex

	self       mirror.User
	authErr    error
	index      []mirror.Peer
	users      map[int64]mirror.User
	groups     map[int64]mirror.Group
	parameters map[string]string
	messages   map[mirror.MessageID]mirror.Message
	editErr    error

	// memberPages maps a cursor to the page returned for it.
	memberPages   map[string]mirror.MembersPage
	memberRelease chan struct{}

	updates chan mirror.UpdateEvent

	dialogCalls  [][]mirror.Peer
	entityCalls  []mirror.EntityRequest
	memberCalls  int
	editedParams map[string]string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		self:         mirror.User{ID: 1, Nick: "mirror_bot", IsBot: true},
		users:        make(map[int64]mirror.User),
		groups:       make(map[int64]mirror.Group),
		parameters:   map[string]string{"about": "a bot"},
		messages:     make(map[mirror.MessageID]mirror.Message),
		memberPages:  make(map[string]mirror.MembersPage),
		updates:      make(chan mirror.UpdateEvent, 8),
		editedParams: make(map[string]string),
	}
}

func (r *fakeRemote) addUser(user mirror.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

func (r *fakeRemote) addGroup(group mirror.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[group.ID] = group
}

func (r *fakeRemote) Authorize(_ context.Context, credential mirror.Credential) (mirror.User, error) {
	if r.authErr != nil {
		return mirror.User{}, r.authErr
	}
	if credential.Token == "" {
		return mirror.User{}, errors.New("token required")
	}

	return r.self, nil
}

func (r *fakeRemote) FetchDialogIndex(context.Context) ([]mirror.Peer, error) {
	return append([]mirror.Peer(nil), r.index...), nil
}

func (r *fakeRemote) LoadDialogs(_ context.Context, peers []mirror.Peer) (mirror.Response[[]mirror.Dialog], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialogCalls = append(r.dialogCalls, append([]mirror.Peer(nil), peers...))

	dialogs := make([]mirror.Dialog, 0, len(peers))
	for _, peer := range peers {
		dialogs = append(dialogs, mirror.Dialog{Peer: peer})
	}

	return mirror.Response[[]mirror.Dialog]{Payload: dialogs}, nil
}

func (r *fakeRemote) LoadReferencedEntities(_ context.Context, request mirror.EntityRequest) (mirror.EntityResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entityCalls = append(r.entityCalls, request)

	var response mirror.EntityResponse
	for _, ref := range request.UserRefs {
		if user, ok := r.users[ref.ID]; ok {
			response.Users = append(response.Users, user)
		}
	}
	for _, ref := range request.GroupRefs {
		if group, ok := r.groups[ref.ID]; ok {
			response.Groups = append(response.Groups, group)
		}
	}
	for _, ref := range request.MessageIDs {
		if message, ok := r.messages[ref.ID]; ok && message.Peer == ref.Peer {
			response.Messages = append(response.Messages, message)
		}
	}

	return response, nil
}

func (r *fakeRemote) LoadGroupMembers(ctx context.Context, _ mirror.OutPeer, cursor []byte) (mirror.MembersPage, error) {
	r.mu.Lock()
	r.memberCalls++
	release := r.memberRelease
	page, ok := r.memberPages[string(cursor)]
	r.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return mirror.MembersPage{}, ctx.Err()
		}
	}
	if !ok {
		return mirror.MembersPage{}, fmt.Errorf("unknown cursor %q", cursor)
	}

	return page, nil
}

func (r *fakeRemote) GetParameters(context.Context) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parameters := make(map[string]string, len(r.parameters))
	for key, value := range r.parameters {
		parameters[key] = value
	}

	return parameters, nil
}

func (r *fakeRemote) EditParameter(_ context.Context, key string, value string) error {
	if r.editErr != nil {
		return r.editErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.editedParams[key] = value

	return nil
}

func (r *fakeRemote) SubscribeUpdates(context.Context) (mirror.UpdateStream, error) {
	return &fakeStream{updates: r.updates}, nil
}

func (r *fakeRemote) memberCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.memberCalls
}

func (r *fakeRemote) entityRequests() []mirror.EntityRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]mirror.EntityRequest(nil), r.entityCalls...)
}

func (r *fakeRemote) entityCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entityCalls)
}

type fakeStream struct {
	updates chan mirror.UpdateEvent
}

func (s *fakeStream) Recv(ctx context.Context) (mirror.UpdateEvent, error) {
	select {
	case <-ctx.Done():
		return mirror.UpdateEvent{}, ctx.Err()
	case event := <-s.updates:
		return event, nil
	}
}

func (s *fakeStream) Close() error {
	return nil
}

// messengerRemote adds outbound messaging to fakeRemote.
type messengerRemote struct {
	*fakeRemote

	sentMu sync.Mutex
	sent   []sentText
	search map[string]mirror.SearchResult
}

type sentText struct {
	peer mirror.OutPeer
	text string
}

func newMessengerRemote() *messengerRemote {
	return &messengerRemote{fakeRemote: newFakeRemote(), search: make(map[string]mirror.SearchResult)}
}

func (r *messengerRemote) SendText(_ context.Context, peer mirror.OutPeer, text string) (mirror.MessageID, error) {
	r.sentMu.Lock()
	defer r.sentMu.Unlock()
	r.sent = append(r.sent, sentText{peer: peer, text: text})

	return mirror.MessageID(fmt.Sprintf("%d", len(r.sent))), nil
}

func (r *messengerRemote) EditText(context.Context, mirror.OutPeer, mirror.MessageID, string) error {
	return nil
}

func (r *messengerRemote) DeleteMessage(context.Context, mirror.OutPeer, mirror.MessageID) error {
	return nil
}

func (r *messengerRemote) ReadMessages(context.Context, mirror.OutPeer, mirror.MessageID) error {
	return nil
}

func (r *messengerRemote) SearchContacts(_ context.Context, query string) (mirror.SearchResult, error) {
	return r.search[query], nil
}

func (r *messengerRemote) sentTexts() []sentText {
	r.sentMu.Lock()
	defer r.sentMu.Unlock()

	return append([]sentText(nil), r.sent...)
}

// archiveRemote adds history, profile and group creation to fakeRemote.
type archiveRemote struct {
	*fakeRemote

	history      []mirror.Message
	historyCalls []mirror.OutPeer
	profile      mirror.Response[mirror.UserProfile]
	created      mirror.Group
}

func newArchiveRemote() *archiveRemote {
	return &archiveRemote{fakeRemote: newFakeRemote()}
}

func (r *archiveRemote) LoadHistory(
	_ context.Context,
	peer mirror.OutPeer,
	query mirror.HistoryQuery,
) (mirror.Response[[]mirror.Message], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.historyCalls = append(r.historyCalls, peer)

	messages := r.history
	if len(messages) > query.Limit {
		messages = messages[:query.Limit]
	}

	return mirror.Response[[]mirror.Message]{
		Payload: append([]mirror.Message(nil), messages...),
		Sidecar: mirror.MessageSidecar(messages),
	}, nil
}

func (r *archiveRemote) LoadUserProfile(context.Context, mirror.OutPeer) (mirror.Response[mirror.UserProfile], error) {
	return r.profile, nil
}

func (r *archiveRemote) CreateGroup(
	_ context.Context,
	title string,
	groupType mirror.GroupType,
) (mirror.Response[mirror.Group], error) {
	group := r.created
	group.Title = title
	group.Type = groupType

	return mirror.Response[mirror.Group]{Payload: group, Sidecar: mirror.Sidecar{Groups: []mirror.Group{group}}}, nil
}
