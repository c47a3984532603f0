package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/tg"

	"ex-mirror/pkg/mirror"
)

const (
	defaultCallTimeout    = 10 * time.Second
	defaultDialogPageSize = 100
	defaultMaxDialogPages = 50
	defaultMemberPageSize = 200
	defaultSearchLimit    = 20
	maxHistoryLimit       = 100
)

// Bot parameter keys backed by the bot info of the authorized account.
const (
	ParameterName        = "name"
	ParameterAbout       = "about"
	ParameterDescription = "description"
)

// authorizer logs one account in and returns its own user.
type authorizer interface {
	Authorize(ctx context.Context, credential mirror.Credential) (*tg.User, error)
}

// Option mutates remote service configuration.
type Option func(*serviceConfig)

type serviceConfig struct {
	logger         *slog.Logger
	callTimeout    time.Duration
	dialogPageSize int
	maxDialogPages int
	memberPageSize int
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		logger:         slog.Default(),
		callTimeout:    defaultCallTimeout,
		dialogPageSize: defaultDialogPageSize,
		maxDialogPages: defaultMaxDialogPages,
		memberPageSize: defaultMemberPageSize,
	}
}

// WithLogger configures service diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *serviceConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithCallTimeout bounds every one-shot RPC.
func WithCallTimeout(timeout time.Duration) Option {
	return func(cfg *serviceConfig) {
		if timeout > 0 {
			cfg.callTimeout = timeout
		}
	}
}

// WithDialogPaging configures dialog index page size and page count limit.
func WithDialogPaging(pageSize int, maxPages int) Option {
	return func(cfg *serviceConfig) {
		if pageSize > 0 {
			cfg.dialogPageSize = pageSize
		}
		if maxPages > 0 {
			cfg.maxDialogPages = maxPages
		}
	}
}

// WithMemberPageSize configures how many channel participants one page loads.
func WithMemberPageSize(pageSize int) Option {
	return func(cfg *serviceConfig) {
		if pageSize > 0 {
			cfg.memberPageSize = pageSize
		}
	}
}

// Service implements the mirror remote service over the Telegram MTProto API.
type Service struct {
	api     gotdAPI
	auth    authorizer
	peers   *PeerCache
	updates *updateChannel
	rand    io.Reader
	cfg     serviceConfig

	mu    sync.Mutex
	self  *tg.User
	state tg.UpdatesState
}

var (
	_ mirror.RemoteService     = (*Service)(nil)
	_ mirror.DifferenceFetcher = (*Service)(nil)
	_ mirror.Messenger         = (*Service)(nil)
	_ mirror.HistoryLoader     = (*Service)(nil)
	_ mirror.ProfileLoader     = (*Service)(nil)
	_ mirror.GroupCreator      = (*Service)(nil)
)

func newService(
	api gotdAPI,
	auth authorizer,
	peers *PeerCache,
	updates *updateChannel,
	options ...Option,
) (*Service, error) {
	if api == nil {
		return nil, fmt.Errorf("new telegram service: nil api")
	}
	if auth == nil {
		return nil, fmt.Errorf("new telegram service: nil authorizer")
	}
	if peers == nil {
		peers = NewPeerCache()
	}

	cfg := defaultServiceConfig()
	for _, option := range options {
		option(&cfg)
	}
	if updates == nil {
		updates = newUpdateChannel(defaultUpdateBuffer, peers, cfg.logger)
	}

	return &Service{
		api:     api,
		auth:    auth,
		peers:   peers,
		updates: updates,
		rand:    crypto.DefaultRand(),
		cfg:     cfg,
	}, nil
}

// Authorize logs in and remembers the returned account.
func (s *Service) Authorize(ctx context.Context, credential mirror.Credential) (mirror.User, error) {
	user, err := s.auth.Authorize(ctx, credential)
	if err != nil {
		return mirror.User{}, mapRemoteError(mirror.RemoteOperationAuthorize, err)
	}
	if user == nil {
		return mirror.User{}, &mirror.RemoteCallError{
			Operation: mirror.RemoteOperationAuthorize,
			Kind:      mirror.RemoteErrorKindPermanent,
			Cause:     fmt.Errorf("empty self user"),
		}
	}

	s.peers.Remember([]tg.UserClass{user}, nil)
	s.mu.Lock()
	s.self = user
	s.mu.Unlock()

	return mapUser(user), nil
}

// FetchDialogIndex pages through the dialog list in server order.
//
// Bot accounts cannot list dialogs and always get an empty index.
func (s *Service) FetchDialogIndex(ctx context.Context) ([]mirror.Peer, error) {
	if s.isBot() {
		return nil, nil
	}

	var (
		peers      []mirror.Peer
		seen       = make(map[mirror.Peer]struct{})
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	)
	for page := 0; page < s.cfg.maxDialogPages; page++ {
		callCtx, cancel := s.withTimeout(ctx)
		result, err := s.api.MessagesGetDialogs(callCtx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      s.cfg.dialogPageSize,
		})
		cancel()
		if err != nil {
			return nil, mapRemoteError(mirror.RemoteOperationFetchDialogIndex, err)
		}

		var (
			dialogs  []tg.DialogClass
			messages []tg.MessageClass
			complete bool
		)
		switch typed := result.(type) {
		case *tg.MessagesDialogs:
			dialogs, messages, complete = typed.Dialogs, typed.Messages, true
			s.peers.Remember(typed.Users, typed.Chats)
		case *tg.MessagesDialogsSlice:
			dialogs, messages = typed.Dialogs, typed.Messages
			s.peers.Remember(typed.Users, typed.Chats)
		default:
			return peers, nil
		}

		var last *tg.Dialog
		for _, dialog := range dialogs {
			typed, ok := dialog.(*tg.Dialog)
			if !ok {
				continue
			}
			last = typed
			peer, ok := mapPeer(typed.Peer)
			if !ok {
				continue
			}
			if _, dup := seen[peer]; dup {
				continue
			}
			seen[peer] = struct{}{}
			peers = append(peers, peer)
		}

		if complete || last == nil || len(dialogs) < s.cfg.dialogPageSize {
			return peers, nil
		}
		lastPeer, _ := mapPeer(last.Peer)
		offsetID = last.TopMessage
		offsetDate = messageDate(messages, lastPeer, last.TopMessage)
		offsetPeer = s.peers.Resolve(mirror.OutPeer{Peer: lastPeer})
	}

	s.cfg.logger.WarnContext(ctx, "dialog index truncated",
		"pages", s.cfg.maxDialogPages,
		"dialogs", len(peers),
	)

	return peers, nil
}

// LoadDialogs loads dialog details for peers in one call.
func (s *Service) LoadDialogs(ctx context.Context, peers []mirror.Peer) (mirror.Response[[]mirror.Dialog], error) {
	if len(peers) == 0 {
		return mirror.Response[[]mirror.Dialog]{}, nil
	}

	inputs := make([]tg.InputDialogPeerClass, 0, len(peers))
	for _, peer := range peers {
		inputs = append(inputs, &tg.InputDialogPeer{Peer: s.peers.Resolve(mirror.OutPeer{Peer: peer})})
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	result, err := s.api.MessagesGetPeerDialogs(callCtx, inputs)
	if err != nil {
		return mirror.Response[[]mirror.Dialog]{}, mapRemoteError(mirror.RemoteOperationLoadDialogs, err)
	}
	s.peers.Remember(result.Users, result.Chats)

	dialogs := make([]mirror.Dialog, 0, len(result.Dialogs))
	for _, dialog := range result.Dialogs {
		typed, ok := dialog.(*tg.Dialog)
		if !ok {
			continue
		}
		peer, ok := mapPeer(typed.Peer)
		if !ok {
			continue
		}
		dialogs = append(dialogs, mirror.Dialog{
			Peer:         peer,
			UnreadCount:  typed.UnreadCount,
			TopMessageID: formatMessageID(typed.TopMessage),
		})
	}

	return mirror.Response[[]mirror.Dialog]{
		Payload: dialogs,
		Sidecar: carriedEntities(result.Users, result.Chats),
	}, nil
}

// LoadReferencedEntities loads users, basic chats, channels and messages by
// reference.
//
// Users named by a roster subset arrive with the roster page itself, so only
// the explicit references are fetched here. Entities carried by fetched
// messages are returned alongside the requested ones.
func (s *Service) LoadReferencedEntities(
	ctx context.Context,
	request mirror.EntityRequest,
) (mirror.EntityResponse, error) {
	var response mirror.EntityResponse

	if len(request.UserRefs) > 0 {
		inputs := make([]tg.InputUserClass, 0, len(request.UserRefs))
		for _, ref := range request.UserRefs {
			inputs = append(inputs, &tg.InputUser{
				UserID:     ref.ID,
				AccessHash: accessHashOf(s.peers.Resolve(mirror.OutPeer{Peer: ref.Peer(), AccessHash: ref.AccessHash})),
			})
		}

		callCtx, cancel := s.withTimeout(ctx)
		users, err := s.api.UsersGetUsers(callCtx, inputs)
		cancel()
		if err != nil {
			return mirror.EntityResponse{}, mapRemoteError(mirror.RemoteOperationLoadEntities, err)
		}
		s.peers.Remember(users, nil)
		response.Users = carriedEntities(users, nil).Users
	}

	var (
		channels []tg.InputChannelClass
		chatIDs  []int64
	)
	for _, ref := range request.GroupRefs {
		switch input := s.peers.Resolve(mirror.OutPeer{Peer: ref.Peer(), AccessHash: ref.AccessHash}).(type) {
		case *tg.InputPeerChannel:
			channels = append(channels, &tg.InputChannel{ChannelID: input.ChannelID, AccessHash: input.AccessHash})
		case *tg.InputPeerChat:
			chatIDs = append(chatIDs, input.ChatID)
		}
	}

	if len(channels) > 0 {
		callCtx, cancel := s.withTimeout(ctx)
		result, err := s.api.ChannelsGetChannels(callCtx, channels)
		cancel()
		if err != nil {
			return mirror.EntityResponse{}, mapRemoteError(mirror.RemoteOperationLoadEntities, err)
		}
		response.Groups = append(response.Groups, s.rememberChats(result)...)
	}
	if len(chatIDs) > 0 {
		callCtx, cancel := s.withTimeout(ctx)
		result, err := s.api.MessagesGetChats(callCtx, chatIDs)
		cancel()
		if err != nil {
			return mirror.EntityResponse{}, mapRemoteError(mirror.RemoteOperationLoadEntities, err)
		}
		response.Groups = append(response.Groups, s.rememberChats(result)...)
	}

	if len(request.MessageIDs) > 0 {
		messages, carried, err := s.loadMessages(ctx, request.MessageIDs)
		if err != nil {
			return mirror.EntityResponse{}, err
		}
		response.Messages = messages
		response.Users = append(response.Users, carried.Users...)
		response.Groups = append(response.Groups, carried.Groups...)
	}

	return response, nil
}

// GetParameters returns the bot info of a bot account. User accounts have no
// parameters.
func (s *Service) GetParameters(ctx context.Context) (map[string]string, error) {
	if !s.isBot() {
		return map[string]string{}, nil
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	info, err := s.api.BotsGetBotInfo(callCtx, &tg.BotsGetBotInfoRequest{})
	if err != nil {
		return nil, mapRemoteError(mirror.RemoteOperationGetParameters, err)
	}

	return map[string]string{
		ParameterName:        info.Name,
		ParameterAbout:       info.About,
		ParameterDescription: info.Description,
	}, nil
}

// EditParameter stores one bot info field.
func (s *Service) EditParameter(ctx context.Context, key string, value string) error {
	if !s.isBot() {
		return fmt.Errorf("edit parameter %q: %w", key, mirror.ErrUnsupported)
	}

	request := &tg.BotsSetBotInfoRequest{}
	switch key {
	case ParameterName:
		request.SetName(value)
	case ParameterAbout:
		request.SetAbout(value)
	case ParameterDescription:
		request.SetDescription(value)
	default:
		return fmt.Errorf("edit parameter %q: %w", key, mirror.ErrUnsupported)
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.api.BotsSetBotInfo(callCtx, request); err != nil {
		return mapRemoteError(mirror.RemoteOperationEditParameter, err)
	}

	return nil
}

// SubscribeUpdates opens the live stream. A previously open stream is closed.
func (s *Service) SubscribeUpdates(context.Context) (mirror.UpdateStream, error) {
	return s.updates.open(), nil
}

func (s *Service) rememberChats(result tg.MessagesChatsClass) []mirror.Group {
	var chats []tg.ChatClass
	switch typed := result.(type) {
	case *tg.MessagesChats:
		chats = typed.Chats
	case *tg.MessagesChatsSlice:
		chats = typed.Chats
	}
	s.peers.Remember(nil, chats)

	return carriedEntities(nil, chats).Groups
}

func (s *Service) isBot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.self != nil && s.self.Bot
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, s.cfg.callTimeout)
}

// messageDate finds the date of one dialog's top message for paging offsets.
func messageDate(messages []tg.MessageClass, peer mirror.Peer, id int) int {
	for _, message := range messages {
		var (
			messageID int
			peerID    tg.PeerClass
			date      int
		)
		switch typed := message.(type) {
		case *tg.Message:
			messageID, peerID, date = typed.ID, typed.PeerID, typed.Date
		case *tg.MessageService:
			messageID, peerID, date = typed.ID, typed.PeerID, typed.Date
		default:
			continue
		}
		if messageID != id {
			continue
		}
		if messagePeer, ok := mapPeer(peerID); ok && messagePeer == peer {
			return date
		}
	}

	return 0
}
