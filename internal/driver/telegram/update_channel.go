package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gotd/td/tg"

	"ex-mirror/pkg/mirror"
)

const defaultUpdateBuffer = 1024

// errUpdateGap reports that the server dropped updates and the stream must be
// reopened so missed updates get replayed.
var errUpdateGap = errors.New("telegram: updates too long")

// updateChannel is the gotd update handler. It flattens update containers
// into mirror events and forwards them to the one open stream.
//
// Updates that arrive while no stream is open are dropped; the next
// subscription replays them through GetDifference.
type updateChannel struct {
	buffer int
	peers  *PeerCache
	logger *slog.Logger

	mu     sync.Mutex
	active *updateStream
}

func newUpdateChannel(buffer int, peers *PeerCache, logger *slog.Logger) *updateChannel {
	if buffer <= 0 {
		buffer = defaultUpdateBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &updateChannel{
		buffer: buffer,
		peers:  peers,
		logger: logger,
	}
}

// Handle implements telegram.UpdateHandler.
func (c *updateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	items, err := c.flatten(updates)
	if err != nil {
		return fmt.Errorf("handle gotd updates: %w", err)
	}

	c.mu.Lock()
	stream := c.active
	c.mu.Unlock()
	if stream == nil {
		c.logger.DebugContext(ctx, "drop updates without subscriber", "count", len(items))
		return nil
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			return fmt.Errorf("handle gotd updates: %w", ctx.Err())
		case <-stream.done:
			return nil
		case stream.items <- item:
		}
	}

	return nil
}

// open replaces the active stream with a fresh one.
func (c *updateChannel) open() *updateStream {
	stream := &updateStream{
		owner: c,
		items: make(chan streamItem, c.buffer),
		done:  make(chan struct{}),
	}

	c.mu.Lock()
	previous := c.active
	c.active = stream
	c.mu.Unlock()

	if previous != nil {
		previous.close()
	}

	return stream
}

func (c *updateChannel) detach(stream *updateStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == stream {
		c.active = nil
	}
}

func (c *updateChannel) flatten(updates tg.UpdatesClass) ([]streamItem, error) {
	if updates == nil {
		return nil, fmt.Errorf("flatten gotd updates: nil updates")
	}

	switch typed := updates.(type) {
	case *tg.Updates:
		return c.flattenBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdatesCombined:
		return c.flattenBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdateShort:
		return c.flattenBatch([]tg.UpdateClass{typed.Update}, typed.Date, nil, nil), nil
	case *tg.UpdateShortMessage:
		return c.flattenBatch([]tg.UpdateClass{shortMessageUpdate(typed)}, typed.Date, nil, nil), nil
	case *tg.UpdateShortChatMessage:
		return c.flattenBatch([]tg.UpdateClass{shortChatMessageUpdate(typed)}, typed.Date, nil, nil), nil
	case *tg.UpdatesTooLong:
		return []streamItem{{err: errUpdateGap}}, nil
	default:
		return nil, fmt.Errorf("flatten gotd updates %s: unsupported container", updates.TypeName())
	}
}

func (c *updateChannel) flattenBatch(
	updates []tg.UpdateClass,
	date int,
	users []tg.UserClass,
	chats []tg.ChatClass,
) []streamItem {
	c.peers.Remember(users, chats)
	occurredAt := intToTimeUTC(date)
	sidecar := carriedEntities(users, chats)

	items := make([]streamItem, 0, len(updates))
	for _, update := range updates {
		if update == nil {
			continue
		}
		for _, event := range mapUpdate(update, occurredAt, sidecar) {
			items = append(items, streamItem{event: event})
		}
	}

	return items
}

func shortMessageUpdate(update *tg.UpdateShortMessage) tg.UpdateClass {
	message := &tg.Message{
		ID:      update.ID,
		Out:     update.Out,
		PeerID:  &tg.PeerUser{UserID: update.UserID},
		Date:    update.Date,
		Message: update.Message,
	}
	if !update.Out {
		message.SetFromID(&tg.PeerUser{UserID: update.UserID})
	}
	if replyTo, ok := update.GetReplyTo(); ok {
		message.SetReplyTo(replyTo)
	}

	return &tg.UpdateNewMessage{Message: message, Pts: update.Pts, PtsCount: update.PtsCount}
}

func shortChatMessageUpdate(update *tg.UpdateShortChatMessage) tg.UpdateClass {
	message := &tg.Message{
		ID:      update.ID,
		Out:     update.Out,
		PeerID:  &tg.PeerChat{ChatID: update.ChatID},
		Date:    update.Date,
		Message: update.Message,
	}
	message.SetFromID(&tg.PeerUser{UserID: update.FromID})
	if replyTo, ok := update.GetReplyTo(); ok {
		message.SetReplyTo(replyTo)
	}

	return &tg.UpdateNewMessage{Message: message, Pts: update.Pts, PtsCount: update.PtsCount}
}

type streamItem struct {
	event mirror.UpdateEvent
	err   error
}

// updateStream is one subscription opened by SubscribeUpdates.
type updateStream struct {
	owner *updateChannel
	items chan streamItem
	done  chan struct{}
	once  sync.Once
}

// Recv blocks until the next event, a gap in the feed, or cancellation.
func (s *updateStream) Recv(ctx context.Context) (mirror.UpdateEvent, error) {
	select {
	case <-ctx.Done():
		return mirror.UpdateEvent{}, ctx.Err()
	case <-s.done:
		return mirror.UpdateEvent{}, mirror.ErrSubscriptionClosed
	case item := <-s.items:
		if item.err != nil {
			return mirror.UpdateEvent{}, item.err
		}
		return item.event, nil
	}
}

// Close detaches the stream from the handler.
func (s *updateStream) Close() error {
	s.owner.detach(s)
	s.close()

	return nil
}

func (s *updateStream) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

var _ mirror.UpdateStream = (*updateStream)(nil)
