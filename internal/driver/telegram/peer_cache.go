package telegram

import (
	"sync"

	"github.com/gotd/td/tg"

	"ex-mirror/pkg/mirror"
)

// PeerCache stores Telegram input peers discovered from responses and updates.
//
// Telegram splits mirror groups into basic chats and channels, which need
// different input constructors. The cache remembers which group ids are
// channels so an OutPeer can be turned back into the right input peer.
type PeerCache struct {
	mu       sync.RWMutex
	byPeer   map[mirror.Peer]tg.InputPeerClass
	channels map[int64]struct{}
}

// NewPeerCache creates an empty, concurrency-safe Telegram peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{
		byPeer:   make(map[mirror.Peer]tg.InputPeerClass),
		channels: make(map[int64]struct{}),
	}
}

// Remember ingests the entity lists attached to one response or update batch.
func (c *PeerCache) Remember(users []tg.UserClass, chats []tg.ChatClass) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, user := range indexGotdUsers(users) {
		hash, ok := user.GetAccessHash()
		if !ok || user.Min {
			continue
		}
		c.byPeer[mirror.UserPeer(user.ID)] = &tg.InputPeerUser{UserID: user.ID, AccessHash: hash}
	}

	for _, chat := range chats {
		switch typed := chat.(type) {
		case *tg.Chat:
			c.byPeer[mirror.GroupPeer(typed.ID)] = &tg.InputPeerChat{ChatID: typed.ID}
		case *tg.ChatForbidden:
			c.byPeer[mirror.GroupPeer(typed.ID)] = &tg.InputPeerChat{ChatID: typed.ID}
		case *tg.Channel:
			c.channels[typed.ID] = struct{}{}
			hash, ok := typed.GetAccessHash()
			if !ok || typed.Min {
				continue
			}
			c.byPeer[mirror.GroupPeer(typed.ID)] = &tg.InputPeerChannel{ChannelID: typed.ID, AccessHash: hash}
		case *tg.ChannelForbidden:
			c.channels[typed.ID] = struct{}{}
			c.byPeer[mirror.GroupPeer(typed.ID)] = &tg.InputPeerChannel{
				ChannelID:  typed.ID,
				AccessHash: typed.AccessHash,
			}
		}
	}
}

// RememberChannel marks one group id as a channel.
func (c *PeerCache) RememberChannel(id int64) {
	if c == nil || id == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[id] = struct{}{}
}

// IsChannel reports whether the group id is known to be a channel.
func (c *PeerCache) IsChannel(id int64) bool {
	if c == nil {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[id]

	return ok
}

// Resolve returns the input peer for one outbound target.
//
// A cached peer wins. Otherwise the peer is built from the OutPeer hash: a
// group with a hash or a known channel id becomes a channel peer, any other
// group a basic chat peer.
func (c *PeerCache) Resolve(target mirror.OutPeer) tg.InputPeerClass {
	if c != nil {
		c.mu.RLock()
		peer, ok := c.byPeer[target.Peer]
		_, isChannel := c.channels[target.Peer.ID]
		c.mu.RUnlock()

		if ok && (target.AccessHash == 0 || accessHashOf(peer) == target.AccessHash) {
			return cloneInputPeer(peer)
		}
		if target.Peer.Kind == mirror.PeerKindGroup && isChannel {
			return &tg.InputPeerChannel{ChannelID: target.Peer.ID, AccessHash: target.AccessHash}
		}
	}

	switch target.Peer.Kind {
	case mirror.PeerKindUser:
		return &tg.InputPeerUser{UserID: target.Peer.ID, AccessHash: target.AccessHash}
	case mirror.PeerKindGroup:
		if target.AccessHash != 0 {
			return &tg.InputPeerChannel{ChannelID: target.Peer.ID, AccessHash: target.AccessHash}
		}
		return &tg.InputPeerChat{ChatID: target.Peer.ID}
	default:
		return &tg.InputPeerEmpty{}
	}
}

func accessHashOf(peer tg.InputPeerClass) int64 {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		return typed.AccessHash
	case *tg.InputPeerChannel:
		return typed.AccessHash
	default:
		return 0
	}
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChat:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChannel:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerSelf:
		copyPeer := *typed
		return &copyPeer
	default:
		return peer
	}
}
