package bot

import (
	"context"
	"fmt"

	"ex-mirror/pkg/mirror"
)

// SubscribeUpdates registers a hot consumer of processed update events.
//
// Every delivered event has already been resolved and applied to the mirror.
// Events published before the subscription are never replayed.
func (b *Bot) SubscribeUpdates(
	ctx context.Context,
	interest mirror.InterestSet,
	spec mirror.SubscriptionSpec,
	handler mirror.EventHandler,
) (mirror.Subscription, error) {
	subscription, err := b.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe updates: %w", err)
	}

	return subscription, nil
}

// SubscribeMessages registers a hot consumer of incoming messages.
func (b *Bot) SubscribeMessages(
	ctx context.Context,
	spec mirror.SubscriptionSpec,
	handler mirror.MessageHandler,
) (mirror.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("subscribe messages: nil handler: %w", mirror.ErrInvalidSubscription)
	}

	subscription, err := b.bus.Subscribe(ctx, mirror.InterestSet{
		Kinds: []mirror.EventKind{mirror.EventKindMessage},
	}, spec, func(ctx context.Context, event *mirror.UpdateEvent) error {
		if event.Message == nil {
			return nil
		}
		return handler(ctx, *event.Message)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe messages: %w", err)
	}

	return subscription, nil
}

// SubscribeActions registers a hot consumer of interactive actions.
func (b *Bot) SubscribeActions(
	ctx context.Context,
	spec mirror.SubscriptionSpec,
	handler mirror.ActionHandler,
) (mirror.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("subscribe actions: nil handler: %w", mirror.ErrInvalidSubscription)
	}

	subscription, err := b.bus.Subscribe(ctx, mirror.InterestSet{
		Kinds: []mirror.EventKind{mirror.EventKindAction},
	}, spec, func(ctx context.Context, event *mirror.UpdateEvent) error {
		if event.Action == nil {
			return nil
		}
		return handler(ctx, *event.Action)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe actions: %w", err)
	}

	return subscription, nil
}
