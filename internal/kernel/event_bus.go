package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ex-mirror/pkg/mirror"
)

// EventBus is the single broadcast point for processed update events.
//
// Each subscription owns a bounded queue drained by its own workers, so a slow
// consumer never reorders or blocks delivery to other subscriptions unless it
// selected the block policy.
type EventBus struct {
	mu                    sync.RWMutex
	nextID                int64
	closed                bool
	subscriptions         map[int64]*busSubscription
	defaultBuffer         int
	defaultWorkers        int
	defaultHandlerTimeout time.Duration
	onAsyncError          func(context.Context, string, error)
}

// NewEventBus creates an asynchronous event bus with bounded queues.
func NewEventBus(
	defaultBuffer int,
	defaultWorkers int,
	defaultHandlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *EventBus {
	if defaultBuffer <= 0 {
		defaultBuffer = defaultSubscriptionBuffer
	}
	if defaultWorkers <= 0 {
		defaultWorkers = defaultSubscriptionWorker
	}

	return &EventBus{
		subscriptions:         make(map[int64]*busSubscription),
		defaultBuffer:         defaultBuffer,
		defaultWorkers:        defaultWorkers,
		defaultHandlerTimeout: defaultHandlerTimeout,
		onAsyncError:          onAsyncError,
	}
}

// Publish dispatches an event to all matching subscribers.
func (b *EventBus) Publish(ctx context.Context, event *mirror.UpdateEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	subs, err := b.snapshotSubscriptions()
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	var publishErrs []error
	for _, sub := range subs {
		if !sub.interest.Matches(event) {
			continue
		}
		if err := sub.enqueue(ctx, busItem{event: event}); err != nil {
			if errors.Is(err, mirror.ErrEventDropped) || errors.Is(err, mirror.ErrSubscriptionClosed) {
				b.reportAsyncError(ctx, sub.spec.Name, err)
				continue
			}
			publishErrs = append(publishErrs, err)
		}
	}

	if len(publishErrs) > 0 {
		return fmt.Errorf("publish event %s: %w", event.Kind, errors.Join(publishErrs...))
	}

	return nil
}

// PublishError delivers one processing failure to every subscription that
// registered an error handler.
//
// Error notifications share the subscription queue, so they arrive in order
// relative to surrounding events.
func (b *EventBus) PublishError(ctx context.Context, failure error) error {
	if failure == nil {
		return nil
	}

	subs, err := b.snapshotSubscriptions()
	if err != nil {
		return fmt.Errorf("publish error: %w", err)
	}

	var publishErrs []error
	for _, sub := range subs {
		if sub.spec.OnError == nil {
			continue
		}
		if err := sub.enqueue(ctx, busItem{err: failure}); err != nil {
			if errors.Is(err, mirror.ErrEventDropped) || errors.Is(err, mirror.ErrSubscriptionClosed) {
				b.reportAsyncError(ctx, sub.spec.Name, err)
				continue
			}
			publishErrs = append(publishErrs, err)
		}
	}

	if len(publishErrs) > 0 {
		return fmt.Errorf("publish error: %w", errors.Join(publishErrs...))
	}

	return nil
}

// Subscribe registers a bounded asynchronous consumer.
//
// Delivery is hot: a new subscription only sees events published after it
// was registered.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest mirror.InterestSet,
	spec mirror.SubscriptionSpec,
	handler mirror.EventHandler,
) (mirror.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler: %w", spec.Name, mirror.ErrInvalidSubscription)
	}
	switch spec.Backpressure {
	case "", mirror.BackpressureBlock, mirror.BackpressureDropNewest, mirror.BackpressureDropOldest:
	default:
		return nil, fmt.Errorf("subscribe %s: backpressure %q: %w", spec.Name, spec.Backpressure, mirror.ErrInvalidSubscription)
	}

	subID := atomic.AddInt64(&b.nextID, 1)
	spec = b.normalizeSpec(spec, subID)
	sub := newBusSubscription(subID, interest, spec, handler, b)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.signalClose()
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, mirror.ErrSubscriptionClosed)
	}
	b.subscriptions[subID] = sub

	return sub, nil
}

// Close stops all active subscriptions and rejects further publishes/subscribes.
func (b *EventBus) Close(ctx context.Context) error {
	subs := make([]*busSubscription, 0)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = make(map[int64]*busSubscription)
	b.mu.Unlock()

	var closeErrs []error
	for _, sub := range subs {
		if err := sub.shutdown(ctx); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}

	if len(closeErrs) > 0 {
		return fmt.Errorf("close event bus: %w", errors.Join(closeErrs...))
	}

	return nil
}

// snapshotSubscriptions returns a stable copy for lock-free publish fan-out.
// It fails when the bus is closed to prevent post-shutdown dispatch.
func (b *EventBus) snapshotSubscriptions() ([]*busSubscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("bus closed: %w", mirror.ErrSubscriptionClosed)
	}

	subs := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}

	return subs, nil
}

// normalizeSpec fills unset spec fields with bus defaults.
func (b *EventBus) normalizeSpec(spec mirror.SubscriptionSpec, subID int64) mirror.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", subID)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaultBuffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaultWorkers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaultHandlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = mirror.BackpressureBlock
	}

	return spec
}

// unsubscribe removes one subscription and waits for its workers to exit.
func (b *EventBus) unsubscribe(ctx context.Context, subID int64) error {
	b.mu.Lock()
	sub, found := b.subscriptions[subID]
	if found {
		delete(b.subscriptions, subID)
	}
	b.mu.Unlock()

	if !found {
		return nil
	}

	if err := sub.shutdown(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.spec.Name, err)
	}

	return nil
}

// reportAsyncError forwards failures that have no caller to return to.
func (b *EventBus) reportAsyncError(ctx context.Context, scope string, err error) {
	if b.onAsyncError != nil {
		b.onAsyncError(ctx, scope, err)
	}
}

// busItem is either one event or one error notification.
type busItem struct {
	event *mirror.UpdateEvent
	err   error
}

// busSubscription owns queueing and worker lifecycle for a single subscriber.
type busSubscription struct {
	id       int64
	interest mirror.InterestSet
	spec     mirror.SubscriptionSpec
	handler  mirror.EventHandler
	queue    chan busItem
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	closed   atomic.Bool
	once     sync.Once
	bus      *EventBus
}

// newBusSubscription builds a subscription and starts its workers.
func newBusSubscription(
	subID int64,
	interest mirror.InterestSet,
	spec mirror.SubscriptionSpec,
	handler mirror.EventHandler,
	bus *EventBus,
) *busSubscription {
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &busSubscription{
		id:       subID,
		interest: mirror.InterestSet{Kinds: append([]mirror.EventKind(nil), interest.Kinds...)},
		spec:     spec,
		handler:  handler,
		queue:    make(chan busItem, spec.Buffer),
		ctx:      subCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		bus:      bus,
	}

	sub.startWorkers()

	return sub
}

// Name returns the stable subscription name.
func (s *busSubscription) Name() string {
	return s.spec.Name
}

// Close unregisters this subscription from its parent bus.
func (s *busSubscription) Close(ctx context.Context) error {
	return s.bus.unsubscribe(ctx, s.id)
}

// enqueue queues one item according to the subscription backpressure policy.
func (s *busSubscription) enqueue(ctx context.Context, item busItem) error {
	if s.closed.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, mirror.ErrSubscriptionClosed)
	}

	switch s.spec.Backpressure {
	case mirror.BackpressureDropNewest:
		return s.enqueueDropNewest(item)
	case mirror.BackpressureDropOldest:
		return s.enqueueDropOldest(item)
	case mirror.BackpressureBlock:
		return s.enqueueBlock(ctx, item)
	default:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, mirror.ErrInvalidSubscription)
	}
}

// enqueueDropNewest rejects the incoming item when the queue is full.
func (s *busSubscription) enqueueDropNewest(item busItem) error {
	select {
	case s.queue <- item:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, mirror.ErrEventDropped)
	}
}

// enqueueDropOldest evicts the oldest queued item to admit the incoming one.
func (s *busSubscription) enqueueDropOldest(item busItem) error {
	select {
	case s.queue <- item:
		return nil
	default:
	}

	select {
	case <-s.queue:
	default:
	}

	select {
	case s.queue <- item:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, mirror.ErrEventDropped)
	}
}

// enqueueBlock waits for queue capacity, publisher cancellation, or
// subscription shutdown.
func (s *busSubscription) enqueueBlock(ctx context.Context, item busItem) error {
	select {
	case s.queue <- item:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, mirror.ErrSubscriptionClosed)
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
	}
}

// startWorkers launches the configured workers and closes done after all exit.
func (s *busSubscription) startWorkers() {
	workerWG := &sync.WaitGroup{}
	for idx := 0; idx < s.spec.Workers; idx++ {
		workerID := idx
		workerWG.Add(1)
		go s.runWorker(workerWG, workerID)
	}

	go func() {
		workerWG.Wait()
		close(s.done)
	}()
}

// runWorker drains the queue until the subscription closes. The item being
// handled when Close arrives is allowed to finish.
func (s *busSubscription) runWorker(workerWG *sync.WaitGroup, workerID int) {
	defer workerWG.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case item := <-s.queue:
			if item.err != nil {
				s.deliverError(item.err)
				continue
			}
			if err := s.handleEvent(workerID, item.event); err != nil {
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
			}
		}
	}
}

// handleEvent runs the handler under the subscription handler timeout.
func (s *busSubscription) handleEvent(workerID int, event *mirror.UpdateEvent) error {
	handlerCtx := context.WithoutCancel(s.ctx)
	cancel := func() {}
	if s.spec.HandlerTimeout > 0 {
		handlerCtx, cancel = context.WithTimeout(handlerCtx, s.spec.HandlerTimeout)
	}
	defer cancel()

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, workerID)
	if err := runSafely(scope, func() error {
		return s.handler(handlerCtx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s: %w", event.Kind, err)
	}

	return nil
}

// deliverError hands one processing failure to the subscription error handler.
func (s *busSubscription) deliverError(failure error) {
	scope := fmt.Sprintf("subscription %s error handler", s.spec.Name)
	if err := runSafely(scope, func() error {
		s.spec.OnError(context.WithoutCancel(s.ctx), failure)
		return nil
	}); err != nil {
		s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
	}
}

// signalClose marks the subscription closed and cancels its context once.
func (s *busSubscription) signalClose() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

// shutdown waits for worker exit or returns when the supplied context expires.
func (s *busSubscription) shutdown(ctx context.Context) error {
	s.signalClose()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
