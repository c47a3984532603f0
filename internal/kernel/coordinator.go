package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ex-mirror/pkg/mirror"
)

// State is the lifecycle position of the update subscription.
type State string

const (
	// StateIdle means Run has not been called yet.
	StateIdle State = "idle"
	// StateConnecting means a subscription attempt is in flight.
	StateConnecting State = "connecting"
	// StateStreaming means events are flowing from an open stream.
	StateStreaming State = "streaming"
	// StateBackoff means the coordinator waits before the next attempt.
	StateBackoff State = "backoff"
	// StateStopped is terminal.
	StateStopped State = "stopped"
)

// UpdateSource opens the live update stream.
type UpdateSource interface {
	SubscribeUpdates(ctx context.Context) (mirror.UpdateStream, error)
}

// EventResolver makes every entity an event references available locally.
type EventResolver interface {
	Resolve(ctx context.Context, sidecar mirror.Sidecar) error
}

// EventApplier folds one event into local state.
type EventApplier interface {
	ApplyUpdate(event mirror.UpdateEvent) error
}

// Broadcaster fans processed events and processing failures out to consumers.
type Broadcaster interface {
	Publish(ctx context.Context, event *mirror.UpdateEvent) error
	PublishError(ctx context.Context, failure error) error
}

// Coordinator keeps one update subscription alive and drives every received
// event through resolve, apply and publish in arrival order.
//
// Failed subscriptions are retried with exponential backoff until Stop or
// context cancellation. A failure while processing one event is published as
// an error and never tears down the stream.
type Coordinator struct {
	source    UpdateSource
	fetcher   mirror.DifferenceFetcher
	resolver  EventResolver
	applier   EventApplier
	broadcast Broadcaster
	cfg       config

	mu      sync.Mutex
	state   State
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// lastSeq and skipThrough are only touched by the Run goroutine.
	lastSeq     int64
	haveSeq     bool
	skipThrough int64
}

// NewCoordinator creates a coordinator. When source also implements
// mirror.DifferenceFetcher, updates missed while disconnected are replayed
// after every reconnect.
func NewCoordinator(
	source UpdateSource,
	resolver EventResolver,
	applier EventApplier,
	broadcast Broadcaster,
	options ...Option,
) (*Coordinator, error) {
	if source == nil {
		return nil, fmt.Errorf("new coordinator: nil update source")
	}
	if resolver == nil {
		return nil, fmt.Errorf("new coordinator: nil resolver")
	}
	if applier == nil {
		return nil, fmt.Errorf("new coordinator: nil applier")
	}
	if broadcast == nil {
		return nil, fmt.Errorf("new coordinator: nil broadcaster")
	}

	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	coordinator := &Coordinator{
		source:    source,
		resolver:  resolver,
		applier:   applier,
		broadcast: broadcast,
		cfg:       cfg,
		state:     StateIdle,
	}
	if fetcher, ok := source.(mirror.DifferenceFetcher); ok {
		coordinator.fetcher = fetcher
	}

	return coordinator, nil
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Run keeps the subscription alive until ctx is canceled or Stop is called.
//
// Run may be called once. It returns nil on shutdown.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return fmt.Errorf("run coordinator: %w", mirror.ErrStopped)
	}
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("run coordinator: %w", mirror.ErrAlreadyRunning)
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.running = true
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	defer func() {
		cancel()
		c.setState(StateStopped)
		close(done)
	}()

	policy := newReconnectBackOff(c.cfg)
	attempt := 0
	for {
		if runCtx.Err() != nil {
			return nil
		}

		c.setState(StateConnecting)
		established, err := c.stream(runCtx)
		if runCtx.Err() != nil {
			return nil
		}
		if established {
			policy.Reset()
			attempt = 0
		}
		attempt++

		delay := policy.NextBackOff()
		c.cfg.logger.WarnContext(runCtx, "update subscription failed",
			"attempt", attempt,
			"retry_in", delay,
			"error", &mirror.SubscriptionError{Attempt: attempt, Cause: err},
		)

		c.setState(StateBackoff)
		if err := c.cfg.wait(runCtx, delay); err != nil {
			return nil
		}
	}
}

// Stop cancels Run and waits for it to return or for ctx to expire.
//
// Stopping a coordinator that never ran makes it terminal.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel == nil {
		c.setState(StateStopped)
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop coordinator: %w", ctx.Err())
	}
}

// stream runs one subscription session. established reports whether the
// session reached streaming, which resets the reconnect schedule.
func (c *Coordinator) stream(ctx context.Context) (established bool, err error) {
	updates, err := c.source.SubscribeUpdates(ctx)
	if err != nil {
		return false, fmt.Errorf("subscribe updates: %w", err)
	}
	defer func() {
		if closeErr := updates.Close(); closeErr != nil {
			c.cfg.logger.DebugContext(ctx, "close update stream failed", "error", closeErr)
		}
	}()

	if err := c.reconcile(ctx); err != nil {
		return false, fmt.Errorf("reconcile missed updates: %w", err)
	}

	c.setState(StateStreaming)
	c.cfg.logger.InfoContext(ctx, "update subscription established", "seq", c.lastSeq)

	for {
		event, err := updates.Recv(ctx)
		if err != nil {
			return true, fmt.Errorf("receive update: %w", err)
		}
		c.handle(ctx, event)
	}
}

// reconcile replays updates missed since the last processed position.
//
// The stream is opened before the difference is fetched, so nothing that
// happens in between is lost. Stream events the replay already covered are
// skipped by sequence.
func (c *Coordinator) reconcile(ctx context.Context) error {
	if c.fetcher == nil {
		return nil
	}
	if !c.haveSeq {
		seq, err := c.fetcher.GetState(ctx)
		if err != nil {
			return fmt.Errorf("get state: %w", err)
		}
		c.lastSeq = seq
		c.haveSeq = true
		return nil
	}

	from := c.lastSeq
	replayed := 0
	for {
		diff, err := c.fetcher.GetDifference(ctx, c.lastSeq)
		if err != nil {
			return fmt.Errorf("get difference from %d: %w", c.lastSeq, err)
		}
		if diff.Truncated {
			c.cfg.logger.WarnContext(ctx, "server refused to replay missed updates",
				"from_seq", c.lastSeq,
				"to_seq", diff.Seq,
			)
		}

		for _, event := range diff.Events {
			c.handle(ctx, event)
			replayed++
		}
		if diff.Seq > c.lastSeq {
			c.lastSeq = diff.Seq
		}
		if diff.Final {
			break
		}
	}
	c.skipThrough = c.lastSeq

	if replayed > 0 {
		c.cfg.logger.InfoContext(ctx, "replayed missed updates",
			"from_seq", from,
			"to_seq", c.lastSeq,
			"events", replayed,
		)
	}

	return nil
}

func (c *Coordinator) handle(ctx context.Context, event mirror.UpdateEvent) {
	if event.Seq > 0 && event.Seq <= c.skipThrough {
		c.cfg.logger.DebugContext(ctx, "skip replayed update", "seq", event.Seq, "kind", event.Kind)
		return
	}

	// A received event finishes even if Stop lands mid-way; only the grace
	// period cuts it short.
	processCtx, cancel := graceContext(ctx, c.cfg.shutdownGrace)
	defer cancel()

	err := runSafely("process update", func() error {
		return c.process(processCtx, &event)
	})
	if event.Seq > c.lastSeq {
		c.lastSeq = event.Seq
		c.haveSeq = true
	}
	if err == nil {
		return
	}

	reportCtx := context.WithoutCancel(ctx)
	c.cfg.logger.ErrorContext(reportCtx, "update processing failed",
		"kind", event.Kind,
		"seq", event.Seq,
		"shutting_down", ctx.Err() != nil,
		"error", err,
	)
	if publishErr := c.broadcast.PublishError(reportCtx, err); publishErr != nil {
		c.cfg.logger.DebugContext(reportCtx, "publish processing failure failed", "error", publishErr)
	}
}

// graceContext detaches from ctx and is canceled grace after ctx is done.
func graceContext(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-detached.Done():
		}
	})

	return detached, func() {
		stop()
		cancel()
	}
}

func (c *Coordinator) process(ctx context.Context, event *mirror.UpdateEvent) error {
	if err := c.resolver.Resolve(ctx, referenceSidecar(event)); err != nil {
		return fmt.Errorf("resolve update %s: %w", event.Kind, err)
	}
	if err := c.applier.ApplyUpdate(*event); err != nil {
		return fmt.Errorf("apply update %s: %w", event.Kind, err)
	}
	if err := c.broadcast.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish update %s: %w", event.Kind, err)
	}

	return nil
}

// referenceSidecar folds the payload references of event into its side-car.
func referenceSidecar(event *mirror.UpdateEvent) mirror.Sidecar {
	sidecar := mirror.Sidecar{
		Users:        event.Sidecar.Users,
		Groups:       event.Sidecar.Groups,
		GroupMembers: event.Sidecar.GroupMembers,
	}
	for _, ref := range event.References() {
		switch ref.Kind {
		case mirror.PeerKindUser:
			sidecar.UserRefs = append(sidecar.UserRefs, ref)
		case mirror.PeerKindGroup:
			sidecar.GroupRefs = append(sidecar.GroupRefs, ref)
		}
	}

	return sidecar
}

func (c *Coordinator) setState(next State) {
	c.mu.Lock()
	previous := c.state
	if previous == next || previous == StateStopped {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()

	if c.cfg.onStateChange != nil {
		c.cfg.onStateChange(previous, next)
	}
}
