package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"ex-mirror/internal/kernel"
	"ex-mirror/internal/resolver"
	"ex-mirror/internal/store"
	"ex-mirror/pkg/mirror"
)

// Bot is the client facade over one remote backend.
//
// Run bootstraps the local mirror once and then keeps it current from the
// update stream. Every accessor waits for bootstrap to finish and fails with
// mirror.ErrNotReady if it failed.
type Bot struct {
	cfg config

	remote      mirror.RemoteService
	store       *store.Store
	resolver    *resolver.Resolver
	bus         *kernel.EventBus
	coordinator *kernel.Coordinator
	ready       *readiness
	members     singleflight.Group

	runMu   sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a facade bound to remote. Nothing is loaded until Run.
func New(remote mirror.RemoteService, options ...Option) (*Bot, error) {
	if remote == nil {
		return nil, fmt.Errorf("new bot: nil remote service")
	}

	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}
	if cfg.onAsyncError == nil {
		logger := cfg.logger
		cfg.onAsyncError = func(ctx context.Context, scope string, err error) {
			logger.WarnContext(ctx, "subscription failure", "scope", scope, "error", err)
		}
	}

	entityStore := store.New()
	entityResolver, err := resolver.New(entityStore, remote, resolver.WithLogger(cfg.logger))
	if err != nil {
		return nil, fmt.Errorf("new bot: %w", err)
	}
	bus := kernel.NewEventBus(
		cfg.subscriptionBuffer,
		cfg.subscriptionWorkers,
		cfg.handlerTimeout,
		cfg.onAsyncError,
	)

	coordinatorOptions := append([]kernel.Option{
		kernel.WithLogger(cfg.logger),
		kernel.WithShutdownGrace(cfg.shutdownTimeout),
	}, cfg.coordinatorOptions...)
	coordinator, err := kernel.NewCoordinator(remote, entityResolver, entityStore, bus, coordinatorOptions...)
	if err != nil {
		return nil, fmt.Errorf("new bot: %w", err)
	}

	return &Bot{
		cfg:         cfg,
		remote:      remote,
		store:       entityStore,
		resolver:    entityResolver,
		bus:         bus,
		coordinator: coordinator,
		ready:       newReadiness(),
	}, nil
}

// Run bootstraps the mirror and follows the update stream until ctx is
// canceled or Stop is called.
//
// A bootstrap failure resolves readiness as failed and is returned. Shutdown
// returns nil.
func (b *Bot) Run(ctx context.Context, credential mirror.Credential) error {
	runCtx, cancel, done, err := b.startRun(ctx)
	if err != nil {
		return err
	}
	defer close(done)
	defer cancel()

	if err := b.bootstrap(runCtx, credential); err != nil {
		b.ready.fail(err)
		b.closeBus(ctx)
		if runCtx.Err() != nil && errors.Is(err, runCtx.Err()) {
			return nil
		}
		return fmt.Errorf("bootstrap: %w", err)
	}
	b.ready.succeed()

	self, _ := b.store.Self()
	b.cfg.logger.InfoContext(runCtx, "mirror ready",
		"self_id", self.ID,
		"dialogs", len(b.store.Dialogs()),
	)

	runErr := b.coordinator.Run(runCtx)
	b.closeBus(ctx)
	if runErr != nil {
		return fmt.Errorf("follow updates: %w", runErr)
	}

	return nil
}

// Stop cancels Run and waits for it to return. Stopping a bot that never ran
// fails every pending readiness waiter with mirror.ErrStopped.
func (b *Bot) Stop(ctx context.Context) error {
	b.runMu.Lock()
	b.stopped = true
	cancel := b.cancel
	done := b.done
	b.runMu.Unlock()

	if cancel == nil {
		b.ready.fail(mirror.ErrStopped)
		if err := b.coordinator.Stop(ctx); err != nil {
			return fmt.Errorf("stop bot: %w", err)
		}
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop bot: %w", ctx.Err())
	}
}

// Readiness reports the bootstrap outcome without waiting.
func (b *Bot) Readiness() Readiness {
	return b.ready.state()
}

// AwaitReady blocks until bootstrap finishes or ctx is canceled.
func (b *Bot) AwaitReady(ctx context.Context) error {
	return b.ready.wait(ctx)
}

// State reports the update subscription lifecycle state.
func (b *Bot) State() kernel.State {
	return b.coordinator.State()
}

func (b *Bot) startRun(ctx context.Context) (context.Context, context.CancelFunc, chan struct{}, error) {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.stopped {
		return nil, nil, nil, fmt.Errorf("run bot: %w", mirror.ErrStopped)
	}
	if b.started {
		return nil, nil, nil, fmt.Errorf("run bot: %w", mirror.ErrAlreadyRunning)
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.started = true
	b.cancel = cancel
	b.done = make(chan struct{})

	return runCtx, cancel, b.done, nil
}

// bootstrap loads self, dialogs and parameters in that order.
func (b *Bot) bootstrap(ctx context.Context, credential mirror.Credential) error {
	if err := credential.Validate(); err != nil {
		return &mirror.AuthorizationError{Cause: err}
	}
	self, err := b.remote.Authorize(ctx, credential)
	if err != nil {
		return &mirror.AuthorizationError{Cause: err}
	}
	if err := b.store.SetSelf(self); err != nil {
		return fmt.Errorf("set self: %w", err)
	}
	b.cfg.logger.InfoContext(ctx, "authorized", "self_id", self.ID, "bot", self.IsBot)

	peers, err := b.remote.FetchDialogIndex(ctx)
	if err != nil {
		return fmt.Errorf("fetch dialog index: %w", err)
	}
	if err := b.loadDialogs(ctx, peers); err != nil {
		return err
	}
	b.store.MergeDialogs(peers)

	parameters, err := b.remote.GetParameters(ctx)
	if err != nil {
		return fmt.Errorf("get parameters: %w", err)
	}
	b.store.MergeParameters(parameters)

	return nil
}

// loadDialogs resolves every dialog peer and its side-car in bounded chunks.
func (b *Bot) loadDialogs(ctx context.Context, peers []mirror.Peer) error {
	for start := 0; start < len(peers); start += b.cfg.dialogChunkSize {
		end := min(start+b.cfg.dialogChunkSize, len(peers))
		chunk := peers[start:end]

		response, err := b.remote.LoadDialogs(ctx, chunk)
		if err != nil {
			return fmt.Errorf("load dialogs %d-%d: %w", start, end, err)
		}
		for _, peer := range chunk {
			switch peer.Kind {
			case mirror.PeerKindUser:
				response.Sidecar.UserRefs = append(response.Sidecar.UserRefs, peer.Ref())
			case mirror.PeerKindGroup:
				response.Sidecar.GroupRefs = append(response.Sidecar.GroupRefs, peer.Ref())
			}
		}
		if _, err := resolver.Apply(ctx, b.resolver, response); err != nil {
			return fmt.Errorf("resolve dialogs %d-%d: %w", start, end, err)
		}
	}

	return nil
}

func (b *Bot) closeBus(ctx context.Context) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.shutdownTimeout)
	defer cancel()

	if err := b.bus.Close(closeCtx); err != nil {
		b.cfg.logger.WarnContext(closeCtx, "close subscriptions failed", "error", err)
	}
}
