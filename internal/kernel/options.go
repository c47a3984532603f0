package kernel

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 1
	defaultHandlerTimeout     = 3 * time.Second

	defaultReconnectInitial    = 100 * time.Millisecond
	defaultReconnectMax        = 30 * time.Second
	defaultReconnectMultiplier = 2.0

	defaultShutdownGrace = 5 * time.Second
)

// config stores resolved coordinator settings after option application.
type config struct {
	logger              *slog.Logger
	reconnectInitial    time.Duration
	reconnectMax        time.Duration
	reconnectMultiplier float64
	shutdownGrace       time.Duration
	newBackOff          func() backoff.BackOff
	wait                func(ctx context.Context, delay time.Duration) error
	onStateChange       func(from State, to State)
}

// Option mutates coordinator construction configuration.
type Option func(*config)

func defaultConfig() config {
	return config{
		logger:              slog.Default(),
		reconnectInitial:    defaultReconnectInitial,
		reconnectMax:        defaultReconnectMax,
		reconnectMultiplier: defaultReconnectMultiplier,
		shutdownGrace:       defaultShutdownGrace,
		wait:                sleepContext,
	}
}

// WithLogger configures the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithReconnectBackoff configures the first and the maximum reconnect delay.
func WithReconnectBackoff(initial time.Duration, maximum time.Duration) Option {
	return func(cfg *config) {
		if initial > 0 {
			cfg.reconnectInitial = initial
		}
		if maximum > 0 {
			cfg.reconnectMax = maximum
		}
	}
}

// WithReconnectMultiplier configures the growth factor between consecutive delays.
func WithReconnectMultiplier(multiplier float64) Option {
	return func(cfg *config) {
		if multiplier > 1 {
			cfg.reconnectMultiplier = multiplier
		}
	}
}

// WithShutdownGrace bounds how long an already received event may keep
// processing after shutdown starts.
func WithShutdownGrace(grace time.Duration) Option {
	return func(cfg *config) {
		if grace > 0 {
			cfg.shutdownGrace = grace
		}
	}
}

// WithBackOff replaces the reconnect schedule. Delays it yields are still
// clamped to the configured bounds.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(cfg *config) {
		if factory != nil {
			cfg.newBackOff = factory
		}
	}
}

// WithWaitFunc replaces the cancellable sleep used between reconnects.
func WithWaitFunc(wait func(ctx context.Context, delay time.Duration) error) Option {
	return func(cfg *config) {
		if wait != nil {
			cfg.wait = wait
		}
	}
}

// WithStateObserver registers a hook called after every state transition.
func WithStateObserver(observer func(from State, to State)) Option {
	return func(cfg *config) {
		cfg.onStateChange = observer
	}
}
