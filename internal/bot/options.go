package bot

import (
	"context"
	"log/slog"
	"time"

	"ex-mirror/internal/kernel"
)

const (
	defaultDialogChunkSize = 25
	defaultShutdownTimeout = 5 * time.Second
)

// config stores resolved facade settings after option application.
type config struct {
	logger              *slog.Logger
	dialogChunkSize     int
	subscriptionBuffer  int
	subscriptionWorkers int
	handlerTimeout      time.Duration
	shutdownTimeout     time.Duration
	coordinatorOptions  []kernel.Option
	onAsyncError        func(context.Context, string, error)
}

// Option mutates facade construction configuration.
type Option func(*config)

func defaultConfig() config {
	return config{
		logger:          slog.Default(),
		dialogChunkSize: defaultDialogChunkSize,
		shutdownTimeout: defaultShutdownTimeout,
	}
}

// WithLogger configures the logger shared by the facade and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithDialogChunkSize configures how many peers one dialog load requests.
func WithDialogChunkSize(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.dialogChunkSize = size
		}
	}
}

// WithSubscriptionDefaults configures queue defaults for consumer subscriptions.
func WithSubscriptionDefaults(buffer int, workers int, handlerTimeout time.Duration) Option {
	return func(cfg *config) {
		cfg.subscriptionBuffer = buffer
		cfg.subscriptionWorkers = workers
		cfg.handlerTimeout = handlerTimeout
	}
}

// WithShutdownTimeout bounds how long closing consumer subscriptions may take.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.shutdownTimeout = timeout
		}
	}
}

// WithCoordinatorOptions forwards options to the update subscription coordinator.
func WithCoordinatorOptions(options ...kernel.Option) Option {
	return func(cfg *config) {
		cfg.coordinatorOptions = append(cfg.coordinatorOptions, options...)
	}
}

// WithAsyncErrorHandler configures the callback for failures raised outside
// any caller, such as dropped events and handler errors.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		cfg.onAsyncError = handler
	}
}
