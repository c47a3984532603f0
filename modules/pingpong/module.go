package pingpong

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ex-mirror/pkg/mirror"
)

const (
	pingCommand  = "/ping"
	pongText     = "pong!"
	closeTimeout = 5 * time.Second
)

// Facade is the slice of the bot facade this module needs.
type Facade interface {
	Self(ctx context.Context) (mirror.User, error)
	SubscribeMessages(ctx context.Context, spec mirror.SubscriptionSpec, handler mirror.MessageHandler) (mirror.Subscription, error)
	SendText(ctx context.Context, peer mirror.Peer, text string) (mirror.MessageID, error)
}

// Module replies with "pong!" to "/ping" messages.
type Module struct {
	logger *slog.Logger
	facade Facade
	selfID int64
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the module logger.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// New creates a ping-pong module.
func New(options ...Option) *Module {
	module := &Module{logger: slog.Default()}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "pingpong"
}

// Start subscribes to incoming messages and closes the subscription once ctx
// ends.
func (m *Module) Start(ctx context.Context, facade Facade) error {
	if facade == nil {
		return fmt.Errorf("pingpong start: nil facade")
	}

	self, err := facade.Self(ctx)
	if err != nil {
		return fmt.Errorf("pingpong resolve self: %w", err)
	}
	m.facade = facade
	m.selfID = self.ID

	spec := mirror.NewDefaultSubscriptionSpec("pingpong-messages")
	spec.OnError = func(ctx context.Context, err error) {
		m.logger.WarnContext(ctx, "update processing failure", "error", err)
	}
	subscription, err := facade.SubscribeMessages(ctx, spec, m.handleMessage)
	if err != nil {
		return fmt.Errorf("pingpong subscribe messages: %w", err)
	}
	context.AfterFunc(ctx, func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := subscription.Close(closeCtx); err != nil {
			m.logger.WarnContext(closeCtx, "close pingpong subscription", "error", err)
		}
	})

	return nil
}

func (m *Module) handleMessage(ctx context.Context, message mirror.Message) error {
	if message.SenderUserID != 0 && message.SenderUserID == m.selfID {
		return nil
	}
	if !isPing(message.Text) {
		return nil
	}

	if _, err := m.facade.SendText(ctx, message.Peer, pongText); err != nil {
		return fmt.Errorf("pingpong send pong message: %w", err)
	}
	m.logger.DebugContext(ctx, "answered ping", "peer", message.Peer, "message_id", message.ID)

	return nil
}

// isPing accepts "/ping" and "/ping@name" as the first token.
func isPing(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	command, _, _ := strings.Cut(fields[0], "@")

	return command == pingCommand
}
