package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"ex-mirror/internal/bot"
	"ex-mirror/internal/driver"
	"ex-mirror/internal/kernel"
	"ex-mirror/modules/pingpong"
	"ex-mirror/pkg/mirror"
)

const (
	envConfigFile           = "MIRROR_CONFIG_FILE"
	defaultConfigFilePath   = "config/bot.json"
	alternateConfigFilePath = "bin/config/bot.json"

	defaultShutdownTimeout    = 10 * time.Second
	defaultHandlerTimeout     = 3 * time.Second
	defaultDialogChunkSize    = 25
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 2
	defaultReconnectInitial   = 100 * time.Millisecond
	defaultReconnectMax       = 30 * time.Second
)

type appConfig struct {
	logLevel slog.Level

	dialogChunkSize     int
	shutdownTimeout     time.Duration
	handlerTimeout      time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int
	reconnectInitial    time.Duration
	reconnectMax        time.Duration

	drivers []driver.Definition
}

type fileConfig struct {
	LogLevel string            `json:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	Bot      fileBotConfig     `json:"bot"`
	Drivers  []fileDriverEntry `json:"drivers" validate:"min=1,dive"`
}

type fileBotConfig struct {
	DialogChunkSize     *int   `json:"dialog_chunk_size" validate:"omitempty,gt=0"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
	HandlerTimeout      string `json:"handler_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer" validate:"omitempty,gt=0"`
	SubscriptionWorkers *int   `json:"subscription_workers" validate:"omitempty,gt=0"`
	ReconnectInitial    string `json:"reconnect_initial"`
	ReconnectMax        string `json:"reconnect_max"`
}

type fileDriverEntry struct {
	Name    string          `json:"name" validate:"required"`
	Type    string          `json:"type" validate:"required"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config" validate:"required"`
}

func run() error {
	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}

	cfg, err := loadConfig(registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))

	runtime, err := buildDriverRuntime(context.Background(), logger, cfg, registry)
	if err != nil {
		return err
	}

	facade, err := bot.New(runtime.Remote, botOptions(logger, cfg)...)
	if err != nil {
		return fmt.Errorf("new bot: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "starting backend session", "driver", runtime.Name)
	err = runtime.Session.Run(ctx, func(sessionCtx context.Context) error {
		return serve(sessionCtx, logger, facade, runtime.Credential)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run driver %s: %w", runtime.Name, err)
	}

	return nil
}

// serve runs the facade next to the modules that consume it. Modules start
// only after bootstrap succeeded.
func serve(ctx context.Context, logger *slog.Logger, facade *bot.Bot, credential mirror.Credential) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return facade.Run(groupCtx, credential)
	})
	group.Go(func() error {
		if err := facade.AwaitReady(groupCtx); err != nil {
			return nil
		}
		if err := registerRuntimeModules(groupCtx, logger, facade); err != nil {
			return err
		}

		<-groupCtx.Done()
		return nil
	})

	return group.Wait()
}

func registerRuntimeModules(ctx context.Context, logger *slog.Logger, facade *bot.Bot) error {
	pingPongModule := pingpong.New(pingpong.WithLogger(logger))
	if err := pingPongModule.Start(ctx, facade); err != nil {
		return fmt.Errorf("start %s module: %w", pingPongModule.Name(), err)
	}

	return nil
}

func botOptions(logger *slog.Logger, cfg appConfig) []bot.Option {
	return []bot.Option{
		bot.WithLogger(logger),
		bot.WithDialogChunkSize(cfg.dialogChunkSize),
		bot.WithShutdownTimeout(cfg.shutdownTimeout),
		bot.WithSubscriptionDefaults(cfg.subscriptionBuffer, cfg.subscriptionWorkers, cfg.handlerTimeout),
		bot.WithCoordinatorOptions(
			kernel.WithReconnectBackoff(cfg.reconnectInitial, cfg.reconnectMax),
			kernel.WithStateObserver(func(from kernel.State, to kernel.State) {
				logger.Debug("update subscription state changed", "from", from, "to", to)
			}),
		),
	}
}

func buildDriverRuntime(
	ctx context.Context,
	logger *slog.Logger,
	cfg appConfig,
	registry *driver.Registry,
) (driver.Runtime, error) {
	if registry == nil {
		return driver.Runtime{}, fmt.Errorf("build drivers: nil driver registry")
	}

	runtimes, err := registry.BuildEnabled(ctx, cfg.drivers, logger)
	if err != nil {
		return driver.Runtime{}, fmt.Errorf("build drivers: %w", err)
	}
	if len(runtimes) != 1 {
		return driver.Runtime{}, fmt.Errorf("build drivers: got %d enabled runtimes, want 1", len(runtimes))
	}

	return runtimes[0], nil
}

func loadConfig(registry *driver.Registry) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		dialogChunkSize:     defaultDialogChunkSize,
		shutdownTimeout:     defaultShutdownTimeout,
		handlerTimeout:      defaultHandlerTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,
		reconnectInitial:    defaultReconnectInitial,
		reconnectMax:        defaultReconnectMax,

		drivers: make([]driver.Definition, 0),
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(parsed); err != nil {
		return fmt.Errorf("validate config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	durations := []struct {
		key    string
		raw    string
		target *time.Duration
	}{
		{key: "bot.shutdown_timeout", raw: parsed.Bot.ShutdownTimeout, target: &cfg.shutdownTimeout},
		{key: "bot.handler_timeout", raw: parsed.Bot.HandlerTimeout, target: &cfg.handlerTimeout},
		{key: "bot.reconnect_initial", raw: parsed.Bot.ReconnectInitial, target: &cfg.reconnectInitial},
		{key: "bot.reconnect_max", raw: parsed.Bot.ReconnectMax, target: &cfg.reconnectMax},
	}
	for _, duration := range durations {
		if err := parsePositiveDuration(duration.key, duration.raw, duration.target); err != nil {
			return err
		}
	}

	if parsed.Bot.DialogChunkSize != nil {
		cfg.dialogChunkSize = *parsed.Bot.DialogChunkSize
	}
	if parsed.Bot.SubscriptionBuffer != nil {
		cfg.subscriptionBuffer = *parsed.Bot.SubscriptionBuffer
	}
	if parsed.Bot.SubscriptionWorkers != nil {
		cfg.subscriptionWorkers = *parsed.Bot.SubscriptionWorkers
	}

	cfg.drivers = make([]driver.Definition, 0, len(parsed.Drivers))
	for _, entry := range parsed.Drivers {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		cfg.drivers = append(cfg.drivers, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
	}

	return nil
}

func parsePositiveDuration(key string, raw string, target *time.Duration) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return fmt.Errorf("parse %s: must be > 0", key)
	}
	*target = value

	return nil
}

func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil driver registry")
	}
	if cfg.reconnectMax < cfg.reconnectInitial {
		return fmt.Errorf("bot.reconnect_max must be >= bot.reconnect_initial")
	}

	knownTypes := registry.Types()
	seenNames := make(map[string]struct{}, len(cfg.drivers))
	enabled := 0
	for _, definition := range cfg.drivers {
		if _, exists := seenNames[definition.Name]; exists {
			return fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if !definition.Enabled {
			continue
		}
		if !slices.Contains(knownTypes, definition.Type) {
			return fmt.Errorf("drivers[%s].type: unsupported type %s", definition.Name, definition.Type)
		}
		enabled++
	}
	if enabled != 1 {
		return fmt.Errorf("exactly one enabled driver is required, got %d", enabled)
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
