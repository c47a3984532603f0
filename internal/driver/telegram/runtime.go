package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"

	"ex-mirror/pkg/mirror"
)

const defaultRuntimeSessionFile = ".cache/telegram/session.json"

type runtimeConfig struct {
	AppID          int    `json:"app_id" validate:"gt=0"`
	AppHash        string `json:"app_hash" validate:"required"`
	SessionFile    string `json:"session_file"`
	CallTimeout    string `json:"call_timeout"`
	AuthTimeout    string `json:"auth_timeout"`
	UpdateBuffer   int    `json:"update_buffer" validate:"gte=0"`
	DialogPageSize int    `json:"dialog_page_size" validate:"gte=0,lte=100"`
	MaxDialogPages int    `json:"max_dialog_pages" validate:"gte=0"`
	MemberPageSize int    `json:"member_page_size" validate:"gte=0,lte=200"`
	Token          string `json:"token" validate:"required_without=Phone,excluded_with=Phone"`
	Phone          string `json:"phone" validate:"required_without=Token"`
	Password       string `json:"password"`
	Code           string `json:"code"`
}

type parsedRuntimeConfig struct {
	appID          int
	appHash        string
	sessionFile    string
	callTimeout    time.Duration
	authTimeout    time.Duration
	updateBuffer   int
	dialogPageSize int
	maxDialogPages int
	memberPageSize int
	credential     mirror.Credential
}

// Runtime is one built Telegram backend: the MTProto session, the remote
// service bound to it and the configured login credential.
type Runtime struct {
	client *gotdtelegram.Client

	// Service is the remote service. It is usable only inside Run.
	Service *Service
	// Credential is the login configured for this backend.
	Credential mirror.Credential
}

// Run keeps the MTProto connection open while fn runs.
func (r *Runtime) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("run telegram session: nil client")
	}
	if fn == nil {
		return fmt.Errorf("run telegram session: nil callback")
	}
	if err := r.client.Run(ctx, fn); err != nil {
		return fmt.Errorf("run telegram session: %w", err)
	}

	return nil
}

// BuildRuntimeFromConfig builds one Telegram backend from its JSON config.
func BuildRuntimeFromConfig(name string, logger *slog.Logger, rawConfig []byte) (*Runtime, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("parse telegram runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", name)

	sessionStorage, err := newGotdSessionStorage(cfg.sessionFile)
	if err != nil {
		return nil, fmt.Errorf("new gotd session storage: %w", err)
	}

	peers := NewPeerCache()
	updates := newUpdateChannel(cfg.updateBuffer, peers, logger)
	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		UpdateHandler:  updates,
		SessionStorage: sessionStorage,
	})

	service, err := newService(
		client.API(),
		gotdAuthorizer{
			client:      client,
			logger:      logger,
			timeout:     cfg.authTimeout,
			sessionFile: cfg.sessionFile,
		},
		peers,
		updates,
		WithLogger(logger),
		WithCallTimeout(cfg.callTimeout),
		WithDialogPaging(cfg.dialogPageSize, cfg.maxDialogPages),
		WithMemberPageSize(cfg.memberPageSize),
	)
	if err != nil {
		return nil, fmt.Errorf("new telegram service: %w", err)
	}

	return &Runtime{
		client:     client,
		Service:    service,
		Credential: cfg.credential,
	}, nil
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	if len(raw) == 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("missing config")
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}
	parsed.AppHash = strings.TrimSpace(parsed.AppHash)
	parsed.Token = strings.TrimSpace(parsed.Token)
	parsed.Phone = strings.TrimSpace(parsed.Phone)
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("validate: %w", err)
	}

	cfg := parsedRuntimeConfig{
		appID:          parsed.AppID,
		appHash:        parsed.AppHash,
		sessionFile:    strings.TrimSpace(parsed.SessionFile),
		callTimeout:    defaultCallTimeout,
		authTimeout:    defaultAuthTimeout,
		updateBuffer:   parsed.UpdateBuffer,
		dialogPageSize: parsed.DialogPageSize,
		maxDialogPages: parsed.MaxDialogPages,
		memberPageSize: parsed.MemberPageSize,
		credential: mirror.Credential{
			Token:    parsed.Token,
			Phone:    parsed.Phone,
			Password: strings.TrimSpace(parsed.Password),
			Code:     strings.TrimSpace(parsed.Code),
		},
	}
	if cfg.updateBuffer <= 0 {
		cfg.updateBuffer = defaultUpdateBuffer
	}
	if cfg.sessionFile == "" {
		cfg.sessionFile = defaultRuntimeSessionFile
	}

	var err error
	if cfg.callTimeout, err = parsePositiveDuration("call_timeout", parsed.CallTimeout, cfg.callTimeout); err != nil {
		return parsedRuntimeConfig{}, err
	}
	if cfg.authTimeout, err = parsePositiveDuration("auth_timeout", parsed.AuthTimeout, cfg.authTimeout); err != nil {
		return parsedRuntimeConfig{}, err
	}
	if err := cfg.credential.Validate(); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("credential: %w", err)
	}

	return cfg, nil
}

func parsePositiveDuration(field string, raw string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s: must be > 0", field)
	}

	return parsed, nil
}

func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, fmt.Errorf("empty session file path")
	}

	absPath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}
