package telegram

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"ex-mirror/pkg/mirror"
)

const defaultAuthTimeout = 3 * time.Minute

// gotdAuthorizer logs a gotd client in with a bot token or a user phone flow.
//
// A session restored from local storage skips the login entirely.
type gotdAuthorizer struct {
	client      *gotdtelegram.Client
	logger      *slog.Logger
	timeout     time.Duration
	sessionFile string
}

// Authorize ensures the session is authorized and returns the account's own user.
func (a gotdAuthorizer) Authorize(ctx context.Context, credential mirror.Credential) (*tg.User, error) {
	if a.client == nil {
		return nil, fmt.Errorf("authorize: nil client")
	}
	if err := credential.Validate(); err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}

	authCtx := ctx
	if a.timeout > 0 {
		timeoutCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		authCtx = timeoutCtx
	}

	status, err := a.client.Auth().Status(authCtx)
	if err != nil {
		return nil, fmt.Errorf("check auth status: %w", err)
	}
	switch {
	case status.Authorized:
		a.logger.InfoContext(ctx, "telegram session restored from local storage", "session_file", a.sessionFile)
	case strings.TrimSpace(credential.Token) != "":
		if _, err := a.client.Auth().Bot(authCtx, strings.TrimSpace(credential.Token)); err != nil {
			return nil, fmt.Errorf("authenticate bot: %w", err)
		}
		a.logger.InfoContext(ctx, "telegram authorized with bot token", "session_file", a.sessionFile)
	default:
		if err := a.client.Auth().IfNecessary(authCtx, userFlow(credential)); err != nil {
			return nil, fmt.Errorf("authenticate user: %w", err)
		}
		a.logger.InfoContext(ctx, "telegram authorized with user flow", "session_file", a.sessionFile)
	}

	self, err := a.client.Self(authCtx)
	if err != nil {
		return nil, fmt.Errorf("load self: %w", err)
	}

	return self, nil
}

func userFlow(credential mirror.Credential) auth.Flow {
	phone := strings.TrimSpace(credential.Phone)
	codeAuthenticator := auth.CodeAuthenticatorFunc(func(_ context.Context, _ *tg.AuthSentCode) (string, error) {
		code, err := telegramAuthCode(credential.Code)
		if err != nil {
			return "", fmt.Errorf("resolve login code: %w", err)
		}
		return code, nil
	})

	var authenticator auth.UserAuthenticator = auth.CodeOnly(phone, codeAuthenticator)
	if password := strings.TrimSpace(credential.Password); password != "" {
		authenticator = auth.Constant(phone, password, codeAuthenticator)
	}

	return auth.NewFlow(authenticator, auth.SendCodeOptions{})
}

func telegramAuthCode(configuredCode string) (string, error) {
	if code := strings.TrimSpace(configuredCode); code != "" {
		return code, nil
	}

	stdinInfo, err := os.Stdin.Stat()
	if err != nil {
		return "", fmt.Errorf("read stdin status: %w", err)
	}
	if stdinInfo.Mode()&os.ModeCharDevice == 0 {
		return "", fmt.Errorf("login code is empty and stdin is not interactive")
	}

	fmt.Fprint(os.Stdout, "Enter Telegram login code: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read login code: %w", err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("empty login code")
	}

	return code, nil
}
