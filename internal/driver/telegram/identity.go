package telegram

const (
	// DriverType is the configured backend type token for the Telegram runtime.
	DriverType = "telegram"
)
