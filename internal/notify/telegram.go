package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type telegramClient interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
}

// RetryConfig holds configuration for retry logic on rate-limited sends.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  2,
		RetryDelays: []time.Duration{500 * time.Millisecond, 2 * time.Second},
	}
}

// TelegramAlert tells providers about new bookings in their Telegram chat.
type TelegramAlert struct {
	tg     telegramClient
	retry  RetryConfig
	logger zerolog.Logger
}

// NewTelegramAlert connects to the Bot API with token.
func NewTelegramAlert(token string, debug bool, logger zerolog.Logger) (*TelegramAlert, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot api: %w", err)
	}
	api.Debug = debug
	return newTelegramAlert(api, DefaultRetryConfig(), logger), nil
}

func newTelegramAlert(tg telegramClient, retry RetryConfig, logger zerolog.Logger) *TelegramAlert {
	return &TelegramAlert{
		tg:     tg,
		retry:  retry,
		logger: logger.With().Str("component", "telegram").Logger(),
	}
}

// NotifyBooked is a no-op for providers without a chat id.
func (t *TelegramAlert) NotifyBooked(ctx context.Context, n Notice) error {
	if n.Provider.TelegramChatID == 0 {
		return nil
	}

	msg := tgbotapi.NewMessage(n.Provider.TelegramChatID, ProviderAlertText(n))

	var lastErr error
	for attempt := 0; attempt <= t.retry.MaxRetries; attempt++ {
		_, err := t.tg.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		var tgErr *tgbotapi.Error
		if !errors.As(err, &tgErr) || tgErr.Code != 429 {
			break
		}

		wait := time.Duration(tgErr.RetryAfter) * time.Second
		if wait == 0 && attempt < len(t.retry.RetryDelays) {
			wait = t.retry.RetryDelays[attempt]
		}
		t.logger.Info().Dur("retry_after", wait).Int("attempt", attempt).Msg("rate limited by Telegram, waiting")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("telegram send: %w", lastErr)
}

// ProviderAlertText renders the provider-side alert.
func ProviderAlertText(n Notice) string {
	a := n.Appointment
	var b strings.Builder
	fmt.Fprintf(&b, "New booking request\n\n%s at %s\n", a.Date, a.Time)
	fmt.Fprintf(&b, "Client: %s <%s>", n.Client.Name, n.Client.Email)
	if n.Client.Phone != "" {
		fmt.Fprintf(&b, ", %s", n.Client.Phone)
	}
	b.WriteString("\n")
	if a.ServiceRef != "" {
		fmt.Fprintf(&b, "Service: %s\n", a.ServiceRef)
	}
	if a.NumberOfPeople > 1 {
		fmt.Fprintf(&b, "People: %d (%s)\n", a.NumberOfPeople, participantsLine(a.Participants))
	}
	if a.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", a.Notes)
	}
	return b.String()
}
