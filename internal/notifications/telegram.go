package notifications

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// TelegramConfig configures the Telegram sink
type TelegramConfig struct {
	BotToken    string
	ChatIDs     []int64
	APIEndpoint string // Defaults to tgbotapi.APIEndpoint
}

// TelegramSink sends events via a Telegram bot
type TelegramSink struct {
	api     *tgbotapi.BotAPI
	chatIDs []int64
}

// NewTelegramSink creates a Telegram sink. It contacts the Bot API to
// validate the token.
func NewTelegramSink(config TelegramConfig) (*TelegramSink, error) {
	if config.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if config.APIEndpoint == "" {
		config.APIEndpoint = tgbotapi.APIEndpoint
	}

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(config.BotToken, config.APIEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	log.Info().
		Str("bot_username", api.Self.UserName).
		Int("chat_count", len(config.ChatIDs)).
		Msg("Telegram notifications initialized")

	return &TelegramSink{
		api:     api,
		chatIDs: append([]int64(nil), config.ChatIDs...),
	}, nil
}

// Name returns the sink name
func (t *TelegramSink) Name() string { return "telegram" }

// Send delivers the event to every chat. It fails only if no chat received it.
func (t *TelegramSink) Send(ctx context.Context, event Event) error {
	if len(t.chatIDs) == 0 {
		log.Warn().Msg("No Telegram chat IDs configured, skipping notification")
		return nil
	}

	message := formatEvent(event)

	var lastErr error
	successCount := 0
	for _, chatID := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := tgbotapi.NewMessage(chatID, message)
		msg.ParseMode = tgbotapi.ModeMarkdown

		if _, err := t.api.Send(msg); err != nil {
			log.Error().
				Err(err).
				Int64("chat_id", chatID).
				Str("event_kind", string(event.Kind)).
				Msg("Failed to send Telegram notification")
			lastErr = err
			continue
		}
		successCount++
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("failed to send notification to any chat: %w", lastErr)
	}
	return nil
}

// formatEvent renders an event as Telegram Markdown with sorted details
func formatEvent(event Event) string {
	emoji := "📈"
	if event.Failed() {
		emoji = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*", emoji, strings.ReplaceAll(string(event.Kind), "_", " "))

	if len(event.Payload) > 0 {
		keys := make([]string, 0, len(event.Payload))
		for k := range event.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\n\n*Details:*")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n• %s: `%v`", tgbotapi.EscapeText(tgbotapi.ModeMarkdown, k), event.Payload[k])
		}
	}

	fmt.Fprintf(&b, "\n\n_Time: %s_", event.Timestamp.Format("2006-01-02 15:04:05"))
	return b.String()
}
