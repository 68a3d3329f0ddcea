package notify

import (
	"context"
	"fmt"
	"strings"

	"tolka/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// NopPushSender swallows pushes when no push channel is configured.
type NopPushSender struct{}

func (NopPushSender) SendPush(ctx context.Context, users []*models.User, template string, data map[string]string) error {
	return nil
}

// TelegramSender narrows the bot API to what push delivery needs.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramPushSender pushes booking notifications to translators over
// their linked Telegram chats. Users without a linked chat are skipped.
type TelegramPushSender struct {
	bot       TelegramSender
	templates *TemplateRegistry
	logger    *zerolog.Logger
}

func NewTelegramPushSender(bot TelegramSender, templates *TemplateRegistry, logger *zerolog.Logger) *TelegramPushSender {
	return &TelegramPushSender{
		bot:       bot,
		templates: templates,
		logger:    logger,
	}
}

func (t *TelegramPushSender) SendPush(ctx context.Context, users []*models.User, template string, data map[string]string) error {
	tmpl, err := t.templates.Lookup(template)
	if err != nil {
		return err
	}

	text := formatPushText(tmpl.Subject, data)

	var failed int
	for _, u := range users {
		if u.TelegramChatID == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(u.TelegramChatID, text)
		if _, err := t.bot.Send(msg); err != nil {
			failed++
			t.logger.Error().Err(err).Int64("user_id", u.ID).Int64("chat_id", u.TelegramChatID).Msg("telegram push failed")
		}
	}

	if failed == len(users) && failed > 0 {
		return fmt.Errorf("telegram push failed for all %d recipients", failed)
	}
	return nil
}

func formatPushText(subject string, data map[string]string) string {
	var b strings.Builder
	b.WriteString(subject)
	if id, ok := data["booking_id"]; ok {
		fmt.Fprintf(&b, "\nBooking #%s", id)
	}
	if due, ok := data["due"]; ok {
		fmt.Fprintf(&b, "\nDue: %s", due)
	}
	if town, ok := data["town"]; ok && town != "" {
		fmt.Fprintf(&b, "\nTown: %s", town)
	}
	return b.String()
}
