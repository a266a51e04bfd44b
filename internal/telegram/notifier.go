package telegram

import (
	"context"
	"fmt"
	"sparkchat/backend/internal/localization"
	"sparkchat/backend/internal/models"
	"sparkchat/backend/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Notifier sends push-style notifications to users who linked a Telegram chat.
// title is a localization key; data["kind"] replaces the body for attachments.
type Notifier struct {
	Sender    Sender
	Storage   storage.Storage
	Localizer *localization.Localizer
}

func NewNotifier(sender Sender, s storage.Storage, l *localization.Localizer) *Notifier {
	return &Notifier{Sender: sender, Storage: s, Localizer: l}
}

func (n *Notifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) error {
	user, err := n.Storage.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.TelegramID == 0 {
		// The user never linked Telegram, so there is nowhere to send.
		log.Debug().Str("user", userID).Msg("notification skipped, no linked chat")
		return nil
	}

	text := n.render(user.Language, title, body, data)
	msg := tgbotapi.NewMessage(user.TelegramID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := n.Sender.Send(msg); err != nil {
		return fmt.Errorf("%w: telegram send: %v", models.ErrTransport, err)
	}
	return nil
}

func (n *Notifier) render(lang, title, body string, data map[string]string) string {
	heading := n.Localizer.GetString(lang, title)
	if kind := models.ContentKind(data["kind"]); kind.IsAttachment() {
		body = n.Localizer.GetString(lang, "media_"+string(kind))
	}
	if body == "" {
		return "<b>" + escapeHTML(heading) + "</b>"
	}
	return "<b>" + escapeHTML(heading) + "</b>\n" + escapeHTML(body)
}
