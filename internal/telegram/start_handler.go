package telegram

import (
	"context"
	"errors"
	"sparkchat/backend/internal/localization"
	"sparkchat/backend/internal/models"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// LinkStorage defines the storage methods required by the link commands.
type LinkStorage interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	LinkTelegram(ctx context.Context, userID string, telegramID int64) error
}

// HandleStartCommand processes "/start <user-id>" (the deep-link payload the app
// hands out) and stores the chat id on the user row.
func HandleStartCommand(ctx context.Context, update *tgbotapi.Update, s LinkStorage, l *localization.Localizer, bot Sender) {
	if update.Message == nil || update.Message.Command() != "start" {
		return
	}
	chatID := update.Message.Chat.ID
	lang := languageOf(update.Message.From)
	userID := strings.TrimSpace(update.Message.CommandArguments())

	key := "start_linked"
	switch {
	case userID == "":
		key = "start_usage"
	default:
		user, err := s.GetUserByID(ctx, userID)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				log.Error().Err(err).Int64("chat", chatID).Msg("start: user lookup failed")
			}
			key = "start_failed"
			break
		}
		if user.Language != "" {
			lang = user.Language
		}
		if err := s.LinkTelegram(ctx, user.ID, chatID); err != nil {
			log.Error().Err(err).Str("user", user.ID).Msg("start: link failed")
			key = "start_failed"
			break
		}
		log.Info().Str("user", user.ID).Int64("chat", chatID).Msg("telegram chat linked")
	}

	reply(bot, chatID, l.GetString(lang, key))
}

// HandleStopCommand unlinks the chat so no further notifications are sent.
func HandleStopCommand(ctx context.Context, update *tgbotapi.Update, s LinkStorage, l *localization.Localizer, bot Sender) {
	if update.Message == nil || update.Message.Command() != "stop" {
		return
	}
	chatID := update.Message.Chat.ID
	user, err := s.GetUserByTelegramID(ctx, chatID)
	if err != nil {
		reply(bot, chatID, l.GetString(languageOf(update.Message.From), "start_usage"))
		return
	}
	if err := s.LinkTelegram(ctx, user.ID, 0); err != nil {
		log.Error().Err(err).Str("user", user.ID).Msg("stop: unlink failed")
		reply(bot, chatID, l.GetString(user.Language, "start_failed"))
		return
	}
	reply(bot, chatID, l.GetString(user.Language, "stop_done"))
}

func languageOf(u *tgbotapi.User) string {
	if u == nil || u.LanguageCode == "" {
		return localization.DefaultLanguage
	}
	return u.LanguageCode
}

func reply(bot Sender, chatID int64, text string) {
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Warn().Err(err).Int64("chat", chatID).Msg("telegram reply failed")
	}
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string { return htmlEscaper.Replace(s) }
