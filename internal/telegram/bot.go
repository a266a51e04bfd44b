package telegram

import (
	"context"
	"sparkchat/backend/internal/localization"
	"sparkchat/backend/internal/storage"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// BotService receives Telegram updates and handles the link/unlink/language commands.
type BotService struct {
	BotAPI    *tgbotapi.BotAPI
	Sender    Sender
	Storage   storage.Storage
	Localizer *localization.Localizer
}

// NewBotService authorizes against the Bot API.
func NewBotService(token string, s storage.Storage, l *localization.Localizer) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Info().Str("account", bot.Self.UserName).Msg("✅ telegram bot authorized")

	return &BotService{BotAPI: bot, Sender: bot, Storage: s, Localizer: l}, nil
}

// Run is the main loop for receiving Telegram updates. It returns when ctx is done.
func (s *BotService) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)
	defer s.BotAPI.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.HandleUpdate(ctx, &update)
		}
	}
}

// HandleUpdate routes one update.
func (s *BotService) HandleUpdate(ctx context.Context, update *tgbotapi.Update) {
	switch {
	case update.Message != nil && update.Message.IsCommand():
		switch update.Message.Command() {
		case "start":
			HandleStartCommand(ctx, update, s.Storage, s.Localizer, s.Sender)
		case "stop":
			HandleStopCommand(ctx, update, s.Storage, s.Localizer, s.Sender)
		case "language":
			s.handleLanguageCommand(update.Message)
		default:
			reply(s.Sender, update.Message.Chat.ID, s.Localizer.GetString(languageOf(update.Message.From), "help"))
		}
	case update.CallbackQuery != nil:
		s.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func (s *BotService) handleLanguageCommand(msg *tgbotapi.Message) {
	lang := languageOf(msg.From)
	var row []tgbotapi.InlineKeyboardButton
	for _, code := range s.Localizer.Languages() {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(strings.ToUpper(code), "set_lang_"+code))
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, s.Localizer.GetString(lang, "choose_language"))
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	if _, err := s.Sender.Send(out); err != nil {
		log.Warn().Err(err).Int64("chat", msg.Chat.ID).Msg("language prompt failed")
	}
}

func (s *BotService) handleCallbackQuery(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	// Answer the callback so the client drops its "loading" state.
	if _, err := s.Sender.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		log.Warn().Err(err).Msg("callback answer failed")
	}
	if cq.Message == nil || !strings.HasPrefix(cq.Data, "set_lang_") {
		return
	}
	chatID := cq.Message.Chat.ID
	lang := strings.TrimPrefix(cq.Data, "set_lang_")
	if !s.Localizer.Supports(lang) {
		return
	}

	user, err := s.Storage.GetUserByTelegramID(ctx, chatID)
	if err != nil {
		reply(s.Sender, chatID, s.Localizer.GetString(lang, "start_usage"))
		return
	}
	if err := s.Storage.UpdateUserLanguage(ctx, user.ID, lang); err != nil {
		log.Error().Err(err).Str("user", user.ID).Msg("language update failed")
		return
	}
	reply(s.Sender, chatID, s.Localizer.GetString(lang, "language_changed"))
}
