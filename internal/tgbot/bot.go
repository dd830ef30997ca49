package tgbot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Bot answers /start with a button opening the Mini App. It is the only
// entry point players see inside Telegram; everything else happens over
// HTTP from the web app.
type Bot struct {
	api       *tgbotapi.BotAPI
	webAppURL string
	logger    *zap.Logger
}

// New creates a bot from a token.
func New(token, webAppURL string, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{api: api, webAppURL: webAppURL, logger: logger}, nil
}

// Run consumes updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("telegram bot started", zap.String("username", b.api.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("telegram bot stopped")
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Command() != "start" {
				continue
			}
			b.sendPlayButton(update.Message.Chat.ID)
		}
	}
}

func (b *Bot) sendPlayButton(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "Ready to trade? Place UP or DOWN bets against the live chart.")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Play", b.webAppURL),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("failed to send start message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
