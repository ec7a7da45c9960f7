package telegram

import (
	"context"
	"fmt"
	"sync"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/HyperCyx/otpbot/internal/domain"
)

// Bot wraps the Telegram bot for infrastructure layer
type Bot struct {
	bot    *tgbot.Bot
	logger zerolog.Logger

	mu        sync.RWMutex
	defaultFn tgbot.HandlerFunc
}

var _ domain.Notifier = (*Bot)(nil)

// NewBot creates a new Telegram bot wrapper
func NewBot(token string, logger zerolog.Logger) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	b := &Bot{
		logger: logger.With().Str("component", "bot").Logger(),
	}

	opts := []tgbot.Option{
		tgbot.WithDefaultHandler(b.dispatchDefault),
	}

	bot, err := tgbot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	b.bot = bot

	b.logger.Info().Msg("Telegram bot created successfully")
	return b, nil
}

// Raw returns the underlying telegram bot for handler registration
func (b *Bot) Raw() *tgbot.Bot {
	return b.bot
}

// SetDefaultHandler installs the handler for updates no route matched.
// The router sets this; free-text input (numbers, codes, passwords)
// arrives here.
func (b *Bot) SetDefaultHandler(fn tgbot.HandlerFunc) {
	b.mu.Lock()
	b.defaultFn = fn
	b.mu.Unlock()
}

func (b *Bot) dispatchDefault(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	b.mu.RLock()
	fn := b.defaultFn
	b.mu.RUnlock()

	if fn != nil {
		fn(ctx, bot, update)
	}
}

// Start starts the bot (blocking call)
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info().Msg("Starting Telegram bot...")
	b.bot.Start(ctx)
	b.logger.Info().Msg("Telegram bot stopped")
	return nil
}

// Send sends a plain text message and returns the message id.
func (b *Bot) Send(ctx context.Context, chatID int64, text string) (int, error) {
	msg, err := b.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return msg.ID, nil
}

// Edit replaces the text of a previously sent message.
func (b *Bot) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := b.bot.EditMessageText(ctx, &tgbot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}
