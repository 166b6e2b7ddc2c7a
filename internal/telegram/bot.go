package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/chainpilot/internal/config"
	"github.com/harun/chainpilot/internal/logger"
	"github.com/harun/chainpilot/internal/observability"
	"github.com/harun/chainpilot/pkg/callbacks"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// UpdateFunc handles one update.
type UpdateFunc func(ctx context.Context, update tgbotapi.Update)

// Bot is the Telegram transport: it sends, edits and deletes messages and
// answers callback queries, pacing calls per chat.
type Bot struct {
	api    API
	self   tgbotapi.User
	config *config.TelegramConfig
	logger zerolog.Logger

	limitMu  sync.Mutex
	limiters map[int64]*rate.Limiter

	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// New creates a new Telegram bot instance
func New(cfg *config.TelegramConfig, log *logger.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := NewWithAPI(api, api.Self, cfg, log.GetZerolog())
	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")
	return bot, nil
}

// NewWithAPI wraps an already authenticated API client.
func NewWithAPI(api API, self tgbotapi.User, cfg *config.TelegramConfig, log zerolog.Logger) *Bot {
	if cfg == nil {
		cfg = &config.TelegramConfig{}
	}
	return &Bot{
		api:      api,
		self:     self,
		config:   cfg,
		logger:   log.With().Str("component", "telegram").Logger(),
		limiters: make(map[int64]*rate.Limiter),
	}
}

// Username is the bot's @name without the @.
func (b *Bot) Username() string {
	return b.self.UserName
}

// Run long-polls for updates and hands each to fn on its own goroutine
// until ctx is cancelled. It waits for in-flight handlers before returning.
func (b *Bot) Run(ctx context.Context, fn UpdateFunc) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot is already running")
	}
	b.running = true
	b.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.config.PollTimeout
	if u.Timeout <= 0 {
		u.Timeout = 60
	}
	u.AllowedUpdates = []string{"message", "callback_query"}
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info().Msg("Telegram bot started")

	defer func() {
		b.api.StopReceivingUpdates()
		b.wg.Wait()
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		b.logger.Info().Msg("Telegram bot stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func(update tgbotapi.Update) {
				defer b.wg.Done()
				defer func() {
					if r := recover(); r != nil {
						b.logger.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("Update handler panicked")
					}
				}()
				fn(ctx, update)
			}(update)
		}
	}
}

// IsRunning returns whether the bot is polling.
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// SendMessage implements callbacks.Messenger.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string, opts callbacks.SendOptions) (int, error) {
	if err := b.wait(ctx, chatID); err != nil {
		return 0, err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = opts.ParseMode
	if len(opts.Keyboard) > 0 {
		msg.ReplyMarkup = inlineKeyboard(opts.Keyboard)
	}
	if opts.ReplyTo != 0 {
		msg.ReplyToMessageID = opts.ReplyTo
		msg.AllowSendingWithoutReply = true
	}

	sent, err := b.api.Send(msg)
	observability.RecordTelegramCall("sendMessage", err == nil)
	if err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	b.logger.Debug().Int64("chat_id", chatID).Int("message_id", sent.MessageID).Msg("Message sent")
	return sent.MessageID, nil
}

// EditMessageText implements callbacks.Messenger. It reports false without
// an error when Telegram refuses the edit because the message is gone or
// too old, and true when the text was already identical.
func (b *Bot) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) (bool, error) {
	if err := b.wait(ctx, chatID); err != nil {
		return false, err
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = callbacks.ParseModeHTML

	_, err := b.api.Request(edit)
	switch {
	case err == nil:
		observability.RecordTelegramCall("editMessageText", true)
		return true, nil
	case isNotModified(err):
		observability.RecordTelegramCall("editMessageText", true)
		return true, nil
	case isGone(err):
		observability.RecordTelegramCall("editMessageText", false)
		b.logger.Debug().Err(err).Int("message_id", messageID).Msg("Edit not applied")
		return false, nil
	default:
		observability.RecordTelegramCall("editMessageText", false)
		return false, fmt.Errorf("failed to edit message: %w", err)
	}
}

// DeleteMessage implements callbacks.Messenger.
func (b *Bot) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := b.wait(ctx, chatID); err != nil {
		return err
	}
	_, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	observability.RecordTelegramCall("deleteMessage", err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// AnswerCallbackQuery acknowledges a button press.
func (b *Bot) AnswerCallbackQuery(ctx context.Context, queryID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.api.Request(tgbotapi.NewCallback(queryID, text))
	observability.RecordTelegramCall("answerCallbackQuery", err == nil)
	if err != nil {
		return fmt.Errorf("failed to answer callback query: %w", err)
	}
	return nil
}

// SetCommands publishes the command menu.
func (b *Bot) SetCommands(commands ...tgbotapi.BotCommand) error {
	_, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...))
	observability.RecordTelegramCall("setMyCommands", err == nil)
	if err != nil {
		return fmt.Errorf("failed to set commands: %w", err)
	}
	return nil
}

// wait blocks until the chat's limiter admits another call.
func (b *Bot) wait(ctx context.Context, chatID int64) error {
	if b.config.RateLimit <= 0 {
		return ctx.Err()
	}

	b.limitMu.Lock()
	l, ok := b.limiters[chatID]
	if !ok {
		burst := b.config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(b.config.RateLimit), burst)
		b.limiters[chatID] = l
	}
	b.limitMu.Unlock()

	return l.Wait(ctx)
}

func inlineKeyboard(rows [][]callbacks.Button) tgbotapi.InlineKeyboardMarkup {
	markup := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
		}
		markup = append(markup, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(markup...)
}

func apiDescription(err error) string {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return strings.ToLower(apiErr.Message)
	}
	return strings.ToLower(err.Error())
}

func isNotModified(err error) bool {
	return strings.Contains(apiDescription(err), "message is not modified")
}

func isGone(err error) bool {
	d := apiDescription(err)
	return strings.Contains(d, "message to edit not found") ||
		strings.Contains(d, "message can't be edited") ||
		strings.Contains(d, "message_id_invalid")
}
