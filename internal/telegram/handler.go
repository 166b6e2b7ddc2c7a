package telegram

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// MessageContext contains message metadata
type MessageContext struct {
	UpdateID  int
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	FirstName string
	Text      string
	Timestamp time.Time
	IsPrivate bool
}

// CallbackContext describes an inline button press.
type CallbackContext struct {
	UpdateID  int
	QueryID   string
	ChatID    int64
	MessageID int // the message carrying the button
	UserID    int64
	Data      string
}

// Handlers receives routed updates. Nil fields are skipped.
type Handlers struct {
	OnMessage  func(ctx context.Context, msg MessageContext) error
	OnCallback func(ctx context.Context, cb CallbackContext) error
	Commands   *Commands
}

// Router turns raw updates into message, command and callback calls.
type Router struct {
	handlers  Handlers
	allowlist map[int64]struct{}
	logger    zerolog.Logger
}

// NewRouter creates a router. An empty allowlist admits everyone.
func NewRouter(h Handlers, allowlist []int64, logger zerolog.Logger) *Router {
	r := &Router{
		handlers: h,
		logger:   logger.With().Str("module", "router").Logger(),
	}
	if len(allowlist) > 0 {
		r.allowlist = make(map[int64]struct{}, len(allowlist))
		for _, id := range allowlist {
			r.allowlist[id] = struct{}{}
		}
	}
	return r
}

// Allowed reports whether a user may talk to the bot.
func (r *Router) Allowed(userID int64) bool {
	if r.allowlist == nil {
		return true
	}
	_, ok := r.allowlist[userID]
	return ok
}

// Route dispatches one update.
func (r *Router) Route(ctx context.Context, update tgbotapi.Update) error {
	if cb, ok := ParseCallback(update); ok {
		if !r.Allowed(cb.UserID) {
			r.logger.Debug().Int64("user_id", cb.UserID).Msg("Callback from user outside allowlist")
			return nil
		}
		if r.handlers.OnCallback == nil {
			return nil
		}
		return r.handlers.OnCallback(ctx, cb)
	}

	msg, ok := ParseMessage(update)
	if !ok {
		return nil
	}
	if !r.Allowed(msg.UserID) {
		r.logger.Debug().Int64("user_id", msg.UserID).Msg("Message from user outside allowlist")
		return nil
	}

	if update.Message.IsCommand() && r.handlers.Commands != nil {
		return r.handlers.Commands.HandleCommand(ctx, update)
	}
	if strings.TrimSpace(msg.Text) == "" || r.handlers.OnMessage == nil {
		return nil
	}

	r.logger.Debug().
		Int64("chat_id", msg.ChatID).
		Int64("user_id", msg.UserID).
		Msg("Message received")
	return r.handlers.OnMessage(ctx, msg)
}

// ParseMessage extracts a text message. Media captions count as text.
func ParseMessage(update tgbotapi.Update) (MessageContext, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return MessageContext{}, false
	}
	return MessageContext{
		UpdateID:  update.UpdateID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		Text:      ParseCaption(msg),
		Timestamp: time.Unix(int64(msg.Date), 0),
		IsPrivate: msg.Chat.IsPrivate(),
	}, true
}

// ParseCallback extracts an inline button press.
func ParseCallback(update tgbotapi.Update) (CallbackContext, bool) {
	q := update.CallbackQuery
	if q == nil || q.From == nil {
		return CallbackContext{}, false
	}
	cb := CallbackContext{
		UpdateID: update.UpdateID,
		QueryID:  q.ID,
		UserID:   q.From.ID,
		Data:     q.Data,
	}
	if q.Message != nil {
		cb.MessageID = q.Message.MessageID
		if q.Message.Chat != nil {
			cb.ChatID = q.Message.Chat.ID
		}
	}
	if cb.ChatID == 0 {
		cb.ChatID = q.From.ID
	}
	return cb, true
}

// ParseCaption extracts caption from a message
func ParseCaption(msg *tgbotapi.Message) string {
	if msg.Caption != "" {
		return msg.Caption
	}
	return msg.Text
}
