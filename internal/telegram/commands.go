package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/chainpilot/pkg/callbacks"
	"github.com/rs/zerolog"
)

// Commands routes slash commands to registered handlers.
type Commands struct {
	sender   callbacks.Messenger
	logger   zerolog.Logger
	handlers map[string]CommandFunc
	help     map[string]string
}

// CommandFunc is a function that handles a command
type CommandFunc func(ctx context.Context, cmd CommandContext) error

// CommandContext contains command metadata
type CommandContext struct {
	UpdateID  int
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	FirstName string
	Command   string
	Args      []string
	RawArgs   string
}

// NewCommands creates a new command handler
func NewCommands(sender callbacks.Messenger, logger zerolog.Logger) *Commands {
	return &Commands{
		sender:   sender,
		logger:   logger.With().Str("module", "commands").Logger(),
		handlers: make(map[string]CommandFunc),
		help:     make(map[string]string),
	}
}

// HandleCommand processes incoming commands
func (c *Commands) HandleCommand(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.From == nil {
		return nil
	}

	cmd := CommandContext{
		UpdateID:  update.UpdateID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		Command:   msg.Command(),
		Args:      strings.Fields(msg.CommandArguments()),
		RawArgs:   msg.CommandArguments(),
	}

	c.logger.Debug().
		Int64("chat_id", cmd.ChatID).
		Str("command", cmd.Command).
		Msg("Command received")

	handler, ok := c.handlers[cmd.Command]
	if !ok {
		return c.Reply(ctx, cmd, fmt.Sprintf("Unknown command: /%s", cmd.Command))
	}
	return handler(ctx, cmd)
}

// Register registers a command handler
func (c *Commands) Register(command, description string, handler CommandFunc) {
	c.handlers[command] = handler
	c.help[command] = description
	c.logger.Debug().Str("command", command).Msg("Command registered")
}

// Menu lists registered commands for Bot.SetCommands, sorted by name.
func (c *Commands) Menu() []tgbotapi.BotCommand {
	out := make([]tgbotapi.BotCommand, 0, len(c.help))
	for name, desc := range c.help {
		out = append(out, tgbotapi.BotCommand{Command: name, Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Reply sends an HTML message to the command's chat.
func (c *Commands) Reply(ctx context.Context, cmd CommandContext, text string) error {
	_, err := c.sender.SendMessage(ctx, cmd.ChatID, text, callbacks.SendOptions{ParseMode: callbacks.ParseModeHTML})
	return err
}
