package daemon

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/chainpilot/internal/telegram"
	"github.com/harun/chainpilot/internal/tracing"
	"github.com/harun/chainpilot/pkg/agent"
	"github.com/harun/chainpilot/pkg/callbacks"
	"github.com/harun/chainpilot/pkg/dedupe"
	"github.com/harun/chainpilot/pkg/orchestrator"
	"github.com/harun/chainpilot/pkg/store"
	"github.com/harun/chainpilot/pkg/wallet"
	"github.com/rs/zerolog"
)

// ReviewErrorText is sent when a review button press cannot be processed.
const ReviewErrorText = "Error processing your response. Please try again."

// Interactor runs interactions. *orchestrator.Orchestrator satisfies it.
type Interactor interface {
	HandleInteraction(ctx context.Context, in orchestrator.Interaction) (orchestrator.Result, error)
}

// WalletDeriver derives a user's addresses from a seed phrase.
type WalletDeriver func(mnemonic string) (*wallet.Wallet, error)

// Ingress turns Telegram updates into orchestrator interactions and runs
// the bot's slash commands.
type Ingress struct {
	transport orchestrator.Transport
	orch      Interactor
	users     store.UserStore
	seen      dedupe.Deduper
	derive    WalletDeriver
	networks  []string
	router    *telegram.Router
	commands  *telegram.Commands
	logger    zerolog.Logger
}

// IngressConfig wires an Ingress.
type IngressConfig struct {
	Transport orchestrator.Transport
	Orch      Interactor
	Users     store.UserStore
	Dedupe    dedupe.Deduper
	Derive    WalletDeriver
	Networks  []string
	Allowlist []int64
	Logger    zerolog.Logger
}

// NewIngress registers /start and /new and builds the update router.
func NewIngress(cfg IngressConfig) (*Ingress, error) {
	switch {
	case cfg.Transport == nil:
		return nil, fmt.Errorf("transport is required")
	case cfg.Orch == nil:
		return nil, fmt.Errorf("orchestrator is required")
	case cfg.Users == nil:
		return nil, fmt.Errorf("user store is required")
	case cfg.Derive == nil:
		return nil, fmt.Errorf("wallet deriver is required")
	}
	seen := cfg.Dedupe
	if seen == nil {
		seen = dedupe.NewMemory(0)
	}

	in := &Ingress{
		transport: cfg.Transport,
		orch:      cfg.Orch,
		users:     cfg.Users,
		seen:      seen,
		derive:    cfg.Derive,
		networks:  cfg.Networks,
		logger:    cfg.Logger.With().Str("component", "ingress").Logger(),
	}

	in.commands = telegram.NewCommands(cfg.Transport, cfg.Logger)
	in.commands.Register("start", "Create your wallet and get started", in.handleStart)
	in.commands.Register("new", "Start a new conversation", in.handleNew)

	in.router = telegram.NewRouter(telegram.Handlers{
		OnMessage:  in.handleMessage,
		OnCallback: in.handleCallback,
		Commands:   in.commands,
	}, cfg.Allowlist, cfg.Logger)
	return in, nil
}

// Commands exposes the registered command menu.
func (in *Ingress) Commands() *telegram.Commands {
	return in.commands
}

// HandleUpdate is the bot's update callback. Redelivered updates are
// dropped.
func (in *Ingress) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx = tracing.NewRequestContext(ctx)
	ctx = tracing.WithUpdateID(ctx, update.UpdateID)
	logger := tracing.LoggerFromContext(ctx, in.logger)

	dup, err := in.seen.Seen(ctx, "update:"+strconv.Itoa(update.UpdateID))
	if err != nil {
		logger.Warn().Err(err).Msg("Dedupe check failed, processing update")
	}
	if dup {
		logger.Debug().Msg("Duplicate update dropped")
		return
	}

	if err := in.router.Route(ctx, update); err != nil {
		logger.Error().Err(err).Msg("Failed to handle update")
	}
}

func (in *Ingress) handleMessage(ctx context.Context, msg telegram.MessageContext) error {
	ctx = tracing.WithUserID(ctx, msg.UserID)
	threadID, err := in.threadID(ctx, msg.UserID)
	if err != nil {
		return err
	}

	res, err := in.orch.HandleInteraction(ctx, orchestrator.Interaction{
		UserID:   msg.UserID,
		ChatID:   msg.ChatID,
		Input:    msg.Text,
		ThreadID: threadID,
	})
	if err != nil {
		return err
	}
	if res.Outcome == orchestrator.OutcomeNeedsStart {
		_, err = in.transport.SendMessage(ctx, msg.ChatID, res.Reply, callbacks.SendOptions{})
	}
	return err
}

// handleCallback processes a review button press: acknowledge, forward the
// decision, then remove the buttons.
func (in *Ingress) handleCallback(ctx context.Context, cb telegram.CallbackContext) error {
	ctx = tracing.WithUserID(ctx, cb.UserID)
	logger := tracing.LoggerFromContext(ctx, in.logger)

	dup, err := in.seen.Seen(ctx, "callback:"+cb.QueryID)
	if err != nil {
		logger.Warn().Err(err).Msg("Dedupe check failed, processing callback")
	}
	if dup {
		return nil
	}

	if err := in.review(ctx, cb); err != nil {
		logger.Error().Err(err).Msg("Failed to process review response")
		if _, sendErr := in.transport.SendMessage(ctx, cb.ChatID, ReviewErrorText, callbacks.SendOptions{}); sendErr != nil {
			return errors.Join(err, sendErr)
		}
	}
	return nil
}

func (in *Ingress) review(ctx context.Context, cb telegram.CallbackContext) error {
	if err := in.transport.AnswerCallbackQuery(ctx, cb.QueryID, ""); err != nil {
		return err
	}

	action := agent.ActionReject
	if cb.Data == callbacks.ReviewApproveData {
		action = agent.ActionApprove
	}

	threadID, err := in.threadID(ctx, cb.UserID)
	if err != nil {
		return err
	}
	res, err := in.orch.HandleInteraction(ctx, orchestrator.Interaction{
		UserID:   cb.UserID,
		ChatID:   cb.ChatID,
		Action:   action,
		ThreadID: threadID,
	})
	if err != nil {
		return err
	}
	if res.Outcome == orchestrator.OutcomeNeedsStart {
		if _, err := in.transport.SendMessage(ctx, cb.ChatID, res.Reply, callbacks.SendOptions{}); err != nil {
			return err
		}
	}

	if cb.MessageID != 0 {
		return in.transport.DeleteMessage(ctx, cb.ChatID, cb.MessageID)
	}
	return nil
}

// threadID is the user's current conversation thread, empty for unknown
// users so the orchestrator can ask them to /start.
func (in *Ingress) threadID(ctx context.Context, userID int64) (string, error) {
	u, err := in.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	return u.CurrentThreadID, nil
}
