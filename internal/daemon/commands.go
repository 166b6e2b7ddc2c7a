package daemon

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/harun/chainpilot/internal/observability"
	"github.com/harun/chainpilot/internal/telegram"
	"github.com/harun/chainpilot/internal/tracing"
	"github.com/harun/chainpilot/pkg/callbacks"
	"github.com/harun/chainpilot/pkg/orchestrator"
	"github.com/harun/chainpilot/pkg/store"
	"github.com/harun/chainpilot/pkg/wallet"
)

// NewThreadText confirms /new.
const NewThreadText = "🧹 Started a new conversation. Previous context is cleared."

// handleStart registers the user, creating a wallet on first contact, and
// replies with the user's addresses. "/start <code>" records the referrer.
func (in *Ingress) handleStart(ctx context.Context, cmd telegram.CommandContext) error {
	ctx = tracing.WithUserID(ctx, cmd.UserID)
	logger := tracing.LoggerFromContext(ctx, in.logger)

	var referral string
	if len(cmd.Args) > 0 {
		referral = cmd.Args[0]
	}

	u, created, err := in.users.GetOrCreateUser(ctx, store.UserParams{
		TelegramID: cmd.UserID,
		Username:   cmd.Username,
		Name:       cmd.FirstName,
		ReferredBy: referral,
	})
	if err != nil {
		return fmt.Errorf("get or create user: %w", err)
	}
	if created {
		logger.Info().Str("referred_by", referral).Msg("User registered")
	}

	if !u.HasWallet() {
		mnemonic, err := wallet.NewMnemonic()
		if err != nil {
			return err
		}
		if err := in.users.SetMnemonic(ctx, cmd.UserID, mnemonic); err != nil {
			return fmt.Errorf("save wallet: %w", err)
		}
		u.Mnemonic = mnemonic
		observability.RecordWalletAudit(ctx, cmd.UserID, "created", nil)
		logger.Info().Msg("Wallet created")
	}

	w, err := in.derive(u.Mnemonic)
	if err != nil {
		return fmt.Errorf("derive wallet: %w", err)
	}
	return in.commands.Reply(ctx, cmd, welcomeText(displayName(u, cmd), in.networks, w, u.ReferralCode))
}

// handleNew starts a fresh conversation thread.
func (in *Ingress) handleNew(ctx context.Context, cmd telegram.CommandContext) error {
	if _, err := in.users.GetUser(ctx, cmd.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return in.commands.Reply(ctx, cmd, orchestrator.NeedsStartText)
		}
		return err
	}
	thread, err := in.users.RotateThread(ctx, cmd.UserID)
	if err != nil {
		return fmt.Errorf("rotate thread: %w", err)
	}
	logger := tracing.LoggerFromContext(tracing.WithThreadID(ctx, thread), in.logger)
	logger.Info().Int64("user_id", cmd.UserID).Msg("Conversation thread rotated")
	return in.commands.Reply(ctx, cmd, NewThreadText)
}

func displayName(u *store.User, cmd telegram.CommandContext) string {
	switch {
	case u.Name != "":
		return u.Name
	case cmd.FirstName != "":
		return cmd.FirstName
	case u.Username != "":
		return u.Username
	}
	return "there"
}

func welcomeText(name string, networks []string, w *wallet.Wallet, referral string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👋 Welcome, <b>%s</b>!\n\n", html.EscapeString(name))
	b.WriteString("Your wallet addresses:\n")
	for _, n := range networks {
		addr, ok := w.Address(n)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- <b>%s:</b> <code>%s</code>\n", html.EscapeString(callbacks.TitleNetwork(n)), addr)
	}
	b.WriteString("\nTell me what you want to do, for example <i>stake 0.5 ETH</i> or <i>what is my balance?</i>")
	if referral != "" {
		fmt.Fprintf(&b, "\n\nYour referral code: <code>%s</code>", html.EscapeString(referral))
	}
	return b.String()
}
