package claims

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/harun/chainpilot/internal/observability"
	"github.com/harun/chainpilot/pkg/callbacks"
	"github.com/harun/chainpilot/pkg/store"
	"github.com/rs/zerolog"
)

const (
	defaultBatch = 100
	retryBase    = 10 * time.Minute
	retryCap     = 12 * time.Hour
)

// Sender delivers a chat message. callbacks.Messenger satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts callbacks.SendOptions) (int, error)
}

// Notifier tells users about matured claims.
type Notifier struct {
	store  store.ClaimStore
	sender Sender
	batch  int
	now    func() time.Time
	logger zerolog.Logger
}

// NewNotifier creates a notifier. batch <= 0 uses 100.
func NewNotifier(s store.ClaimStore, sender Sender, batch int, logger zerolog.Logger) *Notifier {
	if batch <= 0 {
		batch = defaultBatch
	}
	return &Notifier{
		store:  s,
		sender: sender,
		batch:  batch,
		now:    time.Now,
		logger: logger.With().Str("component", "claims_notifier").Logger(),
	}
}

// Run notifies one batch of due claims. It is the body of the cron job.
// A claim whose message fails is retried with exponential backoff until
// store.MaxNotifyAttempts is reached.
func (n *Notifier) Run(ctx context.Context) error {
	now := n.now()
	due, err := n.store.DueClaims(ctx, now, n.batch)
	if err != nil {
		return fmt.Errorf("list due claims: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	var sent, failed int
	for _, c := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := n.sender.SendMessage(ctx, c.TelegramID, MaturedText(c), callbacks.SendOptions{ParseMode: callbacks.ParseModeHTML})
		observability.RecordClaimNotification(err == nil)
		if err != nil {
			failed++
			n.logger.Warn().Err(err).Int64("claim_id", c.ID).Int64("user_id", c.TelegramID).Msg("Failed to send claim notification")
			n.deferClaim(ctx, c, now)
			continue
		}
		if err := n.store.MarkNotified(ctx, c.ID, now); err != nil {
			failed++
			n.logger.Error().Err(err).Int64("claim_id", c.ID).Msg("Failed to mark claim notified")
			continue
		}
		sent++
	}

	n.logger.Info().Int("due", len(due)).Int("sent", sent).Int("failed", failed).Msg("Claim notifications processed")
	if failed > 0 {
		return fmt.Errorf("%d of %d claim notifications failed", failed, len(due))
	}
	return nil
}

func (n *Notifier) deferClaim(ctx context.Context, c store.Claim, now time.Time) {
	attempt := c.NotifyAttempts + 1
	if err := n.store.RecordNotifyFailure(ctx, c.ID, now.Add(RetryDelay(attempt))); err != nil {
		n.logger.Error().Err(err).Int64("claim_id", c.ID).Msg("Failed to record notification failure")
		return
	}
	if attempt >= store.MaxNotifyAttempts {
		n.logger.Error().Int64("claim_id", c.ID).Int64("user_id", c.TelegramID).Int("attempts", attempt).
			Msg("Giving up on claim notification")
	}
}

// RetryDelay is the wait after the given failed attempt: 10m, 20m, 40m...
// capped at 12h.
func RetryDelay(attempt int) time.Duration {
	d := retryBase
	for i := 1; i < attempt && d < retryCap; i++ {
		d *= 2
	}
	return min(d, retryCap)
}

// MaturedText is the message sent when a claim becomes eligible.
func MaturedText(c store.Claim) string {
	return fmt.Sprintf("🎁 <b>Reward ready</b>\n\nYour %s %s reward on %s is now claimable.\n- <b>Tx:</b> <code>%s</code>",
		html.EscapeString(callbacks.FormatSmartNumber(c.Amount)),
		html.EscapeString(c.TokenSymbol),
		html.EscapeString(callbacks.TitleNetwork(c.Network)),
		html.EscapeString(c.TxHash))
}
