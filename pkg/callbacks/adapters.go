package callbacks

import (
	"context"
	"sync"

	"github.com/harun/chainpilot/internal/tracing"
	"github.com/harun/chainpilot/pkg/agent"
	"github.com/rs/zerolog"
)

// Callback data of the review buttons.
const (
	ReviewApproveData = "human_review_yes"
	ReviewRejectData  = "human_review_no"
)

// ClaimRecorder persists the reward claim of an executed transaction.
type ClaimRecorder interface {
	Record(ctx context.Context, userID int64, tx agent.TransactionData) error
}

type binding struct {
	mu  sync.Mutex
	inv *Invocation
}

func (b *binding) current() *Invocation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inv
}

// Set is the adapter triple of one session.
type Set struct {
	Tool   *ToolExecutionAdapter
	Ask    *AskUserAdapter
	Review *HumanReviewAdapter

	b *binding
}

// NewSet builds unbound adapters for userID.
func NewSet(userID int64, m Messenger, claims ClaimRecorder, logger zerolog.Logger) *Set {
	b := &binding{}
	logger = logger.With().Str("component", "callbacks").Int64("user_id", userID).Logger()
	return &Set{
		Tool:   &ToolExecutionAdapter{userID: userID, m: m, claims: claims, b: b, logger: logger},
		Ask:    &AskUserAdapter{m: m, b: b, logger: logger},
		Review: &HumanReviewAdapter{m: m, b: b, logger: logger},
		b:      b,
	}
}

// Register hands the adapters to the engine.
func (s *Set) Register(e agent.Engine) {
	e.RegisterToolExecutionCallback(s.Tool.OnToolExecution)
	e.RegisterAskUserCallback(s.Ask.OnAskUser)
	e.RegisterHumanReviewCallback(s.Review.OnHumanReview)
}

func (s *Set) Bind(inv *Invocation) {
	s.b.mu.Lock()
	s.b.inv = inv
	s.b.mu.Unlock()
}

func (s *Set) Unbind() {
	s.Bind(nil)
}

// Current returns the bound invocation, nil between calls.
func (s *Set) Current() *Invocation {
	return s.b.current()
}

// ToolExecutionAdapter renders tool progress and executed actions onto the
// live message and records claims for transactions.
type ToolExecutionAdapter struct {
	userID int64
	m      Messenger
	claims ClaimRecorder
	b      *binding
	logger zerolog.Logger
}

func (a *ToolExecutionAdapter) OnToolExecution(ctx context.Context, ev agent.ToolExecutionEvent) {
	logger := tracing.LoggerFromContext(ctx, a.logger).With().
		Str("tool", ev.ToolName).
		Str("kind", string(ev.Kind)).
		Logger()

	if ev.Transaction != nil && a.claims != nil {
		if err := a.claims.Record(ctx, a.userID, *ev.Transaction); err != nil {
			logger.Error().Err(err).Str("tx_hash", ev.Transaction.TxHash).Msg("Failed to record claim")
		}
	}

	inv := a.b.current()
	if inv == nil {
		logger.Warn().Msg("Tool event outside an invocation")
		return
	}

	switch ev.Kind {
	case agent.KindToolExecution:
		inv.markTxSuccess()
		a.deliver(ctx, inv, ev.Message, logger)
	case agent.KindProgress:
		// an executed action already owns the live message
		if inv.Delivered() {
			return
		}
		ok, err := a.m.EditMessageText(ctx, inv.ChatID, inv.LiveID(), ev.Message)
		if err != nil || !ok {
			logger.Debug().Err(err).Msg("Progress edit not applied")
		}
	default:
		logger.Warn().Msg("Unknown tool event kind")
	}
}

// deliver puts an executed action's text on the live message, falling back
// to a new message that becomes the live one. Later actions in the same
// call get their own messages.
func (a *ToolExecutionAdapter) deliver(ctx context.Context, inv *Invocation, text string, logger zerolog.Logger) {
	if text == "" {
		return
	}

	stale := 0
	if !inv.Delivered() {
		live := inv.LiveID()
		ok, err := a.m.EditMessageText(ctx, inv.ChatID, live, text)
		if err == nil && ok {
			inv.markDelivered(live)
			return
		}
		logger.Warn().Err(err).Msg("Edit failed, sending new message")
		stale = live
	}

	id, err := a.m.SendMessage(ctx, inv.ChatID, text, SendOptions{ParseMode: ParseModeHTML})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to deliver tool result")
		return
	}
	if stale == 0 {
		return
	}

	inv.markDelivered(id)
	if err := a.m.DeleteMessage(ctx, inv.ChatID, stale); err != nil {
		logger.Debug().Err(err).Int("message_id", stale).Msg("Stale thinking message not deleted")
	}
}

// AskUserAdapter sends the agent's clarifying questions.
type AskUserAdapter struct {
	m      Messenger
	b      *binding
	logger zerolog.Logger

	mu        sync.Mutex
	messageID int
}

func (a *AskUserAdapter) OnAskUser(ctx context.Context, ev agent.AskUserEvent) {
	logger := tracing.LoggerFromContext(ctx, a.logger)
	inv := a.b.current()
	if inv == nil {
		logger.Warn().Msg("Question outside an invocation")
		return
	}

	id, err := a.m.SendMessage(ctx, inv.ChatID, ev.Question, SendOptions{ParseMode: ParseModeHTML})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to send question")
		return
	}
	a.mu.Lock()
	a.messageID = id
	a.mu.Unlock()
}

// TakeMessageID returns the last unanswered question and forgets it. Zero
// when there is none.
func (a *AskUserAdapter) TakeMessageID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.messageID
	a.messageID = 0
	return id
}

// HumanReviewAdapter sends confirmation requests with approve/reject
// buttons.
type HumanReviewAdapter struct {
	m      Messenger
	b      *binding
	logger zerolog.Logger

	mu        sync.Mutex
	messageID int
}

func (a *HumanReviewAdapter) OnHumanReview(ctx context.Context, ev agent.HumanReviewEvent) {
	logger := tracing.LoggerFromContext(ctx, a.logger).With().Str("tool", ev.ToolName).Logger()
	inv := a.b.current()
	if inv == nil {
		logger.Warn().Msg("Review outside an invocation")
		return
	}

	text, ok := FormatReview(ev.Review)
	if !ok {
		logger.Warn().Str("review_type", ev.Review.Type).Msg("No template for review type")
		return
	}

	id, err := a.m.SendMessage(ctx, inv.ChatID, text, SendOptions{
		ParseMode: ParseModeHTML,
		Keyboard: [][]Button{{
			{Text: "✅ Approve", Data: ReviewApproveData},
			{Text: "❌ Reject", Data: ReviewRejectData},
		}},
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to send review")
		return
	}
	a.mu.Lock()
	a.messageID = id
	a.mu.Unlock()
}

// TakeMessageID returns the confirmation message still showing buttons and
// forgets it. Zero when there is none.
func (a *HumanReviewAdapter) TakeMessageID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.messageID
	a.messageID = 0
	return id
}
