package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/harun/chainpilot/internal/observability"
	"github.com/harun/chainpilot/internal/tracing"
	"github.com/harun/chainpilot/pkg/agent"
	"github.com/harun/chainpilot/pkg/callbacks"
	"github.com/harun/chainpilot/pkg/commandqueue"
	"github.com/harun/chainpilot/pkg/moderation"
	"github.com/harun/chainpilot/pkg/sanitize"
	"github.com/harun/chainpilot/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "chainpilot.orchestrator"

// Fixed user-facing texts.
const (
	NeedsStartText = "Please /start first"
	ThinkingText   = "Thinking..."
	BusyText       = "⚠️ System is currently experiencing high load. Our AI models are working overtime! Please try again in a few moments."
	FailureText    = "❌ Something went wrong while processing your request. Please try again."
	TimeoutText    = "⌛ This is taking longer than expected. Please try again in a moment."
	BlockedText    = "⚠️ Your message was not processed because it contains blocked content."
)

// ErrInvalidInteraction is returned when an interaction carries both or
// neither of Input and Action.
var ErrInvalidInteraction = errors.New("interaction needs exactly one of input or action")

// Transport is the chat API the orchestrator and its adapters talk to.
type Transport interface {
	callbacks.Messenger
	AnswerCallbackQuery(ctx context.Context, queryID, text string) error
}

// Sessions resolves a user's engine.
type Sessions interface {
	GetOrCreate(ctx context.Context, userID int64) (*session.Session, error)
}

// Guard screens free text before it reaches the engine.
type Guard interface {
	CheckInput(text string) error
}

// Interaction is one inbound event for a user.
type Interaction struct {
	UserID   int64
	ChatID   int64
	Input    string
	Action   agent.ReviewAction
	ThreadID string
}

func (i Interaction) validate() error {
	if (i.Input == "") == (i.Action == "") {
		return ErrInvalidInteraction
	}
	if i.Action != "" && i.Action != agent.ActionApprove && i.Action != agent.ActionReject {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidInteraction, i.Action)
	}
	return nil
}

// Outcome names the terminal delivery an interaction ended with.
type Outcome string

const (
	OutcomeNeedsStart    Outcome = "needs_start"
	OutcomeBlocked       Outcome = "blocked"
	OutcomeQueueFull     Outcome = "queue_full"
	OutcomeEdited        Outcome = "edited"
	OutcomeSent          Outcome = "sent"
	OutcomeBusyNotice    Outcome = "busy_notice"
	OutcomeDeleted       Outcome = "deleted"
	OutcomeDelivered     Outcome = "delivered"
	OutcomeFailureNotice Outcome = "failure_notice"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeUndelivered   Outcome = "undelivered"
)

// Result reports what the user ended up seeing.
type Result struct {
	Outcome Outcome
	// Reply is the text delivered, or the text the caller should show when
	// nothing was sent (NeedsStart).
	Reply string
	// MessageID is the message left standing for the interaction, 0 when
	// none.
	MessageID int
}

// Orchestrator handles interactions.
type Orchestrator struct {
	sessions      Sessions
	transport     Transport
	queue         *commandqueue.CommandQueue
	guard         Guard
	invokeTimeout time.Duration
	warnAfter     time.Duration
	logger        zerolog.Logger
}

// Option is a functional option for configuring the Orchestrator
type Option func(*Orchestrator)

// WithInvokeTimeout bounds a single engine call. Default 3m.
func WithInvokeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.invokeTimeout = d
		}
	}
}

// WithQueueWarnAfter logs interactions that wait longer than d for their
// lane.
func WithQueueWarnAfter(d time.Duration) Option {
	return func(o *Orchestrator) { o.warnAfter = d }
}

// WithGuard screens free text with g.
func WithGuard(g Guard) Option {
	return func(o *Orchestrator) { o.guard = g }
}

// WithLogger sets the logger for the orchestrator
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an orchestrator. The queue is shared with nothing else that
// uses "user:" lanes.
func New(sessions Sessions, transport Transport, queue *commandqueue.CommandQueue, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:      sessions,
		transport:     transport,
		queue:         queue,
		invokeTimeout: 3 * time.Minute,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "orchestrator").Logger()
	return o
}

// Lane is the queue lane for a user.
func Lane(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// HandleInteraction runs one interaction to its terminal delivery. Engine
// and transport failures end in a user-visible notice and a nil error; the
// error is reserved for invalid input and a transport that cannot even take
// the placeholder.
func (o *Orchestrator) HandleInteraction(ctx context.Context, in Interaction) (Result, error) {
	if err := in.validate(); err != nil {
		return Result{}, err
	}

	start := time.Now()
	ctx = tracing.WithUserID(ctx, in.UserID)
	if in.ThreadID != "" {
		ctx = tracing.WithThreadID(ctx, in.ThreadID)
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "orchestrator.handle_interaction",
		attribute.Int64("user_id", in.UserID),
		attribute.Bool("review_action", in.Action != ""))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, o.logger)

	res, err := o.handle(ctx, in, logger)
	if err != nil {
		tracing.Fail(span, err)
		logger.Error().Err(err).Msg("Interaction failed")
	}
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	observability.RecordInteraction(string(res.Outcome), time.Since(start))
	return res, err
}

func (o *Orchestrator) handle(ctx context.Context, in Interaction, logger zerolog.Logger) (Result, error) {
	if in.Input != "" && o.guard != nil {
		if err := o.guard.CheckInput(in.Input); err != nil {
			return o.refuse(ctx, in, err, logger)
		}
	}

	sess, err := o.sessions.GetOrCreate(ctx, in.UserID)
	if errors.Is(err, session.ErrNoWallet) {
		return Result{Outcome: OutcomeNeedsStart, Reply: NeedsStartText}, nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resolve session")
		return o.sendNotice(ctx, in.ChatID, OutcomeFailureNotice, FailureText, logger)
	}

	opts := &commandqueue.TaskOptions{
		WarnAfter: o.warnAfter,
		OnWait: func(wait time.Duration, pos int) {
			logger.Warn().Dur("wait", wait).Int("position", pos).Msg("Interaction waiting for previous request")
		},
	}
	v, err := o.queue.Enqueue(ctx, Lane(in.UserID), func(ctx context.Context) (any, error) {
		return o.invoke(ctx, sess, in, logger)
	}, opts)
	switch {
	case errors.Is(err, commandqueue.ErrLaneFull):
		return o.sendNotice(ctx, in.ChatID, OutcomeQueueFull, BusyText, logger)
	case err != nil:
		return Result{Outcome: OutcomeUndelivered}, err
	}
	return v.(Result), nil
}

// invoke runs inside the user's lane.
func (o *Orchestrator) invoke(ctx context.Context, sess *session.Session, in Interaction, logger zerolog.Logger) (Result, error) {
	// typed input settles or discards a waiting review, so its buttons are
	// dead; a button press has its message removed by the ingress
	if stale := sess.Adapters.Review.TakeMessageID(); stale != 0 && in.Action == "" {
		if err := o.transport.DeleteMessage(ctx, in.ChatID, stale); err != nil {
			logger.Debug().Err(err).Int("message_id", stale).Msg("Stale review message not deleted")
		}
	}

	// an answer to a clarifying question is threaded under it
	thinking := callbacks.SendOptions{ParseMode: callbacks.ParseModeHTML}
	if question := sess.Adapters.Ask.TakeMessageID(); question != 0 && in.Input != "" {
		thinking.ReplyTo = question
	}

	liveID, err := o.transport.SendMessage(ctx, in.ChatID, ThinkingText, thinking)
	if err != nil {
		return Result{Outcome: OutcomeUndelivered}, fmt.Errorf("send thinking message: %w", err)
	}

	inv := callbacks.NewInvocation(in.UserID, in.ChatID, in.ThreadID, liveID)
	sess.Bind(inv)
	defer sess.Unbind()

	callCtx, cancel := context.WithTimeout(ctx, o.invokeTimeout)
	raw, err := o.execute(callCtx, sess.Engine, agent.ExecuteRequest{
		Input:    in.Input,
		Action:   in.Action,
		ThreadID: in.ThreadID,
	})
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	// an executed transaction's report stays put; a retry prompt over it
	// invites a second submission
	if (timedOut || err != nil) && inv.TxSuccess() && inv.Delivered() {
		logger.Warn().Err(err).Bool("timed_out", timedOut).Msg("Engine failed after the action was reported")
		return Result{Outcome: OutcomeDelivered, MessageID: inv.LiveID()}, nil
	}

	switch {
	case timedOut:
		logger.Warn().Err(err).Dur("timeout", o.invokeTimeout).Msg("Engine call timed out")
		return o.notice(ctx, inv, OutcomeTimeout, TimeoutText, logger), nil
	case err != nil:
		logger.Error().Err(err).Msg("Engine call failed")
		return o.notice(ctx, inv, OutcomeFailureNotice, FailureText, logger), nil
	}

	return o.deliver(ctx, inv, sanitize.Sanitize(raw), logger), nil
}

func (o *Orchestrator) execute(ctx context.Context, engine agent.Engine, req agent.ExecuteRequest) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked: %v", r)
		}
	}()
	return engine.Execute(ctx, req)
}

// deliver performs the terminal delivery for a finished engine call.
func (o *Orchestrator) deliver(ctx context.Context, inv *callbacks.Invocation, text string, logger zerolog.Logger) Result {
	live := inv.LiveID()

	if inv.TxSuccess() || text == "" {
		if inv.TxSuccess() && inv.Delivered() {
			return Result{Outcome: OutcomeDelivered, MessageID: live}
		}
		if err := o.transport.DeleteMessage(ctx, inv.ChatID, live); err != nil {
			logger.Warn().Err(err).Int("message_id", live).Msg("Failed to delete thinking message")
		}
		return Result{Outcome: OutcomeDeleted}
	}

	ok, err := o.transport.EditMessageText(ctx, inv.ChatID, live, text)
	if err == nil && ok {
		return Result{Outcome: OutcomeEdited, Reply: text, MessageID: live}
	}
	logger.Warn().Err(err).Int("message_id", live).Msg("Edit failed, sending new message")

	id, err := o.transport.SendMessage(ctx, inv.ChatID, text, callbacks.SendOptions{ParseMode: callbacks.ParseModeHTML})
	if err == nil {
		return Result{Outcome: OutcomeSent, Reply: text, MessageID: id}
	}
	logger.Warn().Err(err).Msg("Send failed, falling back to busy notice")

	ok, err = o.transport.EditMessageText(ctx, inv.ChatID, live, BusyText)
	if err != nil || !ok {
		logger.Error().Err(err).Msg("Busy notice not applied")
		return Result{Outcome: OutcomeUndelivered}
	}
	return Result{Outcome: OutcomeBusyNotice, Reply: BusyText, MessageID: live}
}

// notice replaces the live message with text, sending it fresh when the
// edit does not apply.
func (o *Orchestrator) notice(ctx context.Context, inv *callbacks.Invocation, outcome Outcome, text string, logger zerolog.Logger) Result {
	live := inv.LiveID()
	ok, err := o.transport.EditMessageText(ctx, inv.ChatID, live, text)
	if err == nil && ok {
		return Result{Outcome: outcome, Reply: text, MessageID: live}
	}
	res, _ := o.sendNotice(ctx, inv.ChatID, outcome, text, logger)
	return res
}

func (o *Orchestrator) sendNotice(ctx context.Context, chatID int64, outcome Outcome, text string, logger zerolog.Logger) (Result, error) {
	id, err := o.transport.SendMessage(ctx, chatID, text, callbacks.SendOptions{ParseMode: callbacks.ParseModeHTML})
	if err != nil {
		logger.Error().Err(err).Str("outcome", string(outcome)).Msg("Failed to send notice")
		return Result{Outcome: OutcomeUndelivered}, nil
	}
	return Result{Outcome: outcome, Reply: text, MessageID: id}, nil
}

func (o *Orchestrator) refuse(ctx context.Context, in Interaction, reason error, logger zerolog.Logger) (Result, error) {
	text := BlockedText
	if errors.Is(reason, moderation.ErrSecret) {
		text = moderation.SecretWarning
	}
	logger.Warn().Err(reason).Msg("Input refused")
	return o.sendNotice(ctx, in.ChatID, OutcomeBlocked, text, logger)
}
