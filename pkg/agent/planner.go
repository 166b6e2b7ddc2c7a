package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harun/chainpilot/internal/observability"
	"github.com/harun/chainpilot/internal/tracing"
	"github.com/harun/chainpilot/pkg/history"
	"github.com/harun/chainpilot/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName = "chainpilot.agent"

	// AskUserTool lets the model end its turn with a clarifying question.
	AskUserTool = "ask_user"

	historyLimit     = 40
	maxContextTokens = 16000
)

// PlannerConfig is shared by every user's planner.
type PlannerConfig struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxIterations int
	ReviewTimeout time.Duration
	SystemPrompt  string
	Networks      []string
}

type pendingReview struct {
	call     ToolCall
	messages []AgentMessage
	rest     []ToolCall
	expires  time.Time
}

// Planner is the Engine for one user. It runs a tool loop against the
// profile pool and parks review-gated tool calls until the user answers.
type Planner struct {
	cfg     PlannerConfig
	userID  int64
	system  string
	caller  toolexecutor.Caller
	tools   *toolexecutor.ToolExecutor
	history *history.Store
	pool    *ProfilePool
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	onTool   ToolExecutionCallback
	onAsk    AskUserCallback
	onReview HumanReviewCallback
	pending  map[string]*pendingReview
}

func (p *Planner) RegisterToolExecutionCallback(cb ToolExecutionCallback) {
	p.mu.Lock()
	p.onTool = cb
	p.mu.Unlock()
}

func (p *Planner) RegisterAskUserCallback(cb AskUserCallback) {
	p.mu.Lock()
	p.onAsk = cb
	p.mu.Unlock()
}

func (p *Planner) RegisterHumanReviewCallback(cb HumanReviewCallback) {
	p.mu.Lock()
	p.onReview = cb
	p.mu.Unlock()
}

// Execute runs one turn for the thread.
func (p *Planner) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	thread := req.ThreadID
	if thread == "" {
		thread = fmt.Sprintf("user-%d", p.userID)
	}

	caller := p.caller
	caller.ThreadID = thread
	ctx = toolexecutor.WithCaller(tracing.WithThreadID(ctx, thread), caller)
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.execute",
		attribute.Int64("user_id", p.userID),
		attribute.String("thread_id", thread),
		attribute.String("action", string(req.Action)))
	defer span.End()

	var (
		out string
		err error
	)
	switch {
	case req.Action == ActionApprove || req.Action == ActionReject:
		out, err = p.resume(ctx, thread, req.Action)
		if errors.Is(err, ErrNoPendingReview) {
			return ReviewExpiredText, nil
		}
	case req.Action != "":
		err = fmt.Errorf("unknown review action %q", req.Action)
	case strings.TrimSpace(req.Input) != "":
		if action, ok := p.typedDecision(thread, req.Input); ok {
			out, err = p.resume(ctx, thread, action)
			if errors.Is(err, ErrNoPendingReview) {
				return ReviewExpiredText, nil
			}
			break
		}
		out, err = p.start(ctx, thread, req.Input)
	default:
		err = ErrEmptyRequest
	}

	if err != nil {
		tracing.Fail(span, err)
	}
	return out, err
}

// typedDecision maps a typed yes/no onto the buttons while a review waits.
func (p *Planner) typedDecision(thread, input string) (ReviewAction, bool) {
	var action ReviewAction
	switch strings.ToLower(strings.Trim(strings.TrimSpace(input), ".!")) {
	case "yes", "y", "approve":
		action = ActionApprove
	case "no", "n", "reject":
		action = ActionReject
	default:
		return "", false
	}

	p.mu.Lock()
	_, ok := p.pending[thread]
	p.mu.Unlock()
	return action, ok
}

func (p *Planner) start(ctx context.Context, thread, input string) (string, error) {
	logger := tracing.LoggerFromContext(ctx, p.logger)

	p.mu.Lock()
	if _, ok := p.pending[thread]; ok {
		delete(p.pending, thread)
		logger.Info().Msg("Discarding unanswered review")
	}
	p.mu.Unlock()

	past, err := p.history.Load(ctx, thread, historyLimit)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}

	msgs := make([]AgentMessage, 0, len(past)+1)
	for _, m := range past {
		msgs = append(msgs, AgentMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, AgentMessage{Role: "user", Content: input})
	msgs = compact(msgs)

	p.remember(ctx, thread, "user", input)
	return p.loop(ctx, thread, msgs)
}

func (p *Planner) resume(ctx context.Context, thread string, action ReviewAction) (string, error) {
	logger := tracing.LoggerFromContext(ctx, p.logger)

	p.mu.Lock()
	pr, ok := p.pending[thread]
	delete(p.pending, thread)
	p.mu.Unlock()

	if !ok {
		return "", ErrNoPendingReview
	}
	if p.now().After(pr.expires) {
		logger.Info().Str("tool", pr.call.Name).Msg("Review expired")
		return "", ErrNoPendingReview
	}

	observability.RecordReviewDecision(string(action))
	observability.RecordReviewAudit(ctx, p.userID, string(action), map[string]any{
		"tool":      pr.call.Name,
		"thread_id": thread,
	})

	msgs := pr.messages
	if action == ActionApprove {
		p.remember(ctx, thread, "user", "Approved.")
		msgs = append(msgs, p.runTool(ctx, pr.call))
	} else {
		p.remember(ctx, thread, "user", "Rejected.")
		msgs = append(msgs, toolMessage(pr.call.ID, "The user rejected this action. Do not retry it unless asked again."))
	}
	for _, c := range pr.rest {
		msgs = append(msgs, toolMessage(c.ID, "Not executed: another action was waiting for review."))
	}
	return p.loop(ctx, thread, msgs)
}

func (p *Planner) loop(ctx context.Context, thread string, msgs []AgentMessage) (string, error) {
	tools := p.toolSpecs()

	for turn := 0; turn < p.cfg.MaxIterations; turn++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := p.pool.Call(ctx, LLMRequest{
			Model:        p.cfg.Model,
			Messages:     msgs,
			Tools:        tools,
			Temperature:  p.cfg.Temperature,
			MaxTokens:    p.cfg.MaxTokens,
			SystemPrompt: p.system,
		})
		if err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			p.remember(ctx, thread, "assistant", resp.Content)
			return resp.Content, nil
		}

		msgs = append(msgs, AgentMessage{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		for i, call := range resp.ToolCalls {
			if call.Name == AskUserTool {
				q := stringParam(call.Parameters, "question")
				if q == "" {
					msgs = append(msgs, toolMessage(call.ID, "Error: question is required"))
					continue
				}
				p.remember(ctx, thread, "assistant", q)
				p.emitAsk(ctx, AskUserEvent{Question: q})
				return "", nil
			}

			def := p.tools.GetTool(call.Name)
			if def != nil && def.ReviewType != "" {
				if err := p.tools.Validate(call.Name, call.Parameters); err != nil {
					msgs = append(msgs, toolMessage(call.ID, "Error: "+err.Error()))
					continue
				}
				p.park(thread, &pendingReview{
					call:     call,
					messages: append([]AgentMessage(nil), msgs...),
					rest:     resp.ToolCalls[i+1:],
					expires:  p.now().Add(p.cfg.ReviewTimeout),
				})
				p.emitReview(ctx, HumanReviewEvent{
					ToolName: call.Name,
					Review:   reviewData(def.ReviewType, call.Parameters),
				})
				return "", nil
			}

			msgs = append(msgs, p.runTool(ctx, call))
		}
	}

	return "", fmt.Errorf("maximum tool iterations (%d) exceeded", p.cfg.MaxIterations)
}

func (p *Planner) park(thread string, pr *pendingReview) {
	p.mu.Lock()
	p.pending[thread] = pr
	p.mu.Unlock()
}

// runTool executes a call and reports it: a progress event before, and a
// tool_execution event when the result carries a transaction.
func (p *Planner) runTool(ctx context.Context, call ToolCall) AgentMessage {
	p.emitTool(ctx, ToolExecutionEvent{
		Kind:     KindProgress,
		ToolName: call.Name,
		Message:  fmt.Sprintf("<i>Running %s...</i>", call.Name),
	})

	res := p.tools.Execute(ctx, call.Name, call.Parameters)
	if !res.Success {
		return toolMessage(call.ID, "Error: "+res.Error)
	}

	content, tx := renderOutput(res.Output)
	if tx != nil {
		msg := content
		if msg == "" {
			msg = fmt.Sprintf("Transaction submitted: <code>%s</code>", tx.TxHash)
		}
		p.emitTool(ctx, ToolExecutionEvent{
			Kind:        KindToolExecution,
			ToolName:    call.Name,
			Message:     msg,
			Transaction: tx,
		})
	}
	return toolMessage(call.ID, content)
}

func (p *Planner) toolSpecs() []ToolSpec {
	names := p.tools.ListTools()
	specs := make([]ToolSpec, 0, len(names)+1)
	for _, name := range names {
		def := p.tools.GetTool(name)
		if def == nil {
			continue
		}
		specs = append(specs, ToolSpec{Name: def.Name, Description: def.Description, Schema: p.tools.Schema(name)})
	}
	return append(specs, ToolSpec{
		Name:        AskUserTool,
		Description: "Ask the user a clarifying question and wait for the answer.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{"type": "string", "description": "The question to ask"},
			},
			"required": []any{"question"},
		},
	})
}

func (p *Planner) remember(ctx context.Context, thread, role, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	err := p.history.Append(ctx, thread, history.Message{Role: role, Content: content, Timestamp: p.now()})
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, p.logger)
		logger.Warn().Err(err).Msg("Failed to persist message")
	}
}

func (p *Planner) emitTool(ctx context.Context, ev ToolExecutionEvent) {
	p.mu.Lock()
	cb := p.onTool
	p.mu.Unlock()
	if cb != nil {
		cb(ctx, ev)
	}
}

func (p *Planner) emitAsk(ctx context.Context, ev AskUserEvent) {
	p.mu.Lock()
	cb := p.onAsk
	p.mu.Unlock()
	if cb != nil {
		cb(ctx, ev)
	}
}

func (p *Planner) emitReview(ctx context.Context, ev HumanReviewEvent) {
	p.mu.Lock()
	cb := p.onReview
	p.mu.Unlock()
	if cb != nil {
		cb(ctx, ev)
	}
}

// compact drops the oldest turns until the context fits, keeping a user
// message first.
func compact(msgs []AgentMessage) []AgentMessage {
	for len(msgs) > 1 && EstimateTokens(msgs) > maxContextTokens {
		msgs = msgs[1:]
	}
	for len(msgs) > 1 && msgs[0].Role != "user" {
		msgs = msgs[1:]
	}
	return msgs
}

func toolMessage(id, content string) AgentMessage {
	if content == "" {
		content = "done"
	}
	return AgentMessage{Role: "tool", Content: content, ToolCallID: id}
}

func renderOutput(out any) (string, *TransactionData) {
	switch v := out.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case *toolexecutor.RemoteResult:
		content := v.Message
		if len(v.Data) > 0 {
			if b, err := json.Marshal(v.Data); err == nil {
				content = strings.TrimSpace(content + "\n" + string(b))
			}
		}
		if v.Transaction == nil {
			return content, nil
		}
		return v.Message, &TransactionData{
			Amount:      v.Transaction.Amount,
			TokenSymbol: v.Transaction.TokenSymbol,
			Network:     v.Transaction.Network,
			Provider:    v.Transaction.Provider,
			TxHash:      v.Transaction.TxHash,
		}
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), nil
		}
		return string(b), nil
	}
}

func reviewData(reviewType string, params map[string]any) ReviewData {
	rd := ReviewData{Type: reviewType, Network: stringParam(params, "network")}
	if reviewType == "swap" {
		rd.FromAmount = stringParam(params, "from_amount")
		if rd.FromAmount == "" {
			rd.FromAmount = stringParam(params, "amount")
		}
		rd.FromToken = stringParam(params, "from_token")
		rd.ToAmount = stringParam(params, "to_amount")
		rd.ToToken = stringParam(params, "to_token")
		return rd
	}
	rd.Amount = stringParam(params, "amount")
	rd.Token = stringParam(params, "token")
	return rd
}

func stringParam(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
