package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harun/chainpilot/pkg/history"
	"github.com/harun/chainpilot/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	tools   []ToolExecutionEvent
	asks    []AskUserEvent
	reviews []HumanReviewEvent
}

func (r *recorder) attach(e Engine) {
	e.RegisterToolExecutionCallback(func(ctx context.Context, ev ToolExecutionEvent) {
		r.mu.Lock()
		r.tools = append(r.tools, ev)
		r.mu.Unlock()
	})
	e.RegisterAskUserCallback(func(ctx context.Context, ev AskUserEvent) {
		r.mu.Lock()
		r.asks = append(r.asks, ev)
		r.mu.Unlock()
	})
	e.RegisterHumanReviewCallback(func(ctx context.Context, ev HumanReviewEvent) {
		r.mu.Lock()
		r.reviews = append(r.reviews, ev)
		r.mu.Unlock()
	})
}

type plannerFixture struct {
	planner  *Planner
	provider *scriptedProvider
	history  *history.Store
	events   *recorder
	staked   int
}

func newPlannerFixture(t *testing.T, responses ...*LLMResponse) *plannerFixture {
	t.Helper()
	fx := &plannerFixture{
		provider: &scriptedProvider{responses: responses},
		events:   &recorder{},
	}

	tools := toolexecutor.New(zerolog.Nop())
	require.NoError(t, tools.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "stake",
		Description: "Stake tokens",
		ReviewType:  "stake",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "amount", Type: "number", Description: "Amount", Required: true},
			{Name: "token", Type: "string", Description: "Token symbol", Required: true},
			{Name: "network", Type: "string", Description: "Network"},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			fx.staked++
			caller, _ := toolexecutor.CallerFrom(ctx)
			return &toolexecutor.RemoteResult{
				Message: "Staked from " + caller.Addresses["bnb"],
				Transaction: &toolexecutor.Transaction{
					Amount: "1.5", TokenSymbol: "BNB", Network: "bnb", Provider: "lista", TxHash: "0xfeed",
				},
			}, nil
		},
	}))
	require.NoError(t, tools.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "balance",
		Description: "Native balance",
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return "2 BNB", nil
		},
	}))

	hist, err := history.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	pool := newTestPool(t, []AuthProfile{{ID: "p1", Provider: "openai"}}, staticFactory{"p1": fx.provider})
	factory, err := NewPlannerFactory(PlannerConfig{
		Model:         "test-model",
		MaxIterations: 4,
		Networks:      []string{"bnb", "solana"},
	}, tools, hist, pool, zerolog.Nop())
	require.NoError(t, err)

	engine, err := factory.NewEngine(context.Background(), 42, fakeWallet{"bnb": "0xabc"})
	require.NoError(t, err)
	fx.events.attach(engine)
	fx.planner = engine.(*Planner)
	fx.history = hist
	return fx
}

func toolCall(id, name string, params map[string]any) *LLMResponse {
	return &LLMResponse{ToolCalls: []ToolCall{{ID: id, Name: name, Parameters: params}}}
}

func TestPlanner_PlainReply(t *testing.T) {
	fx := newPlannerFixture(t, &LLMResponse{Content: "<b>gm</b>"})
	ctx := context.Background()

	out, err := fx.planner.Execute(ctx, ExecuteRequest{Input: "hello", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "<b>gm</b>", out)

	req := fx.provider.lastRequest()
	assert.Contains(t, req.SystemPrompt, "Wallet BNB: 0xabc")
	assert.Contains(t, req.SystemPrompt, "Wallet SOLANA: Not available")
	assert.Len(t, req.Tools, 3, "registered tools plus ask_user")

	msgs, err := fx.history.Load(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestPlanner_HistoryCarriesAcrossTurns(t *testing.T) {
	fx := newPlannerFixture(t, &LLMResponse{Content: "first"}, &LLMResponse{Content: "second"})
	ctx := context.Background()

	_, err := fx.planner.Execute(ctx, ExecuteRequest{Input: "one", ThreadID: "t1"})
	require.NoError(t, err)
	_, err = fx.planner.Execute(ctx, ExecuteRequest{Input: "two", ThreadID: "t1"})
	require.NoError(t, err)

	req := fx.provider.lastRequest()
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "one", req.Messages[0].Content)
	assert.Equal(t, "first", req.Messages[1].Content)
	assert.Equal(t, "two", req.Messages[2].Content)
}

func TestPlanner_AskUser(t *testing.T) {
	fx := newPlannerFixture(t, toolCall("c1", AskUserTool, map[string]any{"question": "Which network?"}))

	out, err := fx.planner.Execute(context.Background(), ExecuteRequest{Input: "stake 1", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, out)
	require.Len(t, fx.events.asks, 1)
	assert.Equal(t, "Which network?", fx.events.asks[0].Question)
}

func TestPlanner_ReadOnlyToolReportsProgress(t *testing.T) {
	fx := newPlannerFixture(t,
		toolCall("c1", "balance", nil),
		&LLMResponse{Content: "You have 2 BNB"},
	)

	out, err := fx.planner.Execute(context.Background(), ExecuteRequest{Input: "balance?", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "You have 2 BNB", out)

	require.Len(t, fx.events.tools, 1)
	assert.Equal(t, KindProgress, fx.events.tools[0].Kind)

	last := fx.provider.lastRequest().Messages
	assert.Equal(t, "tool", last[len(last)-1].Role)
	assert.Equal(t, "2 BNB", last[len(last)-1].Content)
}

func TestPlanner_ReviewApprove(t *testing.T) {
	fx := newPlannerFixture(t,
		toolCall("c1", "stake", map[string]any{"amount": 1.5, "token": "BNB", "network": "bnb"}),
		&LLMResponse{Content: "All set"},
	)
	ctx := context.Background()

	out, err := fx.planner.Execute(ctx, ExecuteRequest{Input: "stake 1.5 BNB", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, fx.staked, "nothing runs before approval")

	require.Len(t, fx.events.reviews, 1)
	review := fx.events.reviews[0].Review
	assert.Equal(t, "stake", review.Type)
	assert.Equal(t, "1.5", review.Amount)
	assert.Equal(t, "BNB", review.Token)
	assert.Equal(t, "bnb", review.Network)

	out, err = fx.planner.Execute(ctx, ExecuteRequest{Action: ActionApprove, ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "All set", out)
	assert.Equal(t, 1, fx.staked)

	require.Len(t, fx.events.tools, 2)
	assert.Equal(t, KindProgress, fx.events.tools[0].Kind)
	executed := fx.events.tools[1]
	assert.Equal(t, KindToolExecution, executed.Kind)
	assert.Equal(t, "Staked from 0xabc", executed.Message)
	require.NotNil(t, executed.Transaction)
	assert.Equal(t, "0xfeed", executed.Transaction.TxHash)

	// the review cannot be approved twice
	out, err = fx.planner.Execute(ctx, ExecuteRequest{Action: ActionApprove, ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, ReviewExpiredText, out)
	assert.Equal(t, 1, fx.staked)
}

func TestPlanner_ReviewReject(t *testing.T) {
	fx := newPlannerFixture(t,
		toolCall("c1", "stake", map[string]any{"amount": 1, "token": "BNB"}),
		&LLMResponse{Content: "Cancelled"},
	)
	ctx := context.Background()

	_, err := fx.planner.Execute(ctx, ExecuteRequest{Input: "stake", ThreadID: "t1"})
	require.NoError(t, err)

	out, err := fx.planner.Execute(ctx, ExecuteRequest{Action: ActionReject, ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "Cancelled", out)
	assert.Zero(t, fx.staked)

	msgs := fx.provider.lastRequest().Messages
	assert.Contains(t, msgs[len(msgs)-1].Content, "rejected")
}

func TestPlanner_ReviewExpires(t *testing.T) {
	fx := newPlannerFixture(t, toolCall("c1", "stake", map[string]any{"amount": 1, "token": "BNB"}))
	now := time.Now()
	fx.planner.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := fx.planner.Execute(ctx, ExecuteRequest{Input: "stake", ThreadID: "t1"})
	require.NoError(t, err)

	now = now.Add(61 * time.Second)
	out, err := fx.planner.Execute(ctx, ExecuteRequest{Action: ActionApprove, ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, ReviewExpiredText, out)
	assert.Zero(t, fx.staked)
}

func TestPlanner_NewInputDropsPendingReview(t *testing.T) {
	fx := newPlannerFixture(t,
		toolCall("c1", "stake", map[string]any{"amount": 1, "token": "BNB"}),
		&LLMResponse{Content: "ok"},
	)
	ctx := context.Background()

	_, err := fx.planner.Execute(ctx, ExecuteRequest{Input: "stake", ThreadID: "t1"})
	require.NoError(t, err)
	_, err = fx.planner.Execute(ctx, ExecuteRequest{Input: "never mind", ThreadID: "t1"})
	require.NoError(t, err)

	out, err := fx.planner.Execute(ctx, ExecuteRequest{Action: ActionApprove, ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, ReviewExpiredText, out)
}

func TestPlanner_TypedDecisionResolvesReview(t *testing.T) {
	t.Run("yes approves", func(t *testing.T) {
		fx := newPlannerFixture(t,
			toolCall("c1", "stake", map[string]any{"amount": 1, "token": "BNB"}),
			&LLMResponse{Content: "Staked"},
		)
		ctx := context.Background()

		_, err := fx.planner.Execute(ctx, ExecuteRequest{Input: "stake", ThreadID: "t1"})
		require.NoError(t, err)

		out, err := fx.planner.Execute(ctx, ExecuteRequest{Input: " Yes! ", ThreadID: "t1"})
		require.NoError(t, err)
		assert.Equal(t, "Staked", out)
		assert.Equal(t, 1, fx.staked)
	})

	t.Run("no rejects", func(t *testing.T) {
		fx := newPlannerFixture(t,
			toolCall("c1", "stake", map[string]any{"amount": 1, "token": "BNB"}),
			&LLMResponse{Content: "Cancelled"},
		)
		ctx := context.Background()

		_, err := fx.planner.Execute(ctx, ExecuteRequest{Input: "stake", ThreadID: "t1"})
		require.NoError(t, err)

		out, err := fx.planner.Execute(ctx, ExecuteRequest{Input: "no", ThreadID: "t1"})
		require.NoError(t, err)
		assert.Equal(t, "Cancelled", out)
		assert.Zero(t, fx.staked)
	})

	t.Run("yes without a review is a normal turn", func(t *testing.T) {
		fx := newPlannerFixture(t, &LLMResponse{Content: "Yes to what?"})

		out, err := fx.planner.Execute(context.Background(), ExecuteRequest{Input: "yes", ThreadID: "t1"})
		require.NoError(t, err)
		assert.Equal(t, "Yes to what?", out)
	})

	t.Run("yes after expiry", func(t *testing.T) {
		fx := newPlannerFixture(t, toolCall("c1", "stake", map[string]any{"amount": 1, "token": "BNB"}))
		now := time.Now()
		fx.planner.now = func() time.Time { return now }
		ctx := context.Background()

		_, err := fx.planner.Execute(ctx, ExecuteRequest{Input: "stake", ThreadID: "t1"})
		require.NoError(t, err)

		now = now.Add(61 * time.Second)
		out, err := fx.planner.Execute(ctx, ExecuteRequest{Input: "yes", ThreadID: "t1"})
		require.NoError(t, err)
		assert.Equal(t, ReviewExpiredText, out)
		assert.Zero(t, fx.staked)
	})
}

func TestPlanner_InvalidReviewParamsGoBackToModel(t *testing.T) {
	fx := newPlannerFixture(t,
		toolCall("c1", "stake", map[string]any{}),
		&LLMResponse{Content: "How much?"},
	)

	out, err := fx.planner.Execute(context.Background(), ExecuteRequest{Input: "stake", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "How much?", out)
	assert.Empty(t, fx.events.reviews)
}

func TestPlanner_Errors(t *testing.T) {
	fx := newPlannerFixture(t)
	fx.provider.fallback = toolCall("c", "balance", nil)

	_, err := fx.planner.Execute(context.Background(), ExecuteRequest{ThreadID: "t1"})
	assert.ErrorIs(t, err, ErrEmptyRequest)

	_, err = fx.planner.Execute(context.Background(), ExecuteRequest{Action: "maybe", ThreadID: "t1"})
	assert.Error(t, err)

	_, err = fx.planner.Execute(context.Background(), ExecuteRequest{Input: "loop", ThreadID: "t1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum tool iterations")
}

func TestBuildSystemPrompt(t *testing.T) {
	out := BuildSystemPrompt("", []string{"ethereum", "base"}, fakeWallet{"base": "0xbase"})
	assert.Contains(t, out, DefaultSystemPrompt)
	assert.Contains(t, out, "Wallet ETHEREUM: Not available\n")
	assert.Contains(t, out, "Wallet BASE: 0xbase\n")
}

func TestCompactKeepsUserFirst(t *testing.T) {
	big := make([]byte, maxContextTokens*4)
	for i := range big {
		big[i] = 'x'
	}
	msgs := []AgentMessage{
		{Role: "user", Content: string(big)},
		{Role: "assistant", Content: "a"},
		{Role: "user", Content: "latest"},
	}
	out := compact(msgs)
	require.Len(t, out, 1)
	assert.Equal(t, "latest", out[0].Content)
}
