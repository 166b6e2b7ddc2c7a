package agent

import (
	"context"
	"errors"
)

var (
	// ErrNoPendingReview is returned when a review action arrives for a
	// thread with nothing parked, or after the review window closed.
	ErrNoPendingReview = errors.New("no pending review")
	ErrEmptyRequest    = errors.New("execute request needs input or action")
)

// ReviewExpiredText is the reply for a review action with nothing to resume.
const ReviewExpiredText = "This review has expired. Please start again."

// ReviewAction is the user's answer to a human review.
type ReviewAction string

const (
	ActionApprove ReviewAction = "approve"
	ActionReject  ReviewAction = "reject"
)

// ExecuteRequest carries either free text or a review action.
type ExecuteRequest struct {
	Input    string
	Action   ReviewAction
	ThreadID string
}

// EventKind distinguishes tool events.
type EventKind string

const (
	// KindToolExecution reports an executed action; the orchestrator treats
	// it as the final word for the invocation.
	KindToolExecution EventKind = "tool_execution"
	KindProgress      EventKind = "progress"
)

// TransactionData is the on-chain outcome of an executed action.
type TransactionData struct {
	Amount      string
	TokenSymbol string
	Network     string
	Provider    string
	TxHash      string
}

type ToolExecutionEvent struct {
	Kind        EventKind
	ToolName    string
	Message     string
	Transaction *TransactionData
}

type AskUserEvent struct {
	Question string
}

// ReviewData holds the values shown to the user before a sensitive action.
// Swap uses the From/To fields, the rest use Amount and Token.
type ReviewData struct {
	Type       string
	Amount     string
	Token      string
	FromAmount string
	FromToken  string
	ToAmount   string
	ToToken    string
	Network    string
}

type HumanReviewEvent struct {
	ToolName string
	Review   ReviewData
}

type (
	ToolExecutionCallback func(ctx context.Context, ev ToolExecutionEvent)
	AskUserCallback       func(ctx context.Context, ev AskUserEvent)
	HumanReviewCallback   func(ctx context.Context, ev HumanReviewEvent)
)

// Engine is a per-user planning agent.
type Engine interface {
	// Execute runs one turn. An empty result means the turn ended on a
	// callback (question, review request, executed action).
	Execute(ctx context.Context, req ExecuteRequest) (string, error)
	RegisterToolExecutionCallback(cb ToolExecutionCallback)
	RegisterAskUserCallback(cb AskUserCallback)
	RegisterHumanReviewCallback(cb HumanReviewCallback)
}

// Wallet resolves the user's address on a network.
type Wallet interface {
	Address(network string) (string, bool)
}

// Factory builds one engine per user.
type Factory interface {
	NewEngine(ctx context.Context, userID int64, wallet Wallet) (Engine, error)
}
