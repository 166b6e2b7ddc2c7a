package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/chainpilot/pkg/history"
	"github.com/harun/chainpilot/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// PlannerFactory builds a Planner per user over shared tools, history and
// provider pool.
type PlannerFactory struct {
	cfg     PlannerConfig
	tools   *toolexecutor.ToolExecutor
	history *history.Store
	pool    *ProfilePool
	logger  zerolog.Logger
	now     func() time.Time
}

// NewPlannerFactory validates cfg and fills defaults.
func NewPlannerFactory(cfg PlannerConfig, tools *toolexecutor.ToolExecutor, hist *history.Store, pool *ProfilePool, logger zerolog.Logger) (*PlannerFactory, error) {
	switch {
	case tools == nil:
		return nil, fmt.Errorf("tool executor is required")
	case hist == nil:
		return nil, fmt.Errorf("history store is required")
	case pool == nil:
		return nil, fmt.Errorf("profile pool is required")
	case cfg.Model == "":
		return nil, fmt.Errorf("model cannot be empty")
	case cfg.Temperature < 0 || cfg.Temperature > 1:
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	if cfg.ReviewTimeout <= 0 {
		cfg.ReviewTimeout = 60 * time.Second
	}

	return &PlannerFactory{
		cfg:     cfg,
		tools:   tools,
		history: hist,
		pool:    pool,
		logger:  logger.With().Str("component", "agent").Logger(),
		now:     time.Now,
	}, nil
}

// NewEngine returns a planner whose system prompt carries the user's
// addresses.
func (f *PlannerFactory) NewEngine(ctx context.Context, userID int64, w Wallet) (Engine, error) {
	addrs := make(map[string]string, len(f.cfg.Networks))
	for _, n := range f.cfg.Networks {
		if a, ok := w.Address(n); ok {
			addrs[n] = a
		}
	}

	return &Planner{
		cfg:     f.cfg,
		userID:  userID,
		system:  BuildSystemPrompt(f.cfg.SystemPrompt, f.cfg.Networks, w),
		caller:  toolexecutor.Caller{UserID: userID, Addresses: addrs},
		tools:   f.tools,
		history: f.history,
		pool:    f.pool,
		logger:  f.logger.With().Int64("user_id", userID).Logger(),
		now:     f.now,
		pending: make(map[string]*pendingReview),
	}, nil
}
