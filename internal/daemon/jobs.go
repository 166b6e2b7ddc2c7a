package daemon

import (
	"context"
	"time"

	"github.com/harun/chainpilot/pkg/cron"
	"github.com/rs/zerolog"
)

// Job names as reported by the admin /jobs endpoint.
const (
	JobClaimNotify  = "claims.notify"
	JobHistoryPrune  = "history.prune"
)

// Runner is a job body.
type Runner interface {
	Run(ctx context.Context) error
}

// Pruner removes conversation threads older than maxAge.
type Pruner interface {
	Prune(maxAge time.Duration, now time.Time) (int, error)
}

// JobsConfig selects the background jobs. An empty schedule disables a job.
type JobsConfig struct {
	NotifySchedule   string
	Notifier         Runner
	PruneSchedule    string
	HistoryRetention time.Duration
	History          Pruner
}

// RegisterJobs adds the configured jobs to svc.
func RegisterJobs(svc *cron.Service, cfg JobsConfig, logger zerolog.Logger) error {
	if cfg.NotifySchedule != "" && cfg.Notifier != nil {
		if _, err := svc.Add(JobClaimNotify, cron.Spec(cfg.NotifySchedule), cfg.Notifier.Run); err != nil {
			return err
		}
		logger.Info().Str("schedule", cfg.NotifySchedule).Msg("Claim notifier scheduled")
	}

	if cfg.PruneSchedule != "" && cfg.History != nil && cfg.HistoryRetention > 0 {
		prune := func(ctx context.Context) error {
			n, err := cfg.History.Prune(cfg.HistoryRetention, time.Now())
			if n > 0 {
				logger.Info().Int("threads", n).Msg("Pruned conversation history")
			}
			return err
		}
		if _, err := svc.Add(JobHistoryPrune, cron.Spec(cfg.PruneSchedule), prune); err != nil {
			return err
		}
		logger.Info().Str("schedule", cfg.PruneSchedule).Dur("retention", cfg.HistoryRetention).Msg("History prune scheduled")
	}
	return nil
}
