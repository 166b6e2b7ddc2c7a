package daemon

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/harun/chainpilot/pkg/cron"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

type fakePruner struct {
	maxAge time.Duration
}

func (p *fakePruner) Prune(maxAge time.Duration, now time.Time) (int, error) {
	p.maxAge = maxAge
	return 2, nil
}

func jobNames(svc *cron.Service) []string {
	var names []string
	for _, j := range svc.Jobs() {
		names = append(names, j.Name)
	}
	sort.Strings(names)
	return names
}

func TestRegisterJobs(t *testing.T) {
	t.Run("both jobs", func(t *testing.T) {
		svc := cron.NewService(cron.Options{Logger: zerolog.Nop()})
		t.Cleanup(svc.Stop)

		err := RegisterJobs(svc, JobsConfig{
			NotifySchedule:   "@every 10m",
			Notifier:         runnerFunc(func(ctx context.Context) error { return nil }),
			PruneSchedule:    "@daily",
			HistoryRetention: time.Hour,
			History:          &fakePruner{},
		}, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, []string{JobClaimNotify, JobHistoryPrune}, jobNames(svc))
	})

	t.Run("empty schedules disable", func(t *testing.T) {
		svc := cron.NewService(cron.Options{Logger: zerolog.Nop()})
		t.Cleanup(svc.Stop)

		err := RegisterJobs(svc, JobsConfig{
			Notifier:         runnerFunc(func(ctx context.Context) error { return nil }),
			PruneSchedule:    "@daily",
			HistoryRetention: 0,
			History:          &fakePruner{},
		}, zerolog.Nop())
		require.NoError(t, err)
		assert.Empty(t, svc.Jobs())
	})

	t.Run("bad schedule", func(t *testing.T) {
		svc := cron.NewService(cron.Options{Logger: zerolog.Nop()})
		t.Cleanup(svc.Stop)

		err := RegisterJobs(svc, JobsConfig{
			NotifySchedule: "not a schedule",
			Notifier:       runnerFunc(func(ctx context.Context) error { return nil }),
		}, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("prune runs with retention", func(t *testing.T) {
		svc := cron.NewService(cron.Options{Logger: zerolog.Nop()})
		t.Cleanup(svc.Stop)
		p := &fakePruner{}

		require.NoError(t, RegisterJobs(svc, JobsConfig{
			PruneSchedule:    "@daily",
			HistoryRetention: 48 * time.Hour,
			History:          p,
		}, zerolog.Nop()))

		jobs := svc.Jobs()
		require.Len(t, jobs, 1)
		require.NoError(t, svc.RunNow(jobs[0].ID))
		assert.Equal(t, 48*time.Hour, p.maxAge)
	})
}
