package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRunEvery(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("without anchor", func(t *testing.T) {
		next, err := NextRun(Every(time.Minute), now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(time.Minute), next)
	})

	t.Run("aligned to anchor", func(t *testing.T) {
		s := Schedule{Kind: ScheduleKindEvery, Every: 10 * time.Minute, Anchor: now.Add(-25 * time.Minute)}
		next, err := NextRun(s, now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(5*time.Minute), next)
	})

	t.Run("future anchor", func(t *testing.T) {
		anchor := now.Add(time.Hour)
		s := Schedule{Kind: ScheduleKindEvery, Every: time.Minute, Anchor: anchor}
		next, err := NextRun(s, now)
		require.NoError(t, err)
		assert.Equal(t, anchor, next)
	})

	t.Run("non-positive interval", func(t *testing.T) {
		_, err := NextRun(Every(0), now)
		assert.ErrorContains(t, err, "positive interval")
	})
}

func TestNextRunCron(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)

	t.Run("expression", func(t *testing.T) {
		next, err := NextRun(Schedule{Kind: ScheduleKindCron, Expr: "0 * * * *"}, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC), next)
	})

	t.Run("descriptor", func(t *testing.T) {
		next, err := NextRun(Schedule{Kind: ScheduleKindCron, Expr: "@daily"}, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), next)
	})

	t.Run("timezone", func(t *testing.T) {
		next, err := NextRun(Schedule{Kind: ScheduleKindCron, Expr: "0 9 * * *", TZ: "Asia/Jakarta"}, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 1, 2, 2, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := NextRun(Schedule{Kind: ScheduleKindCron, Expr: "not a cron"}, now)
		assert.ErrorContains(t, err, "invalid cron expression")

		_, err = NextRun(Schedule{Kind: ScheduleKindCron}, now)
		assert.ErrorContains(t, err, "requires an expression")

		_, err = NextRun(Schedule{Kind: ScheduleKindCron, Expr: "@daily", TZ: "Mars/Olympus"}, now)
		assert.ErrorContains(t, err, "invalid timezone")
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := NextRun(Schedule{Kind: "at"}, now)
		assert.ErrorContains(t, err, "unknown schedule kind")
	})
}

func TestSpec(t *testing.T) {
	assert.Equal(t, Every(10*time.Minute), Spec("@every 10m"))
	assert.Equal(t, Schedule{Kind: ScheduleKindCron, Expr: "@daily"}, Spec("@daily"))
	assert.Equal(t, Schedule{Kind: ScheduleKindCron, Expr: "*/5 * * * *"}, Spec("*/5 * * * *"))
}
