package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/chainpilot/internal/observability"
	"github.com/harun/chainpilot/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ProfilePool fails over between auth profiles. It is shared by every
// user's planner so cooldowns apply process-wide.
type ProfilePool struct {
	mu         sync.RWMutex
	profiles   []AuthProfile
	factory    ProviderCreator
	providers  map[string]LLMProvider
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	logger     zerolog.Logger
}

// NewProfilePool creates a pool. factory may be nil.
func NewProfilePool(profiles []AuthProfile, factory ProviderCreator, logger zerolog.Logger) (*ProfilePool, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}
	if factory == nil {
		factory = &ProviderFactory{}
	}
	ps := make([]AuthProfile, len(profiles))
	copy(ps, profiles)
	sortProfilesByPriority(ps)

	return &ProfilePool{
		profiles:   ps,
		factory:    factory,
		providers:  make(map[string]LLMProvider),
		maxRetries: 3,
		sleep:      sleepContext,
		now:        time.Now,
		logger:     logger.With().Str("component", "agent.pool").Logger(),
	}, nil
}

// Call sends the request to the first healthy profile, retrying transient
// errors with exponential backoff and moving on to the next profile when
// one keeps failing.
func (p *ProfilePool) Call(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	p.mu.RLock()
	profiles := make([]AuthProfile, len(p.profiles))
	copy(profiles, p.profiles)
	p.mu.RUnlock()
	logger := tracing.LoggerFromContext(ctx, p.logger)

	var lastErr error
	for _, profile := range profiles {
		if profile.CooldownUntil != nil && p.now().UnixMilli() < *profile.CooldownUntil {
			observability.SetProviderCooldown(profile.Provider, true)
			logger.Debug().Str("profileId", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := p.provider(profile)
		if err != nil {
			logger.Warn().Str("profileId", profile.ID).Err(err).Msg("Failed to create provider")
			lastErr = err
			continue
		}

		start := time.Now()
		resp, err := p.callWithRetry(ctx, provider, req)
		if err == nil {
			p.markSuccess(profile.ID)
			observability.RecordAgentRun(profile.Provider, time.Since(start), true)
			return resp, nil
		}

		lastErr = err
		observability.RecordAgentRun(profile.Provider, time.Since(start), false)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn().Str("profileId", profile.ID).Err(err).Msg("Auth profile failed")
		p.markFailure(profile.ID)

		if !IsRetryableError(err) {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("every profile is cooling down")
	}
	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

func (p *ProfilePool) provider(profile AuthProfile) (LLMProvider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prov, ok := p.providers[profile.ID]; ok {
		return prov, nil
	}
	prov, err := p.factory.NewProvider(profile)
	if err != nil {
		return nil, err
	}
	p.providers[profile.ID] = prov
	return prov, nil
}

func (p *ProfilePool) callWithRetry(ctx context.Context, provider LLMProvider, req LLMRequest) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.llm_call",
		attribute.String("provider", provider.Provider()),
		attribute.String("model", req.Model))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		resp, err := provider.Call(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryableError(err) || attempt == p.maxRetries-1 {
			break
		}

		delay := backoff(attempt)
		p.logger.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("Retrying after error")
		if err := p.sleep(ctx, delay); err != nil {
			tracing.Fail(span, err)
			return nil, err
		}
	}
	tracing.Fail(span, lastErr)
	return nil, lastErr
}

func (p *ProfilePool) markSuccess(profileID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.profiles {
		if p.profiles[i].ID == profileID {
			p.profiles[i].FailureCount = 0
			p.profiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(p.profiles[i].Provider, false)
			return
		}
	}
}

// markFailure puts the profile in a cooldown that grows a minute per
// consecutive failure.
func (p *ProfilePool) markFailure(profileID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.profiles {
		if p.profiles[i].ID == profileID {
			p.profiles[i].FailureCount++
			until := p.now().UnixMilli() + int64(60000*p.profiles[i].FailureCount)
			p.profiles[i].CooldownUntil = &until
			observability.SetProviderCooldown(p.profiles[i].Provider, true)
			return
		}
	}
}

// sortProfilesByPriority sorts profiles by priority (lower = higher priority)
func sortProfilesByPriority(profiles []AuthProfile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
