package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/chainpilot/internal/observability"
	"github.com/harun/chainpilot/pkg/agent"
	"github.com/harun/chainpilot/pkg/store"
	"github.com/rs/zerolog"
)

// DefaultMaturation is 777600 seconds.
const DefaultMaturation = 9 * 24 * time.Hour

// Recorder persists claims. It satisfies callbacks.ClaimRecorder.
type Recorder struct {
	store      store.ClaimStore
	publisher  Publisher
	maturation time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// RecorderOption tweaks a Recorder.
type RecorderOption func(*Recorder)

// WithPublisher announces every saved claim.
func WithPublisher(p Publisher) RecorderOption {
	return func(r *Recorder) { r.publisher = p }
}

// WithMaturation overrides DefaultMaturation.
func WithMaturation(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.maturation = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder backed by s.
func NewRecorder(s store.ClaimStore, logger zerolog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:      s,
		maturation: DefaultMaturation,
		now:        time.Now,
		logger:     logger.With().Str("component", "claims").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record saves a claim for tx with EligibleAt = now + maturation, truncated
// to whole seconds.
func (r *Recorder) Record(ctx context.Context, userID int64, tx agent.TransactionData) error {
	if tx.TxHash == "" {
		return fmt.Errorf("claim for user %d has no transaction hash", userID)
	}

	now := r.now().UTC().Truncate(time.Second)
	c := store.Claim{
		TelegramID:  userID,
		Amount:      tx.Amount,
		TokenSymbol: tx.TokenSymbol,
		Network:     tx.Network,
		Provider:    tx.Provider,
		TxHash:      tx.TxHash,
		EligibleAt:  now.Add(r.maturation),
		CreatedAt:   now,
	}

	id, err := r.store.SaveClaimTransaction(ctx, c)
	observability.RecordClaim(tx.Network, err == nil)
	if err != nil {
		observability.RecordClaimAudit(ctx, userID, "failure", map[string]any{
			"network": tx.Network,
			"tx_hash": tx.TxHash,
			"error":   err.Error(),
		})
		return fmt.Errorf("save claim: %w", err)
	}
	c.ID = id

	observability.RecordClaimAudit(ctx, userID, "success", map[string]any{
		"claim_id":    id,
		"network":     tx.Network,
		"provider":    tx.Provider,
		"tx_hash":     tx.TxHash,
		"eligible_at": c.EligibleAt.Unix(),
	})
	r.logger.Info().
		Int64("user_id", userID).
		Int64("claim_id", id).
		Str("network", tx.Network).
		Time("eligible_at", c.EligibleAt).
		Msg("Claim recorded")

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, EventFromClaim(c)); err != nil {
			r.logger.Warn().Err(err).Int64("claim_id", id).Msg("Failed to publish claim event")
		}
	}
	return nil
}
