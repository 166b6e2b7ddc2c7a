package store

import (
	"context"
	"fmt"
	"time"
)

// SaveClaimTransaction implements ClaimStore.
func (s *DB) SaveClaimTransaction(ctx context.Context, c Claim) (int64, error) {
	if c.TxHash == "" {
		return 0, fmt.Errorf("claim requires a transaction hash")
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO claims (telegram_id, amount, token_symbol, network, provider, tx_hash, eligible_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TelegramID, c.Amount, c.TokenSymbol, c.Network, c.Provider, c.TxHash, c.EligibleAt.Unix(), created.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert claim: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read claim id: %w", err)
	}
	return id, nil
}

// DueClaims implements ClaimStore.
func (s *DB) DueClaims(ctx context.Context, now time.Time, limit int) ([]Claim, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, telegram_id, amount, token_symbol, network, provider, tx_hash, eligible_at, notified_at, created_at,
		        notify_attempts, next_attempt_at
		 FROM claims
		 WHERE notified_at = 0 AND eligible_at <= ? AND next_attempt_at <= ? AND notify_attempts < ?
		 ORDER BY notify_attempts, eligible_at, id LIMIT ?`,
		now.Unix(), now.Unix(), MaxNotifyAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due claims: %w", err)
	}
	defer rows.Close()

	var claims []Claim
	for rows.Next() {
		var (
			c                                  Claim
			eligible, notified, created, retry int64
		)
		if err := rows.Scan(&c.ID, &c.TelegramID, &c.Amount, &c.TokenSymbol, &c.Network, &c.Provider,
			&c.TxHash, &eligible, &notified, &created, &c.NotifyAttempts, &retry); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		c.EligibleAt = time.Unix(eligible, 0).UTC()
		if notified > 0 {
			c.NotifiedAt = time.Unix(notified, 0).UTC()
		}
		c.CreatedAt = time.Unix(created, 0).UTC()
		if retry > 0 {
			c.NextAttemptAt = time.Unix(retry, 0).UTC()
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// MarkNotified implements ClaimStore.
func (s *DB) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE claims SET notified_at = ? WHERE id = ?`, at.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark claim %d notified: %w", id, err)
	}
	return requireRow(res)
}

// RecordNotifyFailure implements ClaimStore.
func (s *DB) RecordNotifyFailure(ctx context.Context, id int64, retryAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE claims SET notify_attempts = notify_attempts + 1, next_attempt_at = ? WHERE id = ? AND notified_at = 0`,
		retryAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to record notify failure for claim %d: %w", id, err)
	}
	return requireRow(res)
}
