package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	referralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralLength   = 8
)

const userColumns = `id, telegram_id, username, name, COALESCE(mnemonic, ''), referral_code, referred_by, current_thread_id, created_at`

// GetMnemonicByTelegramID implements UserStore.
func (s *DB) GetMnemonicByTelegramID(ctx context.Context, telegramID int64) (string, error) {
	var mnemonic sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT mnemonic FROM users WHERE telegram_id = ?`, telegramID).Scan(&mnemonic)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query mnemonic: %w", err)
	}
	if !mnemonic.Valid || mnemonic.String == "" {
		return "", ErrNotFound
	}
	return mnemonic.String, nil
}

// GetUser implements UserStore.
func (s *DB) GetUser(ctx context.Context, telegramID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// GetOrCreateUser implements UserStore.
func (s *DB) GetOrCreateUser(ctx context.Context, p UserParams) (*User, bool, error) {
	u, err := s.GetUser(ctx, p.TelegramID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	code, err := gonanoid.Generate(referralAlphabet, referralLength)
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate referral code: %w", err)
	}
	u = &User{
		TelegramID:      p.TelegramID,
		Username:        p.Username,
		Name:            p.Name,
		ReferralCode:    code,
		ReferredBy:      p.ReferredBy,
		CurrentThreadID: uuid.NewString(),
		CreatedAt:       s.now().UTC().Truncate(time.Second),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (telegram_id, username, name, referral_code, referred_by, current_thread_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.TelegramID, u.Username, u.Name, u.ReferralCode, u.ReferredBy, u.CurrentThreadID, u.CreatedAt.Unix())
	if err != nil {
		// lost a race with a concurrent /start
		if existing, getErr := s.GetUser(ctx, p.TelegramID); getErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to insert user: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		u.ID = id
	}

	s.logger.Info().Int64("telegram_id", u.TelegramID).Str("referred_by", u.ReferredBy).Msg("User created")
	return u, true, nil
}

// SetMnemonic implements UserStore.
func (s *DB) SetMnemonic(ctx context.Context, telegramID int64, mnemonic string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET mnemonic = ? WHERE telegram_id = ?`, mnemonic, telegramID)
	if err != nil {
		return fmt.Errorf("failed to store mnemonic: %w", err)
	}
	return requireRow(res)
}

// RotateThread implements UserStore.
func (s *DB) RotateThread(ctx context.Context, telegramID int64) (string, error) {
	thread := uuid.NewString()
	res, err := s.db.ExecContext(ctx, `UPDATE users SET current_thread_id = ? WHERE telegram_id = ?`, thread, telegramID)
	if err != nil {
		return "", fmt.Errorf("failed to rotate thread: %w", err)
	}
	if err := requireRow(res); err != nil {
		return "", err
	}
	return thread, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var (
		u       User
		created int64
	)
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.Name, &u.Mnemonic, &u.ReferralCode,
		&u.ReferredBy, &u.CurrentThreadID, &created); err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
