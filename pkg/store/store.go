// Package store persists chat users and the reward claims recorded for them.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a user or claim does not exist.
var ErrNotFound = errors.New("store: not found")

// User is a chat user known to the bot.
type User struct {
	ID              int64
	TelegramID      int64
	Username        string
	Name            string
	Mnemonic        string
	ReferralCode    string
	ReferredBy      string
	CurrentThreadID string
	CreatedAt       time.Time
}

// HasWallet reports whether the user has a seed phrase on file.
func (u *User) HasWallet() bool {
	return u != nil && u.Mnemonic != ""
}

// UserParams identifies the user on first contact.
type UserParams struct {
	TelegramID int64
	Username   string
	Name       string
	ReferredBy string
}

// Claim is a reward claim recorded after a successful on-chain action. It
// becomes claimable at EligibleAt.
type Claim struct {
	ID          int64
	TelegramID  int64
	Amount      string
	TokenSymbol string
	Network     string
	Provider    string
	TxHash      string
	EligibleAt  time.Time
	NotifiedAt  time.Time // zero until the user was told
	CreatedAt   time.Time

	NotifyAttempts int       // failed notification sends so far
	NextAttemptAt  time.Time // zero until a send failed
}

// MaxNotifyAttempts is how many failed sends a claim gets before DueClaims
// stops returning it.
const MaxNotifyAttempts = 5

// UserStore reads and writes users.
type UserStore interface {
	// GetMnemonicByTelegramID returns ErrNotFound when the user is unknown or
	// has no seed phrase.
	GetMnemonicByTelegramID(ctx context.Context, telegramID int64) (string, error)
	// GetOrCreateUser returns the existing user or creates one with a fresh
	// thread id and referral code. created reports which happened.
	GetOrCreateUser(ctx context.Context, p UserParams) (u *User, created bool, err error)
	GetUser(ctx context.Context, telegramID int64) (*User, error)
	SetMnemonic(ctx context.Context, telegramID int64, mnemonic string) error
	// RotateThread assigns a new conversation thread id.
	RotateThread(ctx context.Context, telegramID int64) (string, error)
}

// ClaimStore reads and writes reward claims.
type ClaimStore interface {
	SaveClaimTransaction(ctx context.Context, c Claim) (int64, error)
	// DueClaims lists claims eligible at or before now that have not been
	// notified, are not backing off after a failed send and have attempts
	// left. Never-attempted claims come first, then oldest first.
	DueClaims(ctx context.Context, now time.Time, limit int) ([]Claim, error)
	MarkNotified(ctx context.Context, id int64, at time.Time) error
	// RecordNotifyFailure counts a failed send and defers the claim until
	// retryAt.
	RecordNotifyFailure(ctx context.Context, id int64, retryAt time.Time) error
}
