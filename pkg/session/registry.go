package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/harun/chainpilot/internal/observability"
	"github.com/harun/chainpilot/internal/tracing"
	"github.com/harun/chainpilot/pkg/agent"
	"github.com/harun/chainpilot/pkg/callbacks"
	"github.com/harun/chainpilot/pkg/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// ErrNoWallet means the user has not run /start yet.
var ErrNoWallet = errors.New("user has no wallet")

// MnemonicSource loads a user's seed phrase. store.ErrNotFound means none.
type MnemonicSource interface {
	GetMnemonicByTelegramID(ctx context.Context, telegramID int64) (string, error)
}

// WalletDeriver turns a seed phrase into per-network addresses.
type WalletDeriver func(mnemonic string) (agent.Wallet, error)

// Session is a user's engine and its adapters.
type Session struct {
	UserID    int64
	Engine    agent.Engine
	Adapters  *callbacks.Set
	CreatedAt time.Time
}

// Bind points the adapters at a new invocation.
func (s *Session) Bind(inv *callbacks.Invocation) {
	s.Adapters.Bind(inv)
}

func (s *Session) Unbind() {
	s.Adapters.Unbind()
}

// Config wires a Registry.
type Config struct {
	Users     MnemonicSource
	Factory   agent.Factory
	Derive    WalletDeriver
	Messenger callbacks.Messenger
	Claims    callbacks.ClaimRecorder
	Logger    zerolog.Logger
}

// Registry maps user ids to sessions for the life of the process.
type Registry struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[int64]*Session
	group    singleflight.Group
}

// NewRegistry checks the required collaborators.
func NewRegistry(cfg Config) (*Registry, error) {
	switch {
	case cfg.Users == nil:
		return nil, fmt.Errorf("user store is required")
	case cfg.Factory == nil:
		return nil, fmt.Errorf("engine factory is required")
	case cfg.Derive == nil:
		return nil, fmt.Errorf("wallet deriver is required")
	case cfg.Messenger == nil:
		return nil, fmt.Errorf("messenger is required")
	}
	observability.EnsureRegistered()
	return &Registry{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "session").Logger(),
		sessions: make(map[int64]*Session),
	}, nil
}

// Get returns a cached session without creating one.
func (r *Registry) Get(userID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// GetOrCreate returns the user's session, building it on first use.
func (r *Registry) GetOrCreate(ctx context.Context, userID int64) (*Session, error) {
	if s, ok := r.Get(userID); ok {
		return s, nil
	}

	v, err, shared := r.group.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		if s, ok := r.Get(userID); ok {
			return s, nil
		}
		// joined callers share the result; one caller leaving must not fail them
		return r.create(context.WithoutCancel(ctx), userID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug().Int64("user_id", userID).Msg("Joined in-flight session creation")
	}
	return v.(*Session), nil
}

func (r *Registry) create(ctx context.Context, userID int64) (*Session, error) {
	ctx, span := tracing.StartSpan(ctx, "chainpilot.session", "session.create",
		attribute.Int64("user_id", userID))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Int64("user_id", userID).Logger()

	mnemonic, err := r.cfg.Users.GetMnemonicByTelegramID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && mnemonic == "") {
		observability.RecordSessionCreation("no_wallet")
		return nil, ErrNoWallet
	}
	if err != nil {
		observability.RecordSessionCreation("error")
		tracing.Fail(span, err)
		return nil, fmt.Errorf("load seed phrase: %w", err)
	}

	w, err := r.cfg.Derive(mnemonic)
	if err != nil {
		observability.RecordSessionCreation("error")
		tracing.Fail(span, err)
		return nil, fmt.Errorf("derive wallet: %w", err)
	}

	engine, err := r.cfg.Factory.NewEngine(ctx, userID, w)
	if err != nil {
		observability.RecordSessionCreation("error")
		tracing.Fail(span, err)
		return nil, fmt.Errorf("create engine: %w", err)
	}

	adapters := callbacks.NewSet(userID, r.cfg.Messenger, r.cfg.Claims, r.cfg.Logger)
	adapters.Register(engine)

	s := &Session{UserID: userID, Engine: engine, Adapters: adapters, CreatedAt: time.Now()}

	r.mu.Lock()
	r.sessions[userID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	observability.RecordSessionCreation("created")
	observability.SetActiveSessions(n)
	logger.Info().Int("active_sessions", n).Msg("Session created")
	return s, nil
}

// Remove evicts a session. The next GetOrCreate builds a fresh engine.
func (r *Registry) Remove(userID int64) bool {
	r.mu.Lock()
	_, ok := r.sessions[userID]
	delete(r.sessions, userID)
	n := len(r.sessions)
	r.mu.Unlock()

	if ok {
		observability.SetActiveSessions(n)
		r.logger.Info().Int64("user_id", userID).Msg("Session removed")
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
