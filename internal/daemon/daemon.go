package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/chainpilot/internal/config"
	"github.com/harun/chainpilot/internal/logger"
	"github.com/harun/chainpilot/internal/observability"
	"github.com/harun/chainpilot/internal/telegram"
	"github.com/harun/chainpilot/internal/tracing"
	"github.com/harun/chainpilot/pkg/agent"
	"github.com/harun/chainpilot/pkg/chain"
	"github.com/harun/chainpilot/pkg/claims"
	"github.com/harun/chainpilot/pkg/commandqueue"
	"github.com/harun/chainpilot/pkg/cron"
	"github.com/harun/chainpilot/pkg/dedupe"
	"github.com/harun/chainpilot/pkg/history"
	"github.com/harun/chainpilot/pkg/moderation"
	"github.com/harun/chainpilot/pkg/orchestrator"
	"github.com/harun/chainpilot/pkg/session"
	"github.com/harun/chainpilot/pkg/store"
	"github.com/harun/chainpilot/pkg/toolexecutor"
	"github.com/harun/chainpilot/pkg/wallet"
	"github.com/rs/zerolog"
)

// Version is reported to tracing. The CLI overrides it.
var Version = "dev"

// Daemon represents the ChainPilot daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	db           *store.DB
	history      *history.Store
	toolExecutor *toolexecutor.ToolExecutor
	chain        *chain.Client
	registry     *session.Registry
	queue        *commandqueue.CommandQueue
	orchestrator *orchestrator.Orchestrator
	dedupe       dedupe.Deduper
	filter       *moderation.ContentFilter
	publisher    claims.Publisher
	notifier     *claims.Notifier

	// Services
	telegramBot *telegram.Bot
	ingress     *Ingress
	cronService *cron.Service
	admin       *AdminServer
	watcher     *config.Watcher

	configPath string

	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Option tweaks a Daemon.
type Option func(*Daemon)

// WithConfigPath enables hot reload of the moderation rules from path.
func WithConfigPath(path string) Option {
	return func(d *Daemon) { d.configPath = path }
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.Tracing.Enabled {
		err := tracing.Init(tracing.Options{
			ServiceName: "chainpilot-daemon",
			Version:     Version,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without spans")
		} else {
			d.tracingEnabled = true
		}
	}

	if err := d.initialize(); err != nil {
		d.release()
		cancel()
		if d.tracingEnabled {
			_ = tracing.Shutdown(context.Background())
			d.tracingEnabled = false
		}
		return nil, err
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

// initialize builds modules in dependency order.
func (d *Daemon) initialize() error {
	cfg := d.config
	base := d.logger.GetZerolog()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit log")
	}

	db, err := store.Open(d.ctx, store.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN}, d.logger.Component("store"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	d.db = db

	hist, err := history.New(filepath.Join(cfg.DataDir, "threads"), d.logger.Component("history"))
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	d.history = hist

	d.toolExecutor = toolexecutor.New(d.logger.Component("tools"))
	d.chain, err = registerTools(d.toolExecutor, cfg, d)
	if err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	pool, err := agent.NewProfilePool(convertAuthProfiles(cfg.AI.Profiles), &agent.ProviderFactory{}, d.logger.Component("providers"))
	if err != nil {
		return fmt.Errorf("failed to create provider pool: %w", err)
	}
	factory, err := agent.NewPlannerFactory(agent.PlannerConfig{
		Model:         cfg.Agent.Model,
		Temperature:   cfg.Agent.Temperature,
		MaxTokens:     cfg.Agent.MaxTokens,
		MaxIterations: cfg.Agent.MaxIterations,
		ReviewTimeout: cfg.Agent.ReviewTimeout,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		Networks:      networkNames(cfg),
	}, d.toolExecutor, hist, pool, base)
	if err != nil {
		return fmt.Errorf("failed to create agent factory: %w", err)
	}

	bot, err := telegram.New(&cfg.Telegram, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}
	d.telegramBot = bot

	recorderOpts := []claims.RecorderOption{claims.WithMaturation(cfg.Claims.Maturation)}
	if cfg.Claims.AMQPURL != "" {
		pub, err := claims.NewAMQPPublisher(claims.AMQPConfig{URL: cfg.Claims.AMQPURL, Queue: cfg.Claims.AMQPQueue})
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to connect claim publisher, claims will not be announced")
		} else {
			d.publisher = pub
			recorderOpts = append(recorderOpts, claims.WithPublisher(pub))
		}
	}
	recorder := claims.NewRecorder(db, base, recorderOpts...)
	d.notifier = claims.NewNotifier(db, bot, 0, base)

	networks := walletNetworks(cfg)
	derive := func(mnemonic string) (*wallet.Wallet, error) {
		return wallet.Derive(mnemonic, networks)
	}

	d.registry, err = session.NewRegistry(session.Config{
		Users:   db,
		Factory: factory,
		Derive: func(mnemonic string) (agent.Wallet, error) {
			w, err := derive(mnemonic)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		Messenger: bot,
		Claims:    recorder,
		Logger:    base,
	})
	if err != nil {
		return fmt.Errorf("failed to create session registry: %w", err)
	}

	filter, err := moderation.New(cfg.Moderation)
	if err != nil {
		return fmt.Errorf("failed to create content filter: %w", err)
	}
	d.filter = filter

	d.queue = commandqueue.New(commandqueue.Config{
		MaxDepth: cfg.Orchestrator.LaneDepth,
		Logger:   d.logger.Component("queue"),
	})
	d.orchestrator = orchestrator.New(d.registry, bot, d.queue,
		orchestrator.WithInvokeTimeout(cfg.Orchestrator.InvokeTimeout),
		orchestrator.WithQueueWarnAfter(cfg.Orchestrator.QueueWarnAfter),
		orchestrator.WithGuard(filter),
		orchestrator.WithLogger(base),
	)

	if cfg.Redis.Enabled {
		rd, err := dedupe.NewRedis(d.ctx, dedupe.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
			Prefix:   "chainpilot:",
		})
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		d.dedupe = rd
	} else {
		d.dedupe = dedupe.NewMemory(cfg.Redis.TTL)
	}

	d.ingress, err = NewIngress(IngressConfig{
		Transport: bot,
		Orch:      d.orchestrator,
		Users:     db,
		Dedupe:    d.dedupe,
		Derive:    derive,
		Networks:  networkNames(cfg),
		Allowlist: cfg.Telegram.Allowlist,
		Logger:    base,
	})
	if err != nil {
		return fmt.Errorf("failed to create ingress: %w", err)
	}

	d.cronService = cron.NewService(cron.Options{Logger: base})

	if cfg.Admin.Enabled {
		d.admin = NewAdminServer(cfg.Admin.Addr, AdminDeps{
			Ping:     db.Ping,
			Jobs:     d.cronService.Jobs,
			Sessions: d.registry.Len,
			Running:  bot.IsRunning,
		}, base)
	}
	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting ChainPilot daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := RegisterJobs(d.cronService, JobsConfig{
		NotifySchedule:   d.config.Claims.NotifySchedule,
		Notifier:         d.notifier,
		PruneSchedule:    d.config.History.PruneSchedule,
		HistoryRetention: d.config.History.Retention,
		History:          d.history,
	}, logger); err != nil {
		return fmt.Errorf("failed to schedule jobs: %w", err)
	}

	if d.admin != nil {
		if err := d.admin.Start(); err != nil {
			return fmt.Errorf("failed to start admin server: %w", err)
		}
	}

	d.startWatcher(logger)

	if err := d.telegramBot.SetCommands(d.ingress.Commands().Menu()...); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish command menu")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.telegramBot.Run(d.ctx, d.ingress.HandleUpdate); err != nil {
			logger.Error().Err(err).Msg("Telegram bot stopped with error")
		}
	}()

	logger.Info().Str("bot", d.telegramBot.Username()).Msg("Daemon started successfully")
	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping ChainPilot daemon")

	// Stops polling; in-flight updates finish first.
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info().Msg("Telegram bot stopped")
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("Timeout waiting for in-flight updates")
	}

	if d.admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.admin.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop admin server")
		}
		cancel()
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
		d.watcher = nil
	}

	if d.cronService != nil {
		d.cronService.Stop()
		logger.Info().Msg("Cron service stopped")
	}

	d.release()

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// startWatcher reloads moderation rules when the config file changes. A
// missing file disables it.
func (d *Daemon) startWatcher(logger zerolog.Logger) {
	if d.configPath == "" {
		return
	}
	if _, err := os.Stat(d.configPath); err != nil {
		return
	}
	w, err := config.NewWatcher(config.NewLoader(d.configPath), 0, d.applyConfig, logger)
	if err == nil {
		err = w.Start()
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Config hot reload disabled")
		return
	}
	d.watcher = w
}

// applyConfig takes the settings that can change without a restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	if err := d.filter.Reload(cfg.Moderation); err != nil {
		d.logger.Warn().Err(err).Msg("Ignoring invalid moderation rules")
		return
	}
	d.logger.Info().
		Bool("enabled", cfg.Moderation.Enabled).
		Int("keywords", len(cfg.Moderation.BlockedKeywords)).
		Int("patterns", len(cfg.Moderation.BlockedPatterns)).
		Msg("Moderation rules reloaded")
}

// release closes whatever initialize opened. It is safe on a partially
// built daemon.
func (d *Daemon) release() {
	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close command queue")
		}
		d.queue = nil
	}
	if d.dedupe != nil {
		if err := d.dedupe.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close dedupe cache")
		}
		d.dedupe = nil
	}
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close claim publisher")
		}
		d.publisher = nil
	}
	if d.chain != nil {
		d.chain.Close()
		d.chain = nil
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close database")
		}
		d.db = nil
	}
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Sessions  int
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	if d.registry != nil {
		status.Sessions = d.registry.Len()
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}
