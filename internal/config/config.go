package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the chainpilot runtime configuration.
type Config struct {
	Telegram     TelegramConfig     `json:"telegram" mapstructure:"telegram"`
	Logging      LoggingConfig      `json:"logging" mapstructure:"logging"`
	Database     DatabaseConfig     `json:"database" mapstructure:"database"`
	Redis        RedisConfig        `json:"redis" mapstructure:"redis"`
	AI           AIConfig           `json:"ai" mapstructure:"ai"`
	Agent        AgentConfig        `json:"agent" mapstructure:"agent"`
	Networks     []NetworkConfig    `json:"networks" mapstructure:"networks"`
	Orchestrator OrchestratorConfig `json:"orchestrator" mapstructure:"orchestrator"`
	Claims       ClaimsConfig       `json:"claims" mapstructure:"claims"`
	Admin        AdminConfig        `json:"admin" mapstructure:"admin"`
	Moderation   ModerationConfig   `json:"moderation" mapstructure:"moderation"`
	History      HistoryConfig      `json:"history" mapstructure:"history"`
	Tracing      TracingConfig      `json:"tracing" mapstructure:"tracing"`

	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken    string  `json:"bot_token" mapstructure:"bot_token"`
	PollTimeout int     `json:"poll_timeout" mapstructure:"poll_timeout"` // seconds
	RateLimit   float64 `json:"rate_limit" mapstructure:"rate_limit"`     // API calls per second per chat
	RateBurst   int     `json:"rate_burst" mapstructure:"rate_burst"`
	Allowlist   []int64 `json:"allowlist" mapstructure:"allowlist"` // empty means everyone
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
}

// DatabaseConfig selects the user and claim store backend.
type DatabaseConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // sqlite, mysql
	DSN    string `json:"dsn" mapstructure:"dsn"`
}

// RedisConfig enables the shared dedupe backend. When disabled an in-process
// cache is used.
type RedisConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Addr     string        `json:"addr" mapstructure:"addr"`
	Password string        `json:"password" mapstructure:"password"`
	DB       int           `json:"db" mapstructure:"db"`
	TTL      time.Duration `json:"ttl" mapstructure:"ttl"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// AgentConfig configures the planning engine built for every user.
type AgentConfig struct {
	Model         string             `json:"model" mapstructure:"model"`
	Temperature   float64            `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int                `json:"max_tokens" mapstructure:"max_tokens"`
	MaxIterations int                `json:"max_iterations" mapstructure:"max_iterations"`
	ReviewTimeout time.Duration      `json:"review_timeout" mapstructure:"review_timeout"`
	SystemPrompt  string             `json:"system_prompt" mapstructure:"system_prompt"`
	Tools         []RemoteToolConfig `json:"tools" mapstructure:"tools"`
}

// RemoteToolConfig describes a tool served by an external provider over
// HTTP. Tools with a review type pause for human confirmation before they
// are called.
type RemoteToolConfig struct {
	Name        string         `json:"name" mapstructure:"name"`
	Description string         `json:"description" mapstructure:"description"`
	URL         string         `json:"url" mapstructure:"url"`
	Provider    string         `json:"provider" mapstructure:"provider"`
	ReviewType  string         `json:"review_type" mapstructure:"review_type"` // stake, supply, unstake, withdraw, swap
	Parameters  map[string]any `json:"parameters" mapstructure:"parameters"`
	Timeout     time.Duration  `json:"timeout" mapstructure:"timeout"`
}

// NetworkConfig is a chain a user wallet is derived for.
type NetworkConfig struct {
	Name    string `json:"name" mapstructure:"name"`
	Kind    string `json:"kind" mapstructure:"kind"` // evm, solana
	ChainID int64  `json:"chain_id" mapstructure:"chain_id"`
	RPCURL  string `json:"rpc_url" mapstructure:"rpc_url"`
	Symbol  string `json:"symbol" mapstructure:"symbol"`
}

// OrchestratorConfig bounds a single agent invocation.
type OrchestratorConfig struct {
	InvokeTimeout  time.Duration `json:"invoke_timeout" mapstructure:"invoke_timeout"`
	QueueWarnAfter time.Duration `json:"queue_warn_after" mapstructure:"queue_warn_after"`
	LaneDepth      int           `json:"lane_depth" mapstructure:"lane_depth"`
}

// ClaimsConfig configures reward claim bookkeeping.
type ClaimsConfig struct {
	Maturation     time.Duration `json:"maturation" mapstructure:"maturation"`
	NotifySchedule string        `json:"notify_schedule" mapstructure:"notify_schedule"` // cron spec, empty disables
	AMQPURL        string        `json:"amqp_url" mapstructure:"amqp_url"`
	AMQPQueue      string        `json:"amqp_queue" mapstructure:"amqp_queue"`
}

// AdminConfig configures the health and metrics listener.
type AdminConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// ModerationConfig configures the input guard run before chat text reaches
// the agent. Secret detection is always on when the guard is enabled.
type ModerationConfig struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled"`
	BlockedKeywords []string `json:"blocked_keywords" mapstructure:"blocked_keywords"`
	BlockedPatterns []string `json:"blocked_patterns" mapstructure:"blocked_patterns"`
}

// HistoryConfig controls how long conversation threads are kept on disk.
type HistoryConfig struct {
	Retention     time.Duration `json:"retention" mapstructure:"retention"`           // zero keeps threads forever
	PruneSchedule string        `json:"prune_schedule" mapstructure:"prune_schedule"` // cron spec, empty disables
}

// TracingConfig controls span sampling. Spans stay in process; no exporter
// is configured.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout: 60,
			RateLimit:   1,
			RateBurst:   3,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
			Pretty:    true,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  10 * time.Minute,
		},
		Agent: AgentConfig{
			Model:         "gpt-4o-mini",
			Temperature:   0.2,
			MaxTokens:     2048,
			MaxIterations: 8,
			ReviewTimeout: 60 * time.Second,
		},
		Networks: []NetworkConfig{
			{Name: "bnb", Kind: "evm", ChainID: 56, RPCURL: "https://bsc-dataseed.bnbchain.org", Symbol: "BNB"},
			{Name: "ethereum", Kind: "evm", ChainID: 1, RPCURL: "https://eth.llamarpc.com", Symbol: "ETH"},
			{Name: "base", Kind: "evm", ChainID: 8453, RPCURL: "https://mainnet.base.org", Symbol: "ETH"},
			{Name: "hyperliquid", Kind: "evm", ChainID: 999, RPCURL: "https://rpc.hyperliquid.xyz/evm", Symbol: "HYPE"},
			{Name: "solana", Kind: "solana", Symbol: "SOL"},
		},
		Orchestrator: OrchestratorConfig{
			InvokeTimeout:  3 * time.Minute,
			QueueWarnAfter: 30 * time.Second,
			LaneDepth:      8,
		},
		Claims: ClaimsConfig{
			Maturation:     9 * 24 * time.Hour,
			NotifySchedule: "@every 10m",
			AMQPQueue:      "chainpilot.claims",
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9464",
		},
		Moderation: ModerationConfig{
			Enabled: true,
		},
		History: HistoryConfig{
			Retention:     30 * 24 * time.Hour,
			PruneSchedule: "@daily",
		},
		Tracing: TracingConfig{
			Enabled:     true,
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Network looks up a configured network by name.
func (c *Config) Network(name string) (NetworkConfig, bool) {
	for _, n := range c.Networks {
		if n.Name == name {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateTelegramToken(c.Telegram.BotToken); err != nil {
		return err
	}

	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}
	for i, p := range c.AI.Profiles {
		if p.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if err := v.ValidateAPIKey(p.APIKey, p.Provider); err != nil {
			return fmt.Errorf("AI profile %s: %w", p.ID, err)
		}
	}

	if err := v.ValidateDatabase(c.Database); err != nil {
		return err
	}

	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network must be configured")
	}
	seen := make(map[string]bool, len(c.Networks))
	for _, n := range c.Networks {
		if err := v.ValidateNetwork(n); err != nil {
			return err
		}
		if seen[n.Name] {
			return fmt.Errorf("network %s configured twice", n.Name)
		}
		seen[n.Name] = true
	}

	for _, t := range c.Agent.Tools {
		if err := v.ValidateRemoteTool(t); err != nil {
			return err
		}
	}

	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Agent.ReviewTimeout <= 0 {
		return fmt.Errorf("agent.review_timeout must be positive")
	}
	if c.Orchestrator.InvokeTimeout <= 0 {
		return fmt.Errorf("orchestrator.invoke_timeout must be positive")
	}
	if c.Claims.Maturation <= 0 {
		return fmt.Errorf("claims.maturation must be positive")
	}
	if c.Claims.NotifySchedule != "" {
		if err := v.ValidateSchedule(c.Claims.NotifySchedule); err != nil {
			return err
		}
	}
	if c.History.PruneSchedule != "" {
		if err := v.ValidateSchedule(c.History.PruneSchedule); err != nil {
			return err
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	return nil
}
