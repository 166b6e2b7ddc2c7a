package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key for the given provider.
func (v *Validator) ValidateAPIKey(key, provider string) error {
	switch provider {
	case "anthropic", "openai":
	case "":
		return fmt.Errorf("provider is required")
	default:
		return fmt.Errorf("invalid provider %s (must be: anthropic, openai)", provider)
	}

	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}
	if provider == "anthropic" && !strings.HasPrefix(key, "sk-ant-") {
		return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
	}
	if provider == "openai" && !strings.HasPrefix(key, "sk-") {
		return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
	}
	return nil
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}
	return nil
}

// ValidateDatabase checks the store driver and DSN.
func (v *Validator) ValidateDatabase(db DatabaseConfig) error {
	switch db.Driver {
	case "sqlite":
		return nil
	case "mysql":
		if db.DSN == "" {
			return fmt.Errorf("database.dsn is required for mysql")
		}
		return nil
	default:
		return fmt.Errorf("invalid database driver %q (must be: sqlite, mysql)", db.Driver)
	}
}

// ValidateNetwork checks a network entry.
func (v *Validator) ValidateNetwork(n NetworkConfig) error {
	if n.Name == "" {
		return fmt.Errorf("network name is required")
	}
	switch n.Kind {
	case "evm":
		if n.RPCURL != "" {
			if _, err := url.ParseRequestURI(n.RPCURL); err != nil {
				return fmt.Errorf("network %s: invalid rpc_url: %w", n.Name, err)
			}
		}
	case "solana":
	default:
		return fmt.Errorf("network %s: invalid kind %q (must be: evm, solana)", n.Name, n.Kind)
	}
	return nil
}

// ValidateRemoteTool checks a remote tool entry.
func (v *Validator) ValidateRemoteTool(t RemoteToolConfig) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, err := url.ParseRequestURI(t.URL); err != nil {
		return fmt.Errorf("tool %s: invalid url: %w", t.Name, err)
	}
	switch t.ReviewType {
	case "", "stake", "supply", "unstake", "withdraw", "swap":
	default:
		return fmt.Errorf("tool %s: invalid review_type %q", t.Name, t.ReviewType)
	}
	if t.Description == "" {
		return fmt.Errorf("tool %s: description is required", t.Name)
	}
	return nil
}

// ValidateSchedule checks a cron expression (descriptors such as @every are
// accepted).
func (v *Validator) ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}
