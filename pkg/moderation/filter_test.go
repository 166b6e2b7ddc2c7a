package moderation

import (
	"errors"
	"strings"
	"testing"

	"github.com/harun/chainpilot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentFilter_Secrets(t *testing.T) {
	f, err := New(config.ModerationConfig{Enabled: true})
	require.NoError(t, err)

	hex := strings.Repeat("ab12", 16)

	tests := []struct {
		name   string
		input  string
		secret bool
	}{
		{"plain request", "swap 1 BNB to USDT on bnb", false},
		{"seed phrase", "here: abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", true},
		{"seed phrase one per line", strings.Repeat("zoo\n", 11) + "wrong", true},
		{"eleven words", strings.Repeat("zoo ", 11), false},
		{"bare hex key", "my key is " + hex, true},
		{"labeled 0x key", "private key: 0x" + hex, true},
		{"tx hash", "what happened to 0x" + hex + "?", false},
		{"base58 secret", "import " + strings.Repeat("5Kd3", 22), true},
		{"solana address", "balance of HAgk14JpMQLgt6rVgv7cBQFJWFto5Dqxi472uT3DKpqk", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.CheckInput(tt.input)
			if tt.secret {
				assert.True(t, errors.Is(err, ErrSecret), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestContentFilter_Configured(t *testing.T) {
	f, err := New(config.ModerationConfig{
		Enabled:         true,
		BlockedKeywords: []string{"rugpull"},
		BlockedPatterns: []string{`(?i)airdrop\s+claim`},
	})
	require.NoError(t, err)

	assert.Error(t, f.CheckInput("launch a RugPull token"))
	assert.Error(t, f.CheckInput("Airdrop   claim now"))
	assert.NoError(t, f.CheckInput("stake BNB"))

	err = f.CheckInput("launch a rugpull")
	assert.False(t, errors.Is(err, ErrSecret))
}

func TestContentFilter_Disabled(t *testing.T) {
	f, err := New(config.ModerationConfig{})
	require.NoError(t, err)
	assert.NoError(t, f.CheckInput(strings.Repeat("zoo ", 12)))
}

func TestNew_InvalidPattern(t *testing.T) {
	_, err := New(config.ModerationConfig{BlockedPatterns: []string{"("}})
	assert.Error(t, err)
}

func TestContentFilter_Reload(t *testing.T) {
	f, err := New(config.ModerationConfig{Enabled: true, BlockedKeywords: []string{"rugpull"}})
	require.NoError(t, err)
	require.Error(t, f.CheckInput("find me a rugpull"))

	require.NoError(t, f.Reload(config.ModerationConfig{Enabled: true, BlockedPatterns: []string{`(?i)airdrop`}}))
	assert.NoError(t, f.CheckInput("find me a rugpull"))
	assert.Error(t, f.CheckInput("free AIRDROP"))

	// A bad pattern keeps the previous rules.
	require.Error(t, f.Reload(config.ModerationConfig{Enabled: true, BlockedPatterns: []string{"("}}))
	assert.Error(t, f.CheckInput("free AIRDROP"))
}
