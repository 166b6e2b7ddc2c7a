package daemon

import (
	"testing"

	"github.com/harun/chainpilot/internal/config"
	"github.com/harun/chainpilot/internal/logger"
	"github.com/harun/chainpilot/pkg/chain"
	"github.com/harun/chainpilot/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertToolParameters(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"token":  map[string]any{"type": "string", "description": "Token symbol"},
			"amount": map[string]any{"type": "number", "description": "Amount"},
			"network": map[string]any{
				"type": "string",
				"enum": []any{"ethereum", "base"},
			},
			"broken": "not an object",
		},
		"required": []any{"amount", "token"},
	}

	got := convertToolParameters(params)
	require.Len(t, got, 3)
	assert.Equal(t, toolexecutor.ToolParameter{Name: "amount", Type: "number", Description: "Amount", Required: true}, got[0])
	assert.Equal(t, "network", got[1].Name)
	assert.Equal(t, []string{"ethereum", "base"}, got[1].Enum)
	assert.False(t, got[1].Required)
	assert.Equal(t, "token", got[2].Name)
	assert.True(t, got[2].Required)

	assert.Empty(t, convertToolParameters(nil))
	assert.Len(t, convertToolParameters(map[string]any{
		"properties": map[string]any{"a": map[string]any{"type": "string"}},
		"required":   []string{"a"},
	}), 1)

	bare := convertToolParameters(map[string]any{
		"properties": map[string]any{"memo": map[string]any{}},
	})
	require.Len(t, bare, 1)
	assert.Equal(t, "memo", bare[0].Description)
	assert.Equal(t, "string", bare[0].Type)
}

func TestRegisterTools(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Tools = []config.RemoteToolConfig{{
		Name:        "stake",
		Description: "Stake tokens",
		URL:         "http://127.0.0.1:1/stake",
		Provider:    "lido",
		ReviewType:  "stake",
		Parameters: map[string]any{
			"properties": map[string]any{"amount": map[string]any{"type": "string"}},
			"required":   []any{"amount"},
		},
	}}
	d := &Daemon{config: cfg, logger: logger.Nop()}
	te := toolexecutor.New(zerolog.Nop())

	client, err := registerTools(te, cfg, d)
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()

	assert.ElementsMatch(t, []string{chain.BalanceToolName, "stake"}, te.ListTools())
	def := te.GetTool("stake")
	require.NotNil(t, def)
	assert.Equal(t, "stake", def.ReviewType)
	assert.True(t, def.Parameters[0].Required)
	assert.Equal(t, "amount", def.Parameters[0].Description)
	require.NoError(t, config.NewValidator().ValidateRemoteTool(cfg.Agent.Tools[0]))
}

func TestConvertAuthProfiles(t *testing.T) {
	got := convertAuthProfiles([]config.AIProfile{{ID: "a", Provider: "anthropic", APIKey: "k", BaseURL: "http://x", Priority: 2}})
	require.Len(t, got, 1)
	assert.Equal(t, "http://x", got[0].BaseURL)
	assert.Equal(t, 2, got[0].Priority)
}

func TestNetworkHelpers(t *testing.T) {
	cfg := config.DefaultConfig()
	names := networkNames(cfg)
	assert.Equal(t, len(cfg.Networks), len(names))
	assert.Equal(t, cfg.Networks[0].Name, names[0])

	nets := walletNetworks(cfg)
	assert.Equal(t, cfg.Networks[0].Kind, nets[0].Kind)
}
