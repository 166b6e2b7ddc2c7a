package daemon

import (
	"fmt"
	"sort"

	"github.com/harun/chainpilot/internal/config"
	"github.com/harun/chainpilot/pkg/agent"
	"github.com/harun/chainpilot/pkg/chain"
	"github.com/harun/chainpilot/pkg/toolexecutor"
	"github.com/harun/chainpilot/pkg/wallet"
)

// registerTools adds the balance tool for EVM networks with an RPC endpoint
// and every configured remote tool. The returned client may be nil.
func registerTools(te *toolexecutor.ToolExecutor, cfg *config.Config, d *Daemon) (*chain.Client, error) {
	var nets []chain.Network
	for _, n := range cfg.Networks {
		if n.Kind == wallet.KindEVM && n.RPCURL != "" {
			nets = append(nets, chain.Network{Name: n.Name, RPCURL: n.RPCURL, Symbol: n.Symbol, ChainID: n.ChainID})
		}
	}

	var client *chain.Client
	if len(nets) > 0 {
		client = chain.New(nets, nil, d.logger.Component("chain"))
		if err := te.RegisterTool(client.Tool()); err != nil {
			return nil, err
		}
	}

	for _, t := range cfg.Agent.Tools {
		def := toolexecutor.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertToolParameters(t.Parameters),
			ReviewType:  t.ReviewType,
			Handler: toolexecutor.RemoteHandler(toolexecutor.RemoteConfig{
				Name:     t.Name,
				URL:      t.URL,
				Provider: t.Provider,
				Timeout:  t.Timeout,
			}),
		}
		if err := te.RegisterTool(def); err != nil {
			if client != nil {
				client.Close()
			}
			return nil, fmt.Errorf("register tool %s: %w", t.Name, err)
		}
	}
	return client, nil
}

// convertToolParameters reads a JSON Schema object ("properties" plus
// "required") into tool parameters, sorted by name.
func convertToolParameters(params map[string]any) []toolexecutor.ToolParameter {
	var result []toolexecutor.ToolParameter

	properties, ok := params["properties"].(map[string]any)
	if !ok {
		return result
	}

	required := make(map[string]bool)
	switch reqList := params["required"].(type) {
	case []any:
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	case []string:
		for _, name := range reqList {
			required[name] = true
		}
	}

	for name, propData := range properties {
		prop, ok := propData.(map[string]any)
		if !ok {
			continue
		}

		// schemas often leave these out; the executor requires both
		param := toolexecutor.ToolParameter{
			Name:        name,
			Type:        "string",
			Description: name,
			Required:    required[name],
		}
		if typeVal, ok := prop["type"].(string); ok && typeVal != "" {
			param.Type = typeVal
		}
		if desc, ok := prop["description"].(string); ok && desc != "" {
			param.Description = desc
		}
		if enum, ok := prop["enum"].([]any); ok {
			for _, e := range enum {
				if s, ok := e.(string); ok {
					param.Enum = append(param.Enum, s)
				}
			}
		}
		result = append(result, param)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// convertAuthProfiles converts config auth profiles to agent auth profiles
func convertAuthProfiles(profiles []config.AIProfile) []agent.AuthProfile {
	result := make([]agent.AuthProfile, len(profiles))
	for i, p := range profiles {
		result[i] = agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Priority: p.Priority,
		}
	}
	return result
}

func walletNetworks(cfg *config.Config) []wallet.Network {
	out := make([]wallet.Network, 0, len(cfg.Networks))
	for _, n := range cfg.Networks {
		out = append(out, wallet.Network{Name: n.Name, Kind: n.Kind})
	}
	return out
}

func networkNames(cfg *config.Config) []string {
	out := make([]string, 0, len(cfg.Networks))
	for _, n := range cfg.Networks {
		out = append(out, n.Name)
	}
	return out
}
