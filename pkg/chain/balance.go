// Package chain reads on-chain state for the agent's read-only tools.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/harun/chainpilot/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// BalanceToolName is the tool the agent calls for native balances.
const BalanceToolName = "get_native_balance"

// Network is an EVM chain with a JSON-RPC endpoint.
type Network struct {
	Name    string
	RPCURL  string
	Symbol  string
	ChainID int64
}

// BalanceReader is the part of ethclient.Client the tool needs.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// DialFunc opens a reader for an RPC url.
type DialFunc func(ctx context.Context, rpcURL string) (BalanceReader, error)

// Client dials endpoints lazily and caches the connections.
type Client struct {
	networks map[string]Network
	dial     DialFunc
	logger   zerolog.Logger

	mu      sync.Mutex
	readers map[string]BalanceReader
}

// New keeps the networks that have an RPC url. A nil dial uses ethclient.
func New(networks []Network, dial DialFunc, logger zerolog.Logger) *Client {
	if dial == nil {
		dial = func(ctx context.Context, rpcURL string) (BalanceReader, error) {
			return ethclient.DialContext(ctx, rpcURL)
		}
	}
	byName := make(map[string]Network, len(networks))
	for _, n := range networks {
		if strings.TrimSpace(n.RPCURL) == "" {
			continue
		}
		if n.Symbol == "" {
			n.Symbol = "ETH"
		}
		byName[strings.ToLower(n.Name)] = n
	}
	return &Client{
		networks: byName,
		dial:     dial,
		logger:   logger.With().Str("component", "chain").Logger(),
		readers:  make(map[string]BalanceReader),
	}
}

// Networks returns the names with a configured endpoint, sorted.
func (c *Client) Networks() []string {
	names := make([]string, 0, len(c.networks))
	for n := range c.networks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Client) reader(ctx context.Context, n Network) (BalanceReader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.readers[n.Name]; ok {
		return r, nil
	}
	r, err := c.dial(ctx, n.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", n.Name, err)
	}
	c.readers[n.Name] = r
	return r, nil
}

// Balance returns the latest native balance of address, in whole units.
func (c *Client) Balance(ctx context.Context, network, address string) (string, string, error) {
	n, ok := c.networks[strings.ToLower(network)]
	if !ok {
		return "", "", fmt.Errorf("unsupported network %q", network)
	}
	if !common.IsHexAddress(address) {
		return "", "", fmt.Errorf("invalid address %q", address)
	}

	r, err := c.reader(ctx, n)
	if err != nil {
		return "", "", err
	}
	wei, err := r.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return "", "", fmt.Errorf("balance on %s: %w", n.Name, err)
	}
	return FormatUnits(wei, 18), n.Symbol, nil
}

// Close drops cached connections.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, r := range c.readers {
		if ec, ok := r.(*ethclient.Client); ok {
			ec.Close()
		}
		delete(c.readers, name)
	}
}

// Tool describes the balance query for the tool executor. Without an
// address the caller's wallet on that network is used.
func (c *Client) Tool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        BalanceToolName,
		Description: "Get the native token balance of a wallet on an EVM network. Defaults to the user's own wallet.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "network", Type: "string", Description: "Network name", Required: true, Enum: c.Networks()},
			{Name: "address", Type: "string", Description: "0x address; omit for the user's wallet"},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			network, _ := params["network"].(string)
			address, _ := params["address"].(string)
			if address == "" {
				if caller, ok := toolexecutor.CallerFrom(ctx); ok {
					address = caller.Addresses[strings.ToLower(network)]
				}
			}
			if address == "" {
				return nil, fmt.Errorf("no wallet address for %s", network)
			}

			amount, symbol, err := c.Balance(ctx, network, address)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("%s %s on %s (%s)", amount, symbol, network, address), nil
		},
	}
}

// FormatUnits renders v / 10^decimals without trailing zeros.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, base, new(big.Int))

	out := whole.String()
	if frac.Sign() > 0 {
		fs := frac.String()
		fs = strings.Repeat("0", decimals-len(fs)) + fs
		out += "." + strings.TrimRight(fs, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}
