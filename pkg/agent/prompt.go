package agent

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt is used when the configuration leaves it empty.
const DefaultSystemPrompt = `You are a blockchain assistant. You can query token information and wallet balances, and you can swap, stake, supply, unstake and withdraw tokens on several networks through the tools you are given. If you do not have a token address, look the token up by symbol first. When the user does not name a network for a balance query, check every network you know.
If a request is ambiguous, ask the user with the ask_user tool instead of guessing.

CRITICAL:
1. Format replies in Telegram HTML.
2. Do not use markdown.
3. Use <b>bold</b> for important values and token names, <code>code</code> for addresses and <i>italic</i> for extra information.`

const notAvailable = "Not available"

// BuildSystemPrompt appends one "Wallet NAME: address" line per network.
func BuildSystemPrompt(base string, networks []string, w Wallet) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultSystemPrompt
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "\n"))
	b.WriteString("\n")
	for _, n := range networks {
		addr := notAvailable
		if w != nil {
			if a, ok := w.Address(n); ok && a != "" {
				addr = a
			}
		}
		fmt.Fprintf(&b, "Wallet %s: %s\n", strings.ToUpper(n), addr)
	}
	return b.String()
}
