// Package moderation screens chat input before it reaches the agent.
package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/harun/chainpilot/internal/config"
	"github.com/tyler-smith/go-bip39"
)

// ErrSecret marks input that looks like a wallet secret.
var ErrSecret = errors.New("input looks like a wallet secret")

// SecretWarning is the reply sent instead of forwarding a leaked secret.
const SecretWarning = "⚠️ That looks like a seed phrase or private key. Never share it with anyone, including this bot. Your message was not processed, consider moving your funds to a new wallet."

const minPhraseWords = 12

var (
	bareHexKey    = regexp.MustCompile(`(?i)(?:^|[^0-9a-fx])([0-9a-f]{64})(?:$|[^0-9a-f])`)
	labeledHexKey = regexp.MustCompile(`(?i)(?:private|secret)\s*key\W{0,3}(?:0x)?[0-9a-f]{64}\b`)
	base58Secret  = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{86,88}\b`)
	wordSplit     = regexp.MustCompile(`[^a-z]+`)
)

var wordlist = func() map[string]struct{} {
	words := bip39.GetWordList()
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}()

// ContentFilter checks content against configured keywords and patterns,
// and always refuses wallet secrets.
type ContentFilter struct {
	mu       sync.RWMutex
	enabled  bool
	keywords []string
	patterns []*regexp.Regexp
}

// New creates a new content filter.
func New(cfg config.ModerationConfig) (*ContentFilter, error) {
	f := &ContentFilter{}
	if err := f.Reload(cfg); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload replaces the rules. On error the previous rules stay in effect.
func (f *ContentFilter) Reload(cfg config.ModerationConfig) error {
	patterns := make([]*regexp.Regexp, 0, len(cfg.BlockedPatterns))
	for _, p := range cfg.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("invalid pattern %s: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	keywords := append([]string(nil), cfg.BlockedKeywords...)

	f.mu.Lock()
	f.enabled = cfg.Enabled
	f.keywords = keywords
	f.patterns = patterns
	f.mu.Unlock()
	return nil
}

// CheckInput returns ErrSecret (wrapped) for wallet secrets and a plain
// error for configured blocked content.
func (f *ContentFilter) CheckInput(text string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.enabled {
		return nil
	}
	if reason := secretReason(text); reason != "" {
		return fmt.Errorf("%w: %s", ErrSecret, reason)
	}

	normalized := strings.ToLower(text)
	for _, kw := range f.keywords {
		if strings.Contains(normalized, strings.ToLower(kw)) {
			return fmt.Errorf("input contains blocked keyword: %s", kw)
		}
	}
	for i, re := range f.patterns {
		if re.MatchString(text) {
			return fmt.Errorf("input matches blocked pattern #%d", i+1)
		}
	}
	return nil
}

// secretReason names the kind of secret found, or "".
// 0x-prefixed 64-hex values are transaction hashes unless labeled as keys.
func secretReason(text string) string {
	switch {
	case looksLikePhrase(text):
		return "seed phrase"
	case labeledHexKey.MatchString(text), bareHexKey.MatchString(text):
		return "hex private key"
	case base58Secret.MatchString(text):
		return "base58 secret key"
	}
	return ""
}

func looksLikePhrase(text string) bool {
	run := 0
	for _, w := range wordSplit.Split(strings.ToLower(text), -1) {
		if w == "" {
			continue
		}
		if _, ok := wordlist[w]; ok {
			run++
			if run >= minPhraseWords {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}
