package toolexecutor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transaction is the on-chain result a provider reports after executing an
// approved action.
type Transaction struct {
	Amount      string `json:"amount"`
	TokenSymbol string `json:"token_symbol"`
	Network     string `json:"network"`
	Provider    string `json:"provider"`
	TxHash      string `json:"tx_hash"`
}

// RemoteResult is the decoded response of a remote tool provider.
type RemoteResult struct {
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	Transaction *Transaction   `json:"transaction,omitempty"`
}

// Caller identifies the wallet a tool call acts for.
type Caller struct {
	UserID    int64             `json:"user_id"`
	ThreadID  string            `json:"thread_id,omitempty"`
	Addresses map[string]string `json:"addresses"`
}

type callerKey struct{}

// WithCaller attaches the acting wallet to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the acting wallet, if any.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// RemoteConfig configures an HTTP tool provider.
type RemoteConfig struct {
	Name     string
	URL      string
	Provider string
	Timeout  time.Duration
	Client   *http.Client
}

type remoteRequest struct {
	Tool     string         `json:"tool"`
	Params   map[string]any `json:"params"`
	Caller   *Caller        `json:"caller,omitempty"`
	Provider string         `json:"provider,omitempty"`
}

// RemoteHandler returns a handler that POSTs the call to cfg.URL and decodes
// a RemoteResult. A transaction without a provider inherits cfg.Provider.
func RemoteHandler(cfg RemoteConfig) ToolHandler {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return func(ctx context.Context, params map[string]any) (any, error) {
		req := remoteRequest{Tool: cfg.Name, Params: params, Provider: cfg.Provider}
		if c, ok := CallerFrom(ctx); ok {
			req.Caller = &c
		}
		body, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", cfg.Name, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode/100 != 2 {
			return nil, fmt.Errorf("%s returned %d: %s", cfg.Name, resp.StatusCode, bytes.TrimSpace(raw))
		}

		var out RemoteResult
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if out.Transaction != nil && out.Transaction.Provider == "" {
			out.Transaction.Provider = cfg.Provider
		}
		return &out, nil
	}
}
