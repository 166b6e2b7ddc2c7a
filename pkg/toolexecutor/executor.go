package toolexecutor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/chainpilot/internal/observability"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

const (
	defaultTimeout = 30 * time.Second
	maxOutputSize  = 10 * 1024
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	// ReviewType, when set, parks the call until the user approves it. One
	// of stake, supply, unstake, withdraw, swap.
	ReviewType string      `json:"review_type,omitempty"`
	Handler    ToolHandler `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]any) (any, error)

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool          `json:"success"`
	Output    any           `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ToolExecutor holds registered tools and their compiled schemas.
type ToolExecutor struct {
	mu      sync.RWMutex
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	docs    map[string]map[string]any
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates an empty executor.
func New(logger zerolog.Logger) *ToolExecutor {
	observability.EnsureRegistered()
	return &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		docs:    make(map[string]map[string]any),
		timeout: defaultTimeout,
		logger:  logger.With().Str("component", "toolexecutor").Logger(),
	}
}

// SetTimeout changes the per-call execution limit.
func (te *ToolExecutor) SetTimeout(d time.Duration) {
	if d > 0 {
		te.timeout = d
	}
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	doc := jsonSchema(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()
	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema
	te.docs[def.Name] = doc

	te.logger.Debug().Str("tool", def.Name).Str("review", def.ReviewType).Msg("Tool registered")
	return nil
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return te.tools[name]
}

// ListTools returns registered tool names, sorted.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()
	names := make([]string, 0, len(te.tools))
	for name := range te.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema returns the JSON schema document advertised to the model for a
// tool.
func (te *ToolExecutor) Schema(name string) map[string]any {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return te.docs[name]
}

// Validate checks params against the tool's schema without running it.
func (te *ToolExecutor) Validate(name string, params map[string]any) error {
	te.mu.RLock()
	schema, ok := te.schemas[name]
	te.mu.RUnlock()
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}
	if params == nil {
		params = map[string]any{}
	}

	res, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}
	return nil
}

// Execute validates and runs a tool under the executor timeout.
func (te *ToolExecutor) Execute(ctx context.Context, name string, params map[string]any) ToolResult {
	start := time.Now()
	logger := te.logger.With().Str("tool", name).Logger()

	tool := te.GetTool(name)
	if tool == nil {
		return ToolResult{Error: fmt.Sprintf("tool not found: %s", name)}
	}
	if err := te.Validate(name, params); err != nil {
		logger.Warn().Err(err).Msg("Parameter validation failed")
		return ToolResult{Error: fmt.Sprintf("parameter validation failed: %v", err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, te.timeout)
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := tool.Handler(runCtx, params)
		done <- outcome{out, err}
	}()

	var res ToolResult
	select {
	case o := <-done:
		if o.err != nil {
			res = ToolResult{Error: o.err.Error()}
		} else {
			out, truncated := truncate(o.out)
			res = ToolResult{Success: true, Output: out, Truncated: truncated}
		}
	case <-runCtx.Done():
		res = ToolResult{Error: fmt.Sprintf("tool execution timeout after %v", te.timeout)}
	}
	res.Duration = time.Since(start)

	observability.RecordToolExecution(name, res.Duration, res.Success)
	if res.Success {
		logger.Debug().Dur("duration", res.Duration).Bool("truncated", res.Truncated).Msg("Tool execution completed")
	} else {
		logger.Warn().Dur("duration", res.Duration).Str("error", res.Error).Msg("Tool execution failed")
	}
	return res
}

var validTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

func validateDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	switch def.ReviewType {
	case "", "stake", "supply", "unstake", "withdraw", "swap":
	default:
		return fmt.Errorf("invalid review type %q", def.ReviewType)
	}
	for _, p := range def.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if p.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", p.Name)
		}
		if !validTypes[p.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", p.Type, p.Name)
		}
	}
	return nil
}

func jsonSchema(def ToolDefinition) map[string]any {
	props := make(map[string]any, len(def.Parameters))
	var required []any
	for _, p := range def.Parameters {
		ps := map[string]any{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				enum[i] = v
			}
			ps["enum"] = enum
		}
		props[p.Name] = ps
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func truncate(out any) (any, bool) {
	s, ok := out.(string)
	if !ok || len(s) <= maxOutputSize {
		return out, false
	}
	return s[:maxOutputSize] + "\n... [output truncated]", true
}
