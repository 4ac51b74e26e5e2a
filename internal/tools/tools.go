// Package tools builds the functions the model may call during a turn.
// Descriptors are mcp-go tool definitions so the same set can be served
// over MCP.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/bizchat/internal/metrics"
)

// Tool is one callable function. Execute errors never reach the model;
// Set.Call replaces them with Apology.
type Tool struct {
	Name        string
	Description string
	InputSchema mcp.ToolInputSchema
	Apology     string
	Execute     func(ctx context.Context, args map[string]any) (string, error)
}

func newTool(def mcp.Tool, apology string, exec func(ctx context.Context, args map[string]any) (string, error)) Tool {
	return Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: def.InputSchema,
		Apology:     apology,
		Execute:     exec,
	}
}

// MCP returns the descriptor in mcp-go form.
func (t Tool) MCP() mcp.Tool {
	return mcp.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
}

// Observer is notified before every tool execution.
type Observer func(name string, args map[string]any)

// Set is the tool surface of one turn. A nil *Set has no tools.
type Set struct {
	tools    []Tool
	byName   map[string]int
	observer Observer
	metrics  *metrics.Metrics
}

func newSet(tools []Tool, observer Observer, m *metrics.Metrics) *Set {
	s := &Set{tools: tools, byName: make(map[string]int, len(tools)), observer: observer, metrics: m}
	for i, t := range tools {
		s.byName[t.Name] = i
	}
	return s
}

// Tools returns the descriptors in registration order.
func (s *Set) Tools() []Tool {
	if s == nil {
		return nil
	}
	return s.tools
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tools)
}

// Has reports whether a tool with the given name is in the set.
func (s *Set) Has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.byName[name]
	return ok
}

// Call notifies the observer and runs the named tool. The result is always
// text for the model: unknown tools and failures come back as messages.
func (s *Set) Call(ctx context.Context, name string, args map[string]any) string {
	if s != nil && s.observer != nil {
		s.observer(name, args)
	}
	if !s.Has(name) {
		return fmt.Sprintf("Error: unknown tool %q.", name)
	}

	t := s.tools[s.byName[name]]
	out, err := t.Execute(ctx, args)
	s.metrics.ToolCall(name, err != nil)
	if err != nil {
		slog.Warn("tool execution failed", "tool", name, "error", err)
		return t.Apology
	}
	return out
}
