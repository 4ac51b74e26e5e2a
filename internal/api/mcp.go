package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/bizchat/internal/profile"
	"github.com/kalambet/bizchat/internal/tools"
)

const businessProfileURI = "business://profile"

// MCPDeps holds dependencies for the MCP server. Tools is assembled for a
// single principal; every call acts on that principal's knowledge base.
type MCPDeps struct {
	Tools       *tools.Set
	Profile     *profile.Manager
	PrincipalID string
}

// NewMCPServer creates an MCP server exposing the knowledge tools and the
// principal's business profile.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"bizchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("bizchat knowledge base: look up and store facts about the business."),
		server.WithRecovery(),
	)

	for _, t := range deps.Tools.Tools() {
		s.AddTool(t.MCP(), mcpTool(deps, t.Name))
	}

	if deps.Profile != nil {
		s.AddResource(
			mcp.NewResource(
				businessProfileURI,
				"Business Profile",
				mcp.WithResourceDescription("The business the assistant works for, as JSON"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceProfile(deps),
		)
	}
	return s
}

// mcpTool dispatches to the shared tool set. Tool failures are already
// textual apologies, so only unknown tools are flagged as errors.
func mcpTool(deps MCPDeps, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !deps.Tools.Has(name) {
			return mcpError(fmt.Sprintf("unknown tool %q", name)), nil
		}
		return mcpText(deps.Tools.Call(ctx, name, req.GetArguments())), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, found, err := deps.Profile.Get(ctx, deps.PrincipalID)
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		body := []byte("{}")
		if found {
			body, err = json.Marshal(profileBody{
				Name:        b.Name,
				Type:        b.Type,
				Size:        b.Size,
				Description: b.Description,
				UpdatedAt:   b.UpdatedAt,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to marshal profile: %w", err)
			}
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(body),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
