// Package mcp exposes validation, enhancement, generation and the schema
// as Model Context Protocol tools.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wtthornton/HomeIQ-sub005/pkg/enhance"
	"github.com/wtthornton/HomeIQ-sub005/pkg/generate"
	"github.com/wtthornton/HomeIQ-sub005/pkg/validate"
)

// Tools holds the components behind the MCP tools. Generator may be nil,
// in which case homeiq/generate is not registered.
type Tools struct {
	Pipeline  *validate.Pipeline
	Chain     *enhance.Chain
	Generator *generate.Generator
}

// NewServer creates an MCP server with the homeiq tools registered.
func NewServer(version string, t *Tools) *server.MCPServer {
	s := server.NewMCPServer(
		"homeiq",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("homeiq/validate",
			mcp.WithDescription("Validate Home Assistant automation YAML through syntax, structure, entity, logic and safety checks"),
			mcp.WithString("yaml", mcp.Description("Automation YAML text")),
			mcp.WithString("path", mcp.Description("Path to an automation YAML file (used when yaml is empty)")),
		),
		t.HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("homeiq/enhance",
			mcp.WithDescription("Apply best-practice enhancements to a valid automation"),
			mcp.WithString("yaml", mcp.Description("Automation YAML text")),
			mcp.WithString("path", mcp.Description("Path to an automation YAML file (used when yaml is empty)")),
		),
		t.HandleEnhance,
	)

	s.AddTool(
		mcp.NewTool("homeiq/schema",
			mcp.WithDescription("Export the automation JSON Schema (Draft 2020-12)"),
		),
		HandleSchema,
	)

	if t.Generator != nil {
		s.AddTool(
			mcp.NewTool("homeiq/generate",
				mcp.WithDescription("Generate a validated, enhanced automation from a natural-language request"),
				mcp.WithString("request", mcp.Required(), mcp.Description("What the automation should do")),
			),
			t.HandleGenerate,
		)
	}

	return s
}
