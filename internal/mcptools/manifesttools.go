package mcptools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/ragserver/internal/apperr"
	"github.com/koopa0/ragserver/internal/manifest"
)

// GetManifestInput takes no parameters.
type GetManifestInput struct{}

// GetToolSchemaInput names the tool to fetch the full schema for.
type GetToolSchemaInput struct {
	Name string `json:"name" jsonschema:"description=Tool name to fetch the full input schema for."`
}

func (s *Server) registerManifestTools() error {
	manifestSchema, err := schemaFor[GetManifestInput]()
	if err != nil {
		return fmt.Errorf("schema for get_manifest: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_manifest",
		Description: "List every available tool's tier-1 brief: name, category, and a short description.",
		InputSchema: manifestSchema,
	}, s.GetManifest)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "get_manifest", Category: "manifest", Text: "List every tool's brief."},
		manifest.Schema{Name: "get_manifest", Description: "List every tool's tier-1 brief.", InputSchema: manifestSchema})

	schemaSchema, err := schemaFor[GetToolSchemaInput]()
	if err != nil {
		return fmt.Errorf("schema for get_tool_schema: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_tool_schema",
		Description: "Fetch one tool's full input schema and examples, loaded on demand after its brief has been selected.",
		InputSchema: schemaSchema,
	}, s.GetToolSchema)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "get_tool_schema", Category: "manifest", Text: "Fetch one tool's full schema on demand."},
		manifest.Schema{Name: "get_tool_schema", Description: "Fetch one tool's full input schema.", InputSchema: schemaSchema})

	return nil
}

// GetManifest handles the get_manifest tool call.
func (s *Server) GetManifest(_ context.Context, _ *mcp.CallToolRequest, _ GetManifestInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	briefs := s.manifest.GetManifest()
	return toResult(success("get_manifest", briefs, len(briefs), start))
}

// GetToolSchema handles the get_tool_schema tool call.
func (s *Server) GetToolSchema(_ context.Context, _ *mcp.CallToolRequest, in GetToolSchemaInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	if in.Name == "" {
		return toResult(failure("get_tool_schema", apperr.New(apperr.KindValidation, "name must not be empty"), start))
	}
	schema, ok := s.manifest.GetToolSchema(in.Name)
	if !ok {
		return toResult(failure("get_tool_schema", apperr.New(apperr.KindValidation, fmt.Sprintf("no schema registered for tool %q", in.Name)), start))
	}
	return toResult(success("get_tool_schema", schema, 1, start))
}
