// Package mcptools exposes ragserver's retrieval and vector-store
// operations as Model Context Protocol tools over
// github.com/modelcontextprotocol/go-sdk/mcp. Every tool returns the same
// envelope shape regardless of which stage failed, so a caller only needs
// to learn one response format.
package mcptools

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/ragserver/internal/apperr"
)

// Metadata rides alongside every tool response: how many results were
// returned, how long the call took, and which operation produced it.
type Metadata struct {
	Count     int    `json:"count"`
	TimingMs  int64  `json:"timing_ms"`
	Operation string `json:"operation"`
}

// EnvelopeError is one structured failure reported in an Envelope's
// Errors slice.
type EnvelopeError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Details     any      `json:"details,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Envelope is the uniform response shape every tool returns.
type Envelope struct {
	Success  bool            `json:"success"`
	Data     any             `json:"data,omitempty"`
	Metadata Metadata        `json:"metadata"`
	Errors   []EnvelopeError `json:"errors,omitempty"`
}

// errorSuggestions maps a stable error kind to the remediation hints
// surfaced alongside it. Kept separate from apperr.Kind itself since the
// wording here is tool-surface-facing, not internal error taxonomy.
var errorSuggestions = map[apperr.Kind][]string{
	apperr.KindValidation:         {"check the failing field against get_tool_schema"},
	apperr.KindPointNotFound:      {"verify the id exists with get_points or query_points", "the point may have been soft-deleted; check include_deleted"},
	apperr.KindDimensionMismatch:  {"confirm embedding_models.doc/code resolve to the collection's configured dimension"},
	apperr.KindBatchLimitExceeded: {"split the request into smaller batches"},
	apperr.KindVectorStoreUnavail: {"retry shortly", "check vector store connectivity and credentials"},
	apperr.KindEmbedFailed:        {"retry; if it persists check the embedding model configuration"},
	apperr.KindParseFailed:        {"check the source content is well-formed for the declared kind"},
	apperr.KindConfigError:        {"check ragserver.config.json and the documented environment variables"},
}

func success(operation string, data any, count int, start time.Time) Envelope {
	return Envelope{
		Success: true,
		Data:    data,
		Metadata: Metadata{
			Count:     count,
			TimingMs:  time.Since(start).Milliseconds(),
			Operation: operation,
		},
	}
}

func failure(operation string, err error, start time.Time) Envelope {
	code := "INTERNAL_ERROR"
	var suggestions []string
	if kind, ok := apperr.KindOf(err); ok {
		code = string(kind)
		suggestions = errorSuggestions[kind]
	}
	return Envelope{
		Success: false,
		Metadata: Metadata{
			TimingMs:  time.Since(start).Milliseconds(),
			Operation: operation,
		},
		Errors: []EnvelopeError{{
			Code:        code,
			Message:     err.Error(),
			Suggestions: suggestions,
		}},
	}
}

// toResult marshals env as the tool's JSON text content. A failed
// envelope still marshals cleanly, so IsError is the only MCP-level
// failure signal; the envelope itself carries the structured detail.
func toResult(env Envelope) (*mcp.CallToolResult, any, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: `{"success":false,"errors":[{"code":"INTERNAL_ERROR","message":"marshaling response"}]}`}},
			IsError: true,
		}, nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
		IsError: !env.Success,
	}, nil, nil
}
