package mcptools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/ragserver/internal/apperr"
	"github.com/koopa0/ragserver/internal/chunk"
	"github.com/koopa0/ragserver/internal/classify"
	"github.com/koopa0/ragserver/internal/manifest"
	"github.com/koopa0/ragserver/internal/synthesize"
)

// SearchInput is the search tool's input: a free-text query plus the
// optional restrictions spec names.
type SearchInput struct {
	Query       string `json:"query" jsonschema:"description=The search query text."`
	ContentType string `json:"content_type,omitempty" jsonschema:"description=Restrict results to one content type: text, list, table, or code."`
	Language    string `json:"language,omitempty" jsonschema:"description=Restrict results to one programming language."`
	TopK        int    `json:"top_k,omitempty" jsonschema:"description=Maximum number of results to return."`
}

// AskInput is the ask tool's input.
type AskInput struct {
	Question string `json:"question" jsonschema:"description=The question to answer from indexed content."`
}

// ExplainInput is the explain tool's input.
type ExplainInput struct {
	Topic string `json:"topic" jsonschema:"description=The topic or concept to explain."`
}

func (s *Server) registerQueryTools() error {
	searchSchema, err := schemaFor[SearchInput]()
	if err != nil {
		return fmt.Errorf("schema for search: %w", err)
	}
	searchTool := &mcp.Tool{
		Name:        "search",
		Description: "Semantic search over indexed chunks. Returns raw ranked chunks with scores, no synthesized answer.",
		InputSchema: searchSchema,
	}
	mcp.AddTool(s.mcpServer, searchTool, s.Search)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "search", Category: "query",
			Text:     "Semantic search over indexed chunks, returning raw scored results.",
			UseCases: []string{"find where something is defined or mentioned"}},
		manifest.Schema{Name: "search", Description: searchTool.Description, InputSchema: searchSchema})

	askSchema, err := schemaFor[AskInput]()
	if err != nil {
		return fmt.Errorf("schema for ask: %w", err)
	}
	askTool := &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question by retrieving relevant chunks and synthesizing a cited response.",
		InputSchema: askSchema,
	}
	mcp.AddTool(s.mcpServer, askTool, s.Ask)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "ask", Category: "query",
			Text:     "Answer a natural-language question with a synthesized, cited response.",
			UseCases: []string{"ask how something works", "ask what a list of items is"}},
		manifest.Schema{Name: "ask", Description: askTool.Description, InputSchema: askSchema})

	explainSchema, err := schemaFor[ExplainInput]()
	if err != nil {
		return fmt.Errorf("schema for explain: %w", err)
	}
	explainTool := &mcp.Tool{
		Name:        "explain",
		Description: "Explain a topic, forcing explanation-style synthesis (prose grouped by file in line order; of two overlapping chunks only the longer is kept).",
		InputSchema: explainSchema,
	}
	mcp.AddTool(s.mcpServer, explainTool, s.Explain)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "explain", Category: "query",
			Text:     "Explain a topic or concept with prose grouped by file in line order.",
			UseCases: []string{"understand a subsystem or concept in depth"}},
		manifest.Schema{Name: "explain", Description: explainTool.Description, InputSchema: explainSchema})

	return nil
}

// Search handles the search tool call: classify, retrieve, rerank, return
// raw chunks.
func (s *Server) Search(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if strings.TrimSpace(in.Query) == "" {
		return toResult(failure("search", apperr.New(apperr.KindValidation, "query must not be empty"), start))
	}

	result, err := classify.Classify(in.Query)
	if err != nil {
		return toResult(failure("search", err, start))
	}
	hints := result.Hints
	if in.ContentType != "" {
		ct := chunk.ContentType(in.ContentType)
		hints.RestrictContentType = &ct
	}
	if in.TopK > 0 {
		hints.TopK = in.TopK
	}

	candidates, err := s.retriever.Retrieve(ctx, in.Query, hints)
	if err != nil {
		return toResult(failure("search", err, start))
	}
	if in.Language != "" {
		candidates = filterByLanguage(candidates, in.Language)
	}

	ranked, err := s.reranker.Rerank(ctx, in.Query, candidates)
	if err != nil {
		return toResult(failure("search", err, start))
	}

	return toResult(success("search", ranked, len(ranked), start))
}

// Ask handles the ask tool call: classify, retrieve (twice for
// comparison), rerank, synthesize.
func (s *Server) Ask(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if strings.TrimSpace(in.Question) == "" {
		return toResult(failure("ask", apperr.New(apperr.KindValidation, "question must not be empty"), start))
	}

	result, err := classify.Classify(in.Question)
	if err != nil {
		return toResult(failure("ask", err, start))
	}

	if result.Intent == classify.IntentComparison && len(result.Hints.Operands) == 2 {
		a, b := result.Hints.Operands[0], result.Hints.Operands[1]
		chunksA, err := s.retrieveAndRerank(ctx, a, result.Hints)
		if err != nil {
			return toResult(failure("ask", err, start))
		}
		chunksB, err := s.retrieveAndRerank(ctx, b, result.Hints)
		if err != nil {
			return toResult(failure("ask", err, start))
		}
		answer := synthesize.SynthesizeComparison(a, chunksA, b, chunksB)
		return toResult(success("ask", answer, len(answer.Citations), start))
	}

	ranked, err := s.retrieveAndRerank(ctx, in.Question, result.Hints)
	if err != nil {
		return toResult(failure("ask", err, start))
	}
	answer, err := synthesize.Synthesize(result.Intent, ranked)
	if err != nil {
		return toResult(failure("ask", err, start))
	}
	return toResult(success("ask", answer, len(answer.Citations), start))
}

// Explain handles the explain tool call: like ask, with intent forced to
// explanation.
func (s *Server) Explain(ctx context.Context, _ *mcp.CallToolRequest, in ExplainInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if strings.TrimSpace(in.Topic) == "" {
		return toResult(failure("explain", apperr.New(apperr.KindValidation, "topic must not be empty"), start))
	}

	hints := classify.Hints{TopK: 20, Expand: true, OrderBySection: true}
	ranked, err := s.retrieveAndRerank(ctx, in.Topic, hints)
	if err != nil {
		return toResult(failure("explain", err, start))
	}
	answer, err := synthesize.Synthesize(classify.IntentExplanation, ranked)
	if err != nil {
		return toResult(failure("explain", err, start))
	}
	return toResult(success("explain", answer, len(answer.Citations), start))
}

func (s *Server) retrieveAndRerank(ctx context.Context, query string, hints classify.Hints) ([]chunk.Chunk, error) {
	candidates, err := s.retriever.Retrieve(ctx, query, hints)
	if err != nil {
		return nil, err
	}
	return s.reranker.Rerank(ctx, query, candidates)
}

func filterByLanguage(chunks []chunk.Chunk, language string) []chunk.Chunk {
	out := make([]chunk.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Language == language {
			out = append(out, c)
		}
	}
	return out
}
