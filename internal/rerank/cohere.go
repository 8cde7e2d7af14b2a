package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koopa0/ragserver/internal/chunk"
)

// CohereClient calls a Cohere-compatible rerank endpoint (Cohere itself, or
// a self-hosted cross-encoder server exposing the same request/response
// shape, e.g. text-embeddings-inference's /rerank).
type CohereClient struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewCohereClient builds a client for a Cohere-compatible rerank endpoint.
func NewCohereClient(endpoint, model, apiKey string, timeout time.Duration) *CohereClient {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	return &CohereClient{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Score implements ScoreFunc against the configured endpoint, scoring each
// candidate's content against query.
func (c *CohereClient) Score(ctx context.Context, query string, candidates []chunk.Chunk) ([]float64, error) {
	docs := make([]string, len(candidates))
	for i, cand := range candidates {
		docs[i] = cand.Content
	}

	payload := map[string]any{
		"model":     c.model,
		"query":     query,
		"documents": docs,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call rerank endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Results []struct {
			Index int     `json:"index"`
			Score float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]float64, len(docs))
	for _, result := range parsed.Results {
		if result.Index >= 0 && result.Index < len(scores) {
			scores[result.Index] = result.Score
		}
	}
	return scores, nil
}
