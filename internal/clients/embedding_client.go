/**
 * Embedding Client
 *
 * Generates VoyageAI voyage-3 embeddings (1024 dimensions) for drug names.
 * Used by the semantic fallback lookup and the reindex command.
 */

package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/adverant/nexus/drugid-worker/internal/logging"
)

const (
	// EmbeddingDimensions is the vector size produced by voyage-3.
	EmbeddingDimensions = 1024

	voyageModel     = "voyage-3"
	voyageBatchSize = 100 // VoyageAI batch API limit
	voyageMaxChars  = 16000
)

// EmbeddingClient handles VoyageAI embedding generation
type EmbeddingClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// VoyageEmbeddingRequest is the request body; Input holds one or more texts
type VoyageEmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// VoyageEmbeddingResponse represents the response from VoyageAI API
type VoyageEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewEmbeddingClient creates a new embedding client
func NewEmbeddingClient(apiKey string) (*EmbeddingClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("VoyageAI API key is required")
	}
	return &EmbeddingClient{
		apiKey:  apiKey,
		baseURL: "https://api.voyageai.com/v1/embeddings",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.NewLogger("EmbeddingClient"),
	}, nil
}

// GenerateEmbedding generates a 1024-dimensional embedding for the given text
func (e *EmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// GenerateEmbeddingBatch embeds texts in chunks of 100.
func (e *EmbeddingClient) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += voyageBatchSize {
		end := i + voyageBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embed(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end-1, err)
		}
		all = append(all, vecs...)
	}
	return all, nil
}

func (e *EmbeddingClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, t := range texts {
		if len(t) > voyageMaxChars {
			t = t[:voyageMaxChars]
		}
		input[i] = t
	}

	headers := map[string]string{"Authorization": "Bearer " + e.apiKey}
	start := time.Now()

	var resp VoyageEmbeddingResponse
	if err := postJSON(ctx, e.httpClient, e.baseURL, headers, VoyageEmbeddingRequest{Input: input, Model: voyageModel}, &resp); err != nil {
		return nil, fmt.Errorf("VoyageAI embedding failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("invalid embedding index: %d", d.Index)
		}
		if len(d.Embedding) != EmbeddingDimensions {
			return nil, fmt.Errorf("unexpected embedding dimensions for text %d: got %d, expected %d", d.Index, len(d.Embedding), EmbeddingDimensions)
		}
		out[d.Index] = d.Embedding
	}

	e.logger.Debug("VoyageAI embedding complete",
		"texts", len(texts),
		"tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start))

	return out, nil
}
