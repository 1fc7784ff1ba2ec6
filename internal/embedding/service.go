// Package embedding provides an OpenAI-compatible HTTP embedding client.
// Two independently configured instances of EmbeddingService back the dense-
// embed and chunk-embed capabilities, matching the model registry's
// requirement that the two never be conflated even when they happen to
// point at the same endpoint and model.
package embedding

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/fralid/video-search-editor/internal/errlog"
)

// EmbeddingService converts text into normalized embedding vectors.
type EmbeddingService interface {
	Embed(text string) ([]float64, error)
	EmbedBatch(texts []string) ([][]float64, error)
}

// APIEmbeddingService implements EmbeddingService against an OpenAI-compatible
// /embeddings endpoint.
type APIEmbeddingService struct {
	Endpoint  string
	APIKey    string
	ModelName string
	client    *http.Client
}

// NewAPIEmbeddingService creates a new APIEmbeddingService with the given configuration.
func NewAPIEmbeddingService(endpoint, apiKey, modelName string) *APIEmbeddingService {
	if apiKey != "" && !strings.HasPrefix(strings.ToLower(endpoint), "https://") {
		log.Printf("[WARNING] embedding API key is being sent over non-HTTPS endpoint: %s", endpoint)
	}
	return &APIEmbeddingService{
		Endpoint:  endpoint,
		APIKey:    apiKey,
		ModelName: modelName,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Encode implements chunker.Embedder: it batches and normalizes in one call.
func (s *APIEmbeddingService) Encode(texts []string) ([][]float64, error) {
	return s.EmbedBatch(texts)
}

type embeddingRequest struct {
	Model string      `json:"model"`
	Input interface{} `json:"input"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Embed converts a single text string into a normalized embedding vector.
func (s *APIEmbeddingService) Embed(text string) ([]float64, error) {
	if s.Endpoint == "" {
		return nil, fmt.Errorf("embedding API endpoint not configured")
	}
	results, err := s.callAPI(text)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("embedding API returned no results")
	}
	return normalize(results[0].Embedding), nil
}

// EmbedBatch converts multiple text strings into normalized embedding vectors.
func (s *APIEmbeddingService) EmbedBatch(texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if s.Endpoint == "" {
		return nil, fmt.Errorf("embedding API endpoint not configured")
	}
	const maxBatchSize = 256
	if len(texts) > maxBatchSize {
		return nil, fmt.Errorf("batch size %d exceeds maximum of %d", len(texts), maxBatchSize)
	}

	results, err := s.callAPI(texts)
	if err != nil {
		return nil, err
	}
	if len(results) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d results, expected %d", len(results), len(texts))
	}
	embeddings := make([][]float64, len(texts))
	for _, d := range results {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding API returned invalid index %d", d.Index)
		}
		embeddings[d.Index] = normalize(d.Embedding)
	}
	return embeddings, nil
}

func normalize(v []float64) []float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	norm := math.Sqrt(sumSq)
	if norm < 1e-12 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func (s *APIEmbeddingService) callAPI(input interface{}) ([]embeddingData, error) {
	reqBody := embeddingRequest{
		Model: s.ModelName,
		Input: input,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	apiURL := strings.TrimRight(s.Endpoint, "/") + "/embeddings"

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 5 * time.Second
			log.Printf("[Embed] retry %d/%d after %v", attempt+1, maxRetries, backoff)
			time.Sleep(backoff)
		}

		req, err := http.NewRequest(http.MethodPost, apiURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.APIKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("embedding API request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20)) // hard response-size cap
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("embedding API error (HTTP %d): %s", resp.StatusCode, string(respBody))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			var errResp embeddingResponse
			if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != nil {
				errlog.Errorf("embedding API error (HTTP %d): %s", resp.StatusCode, errResp.Error.Message)
				return nil, fmt.Errorf("embedding API error (HTTP %d): %s", resp.StatusCode, errResp.Error.Message)
			}
			errlog.Errorf("embedding API error (HTTP %d): %s", resp.StatusCode, string(respBody))
			return nil, fmt.Errorf("embedding API error (HTTP %d): %s", resp.StatusCode, string(respBody))
		}

		var result embeddingResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if result.Error != nil {
			return nil, fmt.Errorf("embedding API error: %s", result.Error.Message)
		}

		return result.Data, nil
	}

	errlog.Errorf("embedding API failed after %d retries: %v", maxRetries, lastErr)
	return nil, lastErr
}
