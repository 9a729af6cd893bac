// Package openai implements the embedding provider client for
// OpenAI-compatible APIs.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/repodex/internal/domain"
	"github.com/kailas-cloud/repodex/internal/metrics"
)

// tokenSource supplies the bearer token for each request (ISP; implemented
// by the credential supervisor).
type tokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Embedder is an embedding provider using the OpenAI-compatible API.
// The client is rebuilt whenever the supervised token rotates.
type Embedder struct {
	tokens     tokenSource
	baseURL    string
	model      openai.EmbeddingModel
	dimensions  int
	maxBatch    int
	maxRetries  uint64
	callTimeout time.Duration
	logger      *zap.Logger

	mu          sync.Mutex
	client      *openai.Client
	clientToken string
}

// Config holds the embedding provider settings.
type Config struct {
	BaseURL     string
	Model       string
	Dimensions  int
	MaxBatch    int
	MaxRetries  int
	CallTimeout time.Duration // budget per provider call attempt
	Logger      *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider that draws its
// token from the given source on every call.
func NewEmbedder(tokens tokenSource, cfg *Config) *Embedder {
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 64
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Embedder{
		tokens:      tokens,
		baseURL:     cfg.BaseURL,
		model:       openai.EmbeddingModel(cfg.Model),
		dimensions:  cfg.Dimensions,
		maxBatch:    maxBatch,
		maxRetries:  uint64(retries),
		callTimeout: callTimeout,
		logger:      cfg.Logger,
	}
}

// clientFor returns a client authorized with the current token, rebuilding
// it only when the token rotates.
func (e *Embedder) clientFor(ctx context.Context) (*openai.Client, error) {
	token, err := e.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil || e.clientToken != token {
		clientCfg := openai.DefaultConfig(token)
		clientCfg.BaseURL = e.baseURL
		e.client = openai.NewClientWithConfig(clientCfg)
		e.clientToken = token
	}
	return e.client, nil
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	batch, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    batch.Embeddings[0],
		PromptTokens: batch.PromptTokens,
		TotalTokens:  batch.TotalTokens,
	}, nil
}

// BatchEmbed implements domain.BatchEmbedder. Inputs are split into
// provider-sized batches; each API call retries transient failures with
// exponential backoff.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	result := domain.BatchEmbeddingResult{
		Embeddings: make([][]float32, 0, len(texts)),
	}
	for start := 0; start < len(texts); start += e.maxBatch {
		end := start + e.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		part, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
		result.Embeddings = append(result.Embeddings, part.Embeddings...)
		result.PromptTokens += part.PromptTokens
		result.TotalTokens += part.TotalTokens
	}
	return result, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	var out domain.BatchEmbeddingResult

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()

		client, err := e.clientFor(callCtx)
		if err != nil {
			// Credential trouble is not the provider's fault; don't burn retries on it.
			return backoff.Permanent(err)
		}

		req := openai.EmbeddingRequest{
			Input:          texts,
			Model:          e.model,
			EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		}
		if e.dimensions > 0 {
			req.Dimensions = e.dimensions
		}

		start := time.Now()
		resp, err := client.CreateEmbeddings(callCtx, req)
		duration := time.Since(start)

		if err != nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "error").Inc()
			metrics.EmbeddingErrorsTotal.WithLabelValues(string(e.model), "api_error").Inc()
			parsed := parseAPIError(err)
			if isRetryable(err) {
				e.logger.Warn("Embedding request failed, retrying", zap.Error(parsed))
				return parsed
			}
			return backoff.Permanent(parsed)
		}

		if len(resp.Data) != len(texts) {
			metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "error").Inc()
			metrics.EmbeddingErrorsTotal.WithLabelValues(string(e.model), "bad_response").Inc()
			return backoff.Permanent(fmt.Errorf(
				"embedding response has %d vectors for %d inputs: %w",
				len(resp.Data), len(texts), domain.ErrEmbeddingProviderError))
		}

		metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "success").Inc()
		metrics.EmbeddingRequestDuration.WithLabelValues(string(e.model)).Observe(duration.Seconds())
		if resp.Usage.TotalTokens > 0 {
			metrics.EmbeddingTokensTotal.WithLabelValues(string(e.model), "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.EmbeddingTokensTotal.WithLabelValues(string(e.model), "total").Add(float64(resp.Usage.TotalTokens))
		}

		embeddings := make([][]float32, len(resp.Data))
		for _, d := range resp.Data {
			embeddings[d.Index] = d.Embedding
		}
		out = domain.BatchEmbeddingResult{
			Embeddings:   embeddings,
			PromptTokens: resp.Usage.PromptTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	return out, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	client, err := e.clientFor(ctx)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if _, err := client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// isRetryable reports whether an API error is worth retrying: rate limits,
// server-side failures, or transport errors without a status at all.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

// parseAPIError extracts a human-readable error from the API response.
// All errors are wrapped with domain.ErrEmbeddingProviderError for correct 502 mapping.
func parseAPIError(err error) error {
	wrap := domain.ErrEmbeddingProviderError

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail != "" {
			return fmt.Errorf("embedding API error %d: %s: %w",
				reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("embedding API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("embedding request failed: %w", wrap)
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
