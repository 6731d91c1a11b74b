// Package embedclient is the embedding service client: batches texts to
// the provider's limit, fans requests out concurrently, and concatenates
// results back into input order.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/reliability"
)

// Config configures the HTTP embedding collaborator.
type Config struct {
	BaseURL          string
	BatchSize        int
	Timeout          time.Duration
	Concurrency      int
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
	OnTrip           func(name string)
}

// Client implements embed([texts]) -> [][]float32, with chunking,
// concurrency and retry.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *reliability.Breaker
	log        zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker: reliability.NewBreaker(reliability.BreakerConfig{
			Name:             "embedding",
			FailureThreshold: cfg.BreakerThreshold,
			Cooldown:         cfg.BreakerCooldown,
			OnTrip:           cfg.OnTrip,
		}),
		log: log.With().Str("component", "embedclient").Logger(),
	}
}

type embedRequest struct {
	Texts     []string `json:"texts"`
	Normalize bool     `json:"normalize"`
	BatchSize int      `json:"batch_size"`
}

type embedResponseData struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	Count      int         `json:"count"`
}

type embedResponse struct {
	Data  embedResponseData `json:"data"`
	Stats map[string]any    `json:"stats"`
}

// Embed validates input, chunks it into provider-sized batches, issues them
// concurrently (bounded by Concurrency), and reassembles vectors in input
// order. Empty texts fail the whole call with a ValidationError; a
// mismatch between the number of texts and the number of vectors the
// provider returns is fatal. Vector width is not checked here.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("texts[%d]", i), "must be non-empty")
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}

	batches := chunk(texts, c.cfg.BatchSize)
	results := make([][][]float32, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, c.cfg.Concurrency))
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			vecs, err := c.embedBatch(gctx, batch)
			if err != nil {
				return err
			}
			results[i] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for _, r := range results {
		out = append(out, r...)
	}
	if len(out) != len(texts) {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceEmbedding, "embed",
			&domain.EmbeddingDimensionError{Expected: len(texts), Got: len(out)})
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var response *embedResponse
	retryable := func(err error) bool {
		return isTransportOr5xx(err)
	}
	err := reliability.Retry(ctx, reliability.RetryPolicy{MaxAttempts: 4, BaseDelay: 200 * time.Millisecond, Jitter: true},
		retryable, func(attempt int) error {
			resp, err := c.doEmbedRequest(ctx, texts)
			if err != nil {
				c.log.Warn().Err(err).Int("attempt", attempt).Int("batch_size", len(texts)).Msg("embed request failed")
				return err
			}
			response = resp
			return nil
		})
	if err != nil {
		return nil, err
	}
	if response.Data.Count != len(texts) || len(response.Data.Embeddings) != len(texts) {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceEmbedding, "embed",
			&domain.EmbeddingDimensionError{Expected: len(texts), Got: len(response.Data.Embeddings)})
	}
	return response.Data.Embeddings, nil
}

func (c *Client) doEmbedRequest(ctx context.Context, texts []string) (*embedResponse, error) {
	raw, err := c.breaker.Execute(func() (any, error) {
		return c.requestOnce(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return raw.(*embedResponse), nil
}

func (c *Client) requestOnce(ctx context.Context, texts []string) (*embedResponse, error) {
	body, err := json.Marshal(embedRequest{Texts: texts, Normalize: true, BatchSize: len(texts)})
	if err != nil {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceEmbedding, "marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceEmbedding, "build_request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: domain.NewExternalServiceError(domain.ExternalServiceEmbedding, "do_request", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &serverError{err: domain.NewExternalServiceError(domain.ExternalServiceEmbedding, "response",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(b)))}
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return nil, domain.NewValidationError("embed", fmt.Sprintf("status %d: %s", resp.StatusCode, string(b)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceEmbedding, "decode", err)
	}
	return &out, nil
}

// transportError and serverError mark the two retryable failure classes:
// transport-level errors and 5xx responses. A 4xx surfaces as a plain
// ValidationError and is never wrapped, so isTransportOr5xx rejects it.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

type serverError struct{ err error }

func (e *serverError) Error() string { return e.err.Error() }
func (e *serverError) Unwrap() error { return e.err }

func isTransportOr5xx(err error) bool {
	var te *transportError
	var se *serverError
	return domain.As(err, &te) || domain.As(err, &se)
}

func chunk(texts []string, size int) [][]string {
	if size <= 0 {
		size = len(texts)
	}
	var out [][]string
	for i := 0; i < len(texts); i += size {
		end := i + size
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, texts[i:end])
	}
	return out
}
