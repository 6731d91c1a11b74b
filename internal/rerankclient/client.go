// Package rerankclient is the rerank service client: reorders a recalled
// document list by relevance to a query, degrading gracefully to "no
// rerank" when the service is unhealthy.
package rerankclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/reliability"
)

const (
	maxDocuments   = 500
	maxDocChars    = 8192
)

// Config configures the HTTP rerank collaborator.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
	OnTrip           func(name string)
}

// Result is one reranked document, index pointing back into the caller's
// input slice so metadata can be re-attached.
type Result struct {
	Index int
	Score float64
}

// Client implements rerank(query, documents, top_k).
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
			Name:             "rerank",
			FailureThreshold: cfg.BreakerThreshold,
			Cooldown:         cfg.BreakerCooldown,
			OnTrip:           cfg.OnTrip,
		}),
		log: log.With().Str("component", "rerankclient").Logger(),
	}
}

// Healthy reports whether the breaker currently permits calls, so the
// caller can decide up front whether to attempt reranking at all.
func (c *Client) Healthy() bool {
	return c.breaker.State() != "open"
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k"`
}

type rerankResultDTO struct {
	Index    int     `json:"index"`
	Score    float64 `json:"score"`
	Document string  `json:"document"`
}

type rerankResponse struct {
	Data struct {
		Results []rerankResultDTO `json:"results"`
	} `json:"data"`
	Stats map[string]any `json:"stats"`
}

// Rerank validates input bounds and returns up to topK results sorted by
// descending score. A validation failure (bad input) is returned as an
// error; a transport/5xx failure after retries returns a
// *domain.ExternalServiceError — the caller (retrieval) treats that as
// "skip reranking", not as a request failure.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error) {
	if len(documents) > maxDocuments {
		return nil, domain.NewValidationError("documents", fmt.Sprintf("exceeds max %d", maxDocuments))
	}
	for i, d := range documents {
		if utf8.RuneCountInString(d) > maxDocChars {
			return nil, domain.NewValidationError(fmt.Sprintf("documents[%d]", i), fmt.Sprintf("exceeds max %d chars", maxDocChars))
		}
	}
	if len(documents) == 0 {
		return nil, nil
	}

	var response *rerankResponse
	err := reliability.Retry(ctx, reliability.RetryPolicy{MaxAttempts: 2, BaseDelay: 150 * time.Millisecond, Jitter: true},
		func(error) bool { return true }, func(attempt int) error {
			resp, err := c.doRerankRequest(ctx, query, documents, topK)
			if err != nil {
				c.log.Warn().Err(err).Int("attempt", attempt).Msg("rerank request failed")
				return err
			}
			response = resp
			return nil
		})
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(response.Data.Results))
	for _, r := range response.Data.Results {
		out = append(out, Result{Index: r.Index, Score: r.Score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (c *Client) doRerankRequest(ctx context.Context, query string, documents []string, topK int) (*rerankResponse, error) {
	raw, err := c.breaker.Execute(func() (any, error) {
		return c.requestOnce(ctx, query, documents, topK)
	})
	if err != nil {
		return nil, err
	}
	return raw.(*rerankResponse), nil
}

func (c *Client) requestOnce(ctx context.Context, query string, documents []string, topK int) (*rerankResponse, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Documents: documents, TopK: topK})
	if err != nil {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceRerank, "marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceRerank, "build_request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceRerank, "do_request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return nil, domain.NewExternalServiceError(domain.ExternalServiceRerank, "response",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(b)))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceRerank, "decode", err)
	}
	return &out, nil
}
