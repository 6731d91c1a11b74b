// Package marketdataclient is the market-data provider collaborator: an
// offline source of daily (code, name, market-cap, turnover) snapshots,
// fetched over HTTP with one unbatched request behind a circuit breaker.
// Failed requests are not retried.
package marketdataclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/reliability"
)

// Config configures the HTTP market-data collaborator.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
	OnTrip           func(name string)
}

type snapshotRow struct {
	Code                 string  `json:"code"`
	Name                 string  `json:"name"`
	TotalMarketCap       float64 `json:"total_market_cap"`
	CirculatingMarketCap float64 `json:"circulating_market_cap"`
	TurnoverAmount       float64 `json:"turnover_amount"`
}

type snapshotResponse struct {
	Data struct {
		Rows []snapshotRow `json:"rows"`
	} `json:"data"`
}

// Client implements scheduler.Provider by calling GET /market-data/daily-snapshot.
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
			Name:             "market_data",
			FailureThreshold: cfg.BreakerThreshold,
			Cooldown:         cfg.BreakerCooldown,
			OnTrip:           cfg.OnTrip,
		}),
		log: log.With().Str("component", "marketdataclient").Logger(),
	}
}

// FetchDailySnapshot retrieves one day's tuples for every A-share company
// the provider currently knows about.
func (c *Client) FetchDailySnapshot(ctx context.Context) ([]domain.MarketDataDaily, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doFetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.MarketDataDaily), nil
}

func (c *Client) doFetch(ctx context.Context) ([]domain.MarketDataDaily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/market-data/daily-snapshot", nil)
	if err != nil {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceMarketData, "build_request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceMarketData, "fetch_daily_snapshot", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceMarketData, "read_response", err)
	}
	if resp.StatusCode >= 500 {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceMarketData, "fetch_daily_snapshot",
			fmt.Errorf("market data provider returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceMarketData, "fetch_daily_snapshot",
			fmt.Errorf("market data provider rejected request: %d: %s", resp.StatusCode, string(body)))
	}

	var parsed snapshotResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&parsed); err != nil {
		return nil, domain.NewExternalServiceError(domain.ExternalServiceMarketData, "decode_response", err)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	rows := make([]domain.MarketDataDaily, 0, len(parsed.Data.Rows))
	for _, r := range parsed.Data.Rows {
		rows = append(rows, domain.MarketDataDaily{
			CompanyCode:       r.Code,
			TradingDate:       today,
			TotalMarketCap:    r.TotalMarketCap,
			CirculatingCap:    r.CirculatingMarketCap,
			TurnoverAmountCNY: r.TurnoverAmount,
		})
	}
	return rows, nil
}
