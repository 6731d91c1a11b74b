// Package marketstore is the Market-Data Store: daily market-cap/turnover
// snapshots per company and the derived 5-day rolling average the market
// filter consumes.
package marketstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/ashareinsight/ashareinsight/internal/domain"
)

const (
	rollingWindow     = 5
	lookbackDays      = 7
	dateLayout        = "2006-01-02"
)

// Store implements save_daily_snapshot, get_current and prune over a
// dedicated append-only-profile SQLite database.
type Store struct {
	conn *sql.DB
}

func New(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// SaveDailySnapshot upserts one trading day's rows. Latest write for a given
// (company_code, trading_date) wins.
func (s *Store) SaveDailySnapshot(ctx context.Context, rows []domain.MarketDataDaily) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewRepositoryError("save_daily_snapshot", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO market_data_daily (company_code, trading_date, total_market_cap, circulating_cap, turnover_amount_cny)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(company_code, trading_date) DO UPDATE SET
			total_market_cap    = excluded.total_market_cap,
			circulating_cap     = excluded.circulating_cap,
			turnover_amount_cny = excluded.turnover_amount_cny
	`)
	if err != nil {
		return domain.NewRepositoryError("save_daily_snapshot", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.CompanyCode, row.TradingDate.UTC().Format(dateLayout),
			row.TotalMarketCap, row.CirculatingCap, row.TurnoverAmountCNY); err != nil {
			return domain.NewRepositoryError("save_daily_snapshot", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.NewRepositoryError("save_daily_snapshot", err)
	}
	return nil
}

// GetCurrent returns the derived current view for each requested code.
// Codes with no snapshots are silently omitted from the result.
func (s *Store) GetCurrent(ctx context.Context, codes []string) (map[string]domain.MarketDataCurrent, error) {
	out := make(map[string]domain.MarketDataCurrent, len(codes))
	for _, code := range codes {
		cur, ok, err := s.getCurrentOne(ctx, code)
		if err != nil {
			return nil, err
		}
		if ok {
			out[code] = cur
		}
	}
	return out, nil
}

func (s *Store) getCurrentOne(ctx context.Context, code string) (domain.MarketDataCurrent, bool, error) {
	var latest domain.MarketDataDaily
	var tradingDate string
	err := s.conn.QueryRowContext(ctx, `
		SELECT company_code, trading_date, total_market_cap, circulating_cap, turnover_amount_cny
		FROM market_data_daily
		WHERE company_code = ?
		ORDER BY trading_date DESC
		LIMIT 1
	`, code).Scan(&latest.CompanyCode, &tradingDate, &latest.TotalMarketCap, &latest.CirculatingCap, &latest.TurnoverAmountCNY)
	if err == sql.ErrNoRows {
		return domain.MarketDataCurrent{}, false, nil
	}
	if err != nil {
		return domain.MarketDataCurrent{}, false, domain.NewRepositoryError("get_current", err)
	}
	latest.TradingDate, _ = time.Parse(dateLayout, tradingDate)

	lookbackCutoff := latest.TradingDate.AddDate(0, 0, -lookbackDays)
	rows, err := s.conn.QueryContext(ctx, `
		SELECT turnover_amount_cny FROM market_data_daily
		WHERE company_code = ? AND trading_date < ? AND trading_date >= ?
		ORDER BY trading_date DESC
		LIMIT ?
	`, code, tradingDate, lookbackCutoff.Format(dateLayout), rollingWindow)
	if err != nil {
		return domain.MarketDataCurrent{}, false, domain.NewRepositoryError("get_current", err)
	}
	defer rows.Close()

	var sum float64
	var n int
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return domain.MarketDataCurrent{}, false, domain.NewRepositoryError("get_current", err)
		}
		sum += v
		n++
	}
	if err := rows.Err(); err != nil {
		return domain.MarketDataCurrent{}, false, domain.NewRepositoryError("get_current", err)
	}

	avg := latest.TurnoverAmountCNY
	if n > 0 {
		avg = sum / float64(n)
	}

	return domain.MarketDataCurrent{
		CompanyCode:      code,
		CurrentMarketCap: latest.TotalMarketCap,
		CirculatingCap:   latest.CirculatingCap,
		TodayVolume:      latest.TurnoverAmountCNY,
		Avg5DayVolume:    avg,
		LastUpdated:      latest.TradingDate,
	}, true, nil
}

// Prune removes snapshots older than retentionDays relative to now.
func (s *Store) Prune(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(dateLayout)
	res, err := s.conn.ExecContext(ctx, "DELETE FROM market_data_daily WHERE trading_date < ?", cutoff)
	if err != nil {
		return 0, domain.NewRepositoryError("prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.NewRepositoryError("prune", err)
	}
	return n, nil
}
