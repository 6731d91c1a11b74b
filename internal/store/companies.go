package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ashareinsight/ashareinsight/internal/domain"
)

// CompanyRepository implements the company-facing store operations:
// get_company and upsert_company.
type CompanyRepository struct {
	db *DB
}

func NewCompanyRepository(db *DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// GetCompany resolves identifier as, in order: exact stock code, exact full
// name, exact short name (case-insensitive, whitespace-stripped). Ambiguous
// short-name collisions resolve by preferring an exact code match.
func (r *CompanyRepository) GetCompany(ctx context.Context, identifier string) (*domain.Company, error) {
	needle := strings.ToLower(strings.TrimSpace(identifier))
	if needle == "" {
		return nil, domain.NewCompanyNotFoundError(identifier)
	}

	if c, err := r.queryOne(ctx, "SELECT * FROM companies WHERE lower(company_code) = ?", needle); err == nil {
		return c, nil
	} else if !isNoRows(err) {
		return nil, domain.NewRepositoryError("get_company(code)", err)
	}

	if c, err := r.queryOne(ctx, "SELECT * FROM companies WHERE lower(full_name) = ?", needle); err == nil {
		return c, nil
	} else if !isNoRows(err) {
		return nil, domain.NewRepositoryError("get_company(full_name)", err)
	}

	if c, err := r.queryOne(ctx, "SELECT * FROM companies WHERE lower(short_name) = ?", needle); err == nil {
		return c, nil
	} else if !isNoRows(err) {
		return nil, domain.NewRepositoryError("get_company(short_name)", err)
	}

	return nil, domain.NewCompanyNotFoundError(identifier)
}

func (r *CompanyRepository) queryOne(ctx context.Context, query string, arg string) (*domain.Company, error) {
	row := r.db.Conn().QueryRowContext(ctx, query, arg)
	return scanCompany(row)
}

func scanCompany(row *sql.Row) (*domain.Company, error) {
	var c domain.Company
	var createdAt, updatedAt string
	if err := row.Scan(&c.CompanyCode, &c.FullName, &c.ShortName, &c.Exchange, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &c, nil
}

func isNoRows(err error) bool { return err == sql.ErrNoRows }

// UpsertCompany is idempotent on CompanyCode. An existing row is enriched
// (short name / exchange updated if the new value is non-empty) rather than
// overwritten blindly.
func (r *CompanyRepository) UpsertCompany(ctx context.Context, c domain.Company) (*domain.Company, error) {
	now := time.Now().UTC()
	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO companies (company_code, full_name, short_name, exchange, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_code) DO UPDATE SET
			full_name  = excluded.full_name,
			short_name = CASE WHEN excluded.short_name <> '' THEN excluded.short_name ELSE companies.short_name END,
			exchange   = CASE WHEN excluded.exchange <> '' THEN excluded.exchange ELSE companies.exchange END,
			updated_at = excluded.updated_at
	`, c.CompanyCode, c.FullName, c.ShortName, c.Exchange, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, domain.NewRepositoryError("upsert_company", err)
	}
	return r.GetCompany(ctx, c.CompanyCode)
}

// UpsertCompanyTx is the transactional variant used by the Archival use-case,
// which must run company upsert and document insert atomically.
func UpsertCompanyTx(ctx context.Context, tx *sql.Tx, c domain.Company) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO companies (company_code, full_name, short_name, exchange, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_code) DO UPDATE SET
			full_name  = excluded.full_name,
			short_name = CASE WHEN excluded.short_name <> '' THEN excluded.short_name ELSE companies.short_name END,
			exchange   = CASE WHEN excluded.exchange <> '' THEN excluded.exchange ELSE companies.exchange END,
			updated_at = excluded.updated_at
	`, c.CompanyCode, c.FullName, c.ShortName, c.Exchange, now, now)
	return err
}

// CompanyExists reports whether a company row is already present, used by
// Archival to decide whether a research-report extraction for an unseen
// company should be skipped. q accepts either a live transaction or the
// pool itself.
func CompanyExists(ctx context.Context, q queryRower, code string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT count(*) FROM companies WHERE company_code = ?", code).Scan(&n)
	return n > 0, err
}
