package store

import (
	"context"
	"testing"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/store/schema"
)

func newCompanyTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: ":memory:", Name: "companies_test", Profile: ProfileStandard})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.Conn().SetMaxOpenConns(1)
	if err := db.Migrate(context.Background(), schema.ConceptSchemaSQL); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCompanyRepository_UpsertThenGetByEachIdentifier(t *testing.T) {
	db := newCompanyTestDB(t)
	repo := NewCompanyRepository(db)
	ctx := context.Background()

	c := domain.Company{CompanyCode: "300257", FullName: "Test Corp", ShortName: "TestCo", Exchange: "SZSE"}
	if _, err := repo.UpsertCompany(ctx, c); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	for _, identifier := range []string{"300257", "Test Corp", "testco", "  TESTCO  "} {
		got, err := repo.GetCompany(ctx, identifier)
		if err != nil {
			t.Fatalf("get_company(%q): %v", identifier, err)
		}
		if got.CompanyCode != "300257" {
			t.Fatalf("get_company(%q) resolved to the wrong company: %+v", identifier, got)
		}
	}
}

func TestCompanyRepository_GetCompany_UnknownIdentifier(t *testing.T) {
	db := newCompanyTestDB(t)
	repo := NewCompanyRepository(db)

	_, err := repo.GetCompany(context.Background(), "does-not-exist")
	var notFound *domain.CompanyNotFoundError
	if !domain.As(err, &notFound) {
		t.Fatalf("expected a CompanyNotFoundError, got %v", err)
	}
}

func TestCompanyRepository_GetCompany_EmptyIdentifier(t *testing.T) {
	db := newCompanyTestDB(t)
	repo := NewCompanyRepository(db)

	_, err := repo.GetCompany(context.Background(), "   ")
	var notFound *domain.CompanyNotFoundError
	if !domain.As(err, &notFound) {
		t.Fatalf("expected a CompanyNotFoundError for a blank identifier, got %v", err)
	}
}

func TestCompanyRepository_UpsertCompany_PreservesNonEmptyFieldsOnBlankUpdate(t *testing.T) {
	db := newCompanyTestDB(t)
	repo := NewCompanyRepository(db)
	ctx := context.Background()

	if _, err := repo.UpsertCompany(ctx, domain.Company{CompanyCode: "300257", FullName: "Test Corp", ShortName: "TestCo", Exchange: "SZSE"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	updated, err := repo.UpsertCompany(ctx, domain.Company{CompanyCode: "300257", FullName: "Test Corp Renamed"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if updated.FullName != "Test Corp Renamed" {
		t.Fatalf("expected full_name to update, got %q", updated.FullName)
	}
	if updated.ShortName != "TestCo" {
		t.Fatalf("expected short_name to be preserved when the update omits it, got %q", updated.ShortName)
	}
	if updated.Exchange != "SZSE" {
		t.Fatalf("expected exchange to be preserved when the update omits it, got %q", updated.Exchange)
	}
}
