package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ashareinsight/ashareinsight/internal/domain"
)

// DocumentRepository implements archive_document / get_document and the
// "archive then read back unchanged" round-trip guarantee callers rely on.
type DocumentRepository struct {
	db *DB
}

func NewDocumentRepository(db *DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// ArchiveDocument returns the document's id and whether a row with the same
// (company_code, file_hash) already existed. Re-archiving the same file is a
// no-op.
func (r *DocumentRepository) ArchiveDocument(ctx context.Context, doc domain.SourceDocument) (docID string, alreadyExisted bool, err error) {
	var existing string
	scanErr := r.db.Conn().QueryRowContext(ctx,
		"SELECT doc_id FROM source_documents WHERE company_code = ? AND file_hash = ?",
		doc.CompanyCode, doc.FileHash).Scan(&existing)
	if scanErr == nil {
		return existing, true, nil
	}
	if scanErr != sql.ErrNoRows {
		return "", false, domain.NewRepositoryError("archive_document", scanErr)
	}

	if err := insertDocumentTx(ctx, nil, r.db.Conn(), doc); err != nil {
		return "", false, domain.NewRepositoryError("archive_document", err)
	}
	return doc.DocID, false, nil
}

// ArchiveDocumentTx is the transactional variant used inside Archival's
// single transaction (company upsert + document insert).
func ArchiveDocumentTx(ctx context.Context, tx *sql.Tx, doc domain.SourceDocument) (docID string, alreadyExisted bool, err error) {
	var existing string
	scanErr := tx.QueryRowContext(ctx,
		"SELECT doc_id FROM source_documents WHERE company_code = ? AND file_hash = ?",
		doc.CompanyCode, doc.FileHash).Scan(&existing)
	if scanErr == nil {
		return existing, true, nil
	}
	if scanErr != sql.ErrNoRows {
		return "", false, scanErr
	}
	if err := insertDocumentTx(ctx, tx, nil, doc); err != nil {
		return "", false, err
	}
	return doc.DocID, false, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDocumentTx(ctx context.Context, tx *sql.Tx, conn *sql.DB, doc domain.SourceDocument) error {
	var ex execer
	if tx != nil {
		ex = tx
	} else {
		ex = conn
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO source_documents
			(doc_id, company_code, doc_type, publication_date, title, file_path, file_hash,
			 raw_llm_output, extraction_model_id, prompt_version, token_count, wall_clock_millis,
			 status, error_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		doc.DocID, doc.CompanyCode, string(doc.DocType), doc.PublicationDate.UTC().Format(time.RFC3339Nano),
		doc.Title, doc.FilePath, doc.FileHash, doc.RawLLMOutput, doc.ExtractionModelID, doc.PromptVersion,
		doc.TokenCount, doc.WallClockMillis, string(doc.Status), doc.ErrorText,
		doc.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetDocument returns a document by id, used by the archive-then-read
// round-trip guarantee and by CLI `fuse <doc_id>` replay.
func (r *DocumentRepository) GetDocument(ctx context.Context, docID string) (*domain.SourceDocument, error) {
	row := r.db.Conn().QueryRowContext(ctx, `
		SELECT doc_id, company_code, doc_type, publication_date, title, file_path, file_hash,
		       raw_llm_output, extraction_model_id, prompt_version, token_count, wall_clock_millis,
		       status, error_text, created_at
		FROM source_documents WHERE doc_id = ?
	`, docID)
	return scanDocument(row)
}

func scanDocument(row *sql.Row) (*domain.SourceDocument, error) {
	var d domain.SourceDocument
	var docType, status, pubDate, createdAt string
	if err := row.Scan(&d.DocID, &d.CompanyCode, &docType, &pubDate, &d.Title, &d.FilePath, &d.FileHash,
		&d.RawLLMOutput, &d.ExtractionModelID, &d.PromptVersion, &d.TokenCount, &d.WallClockMillis,
		&status, &d.ErrorText, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	d.DocType = domain.DocType(docType)
	d.Status = domain.DocStatus(status)
	d.PublicationDate, _ = time.Parse(time.RFC3339Nano, pubDate)
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &d, nil
}

// UpdateStatus mutates the only mutable attribute of an otherwise-immutable
// SourceDocument.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, docID string, status domain.DocStatus, errorText string) error {
	_, err := r.db.Conn().ExecContext(ctx,
		"UPDATE source_documents SET status = ?, error_text = ? WHERE doc_id = ?",
		string(status), errorText, docID)
	if err != nil {
		return domain.NewRepositoryError("update_document_status", err)
	}
	return nil
}

// ListUnfused returns documents whose status is still pending, for the CLI's
// `fuse all-unfused` replay mode.
func (r *DocumentRepository) ListUnfused(ctx context.Context) ([]domain.SourceDocument, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT doc_id, company_code, doc_type, publication_date, title, file_path, file_hash,
		       raw_llm_output, extraction_model_id, prompt_version, token_count, wall_clock_millis,
		       status, error_text, created_at
		FROM source_documents WHERE status = 'pending'
	`)
	if err != nil {
		return nil, domain.NewRepositoryError("list_unfused", err)
	}
	defer rows.Close()

	var out []domain.SourceDocument
	for rows.Next() {
		var d domain.SourceDocument
		var docType, status, pubDate, createdAt string
		if err := rows.Scan(&d.DocID, &d.CompanyCode, &docType, &pubDate, &d.Title, &d.FilePath, &d.FileHash,
			&d.RawLLMOutput, &d.ExtractionModelID, &d.PromptVersion, &d.TokenCount, &d.WallClockMillis,
			&status, &d.ErrorText, &createdAt); err != nil {
			return nil, domain.NewRepositoryError("list_unfused", err)
		}
		d.DocType = domain.DocType(docType)
		d.Status = domain.DocStatus(status)
		d.PublicationDate, _ = time.Parse(time.RFC3339Nano, pubDate)
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}
