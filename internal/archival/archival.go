// Package archival implements the archival use case: the single-transaction
// intake of one completed extraction, handing off to Fusion once the
// document is durably persisted.
package archival

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/fusion"
	"github.com/ashareinsight/ashareinsight/internal/store"
)

// Request is one completed extraction result ready to be archived.
type Request struct {
	Company  domain.Company
	Document domain.SourceDocument
	Concepts []domain.BusinessConcept
}

// Result is what Archival reports back to the CLI/caller.
type Result struct {
	DocID          string
	AlreadyExisted bool
	Skipped        bool // research report for an unknown company
	FusionOutcomes []fusion.Outcome
}

// Service wires CompanyRepository + DocumentRepository + Fusion behind a
// single-transaction contract.
type Service struct {
	db     *store.DB
	docs   *store.DocumentRepository
	fusion *fusion.Service
	log    zerolog.Logger
}

func New(db *store.DB, docs *store.DocumentRepository, fusionSvc *fusion.Service, log zerolog.Logger) *Service {
	return &Service{db: db, docs: docs, fusion: fusionSvc, log: log.With().Str("component", "archival").Logger()}
}

// Archive runs company upsert and document archive in a single transaction,
// then hands off to Fusion in a separate transaction so fusion failures
// never roll back the archived document.
func (s *Service) Archive(ctx context.Context, req Request) (Result, error) {
	if req.Document.DocType == domain.DocTypeResearchReport {
		exists, err := store.CompanyExists(ctx, s.db.Conn(), req.Company.CompanyCode)
		if err != nil {
			return Result{}, domain.NewRepositoryError("company_exists", err)
		}
		if !exists {
			s.log.Warn().Str("company_code", req.Company.CompanyCode).
				Msg("research report references unknown company; skipping archive")
			return Result{Skipped: true}, nil
		}
	}

	var docID string
	var alreadyExisted bool
	err := store.WithTx(ctx, s.db.Conn(), func(tx *sql.Tx) error {
		if err := store.UpsertCompanyTx(ctx, tx, req.Company); err != nil {
			return err
		}
		doc := req.Document
		doc.Status = domain.DocStatusPending
		doc.ErrorText = ""
		doc.CreatedAt = time.Now().UTC()
		id, existed, err := store.ArchiveDocumentTx(ctx, tx, doc)
		if err != nil {
			return err
		}
		docID, alreadyExisted = id, existed
		return nil
	})
	if err != nil {
		return Result{}, domain.NewRepositoryError("archive", err)
	}
	if alreadyExisted {
		return Result{DocID: docID, AlreadyExisted: true}, nil
	}

	outcomes := s.fusion.FuseDocument(ctx, req.Company.CompanyCode, req.Concepts, docID)
	status := domain.DocStatusCompleted
	errText := ""
	for _, o := range outcomes {
		if o.Err != nil {
			status = domain.DocStatusFailed
			errText = o.Err.Error()
			break
		}
	}
	if err := s.docs.UpdateStatus(ctx, docID, status, errText); err != nil {
		s.log.Error().Err(err).Str("doc_id", docID).Msg("failed to update document status after fusion")
	}

	return Result{DocID: docID, AlreadyExisted: false, FusionOutcomes: outcomes}, nil
}
