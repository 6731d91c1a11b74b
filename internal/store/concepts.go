package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/vector"
)

// embeddingToBlob packs a half-precision-encoded embedding into the raw
// bytes stored in the BLOB column.
func embeddingToBlob(emb []float32) []byte {
	half := vector.EncodeHalf(emb)
	buf := make([]byte, len(half)*2)
	for i, h := range half {
		binary.LittleEndian.PutUint16(buf[i*2:], h)
	}
	return buf
}

// blobToEmbedding is the inverse of embeddingToBlob.
func blobToEmbedding(blob []byte) []float32 {
	half := make([]uint16, len(blob)/2)
	for i := range half {
		half[i] = binary.LittleEndian.Uint16(blob[i*2:])
	}
	return vector.DecodeHalf(half)
}

// ConceptRepository implements the Concept Store's concept-facing
// operations: find_active_concept, list_active_concepts, insert_concept,
// update_concept, update_embedding and search_similar. The in-process ANN
// index is optional; callers that only touch relational rows (Fusion) can
// pass a nil index.
type ConceptRepository struct {
	db    *DB
	index *vector.Index
}

func NewConceptRepository(db *DB, index *vector.Index) *ConceptRepository {
	return &ConceptRepository{db: db, index: index}
}

// RunInTx runs fn inside a transaction against this repository's database,
// for callers (Fusion) that need to interleave several repository
// operations atomically.
func (r *ConceptRepository) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return WithTx(ctx, r.db.Conn(), fn)
}

// conceptDetailsDTO mirrors domain.ConceptDetails for JSON persistence. The
// typed struct is the working representation everywhere else; this type
// exists only at the store boundary.
type conceptDetailsDTO struct {
	Description     string                 `json:"description"`
	Established     *time.Time             `json:"established,omitempty"`
	Events          []conceptEventDTO      `json:"events,omitempty"`
	Metrics         map[string]float64     `json:"metrics,omitempty"`
	Customers       []string               `json:"customers,omitempty"`
	Partners        []string               `json:"partners,omitempty"`
	Subsidiaries    []string               `json:"subsidiaries,omitempty"`
	SourceSentences []string               `json:"source_sentences,omitempty"`
}

type conceptEventDTO struct {
	Date  time.Time `json:"date"`
	Event string    `json:"event"`
}

func encodeDetails(d domain.ConceptDetails) (string, error) {
	dto := conceptDetailsDTO{
		Description:     d.Description,
		Established:     d.Timeline.Established,
		Metrics:         map[string]float64(d.Metrics),
		Customers:       d.Relations.Customers,
		Partners:        d.Relations.Partners,
		Subsidiaries:    d.Relations.Subsidiaries,
		SourceSentences: d.SourceSentences,
	}
	for _, e := range d.Timeline.Events {
		dto.Events = append(dto.Events, conceptEventDTO{Date: e.Date, Event: e.Event})
	}
	raw, err := json.Marshal(dto)
	return string(raw), err
}

func decodeDetails(raw string) (domain.ConceptDetails, error) {
	var dto conceptDetailsDTO
	if raw == "" {
		return domain.ConceptDetails{}, nil
	}
	if err := json.Unmarshal([]byte(raw), &dto); err != nil {
		return domain.ConceptDetails{}, err
	}
	d := domain.ConceptDetails{
		Description: dto.Description,
		Metrics:     domain.ConceptMetrics(dto.Metrics),
		Relations: domain.ConceptRelations{
			Customers:    dto.Customers,
			Partners:     dto.Partners,
			Subsidiaries: dto.Subsidiaries,
		},
		SourceSentences: dto.SourceSentences,
	}
	d.Timeline.Established = dto.Established
	for _, e := range dto.Events {
		d.Timeline.Events = append(d.Timeline.Events, domain.ConceptEvent{Date: e.Date, Event: e.Event})
	}
	return d, nil
}

// FindActiveConcept looks up the single active concept for (company, name),
// the match key Fusion uses to decide new-vs-update.
func (r *ConceptRepository) FindActiveConcept(ctx context.Context, companyCode, conceptName string) (*domain.BusinessConcept, error) {
	return r.findActiveConceptTx(ctx, r.db.Conn(), companyCode, conceptName)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *ConceptRepository) findActiveConceptTx(ctx context.Context, q queryRower, companyCode, conceptName string) (*domain.BusinessConcept, error) {
	row := q.QueryRowContext(ctx, `
		SELECT concept_id, company_code, concept_name, concept_category, importance_score,
		       development_stage, details_json, embedding, last_updated_from_doc_id,
		       version, is_active, created_at, updated_at
		FROM business_concepts
		WHERE company_code = ? AND concept_name = ? AND is_active = 1
	`, companyCode, conceptName)
	c, err := scanConcept(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewRepositoryError("find_active_concept", err)
	}
	return c, nil
}

// FindActiveConceptTx is the transactional variant Fusion uses so its
// match-and-decide step is isolated within the same transaction as the
// eventual insert/update.
func (r *ConceptRepository) FindActiveConceptTx(ctx context.Context, tx *sql.Tx, companyCode, conceptName string) (*domain.BusinessConcept, error) {
	return r.findActiveConceptTx(ctx, tx, companyCode, conceptName)
}

// GetConceptByID hydrates a full concept row by primary key, used by
// retrieval to recover description and source_sentences for rerank input and
// justification once search_similar has returned bare similarity hits.
func (r *ConceptRepository) GetConceptByID(ctx context.Context, conceptID string) (*domain.BusinessConcept, error) {
	row := r.db.Conn().QueryRowContext(ctx, `
		SELECT concept_id, company_code, concept_name, concept_category, importance_score,
		       development_stage, details_json, embedding, last_updated_from_doc_id,
		       version, is_active, created_at, updated_at
		FROM business_concepts
		WHERE concept_id = ?
	`, conceptID)
	c, err := scanConcept(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewRepositoryError("get_concept_by_id", err)
	}
	return c, nil
}

// ListActiveConcepts returns every active concept owned by a company, the
// source list for online retrieval's "fetch source concepts" stage. An empty
// companyCode returns active concepts for every company (vectorization's
// full-rebuild mode).
func (r *ConceptRepository) ListActiveConcepts(ctx context.Context, companyCode string) ([]domain.BusinessConcept, error) {
	query := "SELECT concept_id, company_code, concept_name, concept_category, importance_score, " +
		"development_stage, details_json, embedding, last_updated_from_doc_id, version, is_active, created_at, updated_at " +
		"FROM business_concepts WHERE is_active = 1"
	args := []any{}
	if companyCode != "" {
		query += " AND company_code = ?"
		args = append(args, companyCode)
	}
	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewRepositoryError("list_active_concepts", err)
	}
	defer rows.Close()

	var out []domain.BusinessConcept
	for rows.Next() {
		c, err := scanConceptRows(rows)
		if err != nil {
			return nil, domain.NewRepositoryError("list_active_concepts", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListNeedingVectorization returns active concepts whose embedding is NULL,
// optionally restricted to one company (vectorize --company).
func (r *ConceptRepository) ListNeedingVectorization(ctx context.Context, companyCode string) ([]domain.BusinessConcept, error) {
	query := `
		SELECT concept_id, company_code, concept_name, concept_category, importance_score,
		       development_stage, details_json, embedding, last_updated_from_doc_id,
		       version, is_active, created_at, updated_at
		FROM business_concepts
		WHERE is_active = 1 AND embedding IS NULL
	`
	args := []any{}
	if companyCode != "" {
		query += " AND company_code = ?"
		args = append(args, companyCode)
	}
	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewRepositoryError("list_needing_vectorization", err)
	}
	defer rows.Close()

	var out []domain.BusinessConcept
	for rows.Next() {
		c, err := scanConceptRows(rows)
		if err != nil {
			return nil, domain.NewRepositoryError("list_needing_vectorization", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// InsertConcept creates a brand-new active concept row (version 1). Returns
// a *domain.UniqueViolationError if a concurrent fuser already inserted the
// same (company_code, concept_name); callers fall back to update_concept.
func (r *ConceptRepository) InsertConcept(ctx context.Context, tx *sql.Tx, c *domain.BusinessConcept) error {
	if c.ConceptID == "" {
		c.ConceptID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.Version = 1
	c.IsActive = true
	c.CreatedAt = now
	c.UpdatedAt = now

	detailsJSON, err := encodeDetails(c.Details)
	if err != nil {
		return domain.NewRepositoryError("insert_concept", err)
	}
	var embeddingBlob []byte
	if c.Embedding != nil {
		embeddingBlob = embeddingToBlob(c.Embedding)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO business_concepts
			(concept_id, company_code, concept_name, concept_category, importance_score,
			 development_stage, details_json, embedding, last_updated_from_doc_id,
			 version, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ConceptID, c.CompanyCode, c.ConceptName, string(c.ConceptCategory), c.ImportanceScore,
		c.DevelopmentStage, detailsJSON, nullableBlob(embeddingBlob), c.LastUpdatedFromDocID,
		c.Version, 1, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.UniqueViolationError{CompanyCode: c.CompanyCode, ConceptName: c.ConceptName}
		}
		return domain.NewRepositoryError("insert_concept", err)
	}
	return nil
}

// UpdateConcept applies a fused field set with optimistic locking: the
// WHERE clause pins the row to expectedVersion, and zero rows affected means
// a concurrent writer won the race. resetEmbedding nulls the stored
// embedding, scheduling revectorization — callers set it only when the
// fused description actually changed.
func (r *ConceptRepository) UpdateConcept(ctx context.Context, tx *sql.Tx, c *domain.BusinessConcept, expectedVersion int64, resetEmbedding bool) error {
	detailsJSON, err := encodeDetails(c.Details)
	if err != nil {
		return domain.NewRepositoryError("update_concept", err)
	}
	now := time.Now().UTC()

	embeddingClause := ""
	if resetEmbedding {
		embeddingClause = "embedding = NULL,"
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE business_concepts SET
			concept_category = ?, importance_score = ?, development_stage = ?,
			details_json = ?, `+embeddingClause+` last_updated_from_doc_id = ?,
			version = version + 1, updated_at = ?
		WHERE concept_id = ? AND version = ?
	`,
		string(c.ConceptCategory), c.ImportanceScore, c.DevelopmentStage,
		detailsJSON, c.LastUpdatedFromDocID, now.Format(time.RFC3339Nano),
		c.ConceptID, expectedVersion,
	)
	if err != nil {
		return domain.NewRepositoryError("update_concept", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewRepositoryError("update_concept", err)
	}
	if n == 0 {
		var actual int64
		_ = tx.QueryRowContext(ctx, "SELECT version FROM business_concepts WHERE concept_id = ?", c.ConceptID).Scan(&actual)
		return &domain.OptimisticLockError{ConceptID: c.ConceptID, ExpectedVersion: expectedVersion, ActualVersion: actual}
	}
	c.Version = expectedVersion + 1
	c.UpdatedAt = now
	if resetEmbedding {
		c.Embedding = nil
		if r.index != nil {
			r.index.Delete(c.ConceptID)
		}
	}
	return nil
}

// UpdateEmbedding persists a freshly computed vector without bumping
// version — embeddings are a derived cache, not semantic content.
func (r *ConceptRepository) UpdateEmbedding(ctx context.Context, conceptID string, embedding []float32) error {
	blob := embeddingToBlob(embedding)
	_, err := r.db.Conn().ExecContext(ctx, "UPDATE business_concepts SET embedding = ? WHERE concept_id = ?", blob, conceptID)
	if err != nil {
		return domain.NewRepositoryError("update_embedding", err)
	}
	if r.index != nil {
		r.index.Upsert(conceptID, embedding)
	}
	return nil
}

// BatchUpdateEmbeddings applies UpdateEmbedding for a whole vectorization
// batch inside one transaction.
func (r *ConceptRepository) BatchUpdateEmbeddings(ctx context.Context, embeddings map[string][]float32) error {
	return WithTx(ctx, r.db.Conn(), func(tx *sql.Tx) error {
		for conceptID, emb := range embeddings {
			blob := embeddingToBlob(emb)
			if _, err := tx.ExecContext(ctx, "UPDATE business_concepts SET embedding = ? WHERE concept_id = ?", blob, conceptID); err != nil {
				return domain.NewRepositoryError("batch_update_embeddings", err)
			}
		}
		return nil
	})
	// index population happens in the caller once the transaction commits,
	// since Upsert is not transactional with the SQL write.
}

// UpsertIndex writes a vector directly into the in-process ANN index
// without touching the relational row, for callers (vectorization) that
// have already committed the SQL write and just need the index refreshed.
func (r *ConceptRepository) UpsertIndex(conceptID string, embedding []float32) {
	if r.index != nil {
		r.index.Upsert(conceptID, embedding)
	}
}

// LoadIndexFromStore rebuilds the in-process ANN index from every active,
// embedded concept row. Called once at startup, since the index is not
// persisted across restarts.
func (r *ConceptRepository) LoadIndexFromStore(ctx context.Context) error {
	if r.index == nil {
		return nil
	}
	rows, err := r.db.Conn().QueryContext(ctx, "SELECT concept_id, embedding FROM business_concepts WHERE is_active = 1 AND embedding IS NOT NULL")
	if err != nil {
		return domain.NewRepositoryError("load_index", err)
	}
	defer rows.Close()
	for rows.Next() {
		var conceptID string
		var blob []byte
		if err := rows.Scan(&conceptID, &blob); err != nil {
			return domain.NewRepositoryError("load_index", err)
		}
		r.index.Upsert(conceptID, blobToEmbedding(blob))
	}
	return rows.Err()
}

// SearchSimilar returns the approximately-top-limit nearest concepts to
// query with similarity >= threshold, hydrated with the relational metadata
// retrieval needs for scoring and display.
func (r *ConceptRepository) SearchSimilar(ctx context.Context, query []float32, limit int, threshold float64) ([]domain.SimilarityHit, error) {
	if r.index == nil {
		return nil, domain.NewRepositoryError("search_similar", errStrf("vector index not configured"))
	}
	hits := r.index.Search(query, limit, threshold)

	out := make([]domain.SimilarityHit, 0, len(hits))
	for _, h := range hits {
		meta, err := r.hydrate(ctx, h.Key)
		if err != nil {
			continue // row vanished (soft-deleted) since the index snapshot was taken
		}
		out = append(out, domain.SimilarityHit{
			ConceptID:       h.Key,
			CompanyCode:     meta.CompanyCode,
			ConceptName:     meta.ConceptName,
			ConceptCategory: meta.ConceptCategory,
			ImportanceScore: meta.ImportanceScore,
			SimilarityScore: h.Similarity,
		})
	}
	return out, nil
}

// BatchSearchSimilar runs SearchSimilar for several query vectors in
// parallel, bounded by concurrency, returning one hit list per query in
// input order.
func (r *ConceptRepository) BatchSearchSimilar(ctx context.Context, queries [][]float32, limit int, threshold float64, concurrency int) ([][]domain.SimilarityHit, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	out := make([][]domain.SimilarityHit, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, q := range queries {
		i, q := i, q
		if q == nil {
			continue
		}
		g.Go(func() error {
			hits, err := r.SearchSimilar(gctx, q, limit, threshold)
			if err != nil {
				return err
			}
			out[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type conceptMeta struct {
	CompanyCode     string
	ConceptName     string
	ConceptCategory domain.ConceptCategory
	ImportanceScore float64
}

func (r *ConceptRepository) hydrate(ctx context.Context, conceptID string) (conceptMeta, error) {
	var m conceptMeta
	var category string
	err := r.db.Conn().QueryRowContext(ctx,
		"SELECT company_code, concept_name, concept_category, importance_score FROM business_concepts WHERE concept_id = ? AND is_active = 1",
		conceptID).Scan(&m.CompanyCode, &m.ConceptName, &category, &m.ImportanceScore)
	m.ConceptCategory = domain.ConceptCategory(category)
	return m, err
}

func scanConcept(row *sql.Row) (*domain.BusinessConcept, error) {
	var c domain.BusinessConcept
	var category, detailsJSON, createdAt, updatedAt string
	var embeddingBlob []byte
	var isActive int
	if err := row.Scan(&c.ConceptID, &c.CompanyCode, &c.ConceptName, &category, &c.ImportanceScore,
		&c.DevelopmentStage, &detailsJSON, &embeddingBlob, &c.LastUpdatedFromDocID,
		&c.Version, &isActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return finishConcept(&c, category, detailsJSON, embeddingBlob, isActive, createdAt, updatedAt)
}

func scanConceptRows(rows *sql.Rows) (*domain.BusinessConcept, error) {
	var c domain.BusinessConcept
	var category, detailsJSON, createdAt, updatedAt string
	var embeddingBlob []byte
	var isActive int
	if err := rows.Scan(&c.ConceptID, &c.CompanyCode, &c.ConceptName, &category, &c.ImportanceScore,
		&c.DevelopmentStage, &detailsJSON, &embeddingBlob, &c.LastUpdatedFromDocID,
		&c.Version, &isActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return finishConcept(&c, category, detailsJSON, embeddingBlob, isActive, createdAt, updatedAt)
}

func finishConcept(c *domain.BusinessConcept, category, detailsJSON string, embeddingBlob []byte, isActive int, createdAt, updatedAt string) (*domain.BusinessConcept, error) {
	c.ConceptCategory = domain.ConceptCategory(category)
	c.IsActive = isActive != 0
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	details, err := decodeDetails(detailsJSON)
	if err != nil {
		return nil, err
	}
	c.Details = details

	if embeddingBlob != nil {
		c.Embedding = blobToEmbedding(embeddingBlob)
	}
	return c, nil
}

func nullableBlob(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type errStrf string

func (e errStrf) Error() string { return string(e) }
