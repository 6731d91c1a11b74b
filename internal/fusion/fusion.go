// Package fusion implements the master-data fusion algorithm: merging
// freshly extracted business concepts into each company's master concept
// set under field-level rules that balance freshness, accumulation and
// identity stability.
package fusion

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/reliability"
	"github.com/ashareinsight/ashareinsight/internal/store"
)

// Config tunes the fusion run.
type Config struct {
	BatchSize          int // B, default 50
	MaxRetries         int // N, default 3
	MaxSourceSentences int // M, default 20

	// OnOutcome, when set, is called once per fused concept with "inserted",
	// "updated" or "failed", feeding the fusion outcome counters.
	OnOutcome func(outcome string)
}

// Outcome reports per-concept fusion results so callers can log and
// continue past isolated failures rather than aborting the whole document.
type Outcome struct {
	ConceptName string
	Inserted    bool
	Updated     bool
	Err         error
}

// Service applies the fusion algorithm against the concept store.
type Service struct {
	concepts *store.ConceptRepository
	cfg      Config
	log      zerolog.Logger
}

func New(concepts *store.ConceptRepository, cfg Config, log zerolog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxSourceSentences <= 0 {
		cfg.MaxSourceSentences = 20
	}
	return &Service{concepts: concepts, cfg: cfg, log: log.With().Str("component", "fusion").Logger()}
}

// FuseDocument merges every incoming concept for one company/document,
// batching B concepts per transaction. A single concept's terminal failure
// never aborts the rest of the document.
func (s *Service) FuseDocument(ctx context.Context, companyCode string, incoming []domain.BusinessConcept, docID string) []Outcome {
	outcomes := make([]Outcome, 0, len(incoming))
	for _, batch := range chunkConcepts(incoming, s.cfg.BatchSize) {
		outcomes = append(outcomes, s.fuseBatch(ctx, companyCode, batch, docID)...)
	}
	if s.cfg.OnOutcome != nil {
		for _, o := range outcomes {
			switch {
			case o.Err != nil:
				s.cfg.OnOutcome("failed")
			case o.Inserted:
				s.cfg.OnOutcome("inserted")
			default:
				s.cfg.OnOutcome("updated")
			}
		}
	}
	return outcomes
}

func (s *Service) fuseBatch(ctx context.Context, companyCode string, batch []domain.BusinessConcept, docID string) []Outcome {
	outcomes := make([]Outcome, len(batch))
	err := s.concepts.RunInTx(ctx, func(tx *sql.Tx) error {
		for i := range batch {
			concept := batch[i]
			concept.CompanyCode = companyCode
			concept.LastUpdatedFromDocID = docID
			o := s.fuseOne(ctx, tx, concept)
			outcomes[i] = o
			if o.Err != nil {
				s.log.Error().Err(o.Err).Str("concept_name", o.ConceptName).Msg("fusion failed for concept, continuing")
			}
		}
		return nil
	})
	if err != nil {
		// The transaction itself failed (connection loss, etc); every concept
		// in the batch is reported as failed since none of the work landed.
		for i := range outcomes {
			if outcomes[i].Err == nil {
				outcomes[i] = Outcome{ConceptName: batch[i].ConceptName, Err: err}
			}
		}
	}
	return outcomes
}

// fuseOne resolves the match-or-insert decision and applies the optimistic
// locking retry loop for the update path, all within the caller's
// transaction.
func (s *Service) fuseOne(ctx context.Context, tx *sql.Tx, incoming domain.BusinessConcept) Outcome {
	outcome := Outcome{ConceptName: incoming.ConceptName}

	existing, err := s.concepts.FindActiveConceptTx(ctx, tx, incoming.CompanyCode, incoming.ConceptName)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	if existing == nil {
		if err := s.concepts.InsertConcept(ctx, tx, &incoming); err != nil {
			var uv *domain.UniqueViolationError
			if !domain.As(err, &uv) {
				outcome.Err = err
				return outcome
			}
			// concurrent fuser won the insert race; fall through to update.
			existing, err = s.concepts.FindActiveConceptTx(ctx, tx, incoming.CompanyCode, incoming.ConceptName)
			if err != nil || existing == nil {
				outcome.Err = err
				return outcome
			}
		} else {
			outcome.Inserted = true
			return outcome
		}
	}

	return s.updateWithRetry(ctx, tx, existing, incoming, outcome)
}

// updateWithRetry applies the optimistic-locking retry loop for the update
// path: on a version conflict it refreshes the current row and retries the
// merge against it, up to cfg.MaxRetries attempts. Backoff and cancellation
// are handled by reliability.Retry, using DefaultFusionRetry's linear delay
// shape so competing writers desynchronize the same way every other
// optimistic-lock retry in the system does.
func (s *Service) updateWithRetry(ctx context.Context, tx *sql.Tx, existing *domain.BusinessConcept, incoming domain.BusinessConcept, outcome Outcome) Outcome {
	current := existing
	policy := reliability.RetryPolicy{MaxAttempts: s.cfg.MaxRetries, BaseDelay: reliability.DefaultFusionRetry.BaseDelay}

	err := reliability.Retry(ctx, policy,
		func(err error) bool {
			var lockErr *domain.OptimisticLockError
			return domain.As(err, &lockErr)
		},
		func(attempt int) error {
			merged, descriptionChanged := s.merge(*current, incoming)
			err := s.concepts.UpdateConcept(ctx, tx, &merged, current.Version, descriptionChanged)
			if err == nil {
				outcome.Updated = true
				return nil
			}
			var lockErr *domain.OptimisticLockError
			if !domain.As(err, &lockErr) {
				return err
			}
			refreshed, rerr := s.concepts.FindActiveConceptTx(ctx, tx, incoming.CompanyCode, incoming.ConceptName)
			if rerr != nil {
				return rerr
			}
			if refreshed == nil {
				return domain.NewRepositoryError("fuse_refresh_after_lock",
					fmt.Errorf("concept %q disappeared during optimistic-lock retry", incoming.ConceptName))
			}
			current = refreshed
			return err
		})
	if err != nil {
		outcome.Err = err
	}
	return outcome
}

// merge applies the field-level fusion rules and reports whether the
// resulting description differs from the stored one (the signal that
// controls embedding invalidation).
func (s *Service) merge(existing domain.BusinessConcept, incoming domain.BusinessConcept) (domain.BusinessConcept, bool) {
	merged := existing

	merged.ConceptCategory = incoming.ConceptCategory
	merged.ImportanceScore = incoming.ImportanceScore
	merged.DevelopmentStage = incoming.DevelopmentStage
	merged.LastUpdatedFromDocID = incoming.LastUpdatedFromDocID

	newDescription := longerOf(existing.Details.Description, incoming.Details.Description)
	descriptionChanged := newDescription != existing.Details.Description
	merged.Details.Description = newDescription

	merged.Details.Metrics = incoming.Details.Metrics

	merged.Details.Timeline.Established = existing.Details.Timeline.Established
	if merged.Details.Timeline.Established == nil {
		merged.Details.Timeline.Established = incoming.Details.Timeline.Established
	}
	events := append([]domain.ConceptEvent{}, existing.Details.Timeline.Events...)
	seenEvents := make(map[string]bool, len(events))
	for _, e := range events {
		seenEvents[e.Event] = true
	}
	now := time.Now().UTC()
	for _, e := range incoming.Details.Timeline.Events {
		// Replaying the same document re-derives the identical event text; skip
		// it so fusion stays idempotent instead of appending a duplicate entry
		// stamped with a new wall-clock date each time.
		if seenEvents[e.Event] {
			continue
		}
		seenEvents[e.Event] = true
		events = append(events, domain.ConceptEvent{Date: now, Event: e.Event})
	}
	merged.Details.Timeline.Events = events

	merged.Details.Relations.Customers = sortedUnion(existing.Details.Relations.Customers, incoming.Details.Relations.Customers)
	merged.Details.Relations.Partners = sortedUnion(existing.Details.Relations.Partners, incoming.Details.Relations.Partners)
	merged.Details.Relations.Subsidiaries = sortedUnion(existing.Details.Relations.Subsidiaries, incoming.Details.Relations.Subsidiaries)

	merged.Details.SourceSentences = capNewest(
		unionDedup(incoming.Details.SourceSentences, existing.Details.SourceSentences),
		s.cfg.MaxSourceSentences,
	)

	return merged, descriptionChanged
}

func longerOf(a, b string) string {
	if len(b) > len(a) {
		return b
	}
	return a
}

// unionDedup de-duplicates the union of a and b, preserving the order they
// were given in. Relation lists (customers/partners/subsidiaries) have no
// ordering contract, so callers sort those; source_sentences pass (incoming,
// existing) so the newest document's sentences sort first, approximating
// "newest" recency without per-sentence timestamps.
func unionDedup(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func sortedUnion(a, b []string) []string {
	out := unionDedup(a, b)
	sort.Strings(out)
	return out
}

func capNewest(ordered []string, max int) []string {
	if len(ordered) <= max {
		return ordered
	}
	return ordered[:max]
}

func chunkConcepts(concepts []domain.BusinessConcept, size int) [][]domain.BusinessConcept {
	if size <= 0 {
		size = len(concepts)
	}
	var out [][]domain.BusinessConcept
	for i := 0; i < len(concepts); i += size {
		end := i + size
		if end > len(concepts) {
			end = len(concepts)
		}
		out = append(out, concepts[i:end])
	}
	return out
}
