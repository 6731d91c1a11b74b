package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashareinsight/ashareinsight/internal/di"
	"github.com/ashareinsight/ashareinsight/internal/domain"
	"github.com/ashareinsight/ashareinsight/internal/extraction"
)

// newFuseCmd implements `fuse <doc_id | all-unfused>`: replays fusion for
// an already-archived document by re-decoding its stored RawLLMOutput, the
// same bytes `archive` wrote.
func newFuseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fuse <doc_id|all-unfused>",
		Short: "Replay Fusion for one or every unfused document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuse(cmd, args[0])
		},
	}
	return cmd
}

func runFuse(cmd *cobra.Command, target string) error {
	ctx := cmd.Context()
	_, container, err := buildContainer(ctx)
	if err != nil {
		return err
	}
	defer container.Close()

	var docIDs []string
	if target == "all-unfused" {
		docs, err := container.Documents.ListUnfused(ctx)
		if err != nil {
			return err
		}
		for _, d := range docs {
			docIDs = append(docIDs, d.DocID)
		}
	} else {
		docIDs = []string{target}
	}

	if len(docIDs) == 0 {
		log.Info().Msg("nothing to fuse")
		return nil
	}

	var failures int
	for _, docID := range docIDs {
		if err := fuseOne(ctx, container, docID); err != nil {
			log.Error().Err(err).Str("doc_id", docID).Msg("fuse failed")
			failures++
		}
	}

	if failures > 0 {
		return exitCode1Err(fmt.Errorf("%d of %d documents failed to fuse", failures, len(docIDs)))
	}
	return nil
}

func fuseOne(ctx context.Context, container *di.Container, docID string) error {
	doc, err := container.Documents.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	parsed, err := extraction.Parse(doc.RawLLMOutput)
	if err != nil {
		return err
	}
	_, _, concepts := parsed.ToDomain(doc.RawLLMOutput)

	outcomes := container.Fusion.FuseDocument(ctx, doc.CompanyCode, concepts, doc.DocID)
	status := domain.DocStatusCompleted
	errText := ""
	for _, o := range outcomes {
		if o.Err != nil {
			status = domain.DocStatusFailed
			errText = o.Err.Error()
			log.Error().Err(o.Err).Str("concept_name", o.ConceptName).Msg("fusion failed for concept")
		}
	}
	if err := container.Documents.UpdateStatus(ctx, doc.DocID, status, errText); err != nil {
		return err
	}
	if status == domain.DocStatusFailed {
		return fmt.Errorf("one or more concepts failed to fuse for document %s", doc.DocID)
	}
	log.Info().Str("doc_id", doc.DocID).Int("concepts", len(concepts)).Msg("fused")
	return nil
}
