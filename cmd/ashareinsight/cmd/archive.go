package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashareinsight/ashareinsight/internal/archival"
	"github.com/ashareinsight/ashareinsight/internal/extraction"
)

// newArchiveCmd implements `archive <path-or-dir>`: each file is the
// extractor's completed structured output (the extractor itself runs as a
// separate process upstream of this command), one JSON document per file.
func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <path-or-dir>",
		Short: "Archive one or more completed extraction outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(cmd, args[0])
		},
	}
	return cmd
}

func runArchive(cmd *cobra.Command, target string) error {
	ctx := cmd.Context()
	_, container, err := buildContainer(ctx)
	if err != nil {
		return err
	}
	defer container.Close()

	files, err := collectJSONFiles(target)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .json extraction outputs found under %s", target)
	}

	var failures int
	for _, path := range files {
		if err := archiveOne(ctx, container.Archival, path); err != nil {
			log.Error().Err(err).Str("file", path).Msg("archive failed")
			failures++
			continue
		}
	}

	if failures > 0 {
		return exitCode1Err(fmt.Errorf("%d of %d files failed to archive", failures, len(files)))
	}
	return nil
}

func archiveOne(ctx context.Context, svc *archival.Service, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	doc, err := extraction.Parse(raw)
	if err != nil {
		return err
	}
	company, sourceDoc, concepts := doc.ToDomain(raw)

	result, err := svc.Archive(ctx, archival.Request{
		Company:  company,
		Document: sourceDoc,
		Concepts: concepts,
	})
	if err != nil {
		return err
	}
	if result.Skipped {
		log.Warn().Str("file", path).Str("company_code", company.CompanyCode).
			Msg("research report skipped: unknown company")
		return nil
	}
	if result.AlreadyExisted {
		log.Info().Str("file", path).Str("doc_id", result.DocID).Msg("already archived, skipped")
		return nil
	}

	for _, o := range result.FusionOutcomes {
		if o.Err != nil {
			log.Error().Err(o.Err).Str("concept_name", o.ConceptName).Msg("fusion failed for concept")
		}
	}
	log.Info().Str("file", path).Str("doc_id", result.DocID).Int("concepts", len(concepts)).Msg("archived")
	return nil
}

func collectJSONFiles(target string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{target}, nil
	}
	var files []string
	err = filepath.Walk(target, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() && strings.HasSuffix(path, ".json") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
