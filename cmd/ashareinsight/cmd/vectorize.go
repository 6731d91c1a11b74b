package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVectorizeCmd implements `vectorize [--rebuild-all] [--company-code
// CODE]`.
func newVectorizeCmd() *cobra.Command {
	var rebuildAll bool
	var companyCode string

	cmd := &cobra.Command{
		Use:   "vectorize",
		Short: "Embed concepts scheduled for vectorization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVectorize(cmd, rebuildAll, companyCode)
		},
	}
	cmd.Flags().BoolVar(&rebuildAll, "rebuild-all", false, "re-embed every active concept, ignoring the embedding-is-NULL filter")
	cmd.Flags().StringVar(&companyCode, "company-code", "", "limit the run to one company (default: all companies)")
	return cmd
}

func runVectorize(cmd *cobra.Command, rebuildAll bool, companyCode string) error {
	ctx := cmd.Context()
	_, container, err := buildContainer(ctx)
	if err != nil {
		return err
	}
	defer container.Close()

	if rebuildAll {
		s, err := container.Vectorization.Rebuild(ctx, companyCode)
		if err != nil {
			return err
		}
		log.Info().Int("processed", s.Processed).Int("succeeded", s.Succeeded).Int("discarded", s.Discarded).Msg("rebuild complete")
		if s.Discarded > 0 {
			return exitCode1Err(fmt.Errorf("%d concepts discarded for dimension mismatch", s.Discarded))
		}
		return nil
	}

	s, err := container.Vectorization.Run(ctx, companyCode)
	if err != nil {
		return err
	}
	log.Info().Int("processed", s.Processed).Int("succeeded", s.Succeeded).Int("discarded", s.Discarded).Msg("vectorize complete")
	if s.Discarded > 0 {
		return exitCode1Err(fmt.Errorf("%d concepts discarded for dimension mismatch", s.Discarded))
	}
	return nil
}
