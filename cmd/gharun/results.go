package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasew/gharun/internal/archive"
	"github.com/lucasew/gharun/internal/retrieve"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Retrieve the outputs of a completed run",
	Long: `With the artifact strategy --run-id is required. With the content
strategy the files are read from the job ref. --from-archive reads a result
stored earlier by "exec --archive" instead of contacting GitHub.`,
	RunE: runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)

	resultsCmd.Flags().Int64("run-id", 0, "id of the completed run")
	resultsCmd.Flags().Bool("json", false, "print the result as JSON")
	resultsCmd.Flags().Bool("from-archive", false, "read the result from the configured archive")
}

func runResults(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetInt64("run-id")
	asJSON, _ := cmd.Flags().GetBool("json")
	fromArchive, _ := cmd.Flags().GetBool("from-archive")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	spec, err := jobSpec(cfg)
	if err != nil {
		return err
	}

	if fromArchive {
		store, err := openArchive(cfg)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		if store == nil {
			return fmt.Errorf("--from-archive needs archive.type to be configured")
		}
		res, err := archive.LoadResult(cmd.Context(), store, archive.Key(spec))
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res, asJSON, 0, "")
	}

	f, err := newForge(cfg, spec.Repo)
	if err != nil {
		return err
	}
	r, err := newRetriever(cfg, f)
	if err != nil {
		return err
	}

	res, err := r.Retrieve(cmd.Context(), retrieve.Target{
		Repo:      spec.Repo,
		Ref:       spec.Ref,
		Iteration: spec.Iteration,
		RunID:     runID,
	})
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res, asJSON, runID, "")
}
