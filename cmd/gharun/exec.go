package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasew/gharun/internal/archive"
	"github.com/lucasew/gharun/internal/executor"
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Dispatch a job, wait for its run and print the results",
	Long: `Records the number of runs on the ref, triggers the workflow mapped from
the job variant, polls until the new run completes and retrieves output.txt,
error.txt and the images list.

Failures are reported with one of the reasons baseline-fetch-failed,
dispatch-failed, poll-timeout, poll-failed or artifact-retrieval-failed.`,
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().Bool("json", false, "print the result as JSON")
	execCmd.Flags().Bool("archive", false, "store the result in the configured archive")
}

func runExec(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	doArchive, _ := cmd.Flags().GetBool("archive")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	spec, err := jobSpec(cfg)
	if err != nil {
		return err
	}

	var store archive.Storage
	if doArchive {
		store, err = openArchive(cfg)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		if store == nil {
			return fmt.Errorf("--archive needs archive.type to be configured")
		}
	}

	f, err := newForge(cfg, spec.Repo)
	if err != nil {
		return err
	}
	exe, err := newExecutor(cfg, f, !asJSON)
	if err != nil {
		return err
	}

	report, err := exe.Run(cmd.Context(), spec)
	if err != nil {
		if reason, ok := executor.ReasonOf(err); ok {
			logger.Error("job failed", "job", spec.String(), "reason", string(reason))
		}
		return err
	}

	if store != nil {
		key := archive.Key(spec)
		if err := archive.SaveResult(cmd.Context(), store, key, report.Result); err != nil {
			return fmt.Errorf("archive result: %w", err)
		}
		logger.Info("result archived", "key", key)
	}

	return printResult(cmd.OutOrStdout(), report.Result, asJSON, report.Run.ID, report.Run.HTMLURL)
}
