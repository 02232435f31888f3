package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasew/gharun/internal/dispatch"
	"github.com/lucasew/gharun/internal/forge"
)

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for the run started after a dispatch to complete",
	RunE:  runWait,
}

func init() {
	rootCmd.AddCommand(waitCmd)

	waitCmd.Flags().Int("baseline", -1, "run count printed by dispatch")
	waitCmd.Flags().String("correlation-id", "", "correlation id printed by dispatch")
	_ = waitCmd.MarkFlagRequired("baseline")
}

type runJSON struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	URL        string `json:"url"`
}

func runWait(cmd *cobra.Command, args []string) error {
	baseline, _ := cmd.Flags().GetInt("baseline")
	correlationID, _ := cmd.Flags().GetString("correlation-id")
	if baseline < 0 {
		return fmt.Errorf("--baseline must not be negative")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := forge.ParseRepo(cfg.Job.Repository)
	if err != nil {
		return err
	}
	if cfg.Job.Ref == "" {
		return fmt.Errorf("--ref is required")
	}
	f, err := newForge(cfg, repo)
	if err != nil {
		return err
	}

	run, err := newPoller(cfg, f).Wait(cmd.Context(), &dispatch.Ticket{
		Repo:          repo,
		Ref:           cfg.Job.Ref,
		Event:         dispatch.EventWorkflowDispatch,
		BaselineCount: baseline,
		CorrelationID: correlationID,
	})
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), runJSON{
		ID:         run.ID,
		Status:     string(run.Status),
		Conclusion: run.Conclusion,
		URL:        run.HTMLURL,
	})
}
