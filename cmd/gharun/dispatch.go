package main

import (
	"time"

	"github.com/spf13/cobra"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Trigger the job workflow without waiting for it",
	Long: `Prints the baseline run count and correlation id needed by
"gharun wait" to find the run later.`,
	RunE: runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}

type ticketJSON struct {
	Repository    string    `json:"repository"`
	Ref           string    `json:"ref"`
	Workflow      string    `json:"workflow"`
	Baseline      int       `json:"baseline"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	DispatchedAt  time.Time `json:"dispatched_at"`
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	spec, err := jobSpec(cfg)
	if err != nil {
		return err
	}
	f, err := newForge(cfg, spec.Repo)
	if err != nil {
		return err
	}

	ticket, err := newDispatcher(cfg, f).Dispatch(cmd.Context(), spec)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), ticketJSON{
		Repository:    ticket.Repo.String(),
		Ref:           ticket.Ref,
		Workflow:      ticket.Workflow,
		Baseline:      ticket.BaselineCount,
		CorrelationID: ticket.CorrelationID,
		DispatchedAt:  ticket.DispatchedAt,
	})
}
