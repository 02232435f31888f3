package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasew/gharun/internal/forge"
)

var branchCmd = &cobra.Command{
	Use:   "branch <name>",
	Short: "Create the job branch if it does not exist yet",
	Args:  cobra.ExactArgs(1),
	RunE:  runBranch,
}

func init() {
	rootCmd.AddCommand(branchCmd)

	branchCmd.Flags().String("from", "", "branch to start from (default is the repository default branch)")
}

func runBranch(cmd *cobra.Command, args []string) error {
	name := args[0]
	from, _ := cmd.Flags().GetString("from")
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := forge.ParseRepo(cfg.Job.Repository)
	if err != nil {
		return err
	}
	f, err := newForge(cfg, repo)
	if err != nil {
		return err
	}

	existing, err := f.GetBranch(ctx, repo, name)
	if err != nil {
		return err
	}
	if existing != nil {
		logger.Info("branch already exists", "branch", name, "sha", existing.SHA)
		fmt.Fprintln(cmd.OutOrStdout(), existing.SHA)
		return nil
	}

	if from == "" {
		info, err := f.GetRepository(ctx, repo)
		if err != nil {
			return err
		}
		from = info.DefaultBranch
	}
	base, err := f.GetBranch(ctx, repo, from)
	if err != nil {
		return err
	}
	if base == nil {
		return fmt.Errorf("branch %s not found in %s", from, repo)
	}

	if err := f.CreateBranch(ctx, repo, name, base.SHA); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), base.SHA)
	return nil
}
