package main

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasew/gharun/internal/forge"
)

var pushCmd = &cobra.Command{
	Use:   "push <local path> [remote path]",
	Short: "Commit a file or directory to the job ref",
	Long: `Creates or updates files on the job ref, one commit per file, so the
workflow finds the job payload when it is dispatched. The remote path
defaults to the base name of the local path.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)

	pushCmd.Flags().StringP("message", "m", "", "commit message (default \"Update <path>\")")
}

func runPush(cmd *cobra.Command, args []string) error {
	message, _ := cmd.Flags().GetString("message")

	local := args[0]
	remote := filepath.Base(local)
	if len(args) == 2 {
		remote = args[1]
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

	files, err := collectFiles(local, remote)
	if err != nil {
		return err
	}
	for _, src := range commitOrder(files) {
		dst := files[src]
		content, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("read %s: %w", src, err)
		}
		msg := message
		if msg == "" {
			msg = "Update " + dst
		}
		if err := f.PutFile(cmd.Context(), repo, cfg.Job.Ref, dst, content, msg); err != nil {
			return err
		}
	}
	logger.Info("push finished", "repo", repo.String(), "ref", cfg.Job.Ref, "files", len(files))
	return nil
}

// collectFiles maps every regular file under local to its remote path.
func collectFiles(local, remote string) (map[string]string, error) {
	info, err := os.Stat(local)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return map[string]string{local: remote}, nil
	}

	files := map[string]string{}
	err = filepath.WalkDir(local, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(local, p)
		if err != nil {
			return err
		}
		files[p] = path.Join(remote, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// commitOrder sorts files by remote path so repeated pushes commit in the
// same order.
func commitOrder(files map[string]string) []string {
	return slices.SortedFunc(maps.Keys(files), func(a, b string) int {
		return strings.Compare(files[a], files[b])
	})
}
