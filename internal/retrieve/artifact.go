package retrieve

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ArtifactRetriever reads outputs from the zip archive the run uploaded.
type ArtifactRetriever struct {
	src     Source
	name    string
	tempDir string
	logger  *slog.Logger
}

func (r *ArtifactRetriever) Retrieve(ctx context.Context, target Target) (*Result, error) {
	if target.RunID == 0 {
		return nil, fmt.Errorf("retrieve artifact: run id is required")
	}

	artifacts, err := r.src.ListArtifacts(ctx, target.Repo, target.RunID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	var id int64
	for _, a := range artifacts {
		if a.Name == r.name && !a.Expired {
			id = a.ID
			break
		}
	}
	if id == 0 {
		return nil, fmt.Errorf("%w: artifact %q not found on run %d", ErrRetrievalMissing, r.name, target.RunID)
	}

	data, err := r.src.DownloadArtifact(ctx, target.Repo, id)
	if err != nil {
		return nil, fmt.Errorf("download artifact %q: %w", r.name, err)
	}

	dir, err := os.MkdirTemp(r.tempDir, "gharun-artifact-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("failed to remove temp dir", "dir", dir, "error", err)
		}
	}()

	if err := extractZip(data, dir); err != nil {
		return nil, fmt.Errorf("extract artifact %q: %w", r.name, err)
	}

	res, err := readResultDir(dir)
	if err != nil {
		return nil, err
	}
	r.logger.Info("artifact retrieved",
		"repo", target.Repo.String(),
		"run_id", target.RunID,
		"artifact_id", id,
		"output_bytes", len(res.OutputText),
		"images", len(res.Images),
	)
	return res, nil
}

// readResultDir reads an unpacked archive. The outputs normally sit at the
// root; otherwise the shallowest directory holding output.txt is used.
func readResultDir(root string) (*Result, error) {
	base, err := findOutputDir(root)
	if err != nil {
		return nil, err
	}

	output, err := os.ReadFile(filepath.Join(base, OutputFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", OutputFile, err)
	}

	res := &Result{OutputText: string(output), Images: []string{}}

	errText, err := os.ReadFile(filepath.Join(base, ErrorFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", ErrorFile, err)
	default:
		res.ErrorText = string(errText)
	}

	entries, err := os.ReadDir(filepath.Join(base, ImagesDir))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", ImagesDir, err)
	default:
		for _, e := range entries {
			if e.Type().IsRegular() {
				res.Images = append(res.Images, e.Name())
			}
		}
		sort.Strings(res.Images)
	}
	return res, nil
}

func findOutputDir(root string) (string, error) {
	if _, err := os.Stat(filepath.Join(root, OutputFile)); err == nil {
		return root, nil
	}

	found := ""
	depth := -1
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != OutputFile {
			return nil
		}
		dir := filepath.Dir(p)
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			return err
		}
		n := strings.Count(filepath.ToSlash(rel), "/")
		if depth < 0 || n < depth {
			found, depth = dir, n
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan archive: %w", err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s not in archive", ErrRetrievalMissing, OutputFile)
	}
	return found, nil
}
