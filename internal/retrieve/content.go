package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/lucasew/gharun/internal/forge"
	"github.com/lucasew/gharun/internal/job"
)

// ContentRetriever reads outputs the run committed under
// <root>/iteration<N>/ on the job ref.
type ContentRetriever struct {
	src    Source
	root   string
	logger *slog.Logger
}

func (r *ContentRetriever) Retrieve(ctx context.Context, target Target) (*Result, error) {
	dir := job.IterationDir(r.root, target.Iteration)

	output, err := r.src.ReadFile(ctx, target.Repo, target.Ref, path.Join(dir, OutputFile))
	if err != nil {
		if errors.Is(err, forge.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s: %w", ErrRetrievalMissing, path.Join(dir, OutputFile), err)
		}
		return nil, fmt.Errorf("read %s: %w", OutputFile, err)
	}

	res := &Result{OutputText: string(output), Images: []string{}}

	errText, err := r.src.ReadFile(ctx, target.Repo, target.Ref, path.Join(dir, ErrorFile))
	switch {
	case errors.Is(err, forge.ErrNotFound):
		r.logger.Debug("no error file", "dir", dir)
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", ErrorFile, err)
	default:
		res.ErrorText = string(errText)
	}

	entries, err := r.src.ListDir(ctx, target.Repo, target.Ref, path.Join(dir, ImagesDir))
	switch {
	case errors.Is(err, forge.ErrNotFound):
		r.logger.Debug("no images dir", "dir", dir)
	case err != nil:
		return nil, fmt.Errorf("list %s: %w", ImagesDir, err)
	default:
		for _, e := range entries {
			if e.Type == forge.EntryFile {
				res.Images = append(res.Images, e.Name)
			}
		}
		sort.Strings(res.Images)
	}

	r.logger.Info("content retrieved",
		"repo", target.Repo.String(),
		"ref", target.Ref,
		"dir", dir,
		"output_bytes", len(res.OutputText),
		"images", len(res.Images),
	)
	return res, nil
}
