// Package archive keeps retrieved results after the run's own storage has
// expired.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/lucasew/gharun/internal/job"
)

// Storage defines the interface for archive storage operations.
type Storage interface {
	// Save stores one named file under key
	Save(ctx context.Context, key string, name string, data io.Reader) error

	// Get opens a file stored under key
	Get(ctx context.Context, key string, name string) (io.ReadCloser, error)

	// List lists the file names stored under key
	List(ctx context.Context, key string) ([]string, error)
}

// Key returns the storage key of one iteration, <owner>/<name>/<ref>/iteration<N>.
func Key(spec job.Spec) string {
	return path.Join(
		cleanSegment(spec.Repo.Owner),
		cleanSegment(spec.Repo.Name),
		cleanSegment(spec.Ref),
		fmt.Sprintf("iteration%d", spec.Iteration),
	)
}

// cleanSegment keeps a ref such as feature/x from adding directory levels.
func cleanSegment(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty archive key")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("invalid archive key %q", key)
		}
	}
	return nil
}
