// Package retrieve collects the outputs of a finished run, either from the
// run's artifact archive or from files the run committed to the repository.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lucasew/gharun/internal/forge"
)

const (
	OutputFile = "output.txt"
	ErrorFile  = "error.txt"
	ImagesDir  = "images"

	DefaultArtifactName = "experiment-artifacts"
	DefaultContentRoot  = ".research"
)

// ErrRetrievalMissing means the run finished without leaving the outputs it
// must produce.
var ErrRetrievalMissing = errors.New("required output missing")

type Strategy string

const (
	StrategyArtifact Strategy = "artifact"
	StrategyContent  Strategy = "content"
)

func ParseStrategy(s string) (Strategy, error) {
	switch v := Strategy(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return StrategyArtifact, nil
	case StrategyArtifact, StrategyContent:
		return v, nil
	default:
		return "", fmt.Errorf("unknown retrieval strategy %q (want artifact or content)", s)
	}
}

// Target points at the outputs of one iteration.
type Target struct {
	Repo      forge.Repo
	Ref       string
	Iteration int
	// RunID is required by the artifact strategy only.
	RunID int64
}

// Result is what the remote script produced. ErrorText is empty when the
// script wrote no error file; Images holds file names in lexical order.
type Result struct {
	OutputText string
	ErrorText  string
	Images     []string
}

type Retriever interface {
	Retrieve(ctx context.Context, target Target) (*Result, error)
}

// Source is the part of the forge the retrievers read from.
type Source interface {
	forge.ArtifactSource
	forge.ContentReader
}

type Config struct {
	Strategy     Strategy
	ArtifactName string
	ContentRoot  string
	// TempDir is where archives are unpacked, os.TempDir when empty.
	TempDir string
}

func New(src Source, cfg Config, logger *slog.Logger) (Retriever, error) {
	if cfg.ArtifactName == "" {
		cfg.ArtifactName = DefaultArtifactName
	}
	if cfg.ContentRoot == "" {
		cfg.ContentRoot = DefaultContentRoot
	}

	switch cfg.Strategy {
	case StrategyArtifact, "":
		return &ArtifactRetriever{
			src:     src,
			name:    cfg.ArtifactName,
			tempDir: cfg.TempDir,
			logger:  logger,
		}, nil
	case StrategyContent:
		return &ContentRetriever{
			src:    src,
			root:   cfg.ContentRoot,
			logger: logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown retrieval strategy %q", cfg.Strategy)
	}
}
