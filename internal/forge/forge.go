package forge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned (possibly joined with the transport error) when the
// forge reports that a repository, ref, file or artifact does not exist.
var ErrNotFound = errors.New("not found")

// Forge is the subset of a git hosting platform the executor talks to.
type Forge interface {
	RunLister
	WorkflowTrigger
	ArtifactSource
	ContentReader
	ContentWriter
	Branches

	// GetRepository looks up repository metadata
	GetRepository(ctx context.Context, repo Repo) (*Repository, error)
}

type RunLister interface {
	// ListRuns lists runs on ref for the given event, newest first
	ListRuns(ctx context.Context, repo Repo, ref, event string) (*RunList, error)
}

type WorkflowTrigger interface {
	// TriggerWorkflow fires a workflow by its definition file name.
	// The platform does not return the id of the run it creates.
	TriggerWorkflow(ctx context.Context, repo Repo, workflowFile, ref string, inputs map[string]string) error
}

type ArtifactSource interface {
	ListArtifacts(ctx context.Context, repo Repo, runID int64) ([]Artifact, error)
	// DownloadArtifact returns the zip archive of an artifact
	DownloadArtifact(ctx context.Context, repo Repo, artifactID int64) ([]byte, error)
}

type ContentReader interface {
	// ReadFile returns the decoded content of a file at ref
	ReadFile(ctx context.Context, repo Repo, ref, path string) ([]byte, error)
	// ListDir lists the entries of a directory at ref
	ListDir(ctx context.Context, repo Repo, ref, path string) ([]Entry, error)
}

type ContentWriter interface {
	// PutFile creates or updates a file on branch with a single commit
	PutFile(ctx context.Context, repo Repo, branch, path string, content []byte, message string) error
}

type Branches interface {
	// GetBranch returns nil and no error when the branch does not exist
	GetBranch(ctx context.Context, repo Repo, name string) (*Branch, error)
	CreateBranch(ctx context.Context, repo Repo, name, fromSHA string) error
}

// Repo identifies a repository as owner/name.
type Repo struct {
	Owner string
	Name  string
}

func ParseRepo(s string) (Repo, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("invalid repo format: %s", s)
	}
	return Repo{Owner: parts[0], Name: parts[1]}, nil
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

type Repository struct {
	FullName      string
	DefaultBranch string
	Private       bool
	HTMLURL       string
}

type Branch struct {
	Name string
	SHA  string
}

type RunStatus string

const (
	StatusQueued     RunStatus = "queued"
	StatusInProgress RunStatus = "in_progress"
	StatusCompleted  RunStatus = "completed"
)

// Run is one execution of a dispatched workflow.
type Run struct {
	ID         int64
	Status     RunStatus
	Conclusion string // empty while the run has no conclusion
	Title      string // display title, carries the correlation id when the workflow echoes it
	HTMLURL    string
	CreatedAt  time.Time
}

// Terminal reports whether the run finished and will not change again.
func (r Run) Terminal() bool {
	return r.Status == StatusCompleted && r.Conclusion != ""
}

// RunList is one page of runs. TotalCount counts every run matching the
// filter, not only the ones on this page.
type RunList struct {
	TotalCount int
	Runs       []Run
}

type Artifact struct {
	ID          int64
	Name        string
	SizeInBytes int64
	Expired     bool
}

type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name string
	Path string
	Type EntryType
	Size int
}
