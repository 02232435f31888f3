package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v66/github"

	"github.com/lucasew/gharun/internal/forge"
	"github.com/lucasew/gharun/internal/gateway"
)

const runsPerPage = 30

// GitHubForge implements forge.Forge on top of the GitHub REST API. Every call
// goes through the gateway, so it is classified and retried uniformly.
type GitHubForge struct {
	gw     *gateway.Gateway
	logger *slog.Logger
}

var _ forge.Forge = (*GitHubForge)(nil)

func NewGitHubForge(gw *gateway.Gateway, logger *slog.Logger) *GitHubForge {
	return &GitHubForge{
		gw:     gw,
		logger: logger,
	}
}

func (g *GitHubForge) client() *github.Client {
	return g.gw.Client()
}

func (g *GitHubForge) GetRepository(ctx context.Context, repo forge.Repo) (*forge.Repository, error) {
	var out *github.Repository
	err := g.gw.Do(ctx, "get repository", func(ctx context.Context) (*github.Response, error) {
		r, resp, err := g.client().Repositories.Get(ctx, repo.Owner, repo.Name)
		out = r
		return resp, err
	})
	if err != nil {
		return nil, notFound(fmt.Errorf("get repository %s: %w", repo, err))
	}
	return &forge.Repository{
		FullName:      out.GetFullName(),
		DefaultBranch: out.GetDefaultBranch(),
		Private:       out.GetPrivate(),
		HTMLURL:       out.GetHTMLURL(),
	}, nil
}

func (g *GitHubForge) GetBranch(ctx context.Context, repo forge.Repo, name string) (*forge.Branch, error) {
	var out *github.Branch
	err := g.gw.Do(ctx, "get branch", func(ctx context.Context) (*github.Response, error) {
		b, resp, err := g.client().Repositories.GetBranch(ctx, repo.Owner, repo.Name, name, 1)
		out = b
		return resp, err
	})
	if err != nil {
		// a missing branch is an expected answer, not a failure
		if gateway.StatusOf(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get branch %s: %w", name, err)
	}
	return &forge.Branch{
		Name: out.GetName(),
		SHA:  out.GetCommit().GetSHA(),
	}, nil
}

func (g *GitHubForge) CreateBranch(ctx context.Context, repo forge.Repo, name, fromSHA string) error {
	ref := &github.Reference{
		Ref:    github.String("refs/heads/" + name),
		Object: &github.GitObject{SHA: github.String(fromSHA)},
	}
	err := g.gw.Do(ctx, "create branch", func(ctx context.Context) (*github.Response, error) {
		_, resp, err := g.client().Git.CreateRef(ctx, repo.Owner, repo.Name, ref)
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	g.logger.Info("branch created", "repo", repo.String(), "branch", name, "sha", fromSHA)
	return nil
}

func (g *GitHubForge) TriggerWorkflow(ctx context.Context, repo forge.Repo, workflowFile, ref string, inputs map[string]string) error {
	event := github.CreateWorkflowDispatchEventRequest{Ref: ref}
	if len(inputs) > 0 {
		event.Inputs = make(map[string]interface{}, len(inputs))
		for k, v := range inputs {
			event.Inputs[k] = v
		}
	}

	err := g.gw.Do(ctx, "dispatch workflow", func(ctx context.Context) (*github.Response, error) {
		return g.client().Actions.CreateWorkflowDispatchEventByFileName(ctx, repo.Owner, repo.Name, workflowFile, event)
	})
	if err != nil {
		return fmt.Errorf("dispatch %s on %s: %w", workflowFile, ref, err)
	}
	return nil
}

func (g *GitHubForge) ListRuns(ctx context.Context, repo forge.Repo, ref, event string) (*forge.RunList, error) {
	opts := &github.ListWorkflowRunsOptions{
		Branch:      ref,
		Event:       event,
		ListOptions: github.ListOptions{PerPage: runsPerPage},
	}

	var out *github.WorkflowRuns
	err := g.gw.Do(ctx, "list runs", func(ctx context.Context) (*github.Response, error) {
		runs, resp, err := g.client().Actions.ListRepositoryWorkflowRuns(ctx, repo.Owner, repo.Name, opts)
		out = runs
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("list runs on %s: %w", ref, err)
	}

	list := &forge.RunList{
		TotalCount: out.GetTotalCount(),
		Runs:       make([]forge.Run, 0, len(out.WorkflowRuns)),
	}
	for _, r := range out.WorkflowRuns {
		list.Runs = append(list.Runs, forge.Run{
			ID:         r.GetID(),
			Status:     forge.RunStatus(r.GetStatus()),
			Conclusion: r.GetConclusion(),
			Title:      r.GetDisplayTitle(),
			HTMLURL:    r.GetHTMLURL(),
			CreatedAt:  r.GetCreatedAt().Time,
		})
	}
	// older API versions omit total_count
	if list.TotalCount < len(list.Runs) {
		list.TotalCount = len(list.Runs)
	}
	return list, nil
}

func (g *GitHubForge) ListArtifacts(ctx context.Context, repo forge.Repo, runID int64) ([]forge.Artifact, error) {
	var artifacts []forge.Artifact
	opts := &github.ListOptions{PerPage: 100}
	for {
		var page *github.ArtifactList
		var next int
		err := g.gw.Do(ctx, "list artifacts", func(ctx context.Context) (*github.Response, error) {
			list, resp, err := g.client().Actions.ListWorkflowRunArtifacts(ctx, repo.Owner, repo.Name, runID, opts)
			page = list
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("list artifacts of run %d: %w", runID, err)
		}
		for _, a := range page.Artifacts {
			artifacts = append(artifacts, forge.Artifact{
				ID:          a.GetID(),
				Name:        a.GetName(),
				SizeInBytes: a.GetSizeInBytes(),
				Expired:     a.GetExpired(),
			})
		}
		if next == 0 {
			return artifacts, nil
		}
		opts.Page = next
	}
}

func (g *GitHubForge) DownloadArtifact(ctx context.Context, repo forge.Repo, artifactID int64) ([]byte, error) {
	var location string
	err := g.gw.Do(ctx, "resolve artifact", func(ctx context.Context) (*github.Response, error) {
		u, resp, err := g.client().Actions.DownloadArtifact(ctx, repo.Owner, repo.Name, artifactID, 1)
		if u != nil {
			location = u.String()
		}
		return resp, err
	})
	if err != nil {
		return nil, notFound(fmt.Errorf("resolve artifact %d: %w", artifactID, err))
	}
	if location == "" {
		return nil, fmt.Errorf("resolve artifact %d: empty download location", artifactID)
	}

	data, err := g.gw.Fetch(ctx, "download artifact", location)
	if err != nil {
		return nil, fmt.Errorf("download artifact %d: %w", artifactID, err)
	}
	g.logger.Debug("artifact downloaded", "artifact_id", artifactID, "bytes", len(data))
	return data, nil
}

func (g *GitHubForge) getContents(ctx context.Context, repo forge.Repo, ref, path string) (*github.RepositoryContent, []*github.RepositoryContent, error) {
	opts := &github.RepositoryContentGetOptions{Ref: ref}
	var file *github.RepositoryContent
	var dir []*github.RepositoryContent
	err := g.gw.Do(ctx, "get contents", func(ctx context.Context) (*github.Response, error) {
		f, d, resp, err := g.client().Repositories.GetContents(ctx, repo.Owner, repo.Name, path, opts)
		file, dir = f, d
		return resp, err
	})
	if err != nil {
		return nil, nil, notFound(fmt.Errorf("get %s@%s: %w", path, ref, err))
	}
	return file, dir, nil
}

func (g *GitHubForge) ReadFile(ctx context.Context, repo forge.Repo, ref, path string) ([]byte, error) {
	file, _, err := g.getContents(ctx, repo, ref, path)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("read %s@%s: not a file", path, ref)
	}

	// files above 1MB come without inline content
	if file.GetEncoding() == "none" {
		return g.downloadContents(ctx, repo, ref, path)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s@%s: %w", path, ref, err)
	}
	return []byte(content), nil
}

func (g *GitHubForge) downloadContents(ctx context.Context, repo forge.Repo, ref, path string) ([]byte, error) {
	opts := &github.RepositoryContentGetOptions{Ref: ref}
	var data []byte
	err := g.gw.Do(ctx, "download contents", func(ctx context.Context) (*github.Response, error) {
		rc, resp, err := g.client().Repositories.DownloadContents(ctx, repo.Owner, repo.Name, path, opts)
		if err != nil {
			return resp, err
		}
		defer func() {
			_ = rc.Close()
		}()
		data, err = io.ReadAll(rc)
		return resp, err
	})
	if err != nil {
		return nil, notFound(fmt.Errorf("download %s@%s: %w", path, ref, err))
	}
	return data, nil
}

func (g *GitHubForge) ListDir(ctx context.Context, repo forge.Repo, ref, path string) ([]forge.Entry, error) {
	file, dir, err := g.getContents(ctx, repo, ref, path)
	if err != nil {
		return nil, err
	}
	if file != nil {
		return nil, fmt.Errorf("list %s@%s: not a directory", path, ref)
	}

	entries := make([]forge.Entry, 0, len(dir))
	for _, c := range dir {
		entries = append(entries, forge.Entry{
			Name: c.GetName(),
			Path: c.GetPath(),
			Type: forge.EntryType(c.GetType()),
			Size: c.GetSize(),
		})
	}
	return entries, nil
}

func (g *GitHubForge) PutFile(ctx context.Context, repo forge.Repo, branch, path string, content []byte, message string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(branch),
	}

	existing, _, err := g.getContents(ctx, repo, branch, path)
	switch {
	case errors.Is(err, forge.ErrNotFound):
		g.logger.Debug("file not found, creating", "path", path, "branch", branch)
	case err != nil:
		return err
	case existing != nil:
		opts.SHA = github.String(existing.GetSHA())
	}

	err = g.gw.Do(ctx, "put file", func(ctx context.Context) (*github.Response, error) {
		if opts.SHA != nil {
			_, resp, err := g.client().Repositories.UpdateFile(ctx, repo.Owner, repo.Name, path, opts)
			return resp, err
		}
		_, resp, err := g.client().Repositories.CreateFile(ctx, repo.Owner, repo.Name, path, opts)
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("put %s@%s: %w", path, branch, err)
	}
	g.logger.Info("file committed", "repo", repo.String(), "branch", branch, "path", path)
	return nil
}

// notFound marks 404 answers with forge.ErrNotFound while keeping the
// gateway error in the chain.
func notFound(err error) error {
	if gateway.StatusOf(err) == http.StatusNotFound {
		return errors.Join(forge.ErrNotFound, err)
	}
	return err
}
