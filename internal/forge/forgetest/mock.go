// Package forgetest provides a testify mock of forge.Forge.
package forgetest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lucasew/gharun/internal/forge"
)

type MockForge struct {
	mock.Mock
}

var _ forge.Forge = (*MockForge)(nil)

func (m *MockForge) GetRepository(ctx context.Context, repo forge.Repo) (*forge.Repository, error) {
	args := m.Called(ctx, repo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*forge.Repository), args.Error(1)
}

func (m *MockForge) ListRuns(ctx context.Context, repo forge.Repo, ref, event string) (*forge.RunList, error) {
	args := m.Called(ctx, repo, ref, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*forge.RunList), args.Error(1)
}

func (m *MockForge) TriggerWorkflow(ctx context.Context, repo forge.Repo, workflowFile, ref string, inputs map[string]string) error {
	return m.Called(ctx, repo, workflowFile, ref, inputs).Error(0)
}

func (m *MockForge) ListArtifacts(ctx context.Context, repo forge.Repo, runID int64) ([]forge.Artifact, error) {
	args := m.Called(ctx, repo, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]forge.Artifact), args.Error(1)
}

func (m *MockForge) DownloadArtifact(ctx context.Context, repo forge.Repo, artifactID int64) ([]byte, error) {
	args := m.Called(ctx, repo, artifactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockForge) ReadFile(ctx context.Context, repo forge.Repo, ref, path string) ([]byte, error) {
	args := m.Called(ctx, repo, ref, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockForge) ListDir(ctx context.Context, repo forge.Repo, ref, path string) ([]forge.Entry, error) {
	args := m.Called(ctx, repo, ref, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]forge.Entry), args.Error(1)
}

func (m *MockForge) PutFile(ctx context.Context, repo forge.Repo, branch, path string, content []byte, message string) error {
	return m.Called(ctx, repo, branch, path, content, message).Error(0)
}

func (m *MockForge) GetBranch(ctx context.Context, repo forge.Repo, name string) (*forge.Branch, error) {
	args := m.Called(ctx, repo, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*forge.Branch), args.Error(1)
}

func (m *MockForge) CreateBranch(ctx context.Context, repo forge.Repo, name, fromSHA string) error {
	return m.Called(ctx, repo, name, fromSHA).Error(0)
}
