package retrieve

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lucasew/gharun/internal/forge"
	"github.com/lucasew/gharun/internal/forge/forgetest"
)

var testRepo = forge.Repo{Owner: "owner", Name: "repo"}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func artifactForge(data []byte) *forgetest.MockForge {
	f := &forgetest.MockForge{}
	f.On("ListArtifacts", mock.Anything, testRepo, int64(11)).Return([]forge.Artifact{
		{ID: 1, Name: "coverage"},
		{ID: 2, Name: DefaultArtifactName, Expired: true},
		{ID: 3, Name: DefaultArtifactName},
	}, nil)
	f.On("DownloadArtifact", mock.Anything, testRepo, int64(3)).Return(data, nil)
	return f
}

func newArtifactRetriever(t *testing.T, f Source) (Retriever, string) {
	t.Helper()
	tmp := t.TempDir()
	r, err := New(f, Config{Strategy: StrategyArtifact, TempDir: tmp}, discard())
	require.NoError(t, err)
	return r, tmp
}

func assertTempDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "extraction dir must be removed")
}

func TestArtifact_RoundTrip(t *testing.T) {
	data := buildZip(t, map[string]string{
		"output.txt":     "A",
		"error.txt":      "B",
		"images/y.png":   "png",
		"images/x.png":   "png",
		"images/nested/": "",
	})
	r, tmp := newArtifactRetriever(t, artifactForge(data))

	res, err := r.Retrieve(context.Background(), Target{Repo: testRepo, Ref: "exp", Iteration: 1, RunID: 11})

	require.NoError(t, err)
	assert.Equal(t, &Result{OutputText: "A", ErrorText: "B", Images: []string{"x.png", "y.png"}}, res)
	assertTempDirEmpty(t, tmp)
}

func TestArtifact_MissingErrorFile(t *testing.T) {
	data := buildZip(t, map[string]string{"output.txt": "A"})
	r, tmp := newArtifactRetriever(t, artifactForge(data))

	res, err := r.Retrieve(context.Background(), Target{Repo: testRepo, RunID: 11})

	require.NoError(t, err)
	assert.Equal(t, &Result{OutputText: "A", Images: []string{}}, res)
	assertTempDirEmpty(t, tmp)
}

func TestArtifact_MissingOutputFile(t *testing.T) {
	data := buildZip(t, map[string]string{"error.txt": "B"})
	r, tmp := newArtifactRetriever(t, artifactForge(data))

	_, err := r.Retrieve(context.Background(), Target{Repo: testRepo, RunID: 11})

	assert.ErrorIs(t, err, ErrRetrievalMissing)
	assertTempDirEmpty(t, tmp)
}

func TestArtifact_NestedLayout(t *testing.T) {
	data := buildZip(t, map[string]string{
		"logs/deep/output.txt": "deep",
		"logs/output.txt":      "A",
		"logs/images/a.png":    "png",
	})
	r, _ := newArtifactRetriever(t, artifactForge(data))

	res, err := r.Retrieve(context.Background(), Target{Repo: testRepo, RunID: 11})

	require.NoError(t, err)
	assert.Equal(t, "A", res.OutputText)
	assert.Equal(t, []string{"a.png"}, res.Images)
}

func TestArtifact_RejectsZipSlip(t *testing.T) {
	data := buildZip(t, map[string]string{"../escape.txt": "x", "output.txt": "A"})
	r, tmp := newArtifactRetriever(t, artifactForge(data))

	_, err := r.Retrieve(context.Background(), Target{Repo: testRepo, RunID: 11})

	assert.Error(t, err)
	assertTempDirEmpty(t, tmp)
}

func TestArtifact_NotFound(t *testing.T) {
	f := &forgetest.MockForge{}
	f.On("ListArtifacts", mock.Anything, testRepo, int64(11)).Return([]forge.Artifact{{ID: 1, Name: "other"}}, nil)
	r, _ := newArtifactRetriever(t, f)

	_, err := r.Retrieve(context.Background(), Target{Repo: testRepo, RunID: 11})

	assert.ErrorIs(t, err, ErrRetrievalMissing)
	f.AssertNotCalled(t, "DownloadArtifact", mock.Anything, mock.Anything, mock.Anything)
}

func TestArtifact_DownloadFailure(t *testing.T) {
	f := &forgetest.MockForge{}
	f.On("ListArtifacts", mock.Anything, testRepo, int64(11)).Return([]forge.Artifact{{ID: 3, Name: DefaultArtifactName}}, nil)
	f.On("DownloadArtifact", mock.Anything, testRepo, int64(3)).Return(nil, errors.New("503"))
	r, _ := newArtifactRetriever(t, f)

	_, err := r.Retrieve(context.Background(), Target{Repo: testRepo, RunID: 11})

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetrievalMissing)
}

func contentForge() *forgetest.MockForge {
	f := &forgetest.MockForge{}
	f.On("ReadFile", mock.Anything, testRepo, "exp", ".research/iteration2/output.txt").Return([]byte("Hello"), nil)
	return f
}

func newContentRetriever(t *testing.T, f Source) Retriever {
	t.Helper()
	r, err := New(f, Config{Strategy: StrategyContent}, discard())
	require.NoError(t, err)
	return r
}

func TestContent_RoundTrip(t *testing.T) {
	f := contentForge()
	f.On("ReadFile", mock.Anything, testRepo, "exp", ".research/iteration2/error.txt").Return([]byte("warn"), nil)
	f.On("ListDir", mock.Anything, testRepo, "exp", ".research/iteration2/images").Return([]forge.Entry{
		{Name: "b.png", Type: forge.EntryFile},
		{Name: "sub", Type: forge.EntryDir},
		{Name: "a.png", Type: forge.EntryFile},
	}, nil)

	res, err := newContentRetriever(t, f).Retrieve(context.Background(), Target{Repo: testRepo, Ref: "exp", Iteration: 2})

	require.NoError(t, err)
	assert.Equal(t, &Result{OutputText: "Hello", ErrorText: "warn", Images: []string{"a.png", "b.png"}}, res)
}

func TestContent_MissingOptionalFiles(t *testing.T) {
	f := contentForge()
	f.On("ReadFile", mock.Anything, testRepo, "exp", ".research/iteration2/error.txt").Return(nil, forge.ErrNotFound)
	f.On("ListDir", mock.Anything, testRepo, "exp", ".research/iteration2/images").Return(nil, forge.ErrNotFound)

	res, err := newContentRetriever(t, f).Retrieve(context.Background(), Target{Repo: testRepo, Ref: "exp", Iteration: 2})

	require.NoError(t, err)
	assert.Equal(t, &Result{OutputText: "Hello", Images: []string{}}, res)
}

func TestContent_MissingOutput(t *testing.T) {
	f := &forgetest.MockForge{}
	f.On("ReadFile", mock.Anything, testRepo, "exp", ".research/iteration2/output.txt").Return(nil, forge.ErrNotFound)

	_, err := newContentRetriever(t, f).Retrieve(context.Background(), Target{Repo: testRepo, Ref: "exp", Iteration: 2})

	assert.ErrorIs(t, err, ErrRetrievalMissing)
}

func TestContent_ReadFailureIsNotMissing(t *testing.T) {
	f := contentForge()
	f.On("ReadFile", mock.Anything, testRepo, "exp", ".research/iteration2/error.txt").Return(nil, errors.New("500"))

	_, err := newContentRetriever(t, f).Retrieve(context.Background(), Target{Repo: testRepo, Ref: "exp", Iteration: 2})

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetrievalMissing)
}

func TestNew_UnknownStrategy(t *testing.T) {
	_, err := New(&forgetest.MockForge{}, Config{Strategy: "ftp"}, discard())
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyArtifact, s)

	s, err = ParseStrategy("Content")
	require.NoError(t, err)
	assert.Equal(t, StrategyContent, s)

	_, err = ParseStrategy("ftp")
	assert.Error(t, err)
}
