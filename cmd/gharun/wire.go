package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/lucasew/gharun/internal/archive"
	"github.com/lucasew/gharun/internal/config"
	"github.com/lucasew/gharun/internal/dispatch"
	"github.com/lucasew/gharun/internal/executor"
	"github.com/lucasew/gharun/internal/forge"
	"github.com/lucasew/gharun/internal/forge/github"
	"github.com/lucasew/gharun/internal/gateway"
	"github.com/lucasew/gharun/internal/job"
	"github.com/lucasew/gharun/internal/netutil"
	"github.com/lucasew/gharun/internal/orchestration"
	"github.com/lucasew/gharun/internal/poll"
	"github.com/lucasew/gharun/internal/retrieve"
	"github.com/lucasew/gharun/internal/retry"
)

func loadConfig() (*config.Config, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func jobSpec(cfg *config.Config) (job.Spec, error) {
	repo, err := forge.ParseRepo(cfg.Job.Repository)
	if err != nil {
		return job.Spec{}, fmt.Errorf("job.repository: %w", err)
	}
	variant, err := job.ParseVariant(cfg.Job.Variant)
	if err != nil {
		return job.Spec{}, err
	}
	spec := job.Spec{
		Repo:      repo,
		Ref:       cfg.Job.Ref,
		Variant:   variant,
		Iteration: cfg.Job.IterationNumber(),
		Inputs:    cfg.Job.Inputs,
	}
	if err := spec.Validate(); err != nil {
		return job.Spec{}, err
	}
	return spec, nil
}

func tokenSource(cfg *config.Config, repo forge.Repo) (oauth2.TokenSource, error) {
	gh := cfg.GitHub
	if !gh.UsesApp() {
		if gh.Token == "" {
			return nil, fmt.Errorf("github.token is required (--config, GHARUN_GITHUB_TOKEN or GITHUB_TOKEN)")
		}
		return gateway.StaticToken(gh.Token), nil
	}

	key := []byte(gh.PrivateKey)
	if !strings.HasPrefix(strings.TrimSpace(gh.PrivateKey), "-----BEGIN") {
		data, err := os.ReadFile(gh.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		key = data
	}
	return github.NewAppTokenSource(github.AppConfig{
		AppID:          gh.AppID,
		PrivateKey:     key,
		InstallationID: gh.InstallationID,
		Repo:           repo,
		BaseURL:        gh.APIURL,
	})
}

func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     retry.Exponential(cfg.Retry.BaseDelay, cfg.Retry.Multiplier, cfg.Retry.MaxDelay),
	}
}

func newForge(cfg *config.Config, repo forge.Repo) (*github.GitHubForge, error) {
	ts, err := tokenSource(cfg, repo)
	if err != nil {
		return nil, err
	}
	gwCfg := gateway.Config{
		BaseURL:     cfg.GitHub.APIURL,
		TokenSource: ts,
		Retry:       retryPolicy(cfg),
		Logger:      logger,
	}
	if cfg.GitHub.SafeDownloads {
		gwCfg.DownloadTransport = (&netutil.SafeDialer{Timeout: 30 * time.Second}).Transport()
	}
	gw, err := gateway.New(gwCfg)
	if err != nil {
		return nil, err
	}
	return github.NewGitHubForge(gw, logger), nil
}

func newDispatcher(cfg *config.Config, f dispatch.Forge) *dispatch.Dispatcher {
	workflows := make(map[job.Variant]string, len(cfg.Workflows))
	for k, v := range cfg.Workflows {
		workflows[job.Variant(strings.ToLower(k))] = v
	}
	return dispatch.New(f, dispatch.Config{
		Workflows:        workflows,
		CorrelationInput: cfg.Job.CorrelationInput,
	}, logger)
}

func newPoller(cfg *config.Config, f forge.RunLister) *poll.Poller {
	return poll.New(f, poll.Config{
		Interval:             cfg.Poll.Interval,
		Timeout:              cfg.Poll.Timeout,
		MaxConsecutiveErrors: cfg.Poll.MaxConsecutiveErrors,
	}, logger)
}

func newRetriever(cfg *config.Config, f retrieve.Source) (retrieve.Retriever, error) {
	strategy, err := retrieve.ParseStrategy(cfg.Retrieval.Strategy)
	if err != nil {
		return nil, err
	}
	return retrieve.New(f, retrieve.Config{
		Strategy:     strategy,
		ArtifactName: cfg.Retrieval.ArtifactName,
		ContentRoot:  cfg.Retrieval.ContentRoot,
	}, logger)
}

func newExecutor(cfg *config.Config, f *github.GitHubForge, progress bool) (*executor.Executor, error) {
	r, err := newRetriever(cfg, f)
	if err != nil {
		return nil, err
	}
	var opts []executor.Option
	if progress {
		opts = append(opts, executor.WithObserver(orchestration.WriterObserver{W: os.Stderr}))
	}
	return executor.New(newDispatcher(cfg, f), newPoller(cfg, f), r, logger, opts...), nil
}

// openArchive returns nil when no archive is configured.
func openArchive(cfg *config.Config) (archive.Storage, error) {
	a := cfg.Archive
	if !a.Enabled() {
		return nil, nil
	}
	return archive.Open(archive.Config{
		Type: a.Type,
		Path: a.Path,
		Minio: archive.MinioConfig{
			Endpoint:  a.Endpoint,
			Bucket:    a.Bucket,
			AccessKey: a.AccessKey,
			SecretKey: a.SecretKey,
			UseSSL:    a.UseSSL,
		},
	})
}
