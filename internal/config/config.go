package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultIteration is used when job.iteration is not set.
const DefaultIteration = 1

type Config struct {
	GitHub    GitHubConfig      `yaml:"github" mapstructure:"github"`
	Job       JobConfig         `yaml:"job" mapstructure:"job"`
	Workflows map[string]string `yaml:"workflows" mapstructure:"workflows"`
	Poll      PollConfig        `yaml:"poll" mapstructure:"poll"`
	Retry     RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Retrieval RetrievalConfig   `yaml:"retrieval" mapstructure:"retrieval"`
	Archive   ArchiveConfig     `yaml:"archive" mapstructure:"archive"`
}

type GitHubConfig struct {
	APIURL string `yaml:"api_url" mapstructure:"api_url"`
	Token  string `yaml:"token" mapstructure:"token"`
	// App credentials are an alternative to Token
	AppID          int64  `yaml:"app_id" mapstructure:"app_id"`
	PrivateKey     string `yaml:"private_key" mapstructure:"private_key"`
	InstallationID int64  `yaml:"installation_id" mapstructure:"installation_id"`
	// SafeDownloads refuses artifact downloads resolving to private addresses
	SafeDownloads bool `yaml:"safe_downloads" mapstructure:"safe_downloads"`
}

func (c GitHubConfig) UsesApp() bool {
	return c.AppID != 0
}

type JobConfig struct {
	Repository string `yaml:"repository" mapstructure:"repository"`
	Ref        string `yaml:"ref" mapstructure:"ref"`
	Variant    string `yaml:"variant" mapstructure:"variant"`
	// Iteration is nil when unset, zero is a valid iteration
	Iteration *int              `yaml:"iteration" mapstructure:"iteration"`
	Inputs    map[string]string `yaml:"inputs" mapstructure:"inputs"`
	// CorrelationInput names the workflow input receiving a per dispatch id
	CorrelationInput string `yaml:"correlation_input" mapstructure:"correlation_input"`
}

type PollConfig struct {
	Interval             time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout              time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors" mapstructure:"max_consecutive_errors"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	Multiplier  float64       `yaml:"multiplier" mapstructure:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
}

type RetrievalConfig struct {
	Strategy     string `yaml:"strategy" mapstructure:"strategy"`
	ArtifactName string `yaml:"artifact_name" mapstructure:"artifact_name"`
	ContentRoot  string `yaml:"content_root" mapstructure:"content_root"`
}

type ArchiveConfig struct {
	Type      string `yaml:"type" mapstructure:"type"`
	Path      string `yaml:"path" mapstructure:"path"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// IterationNumber returns the configured iteration or DefaultIteration.
func (c JobConfig) IterationNumber() int {
	if c.Iteration == nil {
		return DefaultIteration
	}
	return *c.Iteration
}

func (c ArchiveConfig) Enabled() bool {
	return c.Type != ""
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	if c.GitHub.APIURL == "" {
		c.GitHub.APIURL = "https://api.github.com/"
	}
	if c.Job.Variant == "" {
		c.Job.Variant = "cpu"
	}
	if c.Job.Iteration == nil {
		iteration := DefaultIteration
		c.Job.Iteration = &iteration
	}
	if c.Workflows == nil {
		c.Workflows = map[string]string{}
	}
	if c.Workflows["cpu"] == "" {
		c.Workflows["cpu"] = "run_experiment_on_cpu.yml"
	}
	if c.Workflows["gpu"] == "" {
		c.Workflows["gpu"] = "run_experiment_on_gpu.yml"
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = 10 * time.Second
	}
	if c.Poll.Timeout == 0 {
		c.Poll.Timeout = 600 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 10
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 180 * time.Second
	}
	if c.Retrieval.Strategy == "" {
		c.Retrieval.Strategy = "artifact"
	}
	if c.Retrieval.ArtifactName == "" {
		c.Retrieval.ArtifactName = "experiment-artifacts"
	}
	if c.Retrieval.ContentRoot == "" {
		c.Retrieval.ContentRoot = ".research"
	}
}

// Validate rejects contradictory or partial settings. Job fields are checked
// by the commands that need them.
func (c *Config) Validate() error {
	gh := c.GitHub
	if gh.Token != "" && gh.UsesApp() {
		return fmt.Errorf("github.token and github.app_id are mutually exclusive")
	}
	if gh.UsesApp() && gh.PrivateKey == "" {
		return fmt.Errorf("github.private_key is required when github.app_id is set")
	}
	if !gh.UsesApp() && (gh.PrivateKey != "" || gh.InstallationID != 0) {
		return fmt.Errorf("github.app_id is required when github.private_key or github.installation_id is set")
	}

	if c.Job.Iteration != nil && *c.Job.Iteration < 0 {
		return fmt.Errorf("job.iteration must not be negative, got %d", *c.Job.Iteration)
	}
	if c.Poll.Interval < 0 || c.Poll.Timeout < 0 {
		return fmt.Errorf("poll.interval and poll.timeout must not be negative")
	}
	if c.Poll.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("poll.max_consecutive_errors must not be negative")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got %v", c.Retry.Multiplier)
	}

	switch c.Retrieval.Strategy {
	case "", "artifact", "content":
	default:
		return fmt.Errorf("unknown retrieval.strategy %q", c.Retrieval.Strategy)
	}

	a := c.Archive
	switch a.Type {
	case "":
	case "local":
		if a.Path == "" {
			return fmt.Errorf("archive.path is required for local archive")
		}
	case "minio":
		if a.Endpoint == "" || a.Bucket == "" {
			return fmt.Errorf("archive.endpoint and archive.bucket are required for minio archive")
		}
		if (a.AccessKey == "") != (a.SecretKey == "") {
			return fmt.Errorf("archive.access_key and archive.secret_key must be set together")
		}
	default:
		return fmt.Errorf("unknown archive.type %q", a.Type)
	}
	return nil
}
