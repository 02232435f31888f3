package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lucasew/gharun/internal/config"
)

var (
	cfgFile string
	verbose bool
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gharun",
	Short: "Run jobs on GitHub Actions and collect their results",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	},
	SilenceUsage: true,
}

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("execution failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./gharun.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every poll and request")

	rootCmd.PersistentFlags().String("repo", "", "target repository as owner/name")
	rootCmd.PersistentFlags().String("ref", "", "branch the workflow runs on")
	rootCmd.PersistentFlags().String("variant", "", "job variant: cpu or gpu")
	rootCmd.PersistentFlags().Int("iteration", config.DefaultIteration, "iteration counter passed to the workflow")
	rootCmd.PersistentFlags().StringToString("input", nil, "extra workflow input as key=value (repeatable)")

	_ = viper.BindPFlag("job.repository", rootCmd.PersistentFlags().Lookup("repo"))
	_ = viper.BindPFlag("job.ref", rootCmd.PersistentFlags().Lookup("ref"))
	_ = viper.BindPFlag("job.variant", rootCmd.PersistentFlags().Lookup("variant"))
	_ = viper.BindPFlag("job.iteration", rootCmd.PersistentFlags().Lookup("iteration"))
	_ = viper.BindPFlag("job.inputs", rootCmd.PersistentFlags().Lookup("input"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("gharun")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GHARUN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Explicitly bind environment variables
	envVars := []string{
		"github.api_url",
		"github.app_id",
		"github.private_key",
		"github.installation_id",
		"github.safe_downloads",
		"job.repository",
		"job.ref",
		"job.variant",
		"job.iteration",
		"job.correlation_input",
		"poll.interval",
		"poll.timeout",
		"poll.max_consecutive_errors",
		"retry.max_attempts",
		"retry.base_delay",
		"retry.multiplier",
		"retry.max_delay",
		"retrieval.strategy",
		"retrieval.artifact_name",
		"retrieval.content_root",
		"archive.type",
		"archive.path",
		"archive.endpoint",
		"archive.bucket",
		"archive.access_key",
		"archive.secret_key",
		"archive.use_ssl",
	}
	for _, key := range envVars {
		_ = viper.BindEnv(key)
	}
	// the token set by Actions itself is accepted as a fallback
	_ = viper.BindEnv("github.token", "GHARUN_GITHUB_TOKEN", "GITHUB_TOKEN")

	if err := viper.ReadInConfig(); err == nil {
		logger.Info("using config file", "file", viper.ConfigFileUsed())
	}
}
