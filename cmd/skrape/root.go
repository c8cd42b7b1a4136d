package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Almahr1/skrape/pkg/skrape"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "skrape",
		Short:        "Command line client for the skrape.ai scraping API",
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Config file path (optional).")
	flags.String("env-file", ".env", "Dotenv file with SKRAPE_* variables; skipped if missing.")
	flags.StringP("output", "o", "json", "Output format: json|yaml.")
	flags.String("api-key", "", "API key (defaults to SKRAPE_API_KEY).")
	flags.String("base-url", skrape.DefaultBaseURL, "API base URL.")
	flags.Duration("timeout", 0, "Per-request timeout (e.g. 30s).")
	flags.String("user-agent", "", "User-Agent header override.")
	flags.Float64("rate-limit", 0, "Client-side pacing in requests per second (0 disables).")
	flags.String("log-level", "", "Logging level: debug|info|warn|error.")
	flags.String("log-format", "", "Logging format: json|text.")
	flags.String("log-file", "", "Also write logs to this file.")
	flags.Duration("poll-timeout", 0, "Give up waiting for a job after this long.")

	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newMarkdownCmd())
	cmd.AddCommand(newBulkCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newJobCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// session loads configuration for cmd and runs fn with an open client
func session(cmd *cobra.Command, fn func(context.Context, *skrape.Client) error) error {
	configPath, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	if err := loadEnvFile(strings.TrimSpace(envFile)); err != nil {
		return err
	}

	cfg, err := skrape.LoadConfig(strings.TrimSpace(configPath), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := cfg.GetLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Debug("configuration loaded",
		zap.String("config_file", cfg.ConfigFileUsed()),
		zap.String("base_url", cfg.API.BaseURL),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	return skrape.WithSession(ctx, cfg, logger, func(c *skrape.Client) error {
		err := fn(ctx, c)
		if wait, ok := skrape.IsRateLimited(err); ok {
			logger.Warn("rate limited by the service", zap.Duration("retry_after", wait))
		}
		return err
	})
}

// waitIfQueued polls job to completion when wait is set and the job is still open
func waitIfQueued(ctx context.Context, c *skrape.Client, job *skrape.JobResult, wait bool) (*skrape.JobResult, error) {
	if !wait || job.Immediate() || job.Status.IsTerminal() {
		return job, nil
	}
	return c.WaitForJob(ctx, job.JobID, skrape.PollConfig{})
}

// loadEnvFile exports variables from path without overriding ones already set
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// writeResult prints v in the format chosen with --output
func writeResult(cmd *cobra.Command, v any) error {
	format, _ := cmd.Flags().GetString("output")

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return writeJSON(cmd.OutOrStdout(), v)
	case "yaml", "yml":
		return writeYAML(cmd.OutOrStdout(), v)
	default:
		return fmt.Errorf("unsupported output format %q (want json or yaml)", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML goes through JSON first so json tags and raw results render the
// same way in both formats
func writeYAML(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}
