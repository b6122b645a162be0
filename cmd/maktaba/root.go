package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/maktaba/maktaba/internal/config"
	"github.com/maktaba/maktaba/internal/home"
	"github.com/maktaba/maktaba/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "maktaba",
	Short: "Adaptive page-by-page extraction of online books",
	Long: `Maktaba downloads online books page by page and stores the extracted
text in a local database.

The pipeline includes:
  - Adaptive execution: sequential, thread pool, async, or multiprocess
    depending on book size
  - Rate-limited fetching with bounded retries and 429 cooldowns
  - An HTML parser chain with a readability fallback
  - Atomic batched persistence with checkpointed resume`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.maktaba/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "maktaba home directory (default: ~/.maktaba)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(shardCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger. Logs go to stderr so the shard
// protocol on stdout stays clean.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// setup resolves the home directory and loads configuration.
func setup() (*home.Dir, *config.Config, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, nil, err
	}

	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	cfg := mgr.Get()
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = h.DatabasePath()
	}
	return h, cfg, nil
}
