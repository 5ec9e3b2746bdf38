// Package main provides the recall hook binary: the thin process boundary
// between a coding assistant host and the compound memory core. Each hook
// (session start, tool use, pre-compaction, session end, distillation
// completion) runs as a short-lived invocation of this binary.
//
// Nothing here may abort the host session: every failure degrades to "no
// memory assistance this time" and the process exits zero.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/entrhq/recall/pkg/config"
	"github.com/entrhq/recall/pkg/logging"
)

var (
	configPath string
	workingDir string
	sessionID  string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "recall",
		Short:         "Compound memory hooks for coding assistant sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <store root>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&workingDir, "cwd", ".", "project working directory")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "host session identifier")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")

	rootCmd.AddCommand(sessionStartCmd())
	rootCmd.AddCommand(postToolCmd())
	rootCmd.AddCommand(preCompactCmd())
	rootCmd.AddCommand(sessionEndCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(completeCmd())

	if err := rootCmd.Execute(); err != nil {
		// Hooks must never break the host session; the error is logged
		// and the exit stays zero.
		slog.Error("recall: hook failed", "err", err)
	}
}

// loadConfig resolves the configuration, falling back to defaults when the
// file is malformed.
func loadConfig() config.Config {
	path := configPath
	cfg := config.Default()
	if path == "" {
		path = filepath.Join(cfg.StoreRoot, "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recall: %v (using defaults)\n", err)
		return config.Default()
	}
	return cfg
}

// setupLogging routes slog to the store's log directory.
func setupLogging(cfg config.Config) func() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	cleanup, err := logging.Setup(filepath.Join(cfg.StoreRoot, "logs"), level)
	if err != nil {
		slog.Warn("recall: file logging unavailable", "err", err)
	}
	return cleanup
}
