// Command conductor classifies free-text requests against a candidate
// catalog and decides whether to dispatch an agent, inject a skill, or stay
// quiet - then tracks the dispatched work through retries and learns from
// outcomes.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"conductor/internal/calibration"
	"conductor/internal/catalog"
	"conductor/internal/logging"
	"conductor/internal/orchestrator"
	"conductor/internal/retry"
	"conductor/internal/state"
)

var (
	// Global flags
	verbose     bool
	workspace   string
	catalogPath string
	sessionID   string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "conductor - intent classification and agent dispatch",
	Long: `conductor scores each incoming request against a catalog of agents and
skills using deterministic keyword/phrase matching, then decides per turn:
auto-dispatch a worker, inject reference material, surface a recommendation,
or do nothing.

Dispatched work is tracked per session; failures are retried with exponential
backoff, scope errors fall back to alternative candidates, and observed
outcomes calibrate future confidence.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve working directory: %w", err)
			}
			workspace = cwd
		}

		if err := logging.Initialize(workspace); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: file logging unavailable: %v\n", err)
		}

		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "catalog YAML path (default: .conductor/catalog.yaml, falling back to built-ins)")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "default", "session id")

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(reportCmd)
}

// conductorDir returns the workspace dot-directory.
func conductorDir() string {
	return filepath.Join(workspace, ".conductor")
}

// loadCatalog resolves the catalog: explicit flag, workspace file, or the
// built-in default set.
func loadCatalog() (*catalog.Catalog, string, error) {
	if catalogPath != "" {
		cat, err := catalog.Load(catalogPath)
		return cat, catalogPath, err
	}
	wsPath := filepath.Join(conductorDir(), "catalog.yaml")
	if _, err := os.Stat(wsPath); err == nil {
		cat, err := catalog.Load(wsPath)
		return cat, wsPath, err
	}
	return catalog.Default(), "", nil
}

// buildOrchestrator wires the component stack for CLI commands.
// The returned cleanup closes the attempt-history database.
func buildOrchestrator() (*orchestrator.Orchestrator, *retry.Manager, func(), error) {
	cfg := state.LoadConfig(filepath.Join(conductorDir(), "config.json"))

	cat, catPath, err := loadCatalog()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	if catPath != "" {
		logger.Debug("Catalog loaded", zap.String("path", catPath), zap.Int("entries", cat.Len()))
	}

	store := state.NewFileStore(
		filepath.Join(conductorDir(), "sessions"),
		state.WithMaxHistory(cfg.MaxPromptHistory),
		state.WithRetainSessions(cfg.RetainSessions),
		state.WithDefaultFlags(cfg.FlagValues()),
	)

	calib := calibration.NewEngine(filepath.Join(conductorDir(), "calibration.json"))

	hist, err := retry.OpenHistory(filepath.Join(conductorDir(), "history.db"))
	if err != nil {
		logger.Warn("Attempt history database unavailable, using memory only", zap.Error(err))
		hist = retry.NewHistory()
	}

	mgr := retry.NewManager(cat.AlternativeMap(), hist)
	orch := orchestrator.New(cat, store, calib, mgr)

	cleanup := func() {
		if err := hist.Close(); err != nil {
			logger.Warn("Failed to close attempt history", zap.Error(err))
		}
	}
	return orch, mgr, cleanup, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
