// Package cli implements the agentplan command line interface.
package cli

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/agentplan/internal/executor"
	"github.com/example/agentplan/internal/gitexec"
	"github.com/example/agentplan/internal/merge"
	"github.com/example/agentplan/internal/proc"
	"github.com/example/agentplan/internal/service"
	"github.com/example/agentplan/internal/storage/sqlite"
	"github.com/example/agentplan/internal/worktree"
)

var (
	flagDB               string
	flagWorktreeRoot     string
	flagMaxParallel      int
	flagRecoveryInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "agentplan",
	Short: "Run DAGs of coding-agent jobs in isolated git worktrees",
	Long: `agentplan executes plans: dependency graphs of jobs where each job runs in
its own git worktree and successful results are merged into the plan's
target branch without ever checking that branch out.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", defaultDBPath(), "path to the plan database")
	rootCmd.PersistentFlags().StringVar(&flagWorktreeRoot, "worktree-root", "", "directory for job worktrees (default: system temp)")
	rootCmd.PersistentFlags().IntVar(&flagMaxParallel, "max-parallel", 8, "global cap on concurrently running jobs")
	rootCmd.PersistentFlags().DurationVar(&flagRecoveryInterval, "recovery-interval", 15*time.Second, "cadence of the recovery pump")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agentplan.db"
	}
	return filepath.Join(home, ".agentplan", "plans.db")
}

// openStore opens and migrates the plan database, creating its directory.
func openStore(cmd *cobra.Command) (*sqlite.Store, error) {
	if err := os.MkdirAll(filepath.Dir(flagDB), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.Open(flagDB)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(cmd.Context()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// newCoordinator assembles a coordinator over the given store with the real
// git binary, the local shell executor and OS process liveness.
func newCoordinator(store *sqlite.Store) *service.Coordinator {
	cfg := service.DefaultConfig()
	cfg.GlobalMaxParallel = flagMaxParallel
	cfg.RecoveryInterval = flagRecoveryInterval
	if flagWorktreeRoot != "" {
		cfg.WorktreeRoot = flagWorktreeRoot
	}
	git := gitexec.NewGit()
	return service.NewCoordinator(cfg, store, executor.NewLocal(git),
		worktree.NewManager(git), merge.NewEngine(git), proc.NewOS())
}
