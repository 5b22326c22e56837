package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/landscape/internal/config"
	"github.com/cwbudde/landscape/internal/store"
)

var (
	logLevel   string
	configPath string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "landscape",
	Short: "Energy landscape exploration with basin hopping and saddle search",
	Long: `Landscape explores the potential energy surface of atomic clusters.
It finds low-lying minima by parallel basin hopping and refines transition
states with a minimum-mode following saddle search.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Setup logger
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stderr, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (YAML or JSON); LANDSCAPE_* variables override it")
}

// runFlags are the configuration overrides shared by the commands that run jobs.
// A flag only overrides the loaded configuration when it was set explicitly.
type runFlags struct {
	system          string
	natoms          int
	seed            int64
	steps           int
	temperature     float64
	stepsize        float64
	walkers         int
	quench          string
	database        string
	dataDir         string
	trace           bool
	checkpointEvery int
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.system, "system", "lj", "Potential: lj, trimer or lj-dimer")
	fs.IntVar(&f.natoms, "natoms", 13, "Number of atoms (molecules for lj-dimer)")
	fs.Int64Var(&f.seed, "seed", 0, "Random seed")
	fs.IntVar(&f.steps, "steps", 1000, "Basin hopping steps per walker")
	fs.Float64Var(&f.temperature, "temperature", 1, "Metropolis temperature")
	fs.Float64Var(&f.stepsize, "stepsize", 0, "Initial random displacement (0 = system default)")
	fs.IntVar(&f.walkers, "walkers", 1, "Number of concurrent walkers")
	fs.StringVar(&f.quench, "quench", "lbfgs", "Quench minimizer: lbfgs, gonum-lbfgs, bfgs, cg, gd")
	fs.StringVar(&f.database, "db", "", "SQLite database cataloguing minima and transition states")
	fs.StringVar(&f.dataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
	fs.BoolVar(&f.trace, "trace", false, "Write a JSONL trace of every step")
	fs.IntVar(&f.checkpointEvery, "checkpoint-every", 0, "Save a checkpoint every N steps (0 = only at the end)")
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.RunConfig) {
	changed := cmd.Flags().Changed
	if changed("system") {
		cfg.System.Name = f.system
	}
	if changed("natoms") {
		cfg.System.NAtoms = f.natoms
	}
	if changed("seed") {
		cfg.System.Seed = f.seed
	}
	if changed("steps") {
		cfg.BasinHopping.Steps = f.steps
	}
	if changed("temperature") {
		cfg.BasinHopping.Temperature = f.temperature
	}
	if changed("stepsize") {
		cfg.BasinHopping.Stepsize = f.stepsize
	}
	if changed("walkers") {
		cfg.BasinHopping.Walkers = f.walkers
	}
	if changed("quench") {
		cfg.Quench.Method = f.quench
	}
	if changed("db") {
		cfg.Storage.Database = f.database
	}
	if changed("data-dir") {
		cfg.Storage.DataDir = f.dataDir
	}
	if changed("trace") {
		cfg.Storage.Trace = f.trace
	}
	if changed("checkpoint-every") {
		cfg.Storage.CheckpointEvery = f.checkpointEvery
	}
}

// loadRunConfig loads --config, applies the explicitly set flags and validates the result
func loadRunConfig(cmd *cobra.Command, flags *runFlags) (config.RunConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if flags != nil {
		flags.apply(cmd, &cfg)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// resources are the stores a command opens from the storage section
type resources struct {
	checkpoints *store.FSStore
	database    *store.Database
}

func openResources(cfg config.RunConfig) (*resources, error) {
	fs, err := store.NewFSStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	res := &resources{checkpoints: fs}
	if cfg.Storage.Database != "" {
		db, err := store.OpenDatabase(cfg.Storage.Database, cfg.Storage.Accuracy)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		res.database = db
	}
	return res, nil
}

func (r *resources) Close() {
	if r.database != nil {
		if err := r.database.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
	}
}
