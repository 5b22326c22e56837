package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cwbudde/landscape/internal/explore"
	"github.com/cwbudde/landscape/internal/metrics"
	"github.com/cwbudde/landscape/internal/store"
)

var (
	resumeFlags runFlags
	resumeExtra int
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume a basin hopping walker from its checkpoint",
	Long: `Continues the walker saved under job-id. The system, seed and step budget come
from the checkpoint. --extra runs that many more steps instead of finishing the
original budget.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeFlags.register(resumeCmd)
	resumeCmd.Flags().IntVar(&resumeExtra, "extra", 0, "Run this many steps beyond the checkpoint (0 = finish the original budget)")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	cfg, err := loadRunConfig(cmd, &resumeFlags)
	if err != nil {
		return err
	}

	res, err := openResources(cfg)
	if err != nil {
		return err
	}
	defer res.Close()

	cp, err := res.checkpoints.LoadCheckpoint(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no checkpoint for job %s in %s", jobID, cfg.Storage.DataDir)
		}
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if resumeExtra == 0 && cp.StepNum >= cp.Config.Steps {
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s already finished %d steps; use --extra to continue\n", jobID, cp.StepNum)
		return nil
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := explore.Options{
		Checkpoints: res.checkpoints,
		Metrics:     metrics.Default(),
		Logger:      slog.Default().With("job_id", jobID),
	}
	if res.database != nil {
		opts.Sink = res.database
	}

	result, err := explore.Resume(ctx, cfg, cp, resumeExtra, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Job %s at step %d (%d accepted), lowest energy %.8f\n",
		jobID, result.Final.StepNum, result.Final.NAccepted, result.LowestEnergy)
	return nil
}
