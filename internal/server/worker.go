package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/cwbudde/landscape/internal/explore"
	"github.com/cwbudde/landscape/internal/metrics"
	"github.com/cwbudde/landscape/internal/store"
	"github.com/cwbudde/landscape/internal/system"
)

// keptMinima is the number of lowest minima reported per hop job
const keptMinima = 20

// Resources are the collaborators shared by every job. Every field is optional.
type Resources struct {
	// Checkpoints receives walker checkpoints and job results
	Checkpoints store.Store

	// Database catalogues minima and transition states across jobs
	Database *store.Database

	Metrics *metrics.Recorder
}

// resultSaver is implemented by stores that keep a job result next to its checkpoint
type resultSaver interface {
	SaveResult(jobID string, result any) error
}

// runJob executes a job in the background.
// If res.Checkpoints is set, walkers save a final checkpoint, plus periodic ones
// when checkpoint_every > 0.
func runJob(ctx context.Context, jm *JobManager, res Resources, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	// Check for cancellation before starting expensive operation
	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}
	if res.Metrics != nil {
		res.Metrics.JobStarted()
		defer res.Metrics.JobFinished()
	}

	slog.Info("Starting job", "job_id", jobID, "kind", job.Kind, "system", job.Config.System.Name)

	start := time.Now()
	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, start, progressDone)

	var runErr error
	switch job.Kind {
	case KindHop:
		runErr = runHop(ctx, jm, res, job)
	case KindRefine:
		runErr = runRefine(ctx, jm, res, job)
	default:
		runErr = fmt.Errorf("unknown job kind: %s", job.Kind)
	}
	close(progressDone)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			markJobCancelled(jm, jobID)
		} else {
			markJobFailed(jm, jobID, runErr)
		}
		return runErr
	}

	endTime := time.Now()
	if err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.EndTime = &endTime
	}); err != nil {
		return err
	}

	final, _ := jm.GetJob(jobID)
	saveResult(res, final)

	elapsed := time.Since(start)
	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"steps", final.StepNum,
		"lowest_energy", final.LowestEnergy,
	)

	// Broadcast final completion event
	jm.broadcaster.Broadcast(progressEvent(final, stepsPerSecond(final.StepNum, elapsed)))
	return nil
}

// runHop runs the walkers of a basin hopping job
func runHop(ctx context.Context, jm *JobManager, res Resources, job Job) error {
	saveN := store.NewSaveN(keptMinima, job.Config.Storage.Accuracy)
	var sink store.Inserter = saveN
	if res.Database != nil {
		sink = store.MultiSink{saveN, res.Database}
	}

	steps := make([]int, job.Config.BasinHopping.Walkers)
	accepted := make([]int, len(steps))
	lowest := make([]float64, len(steps))
	for i := range lowest {
		lowest[i] = math.Inf(1)
	}
	opts := explore.Options{
		Sink:        sink,
		Checkpoints: res.Checkpoints,
		Metrics:     res.Metrics,
		Logger:      slog.Default().With("job_id", job.ID),
		Progress: func(p explore.Progress) {
			jm.UpdateJob(job.ID, func(j *Job) {
				steps[p.Walker] = p.StepNum
				accepted[p.Walker] = p.NAccepted
				lowest[p.Walker] = p.LowestEnergy
				j.StepNum, j.NAccepted = sum(steps), sum(accepted)
				j.LowestEnergy = slices.Min(lowest)
			})
		},
	}

	results, err := explore.RunWalkers(ctx, job.Config, job.ID, opts)
	jm.UpdateJob(job.ID, func(j *Job) {
		j.Walkers = results
		j.Minima = saveN.Minima()
		if best, ok := explore.Best(results); ok {
			j.LowestEnergy = best.LowestEnergy
		}
	})
	return err
}

// runRefine runs the transition-state refinement of a refine job
func runRefine(ctx context.Context, jm *JobManager, res Resources, job Job) error {
	sys, err := system.New(job.Config.System.Name, job.Config.System.NAtoms)
	if err != nil {
		return err
	}

	iter := 0
	opts := explore.RefineOptions{
		Database: res.Database,
		Connect:  res.Database != nil,
		Metrics:  res.Metrics,
		Logger:   slog.Default().With("job_id", job.ID),
		Event: func(energy float64, _ []float64, _ float64) {
			iter++
			jm.UpdateJob(job.ID, func(j *Job) {
				j.StepNum = iter
				j.LowestEnergy = energy
			})
		},
	}

	result, err := explore.Refine(ctx, job.Config, sys, job.Guess, job.Eigenvector, opts)
	jm.UpdateJob(job.ID, func(j *Job) {
		j.Refinement = &result
		j.StepNum = result.NIter
		j.LowestEnergy = result.Energy
	})
	return err
}

// saveResult writes the finished job next to its checkpoints
func saveResult(res Resources, job Job) {
	saver, ok := res.Checkpoints.(resultSaver)
	if !ok {
		return
	}
	if err := saver.SaveResult(job.ID, job); err != nil {
		slog.Warn("Failed to save job result", "job_id", job.ID, "error", err)
	}
}

// monitorProgress periodically broadcasts progress events while a job runs
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, startTime time.Time, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond) // Throttle to 2 updates per second
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			jm.broadcaster.Broadcast(progressEvent(job, stepsPerSecond(job.StepNum, time.Since(startTime))))
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(progressEvent(job, 0))
	}
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(progressEvent(job, 0))
	}
}
