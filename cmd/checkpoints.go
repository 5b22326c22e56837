package main

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/landscape/internal/store"
)

var (
	checkpointDataDir string
	keepLast          int
	olderThanDays     int
	forceClean        bool
	showWalkers       bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage walker checkpoints",
	Long: `Manage basin hopping checkpoints. A job with several walkers writes one checkpoint
per walker; list and clean treat those checkpoints as one run.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpointed runs",
	Long:  `Display every run with its walker count, system, last update, total steps, lowest energy and size on disk.`,
	RunE:  runListCheckpoints,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old runs",
	Long: `Delete checkpointed runs by retention policy. A run is kept or deleted with all of
its walkers. --keep-last keeps the N most recently updated runs, --older-than deletes runs
whose newest checkpoint is older than N days.`,
	RunE: runCleanCheckpoints,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(listCheckpointsCmd)
	checkpointsCmd.AddCommand(cleanCheckpointsCmd)

	checkpointsCmd.PersistentFlags().StringVar(&checkpointDataDir, "data-dir", "./data", "Base directory for checkpoint storage")

	listCheckpointsCmd.Flags().BoolVar(&showWalkers, "walkers", false, "Show one line per walker under each run")

	cleanCheckpointsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the N most recent runs (0 = keep all)")
	cleanCheckpointsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs not updated for N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

// checkpointRun groups the walker checkpoints of one job
type checkpointRun struct {
	ID      string
	Walkers []store.CheckpointInfo
	Updated time.Time
	Lowest  float64
}

// Steps is the number of steps taken by all walkers together
func (r checkpointRun) Steps() int {
	n := 0
	for _, w := range r.Walkers {
		n += w.StepNum
	}
	return n
}

// groupRuns collects checkpoints by run, most recently updated first
func groupRuns(infos []store.CheckpointInfo) []checkpointRun {
	index := make(map[string]int)
	var runs []checkpointRun
	for _, info := range infos {
		id := info.RunID()
		i, ok := index[id]
		if !ok {
			i = len(runs)
			index[id] = i
			runs = append(runs, checkpointRun{ID: id, Lowest: math.Inf(1)})
		}
		r := &runs[i]
		r.Walkers = append(r.Walkers, info)
		if info.Timestamp.After(r.Updated) {
			r.Updated = info.Timestamp
		}
		r.Lowest = math.Min(r.Lowest, info.LowestEnergy)
	}
	for i := range runs {
		slices.SortFunc(runs[i].Walkers, func(a, b store.CheckpointInfo) int {
			return strings.Compare(a.JobID, b.JobID)
		})
	}
	slices.SortFunc(runs, func(a, b checkpointRun) int {
		if c := b.Updated.Compare(a.Updated); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return runs
}

// selectRunsForDeletion applies the retention policy to runs ordered newest first
func selectRunsForDeletion(runs []checkpointRun, keepLast, olderThanDays int, now time.Time) []checkpointRun {
	var cutoff time.Time
	if olderThanDays > 0 {
		cutoff = now.AddDate(0, 0, -olderThanDays)
	}
	var toDelete []checkpointRun
	for i, r := range runs {
		tooMany := keepLast > 0 && i >= keepLast
		tooOld := olderThanDays > 0 && r.Updated.Before(cutoff)
		if tooMany || tooOld {
			toDelete = append(toDelete, r)
		}
	}
	return toDelete
}

func loadRuns() ([]checkpointRun, *store.FSStore, error) {
	checkpointStore, err := store.NewFSStore(checkpointDataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	infos, err := checkpointStore.ListCheckpoints()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return groupRuns(infos), checkpointStore, nil
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	runs, _, err := loadRuns()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No checkpoints found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tWALKERS\tSYSTEM\tUPDATED\tSTEPS\tLOWEST\tSIZE")
	fmt.Fprintln(w, "---\t-------\t------\t-------\t-----\t------\t----")

	checkpoints := 0
	for _, r := range runs {
		checkpoints += len(r.Walkers)
		first := r.Walkers[0]
		fmt.Fprintf(w, "%s\t%d\t%s-%d\t%s\t%d\t%.6f\t%s\n",
			shortID(r.ID),
			len(r.Walkers),
			first.System,
			first.NAtoms,
			r.Updated.Format("2006-01-02 15:04:05"),
			r.Steps(),
			r.Lowest,
			runSize(r),
		)
		if showWalkers {
			for _, info := range r.Walkers {
				fmt.Fprintf(w, "  %s\t\t\t%s\t%d\t%.6f\t\n",
					info.JobID,
					info.Timestamp.Format("2006-01-02 15:04:05"),
					info.StepNum,
					info.LowestEnergy,
				)
			}
		}
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal: %d run(s), %d checkpoint(s)\n", len(runs), checkpoints)
	return nil
}

func runCleanCheckpoints(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	runs, checkpointStore, err := loadRuns()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No checkpoints to clean.")
		return nil
	}

	toDelete := selectRunsForDeletion(runs, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No runs match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d run(s) to delete:\n", len(toDelete))
	for _, r := range toDelete {
		fmt.Fprintf(out, "  - %s (%d walker(s), %d steps, updated %s)\n",
			shortID(r.ID),
			len(r.Walkers),
			r.Steps(),
			r.Updated.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean && !confirm(cmd.InOrStdin(), out, "\nProceed with deletion? [y/N]: ") {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	deleted, failed := 0, 0
	for _, r := range toDelete {
		for _, info := range r.Walkers {
			if err := checkpointStore.DeleteCheckpoint(info.JobID); err != nil {
				slog.Error("Failed to delete checkpoint", "run", r.ID, "job_id", info.JobID, "error", err)
				failed++
				continue
			}
			slog.Info("Deleted checkpoint", "run", r.ID, "job_id", info.JobID)
			deleted++
		}
	}

	fmt.Fprintf(out, "\nDeleted %d checkpoint(s) from %d run(s), %d failed.\n", deleted, len(toDelete), failed)
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	var response string
	fmt.Fscanln(in, &response)
	return response == "y" || response == "Y"
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// runSize sums the job directories of every walker in r
func runSize(r checkpointRun) string {
	var total int64
	for _, info := range r.Walkers {
		size, err := getDirSize(filepath.Join(checkpointDataDir, "jobs", info.JobID))
		if err != nil {
			return "unknown"
		}
		total += size
	}
	return formatBytes(total)
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
