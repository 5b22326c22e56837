package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/landscape/internal/explore"
	"github.com/cwbudde/landscape/internal/store"
)

func trimerJobConfig() store.JobConfig {
	return store.JobConfig{
		System:      "trimer",
		NAtoms:      3,
		NDim:        3,
		Temperature: 1,
		Steps:       100,
		Quench:      "lbfgs",
	}
}

// saveRun writes one checkpoint per walker, all stamped at updated
func saveRun(t *testing.T, fs *store.FSStore, run string, walkers int, updated time.Time) {
	t.Helper()
	for i := 0; i < walkers; i++ {
		cp := store.NewCheckpoint(explore.WalkerJobID(run, i, walkers), []float64{0.5, 0, -0.5}, 0, 10, 4, trimerJobConfig())
		if walkers > 1 {
			cp.Run = run
		}
		cp.Timestamp = updated
		if err := fs.SaveCheckpoint(cp.JobID, cp); err != nil {
			t.Fatalf("Failed to save checkpoint: %v", err)
		}
	}
}

// useDataDir points the checkpoint commands at a fresh store
func useDataDir(t *testing.T) *store.FSStore {
	t.Helper()
	dir := t.TempDir()
	fs, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	original := checkpointDataDir
	checkpointDataDir = dir
	t.Cleanup(func() {
		checkpointDataDir = original
		keepLast, olderThanDays, forceClean, showWalkers = 0, 0, false, false
	})
	return fs
}

func outputCommand() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

func TestGroupRuns(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{JobID: "a-w1", Run: "a", StepNum: 20, LowestEnergy: -1, Timestamp: now.Add(-time.Hour)},
		{JobID: "solo", StepNum: 5, LowestEnergy: -3, Timestamp: now.Add(-2 * time.Hour)},
		{JobID: "a-w0", Run: "a", StepNum: 30, LowestEnergy: -2, Timestamp: now.Add(-3 * time.Hour)},
	}

	runs := groupRuns(infos)
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}

	a := runs[0]
	if a.ID != "a" || len(a.Walkers) != 2 {
		t.Fatalf("Expected run a with 2 walkers first, got %s with %d", a.ID, len(a.Walkers))
	}
	if a.Walkers[0].JobID != "a-w0" {
		t.Errorf("Walkers should be sorted by job id, got %s first", a.Walkers[0].JobID)
	}
	if !a.Updated.Equal(now.Add(-time.Hour)) {
		t.Errorf("Run should be updated at its newest checkpoint, got %v", a.Updated)
	}
	if a.Steps() != 50 {
		t.Errorf("Expected 50 steps over both walkers, got %d", a.Steps())
	}
	if a.Lowest != -2 {
		t.Errorf("Expected lowest -2, got %v", a.Lowest)
	}

	if runs[1].ID != "solo" || len(runs[1].Walkers) != 1 {
		t.Errorf("Single-walker checkpoint should form its own run, got %+v", runs[1])
	}
}

func TestSelectRunsForDeletion_ByAge(t *testing.T) {
	now := time.Now()
	runs := []checkpointRun{
		{ID: "job3", Updated: now.AddDate(0, 0, -1)},
		{ID: "job2", Updated: now.AddDate(0, 0, -5)},
		{ID: "job1", Updated: now.AddDate(0, 0, -10)},
		{ID: "job4", Updated: now.AddDate(0, 0, -30)},
	}

	toDelete := selectRunsForDeletion(runs, 0, 7, now)

	if len(toDelete) != 2 || toDelete[0].ID != "job1" || toDelete[1].ID != "job4" {
		t.Errorf("Expected job1 and job4 to be selected for deletion, got %+v", toDelete)
	}
}

func TestSelectRunsForDeletion_ByCount(t *testing.T) {
	now := time.Now()
	runs := []checkpointRun{
		{ID: "job3", Updated: now.AddDate(0, 0, -1)},
		{ID: "job2", Updated: now.AddDate(0, 0, -5)},
		{ID: "job1", Updated: now.AddDate(0, 0, -10)},
	}

	toDelete := selectRunsForDeletion(runs, 2, 0, now)

	if len(toDelete) != 1 || toDelete[0].ID != "job1" {
		t.Errorf("Expected only the oldest run to be selected, got %+v", toDelete)
	}
}

func TestSelectRunsForDeletion_Combined(t *testing.T) {
	now := time.Now()
	runs := []checkpointRun{
		{ID: "job3", Updated: now.AddDate(0, 0, -1)},
		{ID: "job1", Updated: now.AddDate(0, 0, -10)},
		{ID: "job2", Updated: now.AddDate(0, 0, -20)},
	}

	// keep 2, but job1 is also too old
	toDelete := selectRunsForDeletion(runs, 2, 7, now)

	if len(toDelete) != 2 {
		t.Errorf("Expected 2 runs to delete without duplicates, got %d", len(toDelete))
	}
}

func TestGetDirSize(t *testing.T) {
	tmpDir := t.TempDir()

	testFile := filepath.Join(tmpDir, "test.txt")
	content := []byte("Hello, World!")
	if err := os.WriteFile(testFile, content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	size, err := getDirSize(tmpDir)
	if err != nil {
		t.Fatalf("getDirSize failed: %v", err)
	}

	if size < int64(len(content)) {
		t.Errorf("Expected size >= %d, got %d", len(content), size)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("formatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

func TestCheckpointsListCommand_NoCheckpoints(t *testing.T) {
	useDataDir(t)
	cmd, out := outputCommand()

	if err := runListCheckpoints(cmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "No checkpoints found.") {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestCheckpointsListCommand_GroupsWalkers(t *testing.T) {
	fs := useDataDir(t)
	saveRun(t, fs, "multi", 3, time.Now())
	saveRun(t, fs, "single", 1, time.Now().Add(-time.Hour))
	showWalkers = true

	cmd, out := outputCommand()
	if err := runListCheckpoints(cmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "Total: 2 run(s), 4 checkpoint(s)") {
		t.Errorf("Expected 2 runs and 4 checkpoints, got %q", text)
	}
	for _, id := range []string{"multi-w0", "multi-w1", "multi-w2", "trimer-3"} {
		if !strings.Contains(text, id) {
			t.Errorf("Output should mention %s: %q", id, text)
		}
	}
}

func TestCheckpointsCleanCommand_NoFlags(t *testing.T) {
	useDataDir(t)
	cmd, _ := outputCommand()

	if err := runCleanCheckpoints(cmd, nil); err == nil {
		t.Error("Expected error when no flags specified")
	}
}

func TestCheckpointsCleanCommand_KeepLastKeepsWholeRuns(t *testing.T) {
	fs := useDataDir(t)
	now := time.Now()
	saveRun(t, fs, "newest", 3, now)
	saveRun(t, fs, "older", 2, now.Add(-time.Hour))
	saveRun(t, fs, "oldest", 1, now.Add(-2*time.Hour))

	keepLast = 2
	forceClean = true
	cmd, out := outputCommand()
	if err := runCleanCheckpoints(cmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	infos, err := fs.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	// both multi-walker runs survive intact even though they hold 5 checkpoints
	if len(infos) != 5 {
		t.Errorf("Expected 5 checkpoints to remain, got %d", len(infos))
	}
	if _, err := fs.LoadCheckpoint("oldest"); err == nil {
		t.Error("Expected the oldest run to be deleted")
	}
	if !strings.Contains(out.String(), "Deleted 1 checkpoint(s) from 1 run(s)") {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestCheckpointsCleanCommand_OlderThanDeletesAllWalkers(t *testing.T) {
	fs := useDataDir(t)
	saveRun(t, fs, "stale", 2, time.Now().AddDate(0, 0, -30))
	saveRun(t, fs, "fresh", 1, time.Now())

	olderThanDays = 7
	forceClean = true
	cmd, _ := outputCommand()
	if err := runCleanCheckpoints(cmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	for _, id := range []string{"stale-w0", "stale-w1"} {
		if _, err := fs.LoadCheckpoint(id); err == nil {
			t.Errorf("Expected %s to be deleted", id)
		}
	}
	if _, err := fs.LoadCheckpoint("fresh"); err != nil {
		t.Errorf("Fresh run should remain: %v", err)
	}
}

func TestCheckpointsCleanCommand_Aborted(t *testing.T) {
	fs := useDataDir(t)
	saveRun(t, fs, "stale", 1, time.Now().AddDate(0, 0, -30))

	olderThanDays = 7
	cmd, out := outputCommand()
	cmd.SetIn(strings.NewReader("n\n"))
	if err := runCleanCheckpoints(cmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !strings.Contains(out.String(), "Aborted.") {
		t.Errorf("Expected abort message, got %q", out.String())
	}
	if _, err := fs.LoadCheckpoint("stale"); err != nil {
		t.Errorf("Checkpoint should survive an aborted clean: %v", err)
	}
}
