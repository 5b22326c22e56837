package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FSStore keeps one directory per job under <baseDir>/jobs/<jobID>/.
// Writes go through a temp file and rename, so readers never see partial files.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a filesystem store, creating baseDir if needed
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the root directory of the store
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

func (fs *FSStore) jobDir(jobID string) string {
	return filepath.Join(fs.baseDir, "jobs", jobID)
}

func (fs *FSStore) checkpointPath(jobID string) string {
	return filepath.Join(fs.jobDir(jobID), "checkpoint.json")
}

func (fs *FSStore) resultPath(jobID string) string {
	return filepath.Join(fs.jobDir(jobID), "result.json")
}

// writeJSON atomically writes v as indented JSON to path
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", filepath.Base(path), err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readJSON decodes path into v, returning a NotFoundError for jobID if it is missing
func readJSON(path, jobID string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &NotFoundError{JobID: jobID}
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to deserialize %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SaveCheckpoint atomically saves a checkpoint for the given job
func (fs *FSStore) SaveCheckpoint(jobID string, checkpoint *Checkpoint) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	path := fs.checkpointPath(jobID)
	if err := writeJSON(path, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Debug("Checkpoint saved", "jobID", jobID, "stepnum", checkpoint.StepNum, "path", path)
	return nil
}

// LoadCheckpoint retrieves the checkpoint for the given job
func (fs *FSStore) LoadCheckpoint(jobID string) (*Checkpoint, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID cannot be empty")
	}

	var checkpoint Checkpoint
	if err := readJSON(fs.checkpointPath(jobID), jobID, &checkpoint); err != nil {
		return nil, err
	}

	slog.Debug("Checkpoint loaded", "jobID", jobID, "stepnum", checkpoint.StepNum)
	return &checkpoint, nil
}

// SaveResult atomically stores a job's final result as result.json
func (fs *FSStore) SaveResult(jobID string, result any) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	if err := writeJSON(fs.resultPath(jobID), result); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// LoadResult decodes a job's result.json into v
func (fs *FSStore) LoadResult(jobID string, v any) error {
	return readJSON(fs.resultPath(jobID), jobID, v)
}

// ListCheckpoints returns metadata for all readable checkpoints
func (fs *FSStore) ListCheckpoints() ([]CheckpointInfo, error) {
	entries, err := os.ReadDir(filepath.Join(fs.baseDir, "jobs"))
	if errors.Is(err, os.ErrNotExist) {
		return []CheckpointInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	infos := []CheckpointInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		jobID := entry.Name()
		if _, err := os.Stat(fs.checkpointPath(jobID)); err != nil {
			continue
		}

		checkpoint, err := fs.LoadCheckpoint(jobID)
		if err != nil {
			slog.Warn("Failed to load checkpoint for listing", "jobID", jobID, "error", err)
			continue
		}
		infos = append(infos, checkpoint.ToInfo())
	}

	slog.Debug("Listed checkpoints", "count", len(infos))
	return infos, nil
}

// DeleteCheckpoint removes the job directory and everything in it
func (fs *FSStore) DeleteCheckpoint(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}

	jobDir := fs.jobDir(jobID)
	if _, err := os.Stat(jobDir); errors.Is(err, os.ErrNotExist) {
		return &NotFoundError{JobID: jobID}
	} else if err != nil {
		return fmt.Errorf("failed to stat job directory: %w", err)
	}

	if err := os.RemoveAll(jobDir); err != nil {
		return fmt.Errorf("failed to remove job directory: %w", err)
	}

	slog.Debug("Checkpoint deleted", "jobID", jobID, "path", jobDir)
	return nil
}
