// Package store persists exploration state: walker checkpoints and step traces on the
// filesystem, and the catalogue of minima and transition states in SQLite.
package store

// Store persists walker checkpoints. Implementations must be safe for concurrent use.
//
// Load and Delete return a *NotFoundError (errors.Is(err, ErrNotFound)) for unknown jobs.
type Store interface {
	// SaveCheckpoint atomically replaces the checkpoint of jobID
	SaveCheckpoint(jobID string, checkpoint *Checkpoint) error

	// LoadCheckpoint returns the checkpoint of jobID
	LoadCheckpoint(jobID string) (*Checkpoint, error)

	// ListCheckpoints returns metadata for every readable checkpoint
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the checkpoint and every artifact of jobID
	// (checkpoint.json, trace.jsonl, result.json)
	DeleteCheckpoint(jobID string) error
}

// ErrNotFound is returned when a requested checkpoint or record does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError reports a missing checkpoint or record.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	if e.JobID != "" {
		return "not found: " + e.JobID
	}
	return "not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
