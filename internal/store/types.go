package store

import (
	"fmt"
	"strconv"
	"time"
)

// JobConfig is the part of a run configuration a checkpoint must agree with on resume.
// It is a copy to avoid import cycles with the config package.
type JobConfig struct {
	System      string  `json:"system"`
	NAtoms      int     `json:"natoms"`
	NDim        int     `json:"ndim"`
	Temperature float64 `json:"temperature"`
	Steps       int     `json:"steps"`
	Quench      string  `json:"quench"`
	Seed        int64   `json:"seed"`

	// CheckpointEvery saves a checkpoint every n steps (0 = disabled)
	CheckpointEvery int `json:"checkpointEvery,omitempty"`
}

// Checkpoint is the saved Markov state of a basin-hopping walker.
//
// Only the chain itself is saved: coordinates, energy and counters, plus the current step
// size and the lowest minimum seen. Random number generator state and adaptive-step
// block counters are reinitialized on resume, so a resumed chain is a statistically
// equivalent continuation rather than a bit-identical one.
type Checkpoint struct {
	JobID string `json:"jobId"`

	// Run is the job a walker checkpoint belongs to; empty when JobID is the job itself
	Run string `json:"run,omitempty"`

	// Markov state
	Coords    []float64 `json:"coords"`
	Energy    float64   `json:"energy"`
	StepNum   int       `json:"stepnum"`
	NAccepted int       `json:"naccepted"`

	// Stepsize is the step size at checkpoint time, after any adaptation
	Stepsize float64 `json:"stepsize"`

	LowestEnergy float64   `json:"lowestEnergy"`
	LowestCoords []float64 `json:"lowestCoords,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Config    JobConfig `json:"config"`
}

// CheckpointInfo is checkpoint metadata without coordinates
type CheckpointInfo struct {
	JobID        string    `json:"jobId"`
	Run          string    `json:"run,omitempty"`
	System       string    `json:"system"`
	NAtoms       int       `json:"natoms"`
	Energy       float64   `json:"energy"`
	LowestEnergy float64   `json:"lowestEnergy"`
	StepNum      int       `json:"stepnum"`
	Timestamp    time.Time `json:"timestamp"`
}

// RunID returns the job the checkpoint belongs to
func (i CheckpointInfo) RunID() string {
	if i.Run != "" {
		return i.Run
	}
	return i.JobID
}

// NewCheckpoint creates a checkpoint stamped with the current time
func NewCheckpoint(jobID string, coords []float64, energy float64, stepnum, naccepted int, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:        jobID,
		Coords:       coords,
		Energy:       energy,
		StepNum:      stepnum,
		NAccepted:    naccepted,
		LowestEnergy: energy,
		LowestCoords: coords,
		Timestamp:    time.Now(),
		Config:       config,
	}
}

// ToInfo converts a Checkpoint to its metadata
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:        c.JobID,
		Run:          c.Run,
		System:       c.Config.System,
		NAtoms:       c.Config.NAtoms,
		Energy:       c.Energy,
		LowestEnergy: c.LowestEnergy,
		StepNum:      c.StepNum,
		Timestamp:    c.Timestamp,
	}
}

// Validate checks the checkpoint for missing or inconsistent fields
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.Coords) == 0 {
		return &ValidationError{Field: "Coords", Reason: "cannot be empty"}
	}
	if c.Config.NDim > 0 && len(c.Coords) != c.Config.NDim {
		return &ValidationError{
			Field:  "Coords",
			Reason: fmt.Sprintf("length mismatch: expected %d coordinates for %s", c.Config.NDim, c.Config.System),
		}
	}
	if c.LowestCoords != nil && len(c.LowestCoords) != len(c.Coords) {
		return &ValidationError{Field: "LowestCoords", Reason: "length differs from Coords"}
	}
	if c.StepNum < 0 {
		return &ValidationError{Field: "StepNum", Reason: "cannot be negative"}
	}
	if c.NAccepted < 0 || c.NAccepted > c.StepNum {
		return &ValidationError{Field: "NAccepted", Reason: "must be between 0 and StepNum"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.System == "" {
		return &ValidationError{Field: "Config.System", Reason: "cannot be empty"}
	}
	if c.Config.Steps <= 0 {
		return &ValidationError{Field: "Config.Steps", Reason: "must be positive"}
	}
	return nil
}

// ValidationError reports an invalid field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks that a run with config can continue this checkpoint
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	if c.Config.System != config.System {
		return &CompatibilityError{
			Field:    "System",
			Expected: c.Config.System,
			Actual:   config.System,
		}
	}
	if c.Config.NAtoms != config.NAtoms {
		return &CompatibilityError{
			Field:    "NAtoms",
			Expected: strconv.Itoa(c.Config.NAtoms),
			Actual:   strconv.Itoa(config.NAtoms),
		}
	}
	return nil
}

// CompatibilityError reports a checkpoint that cannot be resumed with a configuration
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
