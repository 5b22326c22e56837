package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/landscape/internal/config"
	"github.com/cwbudde/landscape/internal/explore"
	"github.com/cwbudde/landscape/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// JobKind selects what a job runs
type JobKind string

const (
	KindHop    JobKind = "hop"
	KindRefine JobKind = "refine"
)

// JobRequest is the body of POST /api/v1/jobs. Config is decoded over the server's
// defaults, so a request only needs the fields it changes.
type JobRequest struct {
	Kind   JobKind          `json:"kind"`
	Config config.RunConfig `json:"config"`

	// Guess and Eigenvector seed a refine job; Eigenvector is optional
	Guess       []float64 `json:"guess,omitempty"`
	Eigenvector []float64 `json:"eigenvector,omitempty"`
}

// Job represents a basin hopping or refinement job
type Job struct {
	ID          string           `json:"id"`
	Kind        JobKind          `json:"kind"`
	State       JobState         `json:"state"`
	Config      config.RunConfig `json:"config"`
	Guess       []float64        `json:"guess,omitempty"`
	Eigenvector []float64        `json:"eigenvector,omitempty"`

	// Progress summed over walkers
	StepNum      int     `json:"stepnum"`
	NAccepted    int     `json:"naccepted"`
	LowestEnergy float64 `json:"lowestEnergy"`

	Walkers    []explore.WalkerResult `json:"walkers,omitempty"`
	Minima     []store.Minimum        `json:"minima,omitempty"`
	Refinement *explore.RefineResult  `json:"refinement,omitempty"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`

	cancel context.CancelFunc
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new pending job from a request
func (jm *JobManager) CreateJob(req JobRequest) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	kind := req.Kind
	if kind == "" {
		kind = KindHop
	}
	job := &Job{
		ID:          uuid.New().String(),
		Kind:        kind,
		State:       StatePending,
		Config:      req.Config,
		Guess:       req.Guess,
		Eigenvector: req.Eigenvector,
		StartTime:   time.Now(),
	}

	jm.jobs[job.ID] = job
	return job
}

// GetJob returns a copy of the job with the given ID
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns copies of all jobs
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, *job)
		}
	}
	return runningJobs
}

// setCancel registers the function that stops a running job
func (jm *JobManager) setCancel(id string, cancel context.CancelFunc) {
	jm.UpdateJob(id, func(j *Job) { j.cancel = cancel })
}

// CancelJob stops a pending or running job. It reports false for unknown or finished jobs.
func (jm *JobManager) CancelJob(id string) bool {
	jm.mu.RLock()
	job, exists := jm.jobs[id]
	var cancel context.CancelFunc
	active := false
	if exists {
		cancel = job.cancel
		active = job.State == StatePending || job.State == StateRunning
	}
	jm.mu.RUnlock()

	if !active || cancel == nil {
		return false
	}
	cancel()
	return true
}
