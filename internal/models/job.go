package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates lifecycle states of a schedulable job.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusEnded      = "ended"
)

// Priority bounds and well-known values.
const (
	PriorityMin     = 1
	PriorityMax     = 100
	PriorityDefault = 50
	// PriorityRetry is assigned on operator-invoked retry so a
	// human-approved re-run is not starved by its prior failures.
	PriorityRetry = 60
	// PriorityAnalysis puts the scan/name pair created at upload ahead of
	// the generation backlog.
	PriorityAnalysis = 80

	// MaxStrikes is the error-history length that forces StatusEnded.
	MaxStrikes = 3
)

// Job is one unit of schedulable work against the generation backend.
type Job struct {
	ID           string      `json:"id"`
	SourceID     string      `json:"source_id"`
	Image        []byte      `json:"image,omitempty"`
	Kind         TaskKind    `json:"kind"`
	Subject      string      `json:"subject,omitempty"`
	Box          *[4]float64 `json:"box,omitempty"`
	Status       string      `json:"status"`
	Result       *Result     `json:"result,omitempty"`
	LastError    *string     `json:"last_error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	RetryCount   int         `json:"retry_count"`
	MaxRetries   int         `json:"max_retries"`
	ErrorHistory []string    `json:"error_history,omitempty"`
	Blocked      bool        `json:"blocked"`
	Priority     int         `json:"priority"`
}

// Result is the payload of a succeeded generation job. Analysis kinds
// (scan, name) mutate the Source instead and carry no result.
type Result struct {
	Artifact   []byte `json:"artifact,omitempty"`
	ExportedTo string `json:"exported_to,omitempty"`
	Prompt     string `json:"prompt"`
}

// NewJob builds a pending job for the given source. The image is a
// denormalized copy so the executor never reaches back into the source
// for pixel data.
func NewJob(src Source, kind TaskKind, priority int, at time.Time) Job {
	return Job{
		ID:         uuid.NewString(),
		SourceID:   src.ID,
		Image:      src.Image,
		Kind:       kind,
		Status:     StatusPending,
		CreatedAt:  at,
		MaxRetries: MaxStrikes,
		Priority:   ClampPriority(priority),
	}
}

// CloneForRepeat copies a job for the operator "repeat" action: fresh id,
// pending, default priority, no history.
func CloneForRepeat(j Job, at time.Time) Job {
	j.ID = uuid.NewString()
	j.Status = StatusPending
	j.Result = nil
	j.LastError = nil
	j.RetryCount = 0
	j.ErrorHistory = nil
	j.Blocked = false
	j.Priority = PriorityDefault
	j.CreatedAt = at
	return j
}

// Terminal reports whether no further automatic admission may occur.
func (j Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusEnded
}

// ClampPriority bounds p to [PriorityMin, PriorityMax].
func ClampPriority(p int) int {
	if p < PriorityMin {
		return PriorityMin
	}
	if p > PriorityMax {
		return PriorityMax
	}
	return p
}
