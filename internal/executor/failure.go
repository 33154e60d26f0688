package executor

import (
	"portrait-studio-orchestrator/internal/models"
)

// Penalties subtracted from priority on failure. Policy rejections decay
// twice as fast: retrying identical input against a content policy fails
// identically, so the job is pushed toward death sooner.
const (
	penaltyTransient = 5
	penaltyPolicy    = 10
)

// FailJob converts one execution failure into an updated job state. Pure
// function of the current job plus the failure classification.
func FailJob(job models.Job, errMsg string, policyRejection bool) models.Job {
	penalty := penaltyTransient
	if policyRejection {
		penalty = penaltyPolicy
	}
	job.Priority = models.ClampPriority(job.Priority - penalty)

	history := make([]string, 0, len(job.ErrorHistory)+1)
	history = append(history, job.ErrorHistory...)
	history = append(history, errMsg)
	job.ErrorHistory = history

	job.RetryCount++
	job.LastError = &errMsg
	// Latest attempt's classification wins; an earlier policy rejection is
	// overwritten by a later transient failure.
	job.Blocked = policyRejection

	limit := job.MaxRetries
	if limit <= 0 {
		limit = models.MaxStrikes
	}
	if len(job.ErrorHistory) >= limit {
		job.Status = models.StatusEnded
	} else {
		job.Status = models.StatusFailed
	}
	return job
}

// ResetForRetry is the operator-invoked retry: a full reset to pending at
// an elevated priority, not a resumption of the decayed one.
func ResetForRetry(job models.Job) models.Job {
	job.Status = models.StatusPending
	job.RetryCount = 0
	job.ErrorHistory = nil
	job.LastError = nil
	job.Blocked = false
	job.Priority = models.PriorityRetry
	return job
}
