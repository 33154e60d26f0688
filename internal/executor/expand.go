package executor

import (
	"time"

	"portrait-studio-orchestrator/internal/backend"
	"portrait-studio-orchestrator/internal/models"
)

// syntheticSubject stands in when a scan finds nobody, so scene and style
// jobs still have a subject context to work with.
const syntheticSubject = "the photo's central subject"

// Expand synthesizes the downstream generation jobs implied by a
// completed scan. Pure function; the caller appends the batch to the
// store in one mutation.
func Expand(src models.Source, detections []backend.Detection, at time.Time) []models.Job {
	opts := src.Options

	subjects := detections
	if len(subjects) == 0 {
		subjects = []backend.Detection{{Description: syntheticSubject}}
	}

	var batch []models.Job

	// Group kinds fire once per enabled kind, and only for genuinely
	// detected crowds. The synthetic subject never forms a group.
	if len(detections) > 1 {
		for _, kind := range models.KindsByCategory(models.CategoryGroup) {
			if !opts.Enabled[kind] {
				continue
			}
			batch = append(batch, models.NewJob(src, kind, opts.WeightFor(kind), at))
		}
	}

	for _, subject := range subjects {
		for _, kind := range models.KindsByCategory(models.CategoryPerson) {
			if !opts.Enabled[kind] {
				continue
			}
			job := models.NewJob(src, kind, opts.WeightFor(kind), at)
			job.Subject = subject.Description
			job.Box = subject.Box
			batch = append(batch, job)
		}
	}

	for _, kind := range models.KindsByCategory(models.CategoryScene) {
		if !opts.Enabled[kind] {
			continue
		}
		batch = append(batch, models.NewJob(src, kind, opts.WeightFor(kind), at))
	}

	return batch
}
