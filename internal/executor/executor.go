package executor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"portrait-studio-orchestrator/internal/backend"
	"portrait-studio-orchestrator/internal/config"
	"portrait-studio-orchestrator/internal/export"
	"portrait-studio-orchestrator/internal/models"
	"portrait-studio-orchestrator/internal/postprocess"
	"portrait-studio-orchestrator/internal/prompt"
	"portrait-studio-orchestrator/internal/store"
	"portrait-studio-orchestrator/internal/telemetry"
)

// Executor carries one admitted job through to a terminal outcome for
// this attempt. Each Execute call is an isolated unit of work; the only
// shared state it touches is the job and source stores, always re-fetched
// by id at the moment of use.
type Executor struct {
	cfg      config.Config
	jobs     *store.JobStore
	sources  *store.SourceStore
	backend  backend.Client
	exporter export.Exporter
	logger   zerolog.Logger
}

func New(cfg config.Config, jobs *store.JobStore, sources *store.SourceStore, client backend.Client, exporter export.Exporter, logger zerolog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		jobs:     jobs,
		sources:  sources,
		backend:  client,
		exporter: exporter,
		logger:   logger,
	}
}

// Execute runs the job with the given id to success or failure. All
// failures, including panics from post-processing, are converted to job
// state; nothing escapes.
func (e *Executor) Execute(ctx context.Context, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			e.fail(jobID, fmt.Errorf("unexpected panic: %v", r))
		}
	}()

	job, ok := e.jobs.Get(jobID)
	if !ok {
		return // deleted between admission and start
	}

	var err error
	switch job.Kind {
	case models.KindScan:
		err = e.runScan(ctx, job)
	case models.KindName:
		err = e.runName(ctx, job)
	default:
		err = e.runGenerate(ctx, job)
	}
	if err != nil {
		e.fail(jobID, err)
	}
}

// fail routes one failure through the failure policy against the current
// job state. A no-op if the job was deleted while in flight.
func (e *Executor) fail(jobID string, cause error) {
	job, ok := e.jobs.Get(jobID)
	if !ok {
		return
	}
	policy := backend.IsPolicyRejection(cause)
	updated := FailJob(job, cause.Error(), policy)
	e.jobs.Upsert(updated)

	telemetry.JobsFailed.Inc()
	if policy {
		telemetry.PolicyRejects.Inc()
	}
	evt := e.logger.Warn().Str("job", jobID).Str("kind", string(job.Kind)).
		Int("strikes", len(updated.ErrorHistory)).Bool("policy", policy)
	if updated.Status == models.StatusEnded {
		telemetry.JobsEnded.Inc()
		evt = evt.Bool("dead", true)
	}
	evt.Msg("job failed")
}

// succeed writes the terminal success state for this job. Discarded if
// the job was deleted while in flight.
func (e *Executor) succeed(jobID string, result *models.Result) {
	job, ok := e.jobs.Get(jobID)
	if !ok {
		return
	}
	job.Status = models.StatusSucceeded
	job.Result = result
	job.LastError = nil
	if e.jobs.Upsert(job) {
		telemetry.JobsSucceeded.Inc()
	}
}

func (e *Executor) runScan(ctx context.Context, job models.Job) error {
	src, ok := e.sources.Get(job.SourceID)
	if !ok {
		return fmt.Errorf("owning source %s no longer exists", job.SourceID)
	}

	detections, err := e.detectWithRetry(ctx, job.Image, src.Options.GenderBias)
	if err != nil {
		return err
	}
	if detections == nil {
		detections = []backend.Detection{}
	}

	count := len(detections)
	e.sources.Update(job.SourceID, func(s models.Source) models.Source {
		s.PeopleCount = &count
		return s
	})
	e.succeed(job.ID, nil)

	// Fan out inside the same execution so the batch lands before this
	// executor returns.
	if current, ok := e.sources.Get(job.SourceID); ok {
		batch := Expand(current, detections, time.Now())
		if len(batch) > 0 {
			e.jobs.Append(batch...)
			telemetry.FanoutJobs.Add(float64(len(batch)))
			e.logger.Info().Str("source", job.SourceID).Int("people", count).
				Int("jobs", len(batch)).Msg("scan fan-out")
		}
	}
	return nil
}

// detectWithRetry runs the detection call with a small bounded retry
// loop. Policy rejections are not retried; identical input fails
// identically.
func (e *Executor) detectWithRetry(ctx context.Context, image []byte, genderBias string) ([]backend.Detection, error) {
	attempts := e.cfg.ScanAttempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		detections, err := e.backend.DetectSubjects(ctx, image, genderBias)
		if err == nil {
			return detections, nil
		}
		lastErr = err
		if backend.IsPolicyRejection(err) {
			break
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffWithJitter(e.cfg.ScanBackoffInitial, e.cfg.ScanBackoffMax, attempt)):
			}
		}
	}
	return nil, lastErr
}

func (e *Executor) runName(ctx context.Context, job models.Job) error {
	name, err := e.backend.GenerateName(ctx, job.Image)
	if err != nil {
		// Naming is non-fatal: fall back to a default label.
		name = defaultLabel(job.SourceID)
		e.logger.Warn().Str("source", job.SourceID).Err(err).Msg("naming failed, using default label")
	}
	e.sources.Update(job.SourceID, func(s models.Source) models.Source {
		s.Name = &name
		return s
	})
	e.succeed(job.ID, nil)
	return nil
}

func defaultLabel(sourceID string) string {
	short := sourceID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Untitled " + short
}

func (e *Executor) runGenerate(ctx context.Context, job models.Job) error {
	// Resolve options from the owning source's snapshot, never the live
	// global options, so the prompt parameters stay reproducible.
	src, ok := e.sources.Get(job.SourceID)
	if !ok {
		e.logger.Debug().Str("job", job.ID).Msg("source deleted, discarding work")
		return nil
	}
	opts := src.Options

	text := prompt.Build(job.Kind, prompt.Params{
		Subject: job.Subject,
		Box:     job.Box,
		Options: opts,
	})

	artifact, err := e.backend.GenerateArtifact(ctx, backend.GenerateRequest{
		Image:      job.Image,
		Prompt:     text,
		Creativity: opts.Creativity,
	})
	if err != nil {
		return err
	}

	data := postprocess.CropToContent(artifact.Data)
	mime, ext := "image/png", "png"
	if opts.OutputFormat == models.FormatJPEG {
		converted, convErr := postprocess.ConvertToJPEG(data, postprocess.Metadata{
			SourceName: derefOr(src.Name, ""),
			Kind:       string(job.Kind),
			Prompt:     artifact.PromptUsed,
		})
		if convErr != nil {
			// Keep the lossless artifact untouched when conversion fails.
			e.logger.Warn().Str("job", job.ID).Err(convErr).Msg("jpeg conversion failed, keeping lossless artifact")
		} else {
			data, mime, ext = converted, "image/jpeg", "jpg"
		}
	}

	exportedTo := e.export(ctx, job, data, mime, ext)
	e.succeed(job.ID, &models.Result{
		Artifact:   data,
		ExportedTo: exportedTo,
		Prompt:     artifact.PromptUsed,
	})
	return nil
}

// export pushes the artifact to the side channel. Best-effort; a failed
// export never fails the job.
func (e *Executor) export(ctx context.Context, job models.Job, data []byte, mime, ext string) string {
	if e.exporter == nil {
		return ""
	}
	short := job.ID
	if len(short) > 8 {
		short = short[:8]
	}
	key := fmt.Sprintf("%s/%s-%s.%s", job.SourceID, job.Kind, short, ext)
	location, err := e.exporter.Export(ctx, key, data, mime)
	if err != nil {
		e.logger.Warn().Str("job", job.ID).Err(err).Msg("artifact export failed")
		return ""
	}
	return location
}

func derefOr(s *string, def string) string {
	if s != nil {
		return *s
	}
	return def
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
