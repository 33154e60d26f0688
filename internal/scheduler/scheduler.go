package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"portrait-studio-orchestrator/internal/config"
	"portrait-studio-orchestrator/internal/executor"
	"portrait-studio-orchestrator/internal/models"
	"portrait-studio-orchestrator/internal/store"
	"portrait-studio-orchestrator/internal/telemetry"
)

// Dispatcher starts asynchronous execution of an admitted job. The
// scheduler never waits on it.
type Dispatcher interface {
	Execute(ctx context.Context, jobID string)
}

// Scheduler promotes waiting jobs to processing once per tick, at most
// one per lane, respecting each lane's concurrency ceiling. Pending and
// failed jobs compete in the same ranking; ended jobs are out for good.
type Scheduler struct {
	cfg      config.Config
	jobs     *store.JobStore
	dispatch Dispatcher
	// credentialed reports whether a usable API credential exists. When it
	// does not, admission fails the candidate through the failure policy
	// instead of starving the lane.
	credentialed func() bool
	active       atomic.Bool
	logger       zerolog.Logger
}

func New(cfg config.Config, jobs *store.JobStore, dispatch Dispatcher, credentialed func() bool, logger zerolog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:          cfg,
		jobs:         jobs,
		dispatch:     dispatch,
		credentialed: credentialed,
		logger:       logger,
	}
	s.active.Store(true)
	return s
}

// SetActive pauses or resumes ticking.
func (s *Scheduler) SetActive(active bool) {
	s.active.Store(active)
}

// Active reports whether the scheduler is ticking.
func (s *Scheduler) Active() bool {
	return s.active.Load()
}

// Run ticks on a fixed period until context cancellation. Ticks are
// invoked synchronously from this loop, so they can never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.active.Load() {
				s.Tick(ctx)
			}
		}
	}
}

// Tick makes one round of admission decisions. It reads current store
// state per lane, picks at most one candidate per lane, transitions it to
// processing synchronously, and fires its executor without awaiting it.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, lane := range []models.Lane{models.LaneAnalysis, models.LaneGeneration} {
		s.admitLane(ctx, lane)
	}
	s.observeDepths()
}

func (s *Scheduler) ceiling(lane models.Lane) int {
	if lane == models.LaneAnalysis {
		if s.cfg.AnalysisCeiling > 0 {
			return s.cfg.AnalysisCeiling
		}
		return 3
	}
	if s.cfg.GenerationCeiling > 0 {
		return s.cfg.GenerationCeiling
	}
	return 5
}

func (s *Scheduler) admitLane(ctx context.Context, lane models.Lane) {
	snapshot := s.jobs.Snapshot()
	inFlight := 0
	for _, j := range snapshot {
		if j.Status == models.StatusProcessing && models.LaneFor(j.Kind) == lane {
			inFlight++
		}
	}
	if inFlight >= s.ceiling(lane) {
		return
	}

	candidate, ok := pickCandidate(snapshot, lane)
	if !ok {
		return
	}

	// Transitions are guarded on the status observed in the snapshot and
	// applied in one store mutation, so a concurrent operator action (retry,
	// delete) between the snapshot and the write leaves the job untouched
	// instead of being clobbered by a stale copy.
	if s.credentialed != nil && !s.credentialed() {
		touched := s.jobs.MapWhere(
			func(j models.Job) bool { return j.ID == candidate.ID && j.Status == candidate.Status },
			func(j models.Job) models.Job {
				return executor.FailJob(j, "configuration: no API credential set", false)
			},
		)
		if touched == 0 {
			return
		}
		telemetry.JobsFailed.Inc()
		if failed, ok := s.jobs.Get(candidate.ID); ok && failed.Status == models.StatusEnded {
			telemetry.JobsEnded.Inc()
		}
		s.logger.Error().Str("job", candidate.ID).Msg("admission failed: missing credential")
		return
	}

	touched := s.jobs.MapWhere(
		func(j models.Job) bool { return j.ID == candidate.ID && j.Status == candidate.Status },
		func(j models.Job) models.Job {
			j.Status = models.StatusProcessing
			return j
		},
	)
	if touched == 0 {
		return // deleted or transitioned since the snapshot was taken
	}
	telemetry.JobsAdmitted.WithLabelValues(string(lane)).Inc()
	s.logger.Debug().Str("job", candidate.ID).Str("kind", string(candidate.Kind)).
		Str("lane", string(lane)).Int("priority", candidate.Priority).Msg("admitted")

	go s.dispatch.Execute(ctx, candidate.ID)
}

// pickCandidate selects the admissible job in the lane with the highest
// priority; ties break on the earliest timestamp, then insertion order.
// Failed jobs stay in the ranking: their decayed priority self-throttles
// them until the third strike ends them for good.
func pickCandidate(jobs []models.Job, lane models.Lane) (models.Job, bool) {
	var best models.Job
	found := false
	for _, j := range jobs {
		if !admissible(j.Status) || models.LaneFor(j.Kind) != lane {
			continue
		}
		if !found || better(j, best) {
			best = j
			found = true
		}
	}
	return best, found
}

func admissible(status string) bool {
	return status == models.StatusPending || status == models.StatusFailed
}

func better(a, b models.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (s *Scheduler) observeDepths() {
	snapshot := s.jobs.Snapshot()
	pending := map[models.Lane]int{}
	processing := map[models.Lane]int{}
	for _, j := range snapshot {
		lane := models.LaneFor(j.Kind)
		switch j.Status {
		case models.StatusPending:
			pending[lane]++
		case models.StatusProcessing:
			processing[lane]++
		}
	}
	for _, lane := range []models.Lane{models.LaneAnalysis, models.LaneGeneration} {
		telemetry.PendingGauge.WithLabelValues(string(lane)).Set(float64(pending[lane]))
		telemetry.ProcessingGauge.WithLabelValues(string(lane)).Set(float64(processing[lane]))
	}
}
