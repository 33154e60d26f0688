package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"portrait-studio-orchestrator/internal/config"
	"portrait-studio-orchestrator/internal/models"
	"portrait-studio-orchestrator/internal/store"
)

type nopDispatcher struct {
	calls chan string
}

func (d *nopDispatcher) Execute(_ context.Context, jobID string) {
	if d.calls != nil {
		d.calls <- jobID
	}
}

func newScheduler(jobs *store.JobStore, dispatch Dispatcher, credentialed func() bool) *Scheduler {
	cfg := config.Config{
		TickInterval:      time.Second,
		AnalysisCeiling:   3,
		GenerationCeiling: 2,
	}
	return New(cfg, jobs, dispatch, credentialed, zerolog.Nop())
}

func genJob(id string, priority int, at time.Time) models.Job {
	return models.Job{
		ID:        id,
		SourceID:  "src",
		Kind:      models.KindPortrait,
		Status:    models.StatusPending,
		Priority:  priority,
		CreatedAt: at,
	}
}

func analysisJob(id string, priority int, at time.Time) models.Job {
	j := genJob(id, priority, at)
	j.Kind = models.KindScan
	return j
}

func processingCount(jobs *store.JobStore, lane models.Lane) int {
	return len(jobs.Where(func(j models.Job) bool {
		return j.Status == models.StatusProcessing && models.LaneFor(j.Kind) == lane
	}))
}

func TestAdmissionOrdersByPriorityThenTimestamp(t *testing.T) {
	t0 := time.Now()
	t1 := t0.Add(time.Second)
	t2 := t0.Add(2 * time.Second)

	jobs := store.NewJobStore(nil)
	jobs.Append(
		genJob("low", 30, t0),
		genJob("late-high", 90, t2),
		genJob("early-high", 90, t1),
	)

	sched := newScheduler(jobs, &nopDispatcher{}, nil)
	ctx := context.Background()

	var order []string
	for i := 0; i < 3; i++ {
		sched.Tick(ctx)
		for _, j := range jobs.ListByStatus(models.StatusProcessing) {
			seen := false
			for _, id := range order {
				if id == j.ID {
					seen = true
				}
			}
			if !seen {
				order = append(order, j.ID)
			}
		}
	}

	want := []string{"early-high", "late-high"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("admission order wrong: got %v", order)
		}
	}
	// Third tick hits the generation ceiling of 2, so "low" stays pending.
	got, _ := jobs.Get("low")
	if got.Status != models.StatusPending {
		t.Fatalf("expected low-priority job held at ceiling, got %s", got.Status)
	}
}

func TestLaneIsolation(t *testing.T) {
	now := time.Now()
	jobs := store.NewJobStore(nil)
	// Generation lane already saturated (ceiling 2).
	busy1 := genJob("busy1", 50, now)
	busy1.Status = models.StatusProcessing
	busy2 := genJob("busy2", 50, now)
	busy2.Status = models.StatusProcessing
	jobs.Append(
		busy1, busy2,
		genJob("gen-waiting", 99, now),
		analysisJob("scan-ready", 10, now),
	)

	sched := newScheduler(jobs, &nopDispatcher{}, nil)
	sched.Tick(context.Background())

	got, _ := jobs.Get("gen-waiting")
	if got.Status != models.StatusPending {
		t.Fatalf("saturated lane must admit nothing, got %s", got.Status)
	}
	scan, _ := jobs.Get("scan-ready")
	if scan.Status != models.StatusProcessing {
		t.Fatalf("idle analysis lane must admit independently, got %s", scan.Status)
	}
}

func TestAtMostOneAdmissionPerLanePerTick(t *testing.T) {
	now := time.Now()
	jobs := store.NewJobStore(nil)
	jobs.Append(
		genJob("g1", 50, now),
		genJob("g2", 50, now),
		analysisJob("a1", 50, now),
		analysisJob("a2", 50, now),
	)

	sched := newScheduler(jobs, &nopDispatcher{}, nil)
	sched.Tick(context.Background())

	if n := processingCount(jobs, models.LaneGeneration); n != 1 {
		t.Fatalf("expected 1 generation admission per tick, got %d", n)
	}
	if n := processingCount(jobs, models.LaneAnalysis); n != 1 {
		t.Fatalf("expected 1 analysis admission per tick, got %d", n)
	}
}

func TestAdmittedJobIsDispatched(t *testing.T) {
	jobs := store.NewJobStore(nil)
	jobs.Append(genJob("g1", 50, time.Now()))
	dispatch := &nopDispatcher{calls: make(chan string, 1)}

	sched := newScheduler(jobs, dispatch, nil)
	sched.Tick(context.Background())

	select {
	case id := <-dispatch.calls:
		if id != "g1" {
			t.Fatalf("dispatched wrong job: %s", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected executor dispatch")
	}
}

func TestNoDoubleAdmission(t *testing.T) {
	jobs := store.NewJobStore(nil)
	jobs.Append(genJob("g1", 50, time.Now()))
	dispatch := &nopDispatcher{calls: make(chan string, 4)}

	sched := newScheduler(jobs, dispatch, nil)
	ctx := context.Background()
	sched.Tick(ctx)
	sched.Tick(ctx)
	sched.Tick(ctx)

	if len(dispatch.calls) != 1 {
		t.Fatalf("job admitted %d times, want exactly once", len(dispatch.calls))
	}
}

func TestMissingCredentialFailsCandidate(t *testing.T) {
	jobs := store.NewJobStore(nil)
	jobs.Append(genJob("g1", 50, time.Now()))
	dispatch := &nopDispatcher{calls: make(chan string, 1)}

	sched := newScheduler(jobs, dispatch, func() bool { return false })
	sched.Tick(context.Background())

	got, _ := jobs.Get("g1")
	if got.Status != models.StatusFailed {
		t.Fatalf("expected candidate failed on missing credential, got %s", got.Status)
	}
	if len(got.ErrorHistory) != 1 {
		t.Fatalf("missing credential must count as a strike, got %d", len(got.ErrorHistory))
	}
	if got.LastError == nil || !strings.HasPrefix(*got.LastError, "configuration:") {
		t.Fatalf("credential strikes must be distinguishable from network strikes, got %v", got.LastError)
	}
	if len(dispatch.calls) != 0 {
		t.Fatalf("no executor must start without a credential")
	}
}

func TestFailedJobsReadmitted(t *testing.T) {
	failed := genJob("f1", 45, time.Now())
	failed.Status = models.StatusFailed
	failed.ErrorHistory = []string{"first strike"}
	jobs := store.NewJobStore(nil)
	jobs.Append(failed)

	sched := newScheduler(jobs, &nopDispatcher{}, nil)
	sched.Tick(context.Background())

	got, _ := jobs.Get("f1")
	if got.Status != models.StatusProcessing {
		t.Fatalf("failed job must compete for readmission, got %s", got.Status)
	}
}

func TestFailedJobRanksBelowHigherPriorityPending(t *testing.T) {
	failed := genJob("decayed", 40, time.Now())
	failed.Status = models.StatusFailed
	jobs := store.NewJobStore(nil)
	jobs.Append(failed, genJob("fresh", 50, time.Now()))

	sched := newScheduler(jobs, &nopDispatcher{}, nil)
	sched.Tick(context.Background())

	fresh, _ := jobs.Get("fresh")
	if fresh.Status != models.StatusProcessing {
		t.Fatalf("higher priority pending job admits first, got %s", fresh.Status)
	}
	decayed, _ := jobs.Get("decayed")
	if decayed.Status != models.StatusFailed {
		t.Fatalf("decayed job waits its turn, got %s", decayed.Status)
	}
}

func TestMissingCredentialEndsJobAfterThreeTicks(t *testing.T) {
	jobs := store.NewJobStore(nil)
	jobs.Append(genJob("g1", 50, time.Now()))

	sched := newScheduler(jobs, &nopDispatcher{}, func() bool { return false })
	ctx := context.Background()
	sched.Tick(ctx)
	sched.Tick(ctx)
	sched.Tick(ctx)

	got, _ := jobs.Get("g1")
	if got.Status != models.StatusEnded {
		t.Fatalf("repeated credential failures must end the job, got %s", got.Status)
	}
	if len(got.ErrorHistory) != 3 {
		t.Fatalf("expected 3 strikes, got %d", len(got.ErrorHistory))
	}
}

func TestEndedJobsNeverReadmitted(t *testing.T) {
	dead := genJob("dead", 99, time.Now())
	dead.Status = models.StatusEnded
	jobs := store.NewJobStore(nil)
	jobs.Append(dead)

	sched := newScheduler(jobs, &nopDispatcher{}, nil)
	sched.Tick(context.Background())

	got, _ := jobs.Get("dead")
	if got.Status != models.StatusEnded {
		t.Fatalf("ended job must stay ended, got %s", got.Status)
	}
}

func TestInactiveSchedulerSkipsTicks(t *testing.T) {
	jobs := store.NewJobStore(nil)
	jobs.Append(genJob("g1", 50, time.Now()))

	sched := newScheduler(jobs, &nopDispatcher{}, nil)
	sched.SetActive(false)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	cfgFast := sched.cfg
	cfgFast.TickInterval = 5 * time.Millisecond
	sched.cfg = cfgFast
	_ = sched.Run(ctx)

	got, _ := jobs.Get("g1")
	if got.Status != models.StatusPending {
		t.Fatalf("paused scheduler must not admit, got %s", got.Status)
	}
}
