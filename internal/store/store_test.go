package store

import (
	"testing"
	"time"

	"portrait-studio-orchestrator/internal/models"
)

func testSource(id string) models.Source {
	return models.Source{ID: id, CreatedAt: time.Now(), Options: models.DefaultOptions()}
}

func pendingJob(id, sourceID string) models.Job {
	return models.Job{
		ID:        id,
		SourceID:  sourceID,
		Kind:      models.KindPortrait,
		Status:    models.StatusPending,
		Priority:  models.PriorityDefault,
		CreatedAt: time.Now(),
	}
}

func TestUpsertIsNoOpForAbsentJob(t *testing.T) {
	jobs := NewJobStore(nil)
	jobs.Append(pendingJob("a", "src"))

	ghost := pendingJob("ghost", "src")
	if jobs.Upsert(ghost) {
		t.Fatalf("upsert of absent job must be a no-op")
	}
	if jobs.Len() != 1 {
		t.Fatalf("expected 1 job, got %d", jobs.Len())
	}
}

func TestUpsertReplacesByID(t *testing.T) {
	jobs := NewJobStore(nil)
	job := pendingJob("a", "src")
	jobs.Append(job)

	job.Status = models.StatusProcessing
	if !jobs.Upsert(job) {
		t.Fatalf("expected upsert to replace existing job")
	}
	got, ok := jobs.Get("a")
	if !ok || got.Status != models.StatusProcessing {
		t.Fatalf("expected processing, got %+v ok=%v", got, ok)
	}
}

func TestMapWhereBulkTransform(t *testing.T) {
	jobs := NewJobStore(nil)
	a := pendingJob("a", "s1")
	b := pendingJob("b", "s2")
	c := pendingJob("c", "s1")
	c.Status = models.StatusFailed
	jobs.Append(a, b, c)

	touched := jobs.MapWhere(
		func(j models.Job) bool { return j.SourceID == "s1" && j.Status == models.StatusPending },
		func(j models.Job) models.Job {
			j.Priority = models.ClampPriority(j.Priority + 20)
			return j
		},
	)
	if touched != 1 {
		t.Fatalf("expected 1 touched, got %d", touched)
	}
	got, _ := jobs.Get("a")
	if got.Priority != 70 {
		t.Fatalf("expected boosted priority 70, got %d", got.Priority)
	}
	untouched, _ := jobs.Get("b")
	if untouched.Priority != models.PriorityDefault {
		t.Fatalf("job b should be untouched")
	}
}

func TestDeleteSourceCascade(t *testing.T) {
	sources := NewSourceStore(nil)
	jobs := NewJobStore(nil)
	sources.Add(testSource("s1"))
	sources.Add(testSource("s2"))
	jobs.Append(pendingJob("a", "s1"), pendingJob("b", "s1"), pendingJob("c", "s2"))

	if !DeleteSourceCascade(sources, jobs, "s1") {
		t.Fatalf("expected cascade delete to find s1")
	}
	if _, ok := sources.Get("s1"); ok {
		t.Fatalf("source s1 should be gone")
	}
	if left := jobs.ListBySource("s1"); len(left) != 0 {
		t.Fatalf("expected no orphaned jobs for s1, got %d", len(left))
	}
	if left := jobs.ListBySource("s2"); len(left) != 1 {
		t.Fatalf("jobs of s2 must survive, got %d", len(left))
	}
}

func TestPruneSourcesKeepsActiveWork(t *testing.T) {
	sources := NewSourceStore(nil)
	jobs := NewJobStore(nil)
	sources.Add(testSource("busy"))
	sources.Add(testSource("idle"))

	active := pendingJob("a", "busy")
	done := pendingJob("b", "idle")
	done.Status = models.StatusSucceeded
	jobs.Append(active, done)

	pruned := PruneSources(sources, jobs)
	if pruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", pruned)
	}
	if _, ok := sources.Get("busy"); !ok {
		t.Fatalf("source with pending work must not be pruned")
	}
	if _, ok := sources.Get("idle"); ok {
		t.Fatalf("idle source should be pruned")
	}
}

func TestAppendBatchVisibleAtOnce(t *testing.T) {
	var changes int
	jobs := NewJobStore(func() { changes++ })
	jobs.Append(pendingJob("a", "s"), pendingJob("b", "s"), pendingJob("c", "s"))

	if jobs.Len() != 3 {
		t.Fatalf("expected 3 jobs, got %d", jobs.Len())
	}
	if changes != 1 {
		t.Fatalf("batch append must be one mutation, saw %d", changes)
	}
}

func TestOptionsStoreReturnsCopies(t *testing.T) {
	opts := NewOptionsStore(models.DefaultOptions(), nil)
	snapshot := opts.Current()
	snapshot.Enabled[models.KindPortrait] = false

	if !opts.Current().Enabled[models.KindPortrait] {
		t.Fatalf("mutating a returned copy must not affect the store")
	}
}
