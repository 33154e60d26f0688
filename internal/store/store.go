package store

import (
	"sort"
	"sync"

	"portrait-studio-orchestrator/internal/models"
)

// JobStore holds the authoritative in-memory job collection. Every
// mutation replaces the backing slice wholesale, so a snapshot taken at
// the start of a scheduler tick stays consistent for the whole tick.
type JobStore struct {
	mu       sync.RWMutex
	jobs     []models.Job
	onChange func()
}

// NewJobStore creates an empty store. onChange, if non-nil, fires after
// every mutation (outside the lock); the persistence bridge hangs off it.
func NewJobStore(onChange func()) *JobStore {
	return &JobStore{onChange: onChange}
}

func (s *JobStore) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// Snapshot returns a copy of the full collection in insertion order.
func (s *JobStore) Snapshot() []models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Get fetches a job by id.
func (s *JobStore) Get(id string) (models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return models.Job{}, false
}

// ListByStatus returns jobs in the given status, insertion order.
func (s *JobStore) ListByStatus(status string) []models.Job {
	return s.Where(func(j models.Job) bool { return j.Status == status })
}

// ListBySource returns jobs owned by the given source, insertion order.
func (s *JobStore) ListBySource(sourceID string) []models.Job {
	return s.Where(func(j models.Job) bool { return j.SourceID == sourceID })
}

// Where returns jobs matching the predicate.
func (s *JobStore) Where(pred func(models.Job) bool) []models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Job
	for _, j := range s.jobs {
		if pred(j) {
			out = append(out, j)
		}
	}
	return out
}

// Append adds a batch of jobs in one mutation, so a scheduler tick never
// observes a partially inserted fan-out batch.
func (s *JobStore) Append(jobs ...models.Job) {
	if len(jobs) == 0 {
		return
	}
	s.mu.Lock()
	next := make([]models.Job, 0, len(s.jobs)+len(jobs))
	next = append(next, s.jobs...)
	next = append(next, jobs...)
	s.jobs = next
	s.mu.Unlock()
	s.changed()
}

// Upsert replaces the job with the same id. If the job has been deleted in
// the meantime the write is discarded; deletion supersedes in-flight work.
func (s *JobStore) Upsert(job models.Job) bool {
	s.mu.Lock()
	replaced := false
	next := make([]models.Job, len(s.jobs))
	for i, j := range s.jobs {
		if j.ID == job.ID {
			next[i] = job
			replaced = true
		} else {
			next[i] = j
		}
	}
	if replaced {
		s.jobs = next
	}
	s.mu.Unlock()
	if replaced {
		s.changed()
	}
	return replaced
}

// RemoveWhere deletes every job matching the predicate and reports how
// many were removed.
func (s *JobStore) RemoveWhere(pred func(models.Job) bool) int {
	s.mu.Lock()
	next := s.jobs[:0:0]
	removed := 0
	for _, j := range s.jobs {
		if pred(j) {
			removed++
			continue
		}
		next = append(next, j)
	}
	if removed > 0 {
		s.jobs = next
	}
	s.mu.Unlock()
	if removed > 0 {
		s.changed()
	}
	return removed
}

// MapWhere applies transform to every matching job in one atomic
// replacement. Bulk operator actions (boost, retry-all) go through here so
// they cannot lose updates against a concurrent tick.
func (s *JobStore) MapWhere(pred func(models.Job) bool, transform func(models.Job) models.Job) int {
	s.mu.Lock()
	touched := 0
	next := make([]models.Job, len(s.jobs))
	for i, j := range s.jobs {
		if pred(j) {
			next[i] = transform(j)
			touched++
		} else {
			next[i] = j
		}
	}
	if touched > 0 {
		s.jobs = next
	}
	s.mu.Unlock()
	if touched > 0 {
		s.changed()
	}
	return touched
}

// Replace swaps in a whole new collection. Used by workspace restore.
func (s *JobStore) Replace(jobs []models.Job) {
	s.mu.Lock()
	s.jobs = make([]models.Job, len(jobs))
	copy(s.jobs, jobs)
	s.mu.Unlock()
	s.changed()
}

// Len reports the collection size.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// SourceStore holds uploaded sources, keyed by id.
type SourceStore struct {
	mu       sync.RWMutex
	sources  map[string]models.Source
	onChange func()
}

// NewSourceStore creates an empty store with the same change hook
// semantics as NewJobStore.
func NewSourceStore(onChange func()) *SourceStore {
	return &SourceStore{sources: make(map[string]models.Source), onChange: onChange}
}

func (s *SourceStore) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// Get fetches a source by id.
func (s *SourceStore) Get(id string) (models.Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	return src, ok
}

// Snapshot returns all sources ordered by creation time.
func (s *SourceStore) Snapshot() []models.Source {
	s.mu.RLock()
	out := make([]models.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Add inserts a source.
func (s *SourceStore) Add(src models.Source) {
	s.mu.Lock()
	s.sources[src.ID] = src
	s.mu.Unlock()
	s.changed()
}

// Update applies transform to the source with the given id, if present.
func (s *SourceStore) Update(id string, transform func(models.Source) models.Source) bool {
	s.mu.Lock()
	src, ok := s.sources[id]
	if ok {
		s.sources[id] = transform(src)
	}
	s.mu.Unlock()
	if ok {
		s.changed()
	}
	return ok
}

// Remove deletes a source by id.
func (s *SourceStore) Remove(id string) bool {
	s.mu.Lock()
	_, ok := s.sources[id]
	if ok {
		delete(s.sources, id)
	}
	s.mu.Unlock()
	if ok {
		s.changed()
	}
	return ok
}

// Replace swaps in a whole new set. Used by workspace restore.
func (s *SourceStore) Replace(sources []models.Source) {
	s.mu.Lock()
	s.sources = make(map[string]models.Source, len(sources))
	for _, src := range sources {
		s.sources[src.ID] = src
	}
	s.mu.Unlock()
	s.changed()
}

// Len reports the number of sources.
func (s *SourceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sources)
}

// DeleteSourceCascade removes a source and every job referencing it.
func DeleteSourceCascade(sources *SourceStore, jobs *JobStore, id string) bool {
	removed := sources.Remove(id)
	jobs.RemoveWhere(func(j models.Job) bool { return j.SourceID == id })
	return removed
}

// PruneSources drops sources that have no pending or processing jobs
// left, returning how many were pruned.
func PruneSources(sources *SourceStore, jobs *JobStore) int {
	pruned := 0
	for _, src := range sources.Snapshot() {
		active := jobs.Where(func(j models.Job) bool {
			return j.SourceID == src.ID &&
				(j.Status == models.StatusPending || j.Status == models.StatusProcessing)
		})
		if len(active) == 0 {
			if sources.Remove(src.ID) {
				pruned++
			}
		}
	}
	return pruned
}
