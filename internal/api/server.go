package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"portrait-studio-orchestrator/internal/config"
	"portrait-studio-orchestrator/internal/executor"
	"portrait-studio-orchestrator/internal/models"
	"portrait-studio-orchestrator/internal/ratelimit"
	"portrait-studio-orchestrator/internal/scheduler"
	"portrait-studio-orchestrator/internal/store"
	"portrait-studio-orchestrator/internal/telemetry"
)

const maxUploadBytes = 25 * 1024 * 1024

// Server wires the operator HTTP API over the in-memory stores.
type Server struct {
	cfg     config.Config
	jobs    *store.JobStore
	sources *store.SourceStore
	options *store.OptionsStore
	sched   *scheduler.Scheduler
	limiter *ratelimit.UploadLimiter
	logger  zerolog.Logger
}

// New constructs the API server. The limiter may be nil when Redis is
// not configured.
func New(cfg config.Config, jobs *store.JobStore, sources *store.SourceStore, options *store.OptionsStore, sched *scheduler.Scheduler, limiter *ratelimit.UploadLimiter, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		jobs:    jobs,
		sources: sources,
		options: options,
		sched:   sched,
		limiter: limiter,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/sources", s.handleUpload)
	r.Get("/sources", s.handleListSources)
	r.Get("/sources/{id}", s.handleGetSource)
	r.Delete("/sources/{id}", s.handleDeleteSource)
	r.Post("/sources/prune", s.handlePrune)

	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Delete("/jobs/{id}", s.handleDeleteJob)
	r.Delete("/jobs", s.handleBulkDelete)
	r.Post("/jobs/{id}/retry", s.handleRetry)
	r.Post("/jobs/{id}/repeat", s.handleRepeat)
	r.Post("/jobs/retry-failed", s.handleRetryFailed)
	r.Post("/jobs/boost", s.handleBoost)
	r.Get("/jobs/{id}/artifact", s.handleArtifact)
	r.Get("/blocked", s.handleBlocked)

	r.Get("/options", s.handleGetOptions)
	r.Patch("/options", s.handlePatchOptions)

	r.Post("/scheduler/start", s.handleSchedulerStart)
	r.Post("/scheduler/stop", s.handleSchedulerStop)
	r.Get("/scheduler", s.handleSchedulerState)

	return r
}

// handleUpload accepts one image and creates its source plus the initial
// scan/name job pair, both at elevated priority.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	clientKey := clientFromRequest(r)
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), clientKey)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	image, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		http.Error(w, "read image", http.StatusBadRequest)
		return
	}
	if len(image) == 0 {
		http.Error(w, "empty image", http.StatusBadRequest)
		return
	}
	if len(image) > maxUploadBytes {
		http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
		return
	}

	now := time.Now()
	src := models.Source{
		ID:        uuid.NewString(),
		Image:     image,
		CreatedAt: now,
		Options:   s.options.Current(), // frozen snapshot
	}
	s.sources.Add(src)

	scan := models.NewJob(src, models.KindScan, models.PriorityAnalysis, now)
	name := models.NewJob(src, models.KindName, models.PriorityAnalysis, now)
	s.jobs.Append(scan, name)

	telemetry.SourcesUploaded.Inc()
	s.logger.Info().Str("source", src.ID).Int("bytes", len(image)).Msg("source uploaded")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"source": sourceView(src),
		"jobs":   []jobView{viewJob(scan), viewJob(name)},
	})
}

func (s *Server) handleListSources(w http.ResponseWriter, _ *http.Request) {
	sources := s.sources.Snapshot()
	out := make([]map[string]any, 0, len(sources))
	for _, src := range sources {
		out = append(out, sourceView(src))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, ok := s.sources.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "source not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sourceView(src))
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !store.DeleteSourceCascade(s.sources, s.jobs, id) {
		http.Error(w, "source not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handlePrune(w http.ResponseWriter, _ *http.Request) {
	pruned := store.PruneSources(s.sources, s.jobs)
	writeJSON(w, http.StatusOK, map[string]int{"pruned": pruned})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	sourceID := r.URL.Query().Get("source")
	jobs := s.jobs.Where(func(j models.Job) bool {
		if status != "" && j.Status != status {
			return false
		}
		if sourceID != "" && j.SourceID != sourceID {
			return false
		}
		return true
	})
	writeJSON(w, http.StatusOK, map[string]any{"jobs": viewJobs(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewJob(job))
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok || job.Result == nil || len(job.Result.Artifact) == 0 {
		http.Error(w, "no artifact", http.StatusNotFound)
		return
	}
	mime := "image/png"
	src, ok := s.sources.Get(job.SourceID)
	if ok && src.Options.OutputFormat == models.FormatJPEG {
		mime = "image/jpeg"
	}
	w.Header().Set("Content-Type", mime)
	_, _ = w.Write(job.Result.Artifact)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed := s.jobs.RemoveWhere(func(j models.Job) bool { return j.ID == id })
	if removed == 0 {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		http.Error(w, "status query parameter is required", http.StatusBadRequest)
		return
	}
	removed := s.jobs.RemoveWhere(func(j models.Job) bool { return j.Status == status })
	writeJSON(w, http.StatusOK, map[string]int{"deleted": removed})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.jobs.Get(id); !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	// The status guard and the reset run under one store mutation, so a
	// job admitted by a concurrent tick can never be reverted by a stale
	// write from this handler.
	touched := s.jobs.MapWhere(
		func(j models.Job) bool {
			return j.ID == id && (j.Status == models.StatusFailed || j.Status == models.StatusEnded)
		},
		executor.ResetForRetry,
	)
	if touched == 0 {
		http.Error(w, "job is not retryable", http.StatusConflict)
		return
	}
	updated, _ := s.jobs.Get(id)
	writeJSON(w, http.StatusOK, viewJob(updated))
}

func (s *Server) handleRepeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.jobs.Get(id)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	clone := models.CloneForRepeat(job, time.Now())
	s.jobs.Append(clone)
	writeJSON(w, http.StatusAccepted, viewJob(clone))
}

// handleRetryFailed resets every failed and dead job except blocked
// ones; policy rejections need individual operator attention.
func (s *Server) handleRetryFailed(w http.ResponseWriter, _ *http.Request) {
	touched := s.jobs.MapWhere(
		func(j models.Job) bool {
			return (j.Status == models.StatusFailed || j.Status == models.StatusEnded) && !j.Blocked
		},
		executor.ResetForRetry,
	)
	writeJSON(w, http.StatusOK, map[string]int{"retried": touched})
}

type boostRequest struct {
	SourceID string `json:"source_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Amount   int    `json:"amount"`
}

func (s *Server) handleBoost(w http.ResponseWriter, r *http.Request) {
	var req boostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Amount == 0 {
		req.Amount = 10
	}
	touched := s.jobs.MapWhere(
		func(j models.Job) bool {
			if req.Status != "" {
				if j.Status != req.Status {
					return false
				}
			} else if j.Status != models.StatusPending {
				return false
			}
			if req.SourceID != "" && j.SourceID != req.SourceID {
				return false
			}
			return true
		},
		func(j models.Job) models.Job {
			j.Priority = models.ClampPriority(j.Priority + req.Amount)
			return j
		},
	)
	writeJSON(w, http.StatusOK, map[string]int{"boosted": touched})
}

// handleBlocked lists dead jobs killed by policy rejections, the analog
// of a dead-letter view.
func (s *Server) handleBlocked(w http.ResponseWriter, _ *http.Request) {
	jobs := s.jobs.Where(func(j models.Job) bool {
		return j.Status == models.StatusEnded && j.Blocked
	})
	writeJSON(w, http.StatusOK, map[string]any{"jobs": viewJobs(jobs)})
}

func (s *Server) handleGetOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.options.Current())
}

func (s *Server) handlePatchOptions(w http.ResponseWriter, r *http.Request) {
	var patch models.Options
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if patch.OutputFormat != "" && patch.OutputFormat != models.FormatPNG && patch.OutputFormat != models.FormatJPEG {
		http.Error(w, "unknown output format", http.StatusBadRequest)
		return
	}
	s.options.Update(func(current models.Options) models.Options {
		return mergeOptions(current, patch)
	})
	writeJSON(w, http.StatusOK, s.options.Current())
}

func mergeOptions(current, patch models.Options) models.Options {
	for k, v := range patch.Enabled {
		current.Enabled[k] = v
	}
	for k, v := range patch.Weights {
		current.Weights[k] = models.ClampPriority(v)
	}
	if patch.StylePriorities != nil {
		if current.StylePriorities == nil {
			current.StylePriorities = map[string]int{}
		}
		for k, v := range patch.StylePriorities {
			current.StylePriorities[k] = models.ClampPriority(v)
		}
	}
	if patch.GenderBias != "" {
		current.GenderBias = patch.GenderBias
	}
	if patch.AgeBias != "" {
		current.AgeBias = patch.AgeBias
	}
	if patch.StyleBias != "" {
		current.StyleBias = patch.StyleBias
	}
	if patch.Creativity != 0 {
		current.Creativity = patch.Creativity
	}
	if patch.OutputFormat != "" {
		current.OutputFormat = patch.OutputFormat
	}
	return current
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, _ *http.Request) {
	s.sched.SetActive(true)
	writeJSON(w, http.StatusOK, map[string]bool{"active": true})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, _ *http.Request) {
	s.sched.SetActive(false)
	writeJSON(w, http.StatusOK, map[string]bool{"active": false})
}

func (s *Server) handleSchedulerState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"active": s.sched.Active()})
}

// jobView is the wire shape of a job without its image payload.
type jobView struct {
	ID           string      `json:"id"`
	SourceID     string      `json:"source_id"`
	Kind         string      `json:"kind"`
	Subject      string      `json:"subject,omitempty"`
	Box          *[4]float64 `json:"box,omitempty"`
	Status       string      `json:"status"`
	Priority     int         `json:"priority"`
	RetryCount   int         `json:"retry_count"`
	ErrorHistory []string    `json:"error_history,omitempty"`
	LastError    *string     `json:"last_error,omitempty"`
	Blocked      bool        `json:"blocked"`
	CreatedAt    time.Time   `json:"created_at"`
	Prompt       string      `json:"prompt,omitempty"`
	ExportedTo   string      `json:"exported_to,omitempty"`
	HasArtifact  bool        `json:"has_artifact"`
}

func viewJob(j models.Job) jobView {
	v := jobView{
		ID:           j.ID,
		SourceID:     j.SourceID,
		Kind:         string(j.Kind),
		Subject:      j.Subject,
		Box:          j.Box,
		Status:       j.Status,
		Priority:     j.Priority,
		RetryCount:   j.RetryCount,
		ErrorHistory: j.ErrorHistory,
		LastError:    j.LastError,
		Blocked:      j.Blocked,
		CreatedAt:    j.CreatedAt,
	}
	if j.Result != nil {
		v.Prompt = j.Result.Prompt
		v.ExportedTo = j.Result.ExportedTo
		v.HasArtifact = len(j.Result.Artifact) > 0
	}
	return v
}

func viewJobs(jobs []models.Job) []jobView {
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, viewJob(j))
	}
	return out
}

func sourceView(src models.Source) map[string]any {
	return map[string]any{
		"id":           src.ID,
		"name":         src.Name,
		"people_count": src.PeopleCount,
		"created_at":   src.CreatedAt,
		"options":      src.Options,
	}
}

func clientFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
