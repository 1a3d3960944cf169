// Package registry holds the in-memory job table and its state machine.
//
// The table is shared between client-polling reads and background execution
// goroutines. Each job carries its own mutex so concurrent operations on
// different jobs never contend; the registry-level lock guards only map
// membership. Transitions are exposed exclusively through the Handle that
// Create returns, so only the goroutine owning a job's execution can move it
// through the state machine.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
)

type entry struct {
	mu  sync.Mutex
	job domain.Job
}

type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*entry
}

func New() *Registry {
	return &Registry{jobs: make(map[string]*entry)}
}

// Create allocates a new job in the queued state and returns the execution
// handle alongside a snapshot. The caller must not block on extraction.
func (r *Registry) Create(jobID, ownerID, backend, filename string) (*Handle, domain.Job) {
	now := time.Now().UTC()
	e := &entry{job: domain.Job{
		ID:        jobID,
		OwnerID:   ownerID,
		Backend:   backend,
		Filename:  filename,
		State:     domain.StateQueued,
		Message:   "queued for processing",
		CreatedAt: now,
		UpdatedAt: now,
	}}

	r.mu.Lock()
	r.jobs[jobID] = e
	r.mu.Unlock()

	return &Handle{entry: e}, e.snapshot()
}

// Get returns an owner-scoped snapshot. A foreign owner receives the same
// generic not-authorized error regardless of whether the job exists for
// someone else; the job body never leaks.
func (r *Registry) Get(jobID, ownerID string) (*domain.Job, error) {
	r.mu.RLock()
	e, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	snap := e.job
	return &snap, nil
}

func (e *entry) snapshot() domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job
}

// Handle is the single writer for one job's state. It is held only by the
// execution goroutine the dispatcher spawns for that job.
type Handle struct {
	entry *entry
}

// ID returns the job id the handle owns.
func (h *Handle) ID() string {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	return h.entry.job.ID
}

// Start moves queued -> processing. Calling it from any other state is a
// programming error; it is logged and ignored rather than surfaced to users.
func (h *Handle) Start(message string) {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	if h.entry.job.State != domain.StateQueued {
		slog.Error("illegal job transition", "job_id", h.entry.job.ID, "from", h.entry.job.State, "to", domain.StateProcessing)
		return
	}
	h.entry.job.State = domain.StateProcessing
	h.entry.job.Message = message
	h.entry.job.UpdatedAt = time.Now().UTC()
}

// SetProgress updates progress and the phase message while processing.
// Progress regressions are dropped to keep the documented monotonicity
// invariant; out-of-range values are clamped.
func (h *Handle) SetProgress(progress int, message string) {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	if h.entry.job.State != domain.StateProcessing {
		return
	}
	if progress > 100 {
		progress = 100
	}
	if progress > h.entry.job.Progress {
		h.entry.job.Progress = progress
	}
	if message != "" {
		h.entry.job.Message = message
	}
	h.entry.job.UpdatedAt = time.Now().UTC()
}

// Complete commits the final result and moves processing -> completed.
func (h *Handle) Complete(result *domain.JobResult, message string) {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	if h.entry.job.State != domain.StateProcessing {
		slog.Error("illegal job transition", "job_id", h.entry.job.ID, "from", h.entry.job.State, "to", domain.StateCompleted)
		return
	}
	h.entry.job.State = domain.StateCompleted
	h.entry.job.Progress = 100
	h.entry.job.Message = message
	h.entry.job.Result = result
	h.entry.job.UpdatedAt = time.Now().UTC()
}

// Fail commits the structured failure and moves processing (or queued, when
// the execution goroutine dies before Start) -> failed.
func (h *Handle) Fail(jobErr *domain.JobError, message string) {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	if h.entry.job.State.Terminal() {
		slog.Error("illegal job transition", "job_id", h.entry.job.ID, "from", h.entry.job.State, "to", domain.StateFailed)
		return
	}
	h.entry.job.State = domain.StateFailed
	h.entry.job.Message = message
	h.entry.job.Error = jobErr
	h.entry.job.UpdatedAt = time.Now().UTC()
}
