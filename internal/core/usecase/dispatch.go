package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
	"github.com/mkravets/pdf-extraction-service/internal/core/registry"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/resilience"
)

// JobMetrics is the execution-side metrics surface the dispatcher reports
// into. Nil disables reporting.
type JobMetrics interface {
	StartJob()
	FinishJob(service, backend string, duration time.Duration, err error)
	ObserveRetries(service, backend string, attempts int)
	ObservePollCycle(service, backend string)
}

// Dispatcher accepts extraction jobs and runs each one on its own
// goroutine. Submission validates synchronously; everything after the
// returned job id is reported through the registry.
type Dispatcher struct {
	registry *registry.Registry
	storage  ports.ObjectStorage
	ledger   ports.JobLedger
	events   ports.JobEventPublisher
	backends map[string]ports.BackendAdapter
	poll     resilience.PollPolicy
	metrics  JobMetrics
	service  string
}

func NewDispatcher(
	reg *registry.Registry,
	storage ports.ObjectStorage,
	ledger ports.JobLedger,
	events ports.JobEventPublisher,
	adapters []ports.BackendAdapter,
	poll resilience.PollPolicy,
	metrics JobMetrics,
	service string,
) *Dispatcher {
	backends := make(map[string]ports.BackendAdapter, len(adapters))
	for _, adapter := range adapters {
		backends[adapter.Name()] = adapter
	}
	return &Dispatcher{
		registry: reg,
		storage:  storage,
		ledger:   ledger,
		events:   events,
		backends: backends,
		poll:     poll,
		metrics:  metrics,
		service:  service,
	}
}

// Submit validates the upload, persists it, creates the job and spawns its
// execution goroutine. Validation and backend-selection failures are
// synchronous and never create a job.
func (uc *Dispatcher) Submit(ctx context.Context, ownerID string, upload ports.Upload, backend string, opts ports.SubmitOptions) (string, error) {
	if ownerID == "" {
		return "", domain.WrapError(domain.ErrValidation, "submit job", errors.New("missing owner identity"))
	}
	if !strings.EqualFold(filepath.Ext(upload.Filename), ".pdf") {
		return "", domain.WrapError(domain.ErrValidation, "submit job",
			fmt.Errorf("unsupported file type %q, only PDF is accepted", filepath.Ext(upload.Filename)))
	}
	adapter, ok := uc.backends[backend]
	if !ok {
		return "", domain.WrapError(domain.ErrUnsupportedBackend, "submit job",
			fmt.Errorf("unknown backend %q", backend))
	}

	jobID := uuid.NewString()
	storageKey := fmt.Sprintf("uploads/%s_%s_%s",
		time.Now().UTC().Format("20060102_150405"), jobID, sanitizeFilename(upload.Filename))
	if err := uc.storage.Save(ctx, storageKey, upload.Body); err != nil {
		return "", fmt.Errorf("save upload to object storage: %w", err)
	}

	handle, _ := uc.registry.Create(jobID, ownerID, backend, upload.Filename)

	// Ledger and event writes are audit trail, not control flow.
	if err := uc.ledger.RecordJobCreated(ctx, jobID, ownerID, upload.Filename, backend); err != nil {
		slog.Warn("ledger_write_failed", "job_id", jobID, "event", "created", "error", err)
	}
	if err := uc.events.PublishJobEvent(ctx, "created", jobID); err != nil {
		slog.Warn("event_publish_failed", "job_id", jobID, "event", "created", "error", err)
	}

	go uc.execute(handle, adapter, ports.SubmitRequest{
		JobID:      jobID,
		StorageKey: storageKey,
		Filename:   upload.Filename,
		Options:    opts,
		Progress:   handle.SetProgress,
	})

	return jobID, nil
}

// Get is the owner-scoped read model used by the HTTP layer.
func (uc *Dispatcher) Get(jobID, ownerID string) (*domain.Job, error) {
	return uc.registry.Get(jobID, ownerID)
}

// execute owns the job from start to terminal state. It never returns an
// error: every failure, panic included, lands in the registry as a
// structured job error.
func (uc *Dispatcher) execute(handle *registry.Handle, adapter ports.BackendAdapter, req ports.SubmitRequest) {
	// Extraction outlives the submitting HTTP request on purpose; poll
	// budgets are the only runaway guard.
	ctx := context.Background()
	start := time.Now()
	backend := adapter.Name()

	if uc.metrics != nil {
		uc.metrics.StartJob()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("job_panicked", "job_id", req.JobID, "backend", backend, "panic", r)
			uc.finish(ctx, handle, backend, start, &domain.JobError{
				Kind:    "internal",
				Message: "internal error during processing",
			})
		}
	}()

	handle.Start("processing started")

	submission, err := adapter.Submit(ctx, req)
	if err != nil {
		uc.finish(ctx, handle, backend, start, domain.ClassifyJobError(err))
		return
	}
	if uc.metrics != nil && submission.Attempts > 0 {
		uc.metrics.ObserveRetries(uc.service, backend, submission.Attempts)
	}

	outcome, err := uc.resolveOutcome(ctx, handle, adapter, submission)
	if err != nil {
		uc.finish(ctx, handle, backend, start, domain.ClassifyJobError(err))
		return
	}

	switch outcome.Status {
	case domain.OutcomeSuccess, domain.OutcomePartial:
		result := outcome.Result
		if result == nil {
			uc.finish(ctx, handle, backend, start, &domain.JobError{
				Kind:    "internal",
				Message: "backend reported success without a result",
			})
			return
		}
		if len(outcome.Warnings) > 0 {
			result.Warnings = outcome.Warnings
		}
		message := "processing completed"
		if outcome.Status == domain.OutcomePartial {
			message = "processing completed with warnings"
		}
		handle.Complete(result, message)
		uc.recordTerminal(ctx, handle.ID(), backend, start, nil)
	case domain.OutcomeError:
		uc.finish(ctx, handle, backend, start, &domain.JobError{
			Kind:    "vendor",
			Message: "vendor reported failure",
			Vendor:  outcome.VendorDetail,
		})
	default:
		uc.finish(ctx, handle, backend, start, &domain.JobError{
			Kind:    "internal",
			Message: fmt.Sprintf("backend returned unknown outcome status %q", outcome.Status),
		})
	}
}

// resolveOutcome returns the terminal outcome, driving the poll loop for
// asynchronous backends that did not complete on submit.
func (uc *Dispatcher) resolveOutcome(ctx context.Context, handle *registry.Handle, adapter ports.BackendAdapter, submission ports.SubmissionHandle) (domain.Outcome, error) {
	if submission.Outcome != nil {
		return *submission.Outcome, nil
	}

	async, ok := adapter.(ports.AsyncBackendAdapter)
	if !ok {
		return domain.Outcome{}, domain.WrapError(domain.ErrInternal, "resolve outcome",
			fmt.Errorf("backend %q returned no outcome and cannot be polled", adapter.Name()))
	}

	backend := adapter.Name()
	handle.SetProgress(60, "processing with remote service")

	var outcome domain.Outcome
	err := resilience.PollUntilTerminal(ctx, backend+"_poll", uc.poll,
		func(ctx context.Context) (bool, error) {
			if uc.metrics != nil {
				uc.metrics.ObservePollCycle(uc.service, backend)
			}
			polled, done, err := async.Poll(ctx, submission)
			if err != nil {
				return false, err
			}
			if done {
				outcome = polled
			}
			return done, nil
		},
		func(fraction float64) {
			handle.SetProgress(60+int(fraction*35), "processing with remote service")
		})
	if err != nil {
		if errors.Is(err, resilience.ErrPollTimeout) {
			return domain.Outcome{}, domain.WrapError(domain.ErrTemporary, backend+"_poll", err)
		}
		return domain.Outcome{}, err
	}
	return outcome, nil
}

func (uc *Dispatcher) finish(ctx context.Context, handle *registry.Handle, backend string, start time.Time, jobErr *domain.JobError) {
	handle.Fail(jobErr, "processing failed")
	uc.recordTerminal(ctx, handle.ID(), backend, start, jobErr)
}

func (uc *Dispatcher) recordTerminal(ctx context.Context, jobID, backend string, start time.Time, jobErr *domain.JobError) {
	event := "completed"
	record := uc.ledger.RecordJobCompleted
	var metricErr error
	if jobErr != nil {
		event = "failed"
		record = uc.ledger.RecordJobFailed
		metricErr = jobErr
	}

	if err := record(ctx, jobID); err != nil {
		slog.Warn("ledger_write_failed", "job_id", jobID, "event", event, "error", err)
	}
	if err := uc.events.PublishJobEvent(ctx, event, jobID); err != nil {
		slog.Warn("event_publish_failed", "job_id", jobID, "event", event, "error", err)
	}
	if uc.metrics != nil {
		uc.metrics.FinishJob(uc.service, backend, time.Since(start), metricErr)
	}
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "document.pdf"
	}
	return base
}
