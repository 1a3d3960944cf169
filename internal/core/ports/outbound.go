package ports

import (
	"context"
	"io"
	"time"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
)

// SubmitRequest is what the dispatcher hands a backend adapter.
type SubmitRequest struct {
	JobID string
	// StorageKey references the uploaded document in object storage.
	StorageKey string
	Filename   string
	Options    SubmitOptions
	// Progress lets a synchronous adapter report phase changes while it
	// blocks inside Submit.
	Progress func(progress int, message string)
}

// SubmissionHandle identifies an accepted submission. Synchronous adapters
// finish the whole operation inside Submit and attach the final outcome;
// asynchronous adapters return the remote execution id for polling.
type SubmissionHandle struct {
	JobID    string
	RemoteID string
	// Outcome is non-nil when the adapter completed synchronously (or the
	// vendor answered terminally on submit).
	Outcome *domain.Outcome
	// Verified is false when the submission only succeeded after the
	// certificate-validation fallback.
	Verified bool
	// Attempts counts the submission attempts the adapter needed.
	Attempts int
}

// BackendAdapter is the uniform capability exposed by every extraction
// strategy.
type BackendAdapter interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (SubmissionHandle, error)
}

// AsyncBackendAdapter is implemented by adapters whose vendor completes
// work asynchronously. Poll reports (outcome, done); done=false means the
// remote execution is still running and outcome must be ignored.
type AsyncBackendAdapter interface {
	BackendAdapter
	Poll(ctx context.Context, handle SubmissionHandle) (domain.Outcome, bool, error)
}

// ObjectStorage stores source documents and produced artifacts.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// JobLedger is the persistent audit trail of job lifecycle events.
// Writes are fire-and-forget: a ledger failure must never fail the job.
type JobLedger interface {
	RecordJobCreated(ctx context.Context, jobID, ownerID, filename, backend string) error
	RecordJobCompleted(ctx context.Context, jobID string) error
	RecordJobFailed(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context, ownerID string) ([]LedgerEntry, error)
}

// LedgerEntry is one historical job row.
type LedgerEntry struct {
	JobID       string     `json:"id"`
	Filename    string     `json:"filename"`
	Backend     string     `json:"backend"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobEventPublisher notifies downstream consumers of job transitions.
// Best effort; failures are logged, never propagated.
type JobEventPublisher interface {
	PublishJobEvent(ctx context.Context, event string, jobID string) error
}

// OCREngine recognizes text on one rasterized page image and returns spans
// with boxes normalized to the image dimensions.
type OCREngine interface {
	Name() string
	Recognize(ctx context.Context, image []byte, page int, languages []string) ([]domain.TextSpan, error)
}

// PageRasterizer renders document pages to raster images at a fixed DPI.
type PageRasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, dpi int) ([]PageImage, error)
}

// PageImage is one rendered page.
type PageImage struct {
	Page   int // 1-based
	Data   []byte
	Format string // "jpeg" or "png"
	Width  int
	Height int
}
