package ports

import (
	"context"
	"io"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
)

// JobSubmitter is the inbound contract for extraction job submission.
// Submit returns the allocated job id immediately; extraction runs in a
// dedicated goroutine and the caller polls JobReader for progress.
type JobSubmitter interface {
	Submit(ctx context.Context, ownerID string, upload Upload, backend string, opts SubmitOptions) (string, error)
}

// JobReader is the inbound owner-scoped read model for job state.
type JobReader interface {
	Get(jobID, ownerID string) (*domain.Job, error)
}

// Upload carries one submitted document.
type Upload struct {
	Filename string
	MimeType string
	Body     io.Reader
}

// SubmitOptions are per-job extraction knobs. Zero values select the
// backend's defaults.
type SubmitOptions struct {
	Language      string
	Deskew        bool
	ExtractTables bool
	CustomPrompt  string
	Model         string
}
