package domain

import "time"

type JobState string

const (
	StateQueued     JobState = "queued"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
)

// Terminal reports whether no further state transitions are permitted.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type Job struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"-"`
	Backend   string     `json:"backend"`
	Filename  string     `json:"filename"`
	State     JobState   `json:"status"`
	Progress  int        `json:"progress"`
	Message   string     `json:"message"`
	Result    *JobResult `json:"result,omitempty"`
	Error     *JobError  `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// JobResult is the backend-specific payload, present only on completed jobs.
type JobResult struct {
	// ArtifactPath is the storage key of the primary produced artifact
	// (searchable PDF, OCR output, raw extraction dump).
	ArtifactPath string `json:"artifact_path,omitempty"`
	// Text holds extracted plain text for text-producing backends.
	Text string `json:"text,omitempty"`
	// Tables holds detected tables, numbered in detection order.
	Tables []Table `json:"tables,omitempty"`
	// Fields holds structured key/value extraction records.
	Fields map[string]string `json:"fields,omitempty"`
	// Warnings carries vendor-reported per-item issues on partial success.
	Warnings []string `json:"warnings,omitempty"`
	// Verified is false when the result was fetched over a connection with
	// certificate validation disabled. Clients must surface a warning.
	Verified bool `json:"verified"`
}

type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	// Vendor carries the remote service's own error detail, when present.
	Vendor string `json:"vendor_detail,omitempty"`
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	if e.Vendor != "" {
		return e.Kind + ": " + e.Message + ": " + e.Vendor
	}
	return e.Kind + ": " + e.Message
}
