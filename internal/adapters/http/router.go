// Package httpadapter exposes the extraction job API: submit a document,
// poll the job, fetch its artifact once completed. Callers identify
// themselves with the X-User-Id header; jobs are visible to their owner
// only.
package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
)

// maxUploadBytes caps the multipart body. Large scans are expected; whole
// books are not.
const maxUploadBytes = 64 << 20

type Router struct {
	submitter ports.JobSubmitter
	reader    ports.JobReader
	ledger    ports.JobLedger
	storage   ports.ObjectStorage
}

func NewRouter(
	submitter ports.JobSubmitter,
	reader ports.JobReader,
	ledger ports.JobLedger,
	storage ports.ObjectStorage,
) *Router {
	return &Router{
		submitter: submitter,
		reader:    reader,
		ledger:    ledger,
		storage:   storage,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.Handle("POST /v1/jobs", rt.authenticated(rt.submitJob))
	mux.Handle("GET /v1/jobs", rt.authenticated(rt.listJobs))
	mux.Handle("GET /v1/jobs/{job_id}", rt.authenticated(rt.getJob))
	mux.Handle("GET /v1/jobs/{job_id}/result", rt.authenticated(rt.getJobResult))
	return requestIDMiddleware(accessLogMiddleware(mux))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) submitJob(w http.ResponseWriter, r *http.Request, ownerID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrValidation, "parse upload", err))
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, domain.WrapError(domain.ErrValidation, "parse upload",
			fmt.Errorf("multipart field 'file' is required")))
		return
	}
	defer file.Close()

	backend := strings.TrimSpace(r.FormValue("backend"))
	if backend == "" {
		writeError(w, r, domain.WrapError(domain.ErrValidation, "parse upload",
			fmt.Errorf("form field 'backend' is required")))
		return
	}

	opts := ports.SubmitOptions{
		Language:      strings.TrimSpace(r.FormValue("language")),
		CustomPrompt:  r.FormValue("custom_prompt"),
		Model:         strings.TrimSpace(r.FormValue("model")),
		Deskew:        formBool(r.FormValue("deskew")),
		ExtractTables: formBool(r.FormValue("extract_tables")),
	}

	jobID, err := rt.submitter.Submit(r.Context(), ownerID, ports.Upload{
		Filename: fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Body:     file,
	}, backend, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(domain.StateQueued),
	})
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request, ownerID string) {
	job, err := rt.reader.Get(r.PathValue("job_id"), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) listJobs(w http.ResponseWriter, r *http.Request, ownerID string) {
	entries, err := rt.ledger.ListJobs(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []ports.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": entries})
}

// getJobResult streams the job's primary artifact. Only completed jobs
// carry one; everything else answers with the job's current state.
func (rt *Router) getJobResult(w http.ResponseWriter, r *http.Request, ownerID string) {
	job, err := rt.reader.Get(r.PathValue("job_id"), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if job.State != domain.StateCompleted || job.Result == nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "job has no result yet",
			"status": string(job.State),
		})
		return
	}
	if job.Result.ArtifactPath == "" {
		writeJSON(w, http.StatusOK, job.Result)
		return
	}

	artifact, err := rt.storage.Open(r.Context(), job.Result.ArtifactPath)
	if err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInternal, "open artifact", err))
		return
	}
	defer artifact.Close()

	name := path.Base(job.Result.ArtifactPath)
	w.Header().Set("Content-Type", artifactContentType(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, artifact); err != nil {
		slog.Warn("artifact_stream_interrupted", "job_id", job.ID, "error", err)
	}
}

func artifactContentType(name string) string {
	switch path.Ext(name) {
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func formBool(value string) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	return err == nil && parsed
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
