// Package whisper adapts the layout-preserving cloud text extraction
// service: binary submit, hash-keyed status polling, then a retrieve call
// for the final text.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/backend/vendorapi"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/resilience"
)

const pageSeparator = "<<<PAGE_BREAK>>>"

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Backend struct {
	cfg      Config
	doer     *vendorapi.Doer
	storage  ports.ObjectStorage
	executor *resilience.Executor
	retry    resilience.RetryPolicy
}

func New(cfg Config, storage ports.ObjectStorage, executor *resilience.Executor, retry resilience.RetryPolicy) *Backend {
	return &Backend{
		cfg:      cfg,
		doer:     vendorapi.NewDoer(cfg.Timeout),
		storage:  storage,
		executor: executor,
		retry:    retry,
	}
}

func (b *Backend) Name() string { return "whisper" }

func (b *Backend) Submit(ctx context.Context, req ports.SubmitRequest) (ports.SubmissionHandle, error) {
	doc, err := readDocument(ctx, b.storage, req.StorageKey)
	if err != nil {
		return ports.SubmissionHandle{}, err
	}
	if req.Progress != nil {
		req.Progress(30, "uploading document for layout extraction")
	}

	var whisperHash string
	attempt, err := b.executor.RetryWithBackoff(ctx, "whisper_submit", b.retry,
		func(ctx context.Context, insecure bool) error {
			hash, err := b.submitOnce(ctx, doc, insecure)
			if err != nil {
				return err
			}
			whisperHash = hash
			return nil
		},
		vendorapi.Classify, nil)
	if err != nil {
		return ports.SubmissionHandle{}, vendorapi.WrapTemporary("whisper_submit", err)
	}

	return ports.SubmissionHandle{
		JobID:    req.JobID,
		RemoteID: whisperHash,
		Verified: attempt.Verified,
		Attempts: attempt.Attempts,
	}, nil
}

func (b *Backend) submitOnce(ctx context.Context, doc []byte, insecure bool) (string, error) {
	endpoint := b.cfg.BaseURL + "/whisper?" + url.Values{
		"mode":           {"high_quality"},
		"output_mode":    {"layout_preserving"},
		"page_seperator": {pageSeparator},
	}.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("create whisper submit request: %w", err)
	}
	httpReq.Header.Set("unstract-key", b.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := b.doer.Do(httpReq, insecure)
	if err != nil {
		return "", fmt.Errorf("whisper submit request: %w", err)
	}
	defer resp.Body.Close()
	if err := vendorapi.CheckStatus(resp, "whisper submit"); err != nil {
		return "", err
	}

	var accepted struct {
		WhisperHash string `json:"whisper_hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", fmt.Errorf("decode whisper submit response: %w", err)
	}
	if accepted.WhisperHash == "" {
		return "", fmt.Errorf("whisper submit response carries no whisper_hash")
	}
	return accepted.WhisperHash, nil
}

// Poll asks for the remote status and, once processed, retrieves the text
// in the same cycle. A submission that needed the certificate fallback
// keeps using the insecure client for its follow-up calls.
func (b *Backend) Poll(ctx context.Context, handle ports.SubmissionHandle) (domain.Outcome, bool, error) {
	insecure := !handle.Verified

	status, err := b.fetchStatus(ctx, handle.RemoteID, insecure)
	if err != nil {
		return domain.Outcome{}, false, err
	}

	switch status {
	case "processed":
		text, err := b.retrieve(ctx, handle.RemoteID, insecure)
		if err != nil {
			return domain.Outcome{}, false, err
		}
		artifact, err := saveTextArtifact(ctx, b.storage, handle.JobID, "whisper_result.txt", text)
		if err != nil {
			return domain.Outcome{}, false, err
		}
		return domain.Outcome{
			Status: domain.OutcomeSuccess,
			Result: &domain.JobResult{
				ArtifactPath: artifact,
				Text:         text,
				Verified:     handle.Verified,
			},
		}, true, nil
	case "error", "failed":
		return domain.Outcome{
			Status:       domain.OutcomeError,
			VendorDetail: fmt.Sprintf("whisper extraction ended in status %q", status),
		}, true, nil
	default:
		return domain.Outcome{}, false, nil
	}
}

func (b *Backend) fetchStatus(ctx context.Context, whisperHash string, insecure bool) (string, error) {
	endpoint := b.cfg.BaseURL + "/whisper-status?" + url.Values{"whisper_hash": {whisperHash}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create whisper status request: %w", err)
	}
	httpReq.Header.Set("unstract-key", b.cfg.APIKey)

	resp, err := b.doer.Do(httpReq, insecure)
	if err != nil {
		return "", fmt.Errorf("whisper status request: %w", err)
	}
	defer resp.Body.Close()
	if err := vendorapi.CheckStatus(resp, "whisper status"); err != nil {
		return "", err
	}

	var status struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("decode whisper status response: %w", err)
	}
	return status.Status, nil
}

func (b *Backend) retrieve(ctx context.Context, whisperHash string, insecure bool) (string, error) {
	endpoint := b.cfg.BaseURL + "/whisper-retrieve?" + url.Values{
		"whisper_hash": {whisperHash},
		"text_only":    {"false"},
	}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create whisper retrieve request: %w", err)
	}
	httpReq.Header.Set("unstract-key", b.cfg.APIKey)

	resp, err := b.doer.Do(httpReq, insecure)
	if err != nil {
		return "", fmt.Errorf("whisper retrieve request: %w", err)
	}
	defer resp.Body.Close()
	if err := vendorapi.CheckStatus(resp, "whisper retrieve"); err != nil {
		return "", err
	}

	var result struct {
		ResultText string `json:"result_text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode whisper retrieve response: %w", err)
	}
	return result.ResultText, nil
}

func readDocument(ctx context.Context, storage ports.ObjectStorage, key string) ([]byte, error) {
	r, err := storage.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open document %s: %w", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", key, err)
	}
	return data, nil
}

func saveTextArtifact(ctx context.Context, storage ports.ObjectStorage, jobID, name, text string) (string, error) {
	key := fmt.Sprintf("outputs/%s/%s", jobID, name)
	if err := storage.Save(ctx, key, bytes.NewReader([]byte(text))); err != nil {
		return "", fmt.Errorf("save artifact %s: %w", key, err)
	}
	return key, nil
}
