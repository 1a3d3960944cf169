// Package unstract adapts the structured-query cloud extraction service.
// A submission may finish on the spot (the vendor answers COMPLETED or
// ERROR directly), otherwise it returns an execution id that is polled
// until terminal.
package unstract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/backend/vendorapi"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/resilience"
)

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

func (b *Backend) Name() string { return "unstract" }

func (b *Backend) Submit(ctx context.Context, req ports.SubmitRequest) (ports.SubmissionHandle, error) {
	doc, err := readDocument(ctx, b.storage, req.StorageKey)
	if err != nil {
		return ports.SubmissionHandle{}, err
	}
	if req.Progress != nil {
		req.Progress(30, "uploading file for structured extraction")
	}

	var msg executionMessage
	attempt, err := b.executor.RetryWithBackoff(ctx, "unstract_submit", b.retry,
		func(ctx context.Context, insecure bool) error {
			m, err := b.submitOnce(ctx, doc, req.Filename, req.Options.CustomPrompt, insecure)
			if err != nil {
				return err
			}
			msg = m
			return nil
		},
		vendorapi.Classify, nil)
	if err != nil {
		return ports.SubmissionHandle{}, vendorapi.WrapTemporary("unstract_submit", err)
	}

	handle := ports.SubmissionHandle{
		JobID:    req.JobID,
		RemoteID: msg.ExecutionID,
		Verified: attempt.Verified,
		Attempts: attempt.Attempts,
	}

	// The vendor sometimes answers terminally on submit. A 200 carrying an
	// embedded error must never read as success.
	switch {
	case msg.ExecutionStatus == statusError:
		outcome := errorOutcome(msg)
		handle.Outcome = &outcome
		return handle, nil
	case msg.ExecutionStatus == statusCompleted && len(msg.Result) > 0:
		outcome, err := b.completedOutcome(ctx, handle, msg.Result)
		if err != nil {
			return ports.SubmissionHandle{}, err
		}
		handle.Outcome = &outcome
		if handle.RemoteID == "" && len(msg.Result) > 0 {
			handle.RemoteID = msg.Result[0].Metadata.ExecutionID
		}
		return handle, nil
	}

	if msg.ExecutionID == "" {
		return ports.SubmissionHandle{}, domain.WrapError(domain.ErrVendor, "unstract_submit",
			fmt.Errorf("no execution_id in submit response"))
	}
	return handle, nil
}

func (b *Backend) Poll(ctx context.Context, handle ports.SubmissionHandle) (domain.Outcome, bool, error) {
	insecure := !handle.Verified

	endpoint := b.cfg.BaseURL + "?" + url.Values{
		"execution_id":     {handle.RemoteID},
		"include_metadata": {"false"},
	}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Outcome{}, false, fmt.Errorf("create unstract poll request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)

	resp, err := b.doer.Do(httpReq, insecure)
	if err != nil {
		return domain.Outcome{}, false, fmt.Errorf("unstract poll request: %w", err)
	}
	defer resp.Body.Close()
	if err := vendorapi.CheckStatus(resp, "unstract poll"); err != nil {
		return domain.Outcome{}, false, err
	}

	msg, err := decodeMessage(resp.Body)
	if err != nil {
		return domain.Outcome{}, false, err
	}

	switch {
	case msg.ExecutionStatus == statusError:
		return errorOutcome(msg), true, nil
	case msg.ExecutionStatus == statusCompleted && len(msg.Result) > 0:
		outcome, err := b.completedOutcome(ctx, handle, msg.Result)
		if err != nil {
			return domain.Outcome{}, false, err
		}
		return outcome, true, nil
	default:
		// PENDING, EXECUTING and anything unrecognized keep the poll loop going.
		return domain.Outcome{}, false, nil
	}
}

func (b *Backend) submitOnce(ctx context.Context, doc []byte, filename, customPrompt string, insecure bool) (executionMessage, error) {
	body, contentType, err := buildSubmitForm(doc, filename, customPrompt)
	if err != nil {
		return executionMessage{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL, body)
	if err != nil {
		return executionMessage{}, fmt.Errorf("create unstract submit request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := b.doer.Do(httpReq, insecure)
	if err != nil {
		return executionMessage{}, fmt.Errorf("unstract submit request: %w", err)
	}
	defer resp.Body.Close()
	if err := vendorapi.CheckStatus(resp, "unstract submit"); err != nil {
		return executionMessage{}, err
	}
	return decodeMessage(resp.Body)
}

// buildSubmitForm assembles the vendor's multipart request. The file part
// must be named "files"; "file" is silently rejected upstream.
func buildSubmitForm(doc []byte, filename, customPrompt string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	fields := map[string]string{
		"timeout":          "300",
		"include_metadata": "False",
		"include_metrics":  "False",
	}
	if customPrompt != "" {
		customData, err := json.Marshal(map[string]any{
			"instructions":     customPrompt,
			"user_query":       customPrompt,
			"override_default": true,
		})
		if err != nil {
			return nil, "", fmt.Errorf("marshal custom prompt: %w", err)
		}
		fields["custom_data"] = string(customData)
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", name, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, filename))
	header.Set("Content-Type", "application/pdf")
	part, err := form.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(doc); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize form: %w", err)
	}
	return &buf, form.FormDataContentType(), nil
}
