package unstract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
)

const (
	statusCompleted = "COMPLETED"
	statusError     = "ERROR"
)

type executionMessage struct {
	ExecutionStatus string       `json:"execution_status"`
	ExecutionID     string       `json:"execution_id"`
	Error           string       `json:"error"`
	Result          []resultItem `json:"result"`
}

type resultItem struct {
	File   string `json:"file"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Result struct {
		Output map[string]json.RawMessage `json:"output"`
	} `json:"result"`
	Metadata struct {
		ExecutionID string `json:"execution_id"`
	} `json:"metadata"`
}

// decodeMessage unwraps the vendor's optional "message" envelope.
func decodeMessage(r io.Reader) (executionMessage, error) {
	raw, err := io.ReadAll(io.LimitReader(r, 4<<20))
	if err != nil {
		return executionMessage{}, fmt.Errorf("read unstract response: %w", err)
	}

	var envelope struct {
		Message json.RawMessage `json:"message"`
	}
	payload := raw
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Message) > 0 && envelope.Message[0] == '{' {
		payload = envelope.Message
	}

	var msg executionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return executionMessage{}, fmt.Errorf("decode unstract response: %w", err)
	}
	return msg, nil
}

func errorOutcome(msg executionMessage) domain.Outcome {
	detail := msg.Error
	if detail == "" && len(msg.Result) > 0 && msg.Result[0].Error != "" {
		detail = msg.Result[0].Error
	}
	if detail == "" {
		detail = "unstract reported an unspecified failure"
	}
	return domain.Outcome{Status: domain.OutcomeError, VendorDetail: detail}
}

// completedOutcome folds per-item results into a single job outcome and
// stores the raw extraction dump as the job artifact. Items carrying an
// embedded error downgrade the outcome to partial; all items failing is an
// error even though the execution status read COMPLETED.
func (b *Backend) completedOutcome(ctx context.Context, handle ports.SubmissionHandle, items []resultItem) (domain.Outcome, error) {
	fields := make(map[string]string)
	var warnings []string
	failed := 0

	for _, item := range items {
		if item.Error != "" || strings.EqualFold(item.Status, "error") {
			failed++
			detail := item.Error
			if detail == "" {
				detail = "item ended in status " + item.Status
			}
			warnings = append(warnings, fmt.Sprintf("%s: %s", item.File, detail))
			continue
		}
		for key, raw := range item.Result.Output {
			fields[key] = stringifyValue(raw)
		}
	}

	if failed == len(items) {
		return domain.Outcome{
			Status:       domain.OutcomeError,
			VendorDetail: strings.Join(warnings, "; "),
		}, nil
	}

	dump, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("marshal extraction dump: %w", err)
	}
	artifact := fmt.Sprintf("outputs/%s/unstract_result.json", handle.JobID)
	if err := b.storage.Save(ctx, artifact, bytes.NewReader(dump)); err != nil {
		return domain.Outcome{}, fmt.Errorf("save artifact %s: %w", artifact, err)
	}

	result := &domain.JobResult{
		ArtifactPath: artifact,
		Fields:       fields,
		Warnings:     warnings,
		Verified:     handle.Verified,
	}
	status := domain.OutcomeSuccess
	if failed > 0 {
		status = domain.OutcomePartial
	}
	return domain.Outcome{Status: status, Result: result, Warnings: warnings}, nil
}

// stringifyValue renders a structured output value as a flat string field.
func stringifyValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
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
