package unstract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/resilience"
)

type memStorage struct {
	saved map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{saved: map[string][]byte{
		"uploads/doc.pdf": []byte("%PDF-1.4 invoice"),
	}}
}

func (s *memStorage) Save(_ context.Context, key string, data io.Reader) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.saved[key] = buf
	return nil
}

func (s *memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.saved[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func newTestBackend(t *testing.T, baseURL string) (*Backend, *memStorage) {
	t.Helper()
	storage := newMemStorage()
	executor := resilience.NewExecutor(resilience.BreakerConfig{Enabled: false})
	retry := resilience.RetryPolicy{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
	return New(Config{BaseURL: baseURL, APIKey: "key-1", Timeout: 5 * time.Second}, storage, executor, retry), storage
}

func TestSubmitSendsMultipartFormWithFilesField(t *testing.T) {
	var fileField, fileType, prompt string
	fields := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		for name, values := range r.MultipartForm.Value {
			fields[name] = values[0]
		}
		if files := r.MultipartForm.File["files"]; len(files) == 1 {
			fileField = files[0].Filename
			fileType = files[0].Header.Get("Content-Type")
		}
		prompt = fields["custom_data"]
		fmt.Fprint(w, `{"message":{"execution_status":"PENDING","execution_id":"exec-7"}}`)
	}))
	defer srv.Close()

	b, _ := newTestBackend(t, srv.URL)
	handle, err := b.Submit(context.Background(), ports.SubmitRequest{
		JobID:      "job-1",
		StorageKey: "uploads/doc.pdf",
		Filename:   "invoice.pdf",
		Options:    ports.SubmitOptions{CustomPrompt: "extract the total"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if handle.RemoteID != "exec-7" {
		t.Errorf("remote id = %q", handle.RemoteID)
	}
	if handle.Outcome != nil {
		t.Error("pending submit must not attach an outcome")
	}
	if fileField != "invoice.pdf" {
		t.Errorf("file part filename = %q, want uploaded under field \"files\"", fileField)
	}
	if fileType != "application/pdf" {
		t.Errorf("file part content type = %q", fileType)
	}
	if fields["timeout"] != "300" || fields["include_metadata"] != "False" || fields["include_metrics"] != "False" {
		t.Errorf("form fields = %v", fields)
	}

	var custom map[string]any
	if err := json.Unmarshal([]byte(prompt), &custom); err != nil {
		t.Fatalf("custom_data not json: %v", err)
	}
	if custom["instructions"] != "extract the total" || custom["override_default"] != true {
		t.Errorf("custom_data = %v", custom)
	}
}

func TestSubmitImmediateCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"message":{"execution_status":"COMPLETED","result":[
			{"file":"invoice.pdf","status":"Success","result":{"output":{"total":"42.00","currency":"EUR"}},
			 "metadata":{"execution_id":"exec-8"}}]}}`)
	}))
	defer srv.Close()

	b, storage := newTestBackend(t, srv.URL)
	handle, err := b.Submit(context.Background(), ports.SubmitRequest{
		JobID:      "job-2",
		StorageKey: "uploads/doc.pdf",
		Filename:   "invoice.pdf",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if handle.Outcome == nil || handle.Outcome.Status != domain.OutcomeSuccess {
		t.Fatalf("outcome = %+v", handle.Outcome)
	}
	if handle.RemoteID != "exec-8" {
		t.Errorf("remote id fallback = %q", handle.RemoteID)
	}
	result := handle.Outcome.Result
	if result.Fields["total"] != "42.00" || result.Fields["currency"] != "EUR" {
		t.Errorf("fields = %v", result.Fields)
	}
	if _, ok := storage.saved["outputs/job-2/unstract_result.json"]; !ok {
		t.Error("raw dump artifact not saved")
	}
}

func TestSubmitImmediateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"message":{"execution_status":"ERROR","error":"workflow misconfigured"}}`)
	}))
	defer srv.Close()

	b, _ := newTestBackend(t, srv.URL)
	handle, err := b.Submit(context.Background(), ports.SubmitRequest{
		JobID:      "job-3",
		StorageKey: "uploads/doc.pdf",
		Filename:   "invoice.pdf",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if handle.Outcome == nil || handle.Outcome.Status != domain.OutcomeError {
		t.Fatalf("outcome = %+v", handle.Outcome)
	}
	if handle.Outcome.VendorDetail != "workflow misconfigured" {
		t.Errorf("vendor detail = %q", handle.Outcome.VendorDetail)
	}
}

func TestSubmitRequiresExecutionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"message":{"execution_status":"PENDING"}}`)
	}))
	defer srv.Close()

	b, _ := newTestBackend(t, srv.URL)
	_, err := b.Submit(context.Background(), ports.SubmitRequest{
		JobID:      "job-4",
		StorageKey: "uploads/doc.pdf",
		Filename:   "invoice.pdf",
	})
	if !errors.Is(err, domain.ErrVendor) {
		t.Fatalf("expected vendor error, got %v", err)
	}
}

func TestPollSequencesToCompletion(t *testing.T) {
	responses := []string{
		`{"message":{"execution_status":"PENDING","execution_id":"exec-7"}}`,
		`{"message":{"execution_status":"EXECUTING","execution_id":"exec-7"}}`,
		`{"message":{"execution_status":"COMPLETED","result":[
			{"file":"invoice.pdf","status":"Success","result":{"output":{"total":"42.00"}}}]}}`,
	}
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("poll method = %s", r.Method)
		}
		if r.URL.Query().Get("execution_id") != "exec-7" {
			t.Errorf("poll query = %q", r.URL.RawQuery)
		}
		if r.URL.Query().Get("include_metadata") != "false" {
			t.Errorf("include_metadata missing in %q", r.URL.RawQuery)
		}
		fmt.Fprint(w, responses[call])
		if call < len(responses)-1 {
			call++
		}
	}))
	defer srv.Close()

	b, _ := newTestBackend(t, srv.URL)
	handle := ports.SubmissionHandle{JobID: "job-5", RemoteID: "exec-7", Verified: true}

	for i := 0; i < 2; i++ {
		_, done, err := b.Poll(context.Background(), handle)
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if done {
			t.Fatalf("poll %d reported done prematurely", i)
		}
	}

	outcome, done, err := b.Poll(context.Background(), handle)
	if err != nil {
		t.Fatalf("final poll: %v", err)
	}
	if !done || outcome.Status != domain.OutcomeSuccess {
		t.Fatalf("done = %v, outcome = %+v", done, outcome)
	}
	if outcome.Result.Fields["total"] != "42.00" {
		t.Errorf("fields = %v", outcome.Result.Fields)
	}
}

func TestCompletedOutcomePartialOnItemErrors(t *testing.T) {
	b, _ := newTestBackend(t, "http://unused")
	items := []resultItem{
		{File: "good.pdf", Status: "Success"},
		{File: "bad.pdf", Status: "Error", Error: "unreadable page"},
	}
	items[0].Result.Output = map[string]json.RawMessage{"total": json.RawMessage(`"10"`)}

	outcome, err := b.completedOutcome(context.Background(), ports.SubmissionHandle{JobID: "job-6", Verified: true}, items)
	if err != nil {
		t.Fatalf("completedOutcome: %v", err)
	}
	if outcome.Status != domain.OutcomePartial {
		t.Fatalf("status = %s, want partial", outcome.Status)
	}
	if len(outcome.Warnings) != 1 || !strings.Contains(outcome.Warnings[0], "unreadable page") {
		t.Fatalf("warnings = %v", outcome.Warnings)
	}
}

func TestCompletedOutcomeAllItemsFailedIsError(t *testing.T) {
	b, _ := newTestBackend(t, "http://unused")
	items := []resultItem{
		{File: "bad.pdf", Error: "corrupt"},
	}

	outcome, err := b.completedOutcome(context.Background(), ports.SubmissionHandle{JobID: "job-7"}, items)
	if err != nil {
		t.Fatalf("completedOutcome: %v", err)
	}
	if outcome.Status != domain.OutcomeError {
		t.Fatalf("status = %s, want error", outcome.Status)
	}
	if !strings.Contains(outcome.VendorDetail, "corrupt") {
		t.Fatalf("vendor detail = %q", outcome.VendorDetail)
	}
}

func TestDecodeMessageWithoutEnvelope(t *testing.T) {
	msg, err := decodeMessage(strings.NewReader(`{"execution_status":"PENDING","execution_id":"exec-1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ExecutionID != "exec-1" {
		t.Fatalf("execution id = %q", msg.ExecutionID)
	}
}

func TestStringifyValue(t *testing.T) {
	if got := stringifyValue(json.RawMessage(`"plain"`)); got != "plain" {
		t.Errorf("string value = %q", got)
	}
	if got := stringifyValue(json.RawMessage(`{"nested":1}`)); got != `{"nested":1}` {
		t.Errorf("object value = %q", got)
	}
}
