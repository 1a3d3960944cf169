package vision

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
		"uploads/doc.pdf": []byte("not really a pdf"),
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

type stubRasterizer struct {
	pages []ports.PageImage
	err   error
	calls int
}

func (r *stubRasterizer) Rasterize(context.Context, []byte, int) ([]ports.PageImage, error) {
	r.calls++
	return r.pages, r.err
}

type completionRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

func newTestBackend(t *testing.T, baseURL string, rasterizer *stubRasterizer) (*Backend, *memStorage) {
	t.Helper()
	storage := newMemStorage()
	executor := resilience.NewExecutor(resilience.BreakerConfig{Enabled: false})
	retry := resilience.RetryPolicy{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
	cfg := Config{BaseURL: baseURL, APIKey: "key-1", Model: "gpt-4o", Timeout: 5 * time.Second}
	return New(cfg, storage, rasterizer, executor, retry), storage
}

func TestSubmitScannedDocumentUsesImagePath(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key-1" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"| field | value |\n| total | 42 |"}}]}`)
	}))
	defer srv.Close()

	rasterizer := &stubRasterizer{pages: []ports.PageImage{
		{Page: 1, Data: []byte("jpegbytes"), Format: "jpeg", Width: 100, Height: 100},
	}}
	b, storage := newTestBackend(t, srv.URL, rasterizer)

	handle, err := b.Submit(context.Background(), ports.SubmitRequest{
		JobID:      "job-1",
		StorageKey: "uploads/doc.pdf",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if rasterizer.calls != 1 {
		t.Fatalf("rasterizer calls = %d, want 1 for a scanned document", rasterizer.calls)
	}
	if got.Model != "gpt-4o" {
		t.Errorf("model = %q", got.Model)
	}
	if got.Temperature != 0.1 || got.MaxTokens != 4096 {
		t.Errorf("temperature = %v, max_tokens = %d", got.Temperature, got.MaxTokens)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", got.Messages)
	}

	var parts []contentPart
	if err := json.Unmarshal(got.Messages[1].Content, &parts); err != nil {
		t.Fatalf("decode user content: %v", err)
	}
	if len(parts) != 2 || parts[0].Type != "text" || parts[1].Type != "image_url" {
		t.Fatalf("content parts = %+v", parts)
	}
	if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Errorf("image url = %q", parts[1].ImageURL.URL)
	}
	if parts[1].ImageURL.Detail != "high" {
		t.Errorf("detail = %q", parts[1].ImageURL.Detail)
	}

	if handle.Outcome == nil || handle.Outcome.Status != domain.OutcomeSuccess {
		t.Fatalf("outcome = %+v", handle.Outcome)
	}
	if !strings.Contains(handle.Outcome.Result.Text, "total") {
		t.Errorf("result text = %q", handle.Outcome.Result.Text)
	}
	if _, ok := storage.saved["outputs/job-1/vision_result.txt"]; !ok {
		t.Error("artifact not saved")
	}
}

func TestSubmitModelOverride(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	rasterizer := &stubRasterizer{pages: []ports.PageImage{
		{Page: 1, Data: []byte("jpegbytes"), Format: "jpeg"},
	}}
	b, _ := newTestBackend(t, srv.URL, rasterizer)

	if _, err := b.Submit(context.Background(), ports.SubmitRequest{
		JobID:      "job-2",
		StorageKey: "uploads/doc.pdf",
		Options:    ports.SubmitOptions{Model: "gpt-4o-mini"},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want override", got.Model)
	}
}

func TestSubmitCustomPromptReplacesDefault(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	rasterizer := &stubRasterizer{pages: []ports.PageImage{{Page: 1, Data: []byte("x"), Format: "jpeg"}}}
	b, _ := newTestBackend(t, srv.URL, rasterizer)

	if _, err := b.Submit(context.Background(), ports.SubmitRequest{
		JobID:      "job-3",
		StorageKey: "uploads/doc.pdf",
		Options:    ports.SubmitOptions{CustomPrompt: "list every serial number"},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var parts []contentPart
	if err := json.Unmarshal(got.Messages[1].Content, &parts); err != nil {
		t.Fatalf("decode user content: %v", err)
	}
	if parts[0].Text != "list every serial number" {
		t.Errorf("prompt = %q", parts[0].Text)
	}
}

func TestSubmitEmptyChoicesFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	rasterizer := &stubRasterizer{pages: []ports.PageImage{{Page: 1, Data: []byte("x"), Format: "jpeg"}}}
	b, _ := newTestBackend(t, srv.URL, rasterizer)

	if _, err := b.Submit(context.Background(), ports.SubmitRequest{
		JobID:      "job-4",
		StorageKey: "uploads/doc.pdf",
	}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestEmbeddedTextUnparseableDocument(t *testing.T) {
	if got := embeddedText([]byte("definitely not a pdf")); got != "" {
		t.Fatalf("got %q, want empty for unparseable input", got)
	}
}

func TestPromptForDefaultsWhenEmpty(t *testing.T) {
	if promptFor("") != defaultPrompt {
		t.Error("empty custom prompt must select the default")
	}
	if promptFor("custom") != "custom" {
		t.Error("custom prompt must pass through")
	}
}
