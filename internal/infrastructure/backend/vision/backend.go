// Package vision sends documents to an OpenAI-compatible vision model for
// free-form extraction. Documents with enough embedded text skip
// rasterization and go to the model as plain text; scanned documents fall
// back to base64 page images.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/backend/vendorapi"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/resilience"
	"github.com/mkravets/pdf-extraction-service/internal/overlay"
)

// minEmbeddedTextChars is the threshold below which a document counts as
// scanned and goes through the image path.
const minEmbeddedTextChars = 200

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Backend struct {
	cfg        Config
	doer       *vendorapi.Doer
	storage    ports.ObjectStorage
	rasterizer ports.PageRasterizer
	executor   *resilience.Executor
	retry      resilience.RetryPolicy
}

func New(cfg Config, storage ports.ObjectStorage, rasterizer ports.PageRasterizer, executor *resilience.Executor, retry resilience.RetryPolicy) *Backend {
	return &Backend{
		cfg:        cfg,
		doer:       vendorapi.NewDoer(cfg.Timeout),
		storage:    storage,
		rasterizer: rasterizer,
		executor:   executor,
		retry:      retry,
	}
}

func (b *Backend) Name() string { return "vision" }

func (b *Backend) Submit(ctx context.Context, req ports.SubmitRequest) (ports.SubmissionHandle, error) {
	doc, err := readDocument(ctx, b.storage, req.StorageKey)
	if err != nil {
		return ports.SubmissionHandle{}, err
	}

	if req.Progress != nil {
		req.Progress(20, "extracting embedded text")
	}
	content, err := b.buildUserContent(ctx, req, doc)
	if err != nil {
		return ports.SubmissionHandle{}, err
	}

	if req.Progress != nil {
		req.Progress(60, "analyzing document with the vision model")
	}
	model := b.cfg.Model
	if req.Options.Model != "" {
		model = req.Options.Model
	}

	var answer string
	attempt, err := b.executor.RetryWithBackoff(ctx, "vision_completion", b.retry,
		func(ctx context.Context, insecure bool) error {
			text, err := b.complete(ctx, model, content, insecure)
			if err != nil {
				return err
			}
			answer = text
			return nil
		},
		vendorapi.Classify, nil)
	if err != nil {
		return ports.SubmissionHandle{}, vendorapi.WrapTemporary("vision_completion", err)
	}

	if req.Progress != nil {
		req.Progress(90, "extraction complete")
	}
	artifact := fmt.Sprintf("outputs/%s/vision_result.txt", req.JobID)
	if err := b.storage.Save(ctx, artifact, strings.NewReader(answer)); err != nil {
		return ports.SubmissionHandle{}, fmt.Errorf("save artifact %s: %w", artifact, err)
	}

	return ports.SubmissionHandle{
		JobID:    req.JobID,
		Verified: attempt.Verified,
		Attempts: attempt.Attempts,
		Outcome: &domain.Outcome{
			Status: domain.OutcomeSuccess,
			Result: &domain.JobResult{
				ArtifactPath: artifact,
				Text:         answer,
				Verified:     attempt.Verified,
			},
		},
	}, nil
}

// buildUserContent prefers the embedded-text path and falls back to page
// images for scanned documents.
func (b *Backend) buildUserContent(ctx context.Context, req ports.SubmitRequest, doc []byte) ([]contentPart, error) {
	prompt := promptFor(req.Options.CustomPrompt)

	if text := embeddedText(doc); len(text) >= minEmbeddedTextChars {
		return []contentPart{
			{Type: "text", Text: prompt},
			{Type: "text", Text: text},
		}, nil
	}

	if req.Progress != nil {
		req.Progress(30, "converting document pages to images")
	}
	pages, err := b.rasterizer.Rasterize(ctx, doc, overlay.DefaultDPI)
	if err != nil {
		return nil, fmt.Errorf("rasterize document: %w", err)
	}

	parts := make([]contentPart, 0, len(pages)+1)
	parts = append(parts, contentPart{Type: "text", Text: prompt})
	for _, page := range pages {
		parts = append(parts, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(page.Data),
				Detail: "high",
			},
		})
	}
	return parts, nil
}

// embeddedText pulls the text layer out of a born-digital PDF. Unreadable
// pages are skipped; any parse failure reads as "no embedded text".
func embeddedText(doc []byte) string {
	r, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return ""
	}

	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}
	return strings.TrimSpace(text.String())
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

func (b *Backend) complete(ctx context.Context, model string, content []contentPart, insecure bool) (string, error) {
	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": content},
		},
		"max_tokens":  4096,
		"temperature": 0.1,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.doer.Do(httpReq, insecure)
	if err != nil {
		return "", fmt.Errorf("vision completion request: %w", err)
	}
	defer resp.Body.Close()
	if err := vendorapi.CheckStatus(resp, "vision completion"); err != nil {
		return "", err
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
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
