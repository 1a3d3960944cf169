// Package searchable rebuilds a scanned document as a searchable PDF:
// pages are rasterized, OCR'd, and re-emitted with an invisible text layer
// over each page image.
package searchable

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/ocr/deskew"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/ocr/layout"
	"github.com/mkravets/pdf-extraction-service/internal/overlay"
)

type Backend struct {
	storage    ports.ObjectStorage
	rasterizer ports.PageRasterizer
	engine     ports.OCREngine
	renderer   *overlay.Engine
}

func New(storage ports.ObjectStorage, rasterizer ports.PageRasterizer, engine ports.OCREngine) *Backend {
	return &Backend{
		storage:    storage,
		rasterizer: rasterizer,
		engine:     engine,
		renderer:   overlay.NewEngine(),
	}
}

func (b *Backend) Name() string { return "searchable" }

func (b *Backend) Submit(ctx context.Context, req ports.SubmitRequest) (ports.SubmissionHandle, error) {
	progress := func(p int, msg string) {
		if req.Progress != nil {
			req.Progress(p, msg)
		}
	}
	progress(10, "preparing document pages")

	doc, err := b.readDocument(ctx, req.StorageKey)
	if err != nil {
		return ports.SubmissionHandle{}, err
	}

	pages, err := b.rasterizer.Rasterize(ctx, doc, overlay.DefaultDPI)
	if err != nil {
		return ports.SubmissionHandle{}, fmt.Errorf("rasterize document: %w", err)
	}
	// Correcting skew before recognition also levels the rasters that end
	// up embedded as the page images.
	if req.Options.Deskew {
		for i, page := range pages {
			corrected, err := deskew.Page(page)
			if err != nil {
				return ports.SubmissionHandle{}, fmt.Errorf("deskew page %d: %w", page.Page, err)
			}
			pages[i] = corrected
		}
	}

	progress(30, "recognizing page text")
	languages := languagesFor(req.Options.Language)
	var spans []domain.TextSpan
	var pageTexts []string
	for _, page := range pages {
		pageSpans, err := b.engine.Recognize(ctx, page.Data, page.Page, languages)
		if err != nil {
			return ports.SubmissionHandle{}, fmt.Errorf("ocr page %d: %w", page.Page, err)
		}
		spans = append(spans, pageSpans...)
		pageTexts = append(pageTexts, layout.PageText(pageSpans))
	}

	progress(60, "building searchable document")
	rendered, err := b.renderer.Render(pages, spans)
	if err != nil {
		return ports.SubmissionHandle{}, fmt.Errorf("render searchable document: %w", err)
	}

	artifact := fmt.Sprintf("outputs/%s/searchable.pdf", req.JobID)
	if err := b.storage.Save(ctx, artifact, bytes.NewReader(rendered)); err != nil {
		return ports.SubmissionHandle{}, fmt.Errorf("save artifact %s: %w", artifact, err)
	}

	progress(90, "searchable document ready")
	return ports.SubmissionHandle{
		JobID:    req.JobID,
		Verified: true,
		Attempts: 1,
		Outcome: &domain.Outcome{
			Status: domain.OutcomeSuccess,
			Result: &domain.JobResult{
				ArtifactPath: artifact,
				Text:         strings.TrimSpace(strings.Join(pageTexts, "\n\n")),
				Verified:     true,
			},
		},
	}, nil
}

func languagesFor(language string) []string {
	if language == "" {
		return []string{"eng"}
	}
	return strings.Split(language, "+")
}

func (b *Backend) readDocument(ctx context.Context, key string) ([]byte, error) {
	r, err := b.storage.Open(ctx, key)
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
