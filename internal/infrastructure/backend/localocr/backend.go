// Package localocr runs the in-process extraction pipeline: rasterize,
// OCR every page with Tesseract, reconstruct reading order, then detect
// and export tables.
package localocr

import (
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
}

func New(storage ports.ObjectStorage, rasterizer ports.PageRasterizer, engine ports.OCREngine) *Backend {
	return &Backend{
		storage:    storage,
		rasterizer: rasterizer,
		engine:     engine,
	}
}

func (b *Backend) Name() string { return "ocr" }

func (b *Backend) Submit(ctx context.Context, req ports.SubmitRequest) (ports.SubmissionHandle, error) {
	progress := func(p int, msg string) {
		if req.Progress != nil {
			req.Progress(p, msg)
		}
	}
	progress(10, "starting ocr processing")

	doc, err := b.readDocument(ctx, req.StorageKey)
	if err != nil {
		return ports.SubmissionHandle{}, err
	}

	progress(30, "running ocr on document pages")
	pages, err := b.rasterizer.Rasterize(ctx, doc, overlay.DefaultDPI)
	if err != nil {
		return ports.SubmissionHandle{}, fmt.Errorf("rasterize document: %w", err)
	}
	if req.Options.Deskew {
		for i, page := range pages {
			corrected, err := deskew.Page(page)
			if err != nil {
				return ports.SubmissionHandle{}, fmt.Errorf("deskew page %d: %w", page.Page, err)
			}
			pages[i] = corrected
		}
	}

	languages := languagesFor(req.Options.Language)
	var pageTexts []string
	var candidates []candidate
	for _, page := range pages {
		spans, err := b.engine.Recognize(ctx, page.Data, page.Page, languages)
		if err != nil {
			return ports.SubmissionHandle{}, fmt.Errorf("ocr page %d: %w", page.Page, err)
		}
		lines := layout.Lines(spans)
		pageTexts = append(pageTexts, layout.PageText(spans))
		if req.Options.ExtractTables {
			candidates = append(candidates, detectTables(lines)...)
		}
	}

	var tables []domain.Table
	if req.Options.ExtractTables {
		progress(60, "ocr completed, extracting tables")
		tables = finalizeTables(candidates)
		if err := saveTableArtifacts(ctx, b.storage, req.JobID, tables); err != nil {
			return ports.SubmissionHandle{}, err
		}
	}

	text := strings.TrimSpace(strings.Join(pageTexts, "\n\n"))
	artifact := fmt.Sprintf("outputs/%s/ocr_text.txt", req.JobID)
	if err := b.storage.Save(ctx, artifact, strings.NewReader(text)); err != nil {
		return ports.SubmissionHandle{}, fmt.Errorf("save artifact %s: %w", artifact, err)
	}

	progress(90, fmt.Sprintf("processing completed, found %d table(s)", len(tables)))
	return ports.SubmissionHandle{
		JobID:    req.JobID,
		Verified: true,
		Attempts: 1,
		Outcome: &domain.Outcome{
			Status: domain.OutcomeSuccess,
			Result: &domain.JobResult{
				ArtifactPath: artifact,
				Text:         text,
				Tables:       tables,
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
