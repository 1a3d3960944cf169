package searchable

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
)

type memStorage struct {
	saved map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{saved: map[string][]byte{
		"uploads/doc.pdf": []byte("%PDF-1.4 scanned"),
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
}

func (r *stubRasterizer) Rasterize(context.Context, []byte, int) ([]ports.PageImage, error) {
	return r.pages, r.err
}

type stubEngine struct {
	spansByPage map[int][]domain.TextSpan
	images      [][]byte
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) Recognize(_ context.Context, img []byte, page int, _ []string) ([]domain.TextSpan, error) {
	e.images = append(e.images, img)
	return e.spansByPage[page], nil
}

func pagePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestSubmitProducesSearchablePDF(t *testing.T) {
	storage := newMemStorage()
	engine := &stubEngine{spansByPage: map[int][]domain.TextSpan{
		1: {{
			Text:       "invoice",
			Page:       1,
			Confidence: 0.9,
			Box:        domain.BoundingBox{Left: 0.1, Top: 0.1, Width: 0.2, Height: 0.05},
		}},
	}}
	b := New(storage, &stubRasterizer{pages: []ports.PageImage{
		{Page: 1, Data: pagePNG(t, 200, 300), Format: "png", Width: 200, Height: 300},
	}}, engine)

	handle, err := b.Submit(context.Background(), ports.SubmitRequest{
		JobID:      "job-1",
		StorageKey: "uploads/doc.pdf",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if handle.Outcome == nil || handle.Outcome.Status != domain.OutcomeSuccess {
		t.Fatalf("outcome = %+v", handle.Outcome)
	}
	result := handle.Outcome.Result
	if result.ArtifactPath != "outputs/job-1/searchable.pdf" {
		t.Errorf("artifact = %q", result.ArtifactPath)
	}
	if result.Text != "invoice" {
		t.Errorf("text = %q", result.Text)
	}

	pdfData, ok := storage.saved[result.ArtifactPath]
	if !ok {
		t.Fatal("artifact not saved")
	}
	if !bytes.HasPrefix(pdfData, []byte("%PDF-")) {
		t.Fatal("artifact is not a PDF")
	}
	if !bytes.Contains(pdfData, []byte("(invoice) Tj")) {
		t.Fatal("recognized text missing from the text layer")
	}
}

func TestSubmitDeskewsBeforeRecognition(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.White)
		}
	}
	// Text-like bars tilted by two degrees.
	slope := math.Tan(2 * math.Pi / 180)
	for _, top := range []int{40, 80, 120, 160} {
		for x := 10; x < 190; x++ {
			y0 := top + int(math.Round(slope*float64(x)))
			for y := y0; y < y0+4; y++ {
				img.Set(x, y, color.Black)
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	raster := buf.Bytes()

	engine := &stubEngine{}
	b := New(newMemStorage(), &stubRasterizer{pages: []ports.PageImage{
		{Page: 1, Data: raster, Format: "png", Width: 200, Height: 200},
	}}, engine)

	_, err := b.Submit(context.Background(), ports.SubmitRequest{
		JobID:      "job-3",
		StorageKey: "uploads/doc.pdf",
		Options:    ports.SubmitOptions{Deskew: true},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(engine.images) != 1 {
		t.Fatalf("recognized pages = %d, want 1", len(engine.images))
	}
	if bytes.Equal(engine.images[0], raster) {
		t.Fatal("tilted raster reached the engine uncorrected")
	}
}

func TestSubmitPropagatesOCRFailure(t *testing.T) {
	storage := newMemStorage()
	b := New(storage, &stubRasterizer{pages: []ports.PageImage{
		{Page: 1, Data: pagePNG(t, 100, 100), Format: "png", Width: 100, Height: 100},
	}}, failingEngine{})

	_, err := b.Submit(context.Background(), ports.SubmitRequest{
		JobID:      "job-2",
		StorageKey: "uploads/doc.pdf",
	})
	if err == nil || !strings.Contains(err.Error(), "ocr page 1") {
		t.Fatalf("expected ocr error, got %v", err)
	}
}

type failingEngine struct{}

func (failingEngine) Name() string { return "failing" }

func (failingEngine) Recognize(context.Context, []byte, int, []string) ([]domain.TextSpan, error) {
	return nil, errors.New("tesseract crashed")
}
