// Package tesseract adapts the gosseract client to the OCR engine port.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/otiai10/gosseract/v2"
	_ "golang.org/x/image/tiff"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
)

// Engine recognizes page text at word granularity. Boxes come back
// normalized to the raster dimensions so downstream geometry is
// independent of DPI.
type Engine struct {
	clientFactory func() *gosseract.Client
}

func NewEngine() *Engine {
	return &Engine{clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Recognize(ctx context.Context, img []byte, page int, languages []string) ([]domain.TextSpan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("decode page %d raster: %w", page, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("page %d raster has invalid dimensions %dx%d", page, cfg.Width, cfg.Height)
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(img); err != nil {
		return nil, fmt.Errorf("set page %d image: %w", page, err)
	}
	if len(languages) > 0 {
		if err := c.SetLanguage(languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("recognize page %d: %w", page, err)
	}

	spans := make([]domain.TextSpan, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		spans = append(spans, domain.TextSpan{
			Text:       text,
			Page:       page,
			Confidence: b.Confidence / 100.0,
			Box: domain.BoundingBox{
				Left:   float64(b.Box.Min.X) / float64(cfg.Width),
				Top:    float64(b.Box.Min.Y) / float64(cfg.Height),
				Width:  float64(b.Box.Dx()) / float64(cfg.Width),
				Height: float64(b.Box.Dy()) / float64(cfg.Height),
			}.Clamp(),
		})
	}
	return spans, nil
}
