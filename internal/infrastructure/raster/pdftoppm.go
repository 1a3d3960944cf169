// Package raster renders PDF pages to images through the poppler
// pdftoppm tool.
package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "image/jpeg"

	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
)

const defaultBinary = "pdftoppm"

// Rasterizer shells out to pdftoppm and returns one JPEG per page.
type Rasterizer struct {
	binary string
}

func NewRasterizer() *Rasterizer {
	return &Rasterizer{binary: defaultBinary}
}

func (r *Rasterizer) Rasterize(ctx context.Context, pdf []byte, dpi int) ([]ports.PageImage, error) {
	if dpi <= 0 {
		return nil, fmt.Errorf("raster: dpi must be positive, got %d", dpi)
	}

	dir, err := os.MkdirTemp("", "raster-*")
	if err != nil {
		return nil, fmt.Errorf("raster: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("raster: write input: %w", err)
	}

	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, r.binary, "-jpeg", "-r", strconv.Itoa(dpi), input, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("raster: pdftoppm: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("raster: pdftoppm: %w", err)
	}

	entries, err := filepath.Glob(prefix + "-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("raster: collect pages: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("raster: document produced no pages")
	}

	pages := make([]ports.PageImage, 0, len(entries))
	for _, path := range entries {
		page, err := pageNumber(prefix, path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("raster: read page %d: %w", page, err)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("raster: decode page %d: %w", page, err)
		}
		pages = append(pages, ports.PageImage{
			Page:   page,
			Data:   data,
			Format: "jpeg",
			Width:  cfg.Width,
			Height: cfg.Height,
		})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })
	return pages, nil
}

// pageNumber recovers the 1-based page index from pdftoppm's
// "<prefix>-NN.jpg" naming.
func pageNumber(prefix, path string) (int, error) {
	name := strings.TrimSuffix(strings.TrimPrefix(path, prefix+"-"), ".jpg")
	page, err := strconv.Atoi(name)
	if err != nil || page < 1 {
		return 0, fmt.Errorf("raster: unexpected output file %q", filepath.Base(path))
	}
	return page, nil
}
