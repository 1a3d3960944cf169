// Package overlay turns OCR text spans into an invisible, selectable text
// layer placed over rasterized page images, producing a searchable PDF.
package overlay

import (
	"fmt"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
)

// DefaultDPI is the document-level rasterization constant shared with the
// page rasterizer.
const DefaultDPI = 200

type Engine struct {
	// ReferenceFontSize is the size text is measured at before scaling to
	// fit the span's box width.
	ReferenceFontSize float64
	// MinFontSize keeps degenerate boxes from producing zero-size glyphs.
	MinFontSize float64
}

func NewEngine() *Engine {
	return &Engine{
		ReferenceFontSize: 15,
		MinFontSize:       1,
	}
}

// Render merges each page raster with the invisible text layer built from
// that page's spans and returns the complete output document. Spans whose
// page has no raster are dropped; a missing raster is a rasterizer bug,
// not a reason to fail the whole job.
func (e *Engine) Render(pages []ports.PageImage, spans []domain.TextSpan) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("overlay: no pages to render")
	}

	byPage := make(map[int][]domain.TextSpan, len(pages))
	for _, span := range spans {
		byPage[span.Page] = append(byPage[span.Page], span)
	}

	w := newPDFWriter()

	// Reserve stable object numbers for catalog, page tree and the font so
	// pages can reference them before they are written.
	catalogObj := w.addObject([]byte("<< /Type /Catalog /Pages 2 0 R >>"))
	pagesObj := w.addObject(nil) // filled in once the kids list is known
	fontObj := w.addObject([]byte("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"))

	kids := make([]int, 0, len(pages))
	for _, page := range pages {
		pw := float64(page.Width)
		ph := float64(page.Height)
		if pw <= 0 || ph <= 0 {
			return nil, fmt.Errorf("overlay: page %d has invalid dimensions %dx%d", page.Page, page.Width, page.Height)
		}

		dict, stream, err := imageStream(page.Data, page.Format, page.Width, page.Height)
		if err != nil {
			return nil, fmt.Errorf("overlay: page %d: %w", page.Page, err)
		}
		imageObj := w.addStream(dict, stream)

		placed := placeSpans(byPage[page.Page], pw, ph, e.ReferenceFontSize, e.MinFontSize)
		contentObj := w.addStream("", pageContent("Im0", pw, ph, placed))

		pageBody := fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %.2f %.2f] /Resources << /XObject << /Im0 %d 0 R >> /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			pw, ph, imageObj, fontObj, contentObj)
		kids = append(kids, w.addObject([]byte(pageBody)))
	}

	kidsRefs := ""
	for _, kid := range kids {
		kidsRefs += fmt.Sprintf("%d 0 R ", kid)
	}
	w.rewriteObject(pagesObj, []byte(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kidsRefs, len(kids))))

	return w.finish(catalogObj), nil
}
