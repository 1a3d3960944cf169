package overlay

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/draw"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
)

// pdfWriter assembles a minimal output document: one image XObject per
// page plus the invisible text layer, a single shared Helvetica font and a
// conventional xref table. Object bodies are collected first and serialized
// together in finish, which lets the page tree be filled in after the kid
// objects exist.
type pdfWriter struct {
	objects [][]byte
}

func newPDFWriter() *pdfWriter {
	return &pdfWriter{}
}

// addObject reserves the next object number for body and returns it.
func (w *pdfWriter) addObject(body []byte) int {
	w.objects = append(w.objects, body)
	return len(w.objects)
}

func (w *pdfWriter) addStream(dict string, data []byte) int {
	var body bytes.Buffer
	fmt.Fprintf(&body, "<<%s /Length %d >>\nstream\n", streamDictEntries(dict), len(data))
	body.Write(data)
	body.WriteString("\nendstream")
	return w.addObject(body.Bytes())
}

func streamDictEntries(dict string) string {
	if dict == "" {
		return ""
	}
	return " " + dict
}

// rewriteObject replaces a previously reserved object's body.
func (w *pdfWriter) rewriteObject(num int, body []byte) {
	w.objects[num-1] = body
}

func (w *pdfWriter) finish(rootObj int) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	offsets := make([]int, len(w.objects))
	for i, body := range w.objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", i+1)
		buf.Write(body)
		buf.WriteString("\nendobj\n")
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(w.objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(w.objects)+1, rootObj, xrefOffset)
	return buf.Bytes()
}

// imageStream prepares the XObject dictionary entries and stream payload
// for a page raster. JPEG passes through as DCTDecode; everything else is
// decoded and re-encoded as flate-compressed raw RGB.
func imageStream(data []byte, format string, width, height int) (string, []byte, error) {
	dict := fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8",
		width, height)

	if format == "jpeg" {
		return dict + " /Filter /DCTDecode", data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("decode page raster: %w", err)
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	raw := make([]byte, 0, bounds.Dx()*bounds.Dy()*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			i := rgba.PixOffset(x, y)
			raw = append(raw, rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2])
		}
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		return "", nil, fmt.Errorf("compress page raster: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", nil, fmt.Errorf("compress page raster: %w", err)
	}
	dict = fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8",
		bounds.Dx(), bounds.Dy())
	return dict + " /Filter /FlateDecode", compressed.Bytes(), nil
}

// pageContent emits the page raster draw followed by the invisible text
// layer. Render mode 3 keeps glyph geometry for search and selection
// without painting anything.
func pageContent(imageName string, pageWidth, pageHeight float64, texts []placedText) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "q\n%.2f 0 0 %.2f 0 0 cm\n/%s Do\nQ\n", pageWidth, pageHeight, imageName)
	for _, t := range texts {
		// Flip from top-down raster coordinates to the PDF's bottom-up
		// axis; the baseline sits at the bottom edge of the box.
		baseline := pageHeight - t.Y - t.H
		fmt.Fprintf(&buf, "BT\n3 Tr\n/F1 %.2f Tf\n1 0 0 1 %.2f %.2f Tm\n(%s) Tj\nET\n",
			t.FontSize, t.X, baseline, escapeText(t.Text))
	}
	return buf.Bytes()
}

// escapeText prepares a text run for a literal string operand. The font is
// standard Helvetica without an /Encoding override, so only printable ASCII
// has both a glyph and a width entry; anything outside that range is
// replaced rather than emitted as bytes the viewer would mis-map.
func escapeText(text string) string {
	var out bytes.Buffer
	for _, r := range text {
		switch {
		case r == '(' || r == ')' || r == '\\':
			out.WriteByte('\\')
			out.WriteRune(r)
		case r < 0x20:
			fmt.Fprintf(&out, "\\%03o", r)
		case r > 0x7e:
			out.WriteByte('?')
		default:
			out.WriteByte(byte(r))
		}
	}
	return out.String()
}
