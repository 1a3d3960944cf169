// Package deskew levels scanned page rasters before recognition. Skew is
// estimated with a projection-profile sweep: candidate shear angles are
// scored by how sharply the ink collapses into rows, and the winner is
// undone with a rotation.
package deskew

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	_ "image/jpeg"

	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
)

const (
	// maxSkewDegrees bounds the sweep; scans worse than this are rotated
	// pages, not skewed ones.
	maxSkewDegrees = 5.0
	coarseStep     = 0.5
	fineStep       = 0.1
	// minCorrection is the dead band below which the raster passes through
	// untouched.
	minCorrection = 0.2

	profileMaxWidth = 800
	inkThreshold    = 140
)

// Page returns the raster with page skew corrected. Pages already within
// the dead band come back unchanged, byte for byte.
func Page(page ports.PageImage) (ports.PageImage, error) {
	img, _, err := image.Decode(bytes.NewReader(page.Data))
	if err != nil {
		return ports.PageImage{}, fmt.Errorf("decode page %d raster: %w", page.Page, err)
	}

	angle := estimateSkew(img)
	if math.Abs(angle) < minCorrection {
		return page, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, rotate(img, angle)); err != nil {
		return ports.PageImage{}, fmt.Errorf("encode page %d raster: %w", page.Page, err)
	}
	out := page
	out.Data = buf.Bytes()
	out.Format = "png"
	return out, nil
}

type inkMask struct {
	width  int
	height int
	points [][2]int
}

// maskOf samples the image down to a small binary ink mask so the angle
// sweep stays cheap on high-DPI rasters.
func maskOf(img image.Image) inkMask {
	bounds := img.Bounds()
	step := 1
	if bounds.Dx() > profileMaxWidth {
		step = (bounds.Dx() + profileMaxWidth - 1) / profileMaxWidth
	}
	m := inkMask{width: bounds.Dx() / step, height: bounds.Dy() / step}
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			if luminance(img.At(x, y)) < inkThreshold {
				m.points = append(m.points, [2]int{(x - bounds.Min.X) / step, (y - bounds.Min.Y) / step})
			}
		}
	}
	return m
}

func luminance(c color.Color) int {
	r, g, b, _ := c.RGBA()
	return int((299*r + 587*g + 114*b) / 1000 >> 8)
}

// estimateSkew returns the rotation, in degrees, that levels the page
// text. Zero means the page is already level or carries no ink at all.
func estimateSkew(img image.Image) float64 {
	m := maskOf(img)
	if len(m.points) == 0 || m.height == 0 {
		return 0
	}
	best := sweep(m, -maxSkewDegrees, maxSkewDegrees, coarseStep)
	return sweep(m, best-coarseStep, best+coarseStep, fineStep)
}

func sweep(m inkMask, from, to, step float64) float64 {
	bestAngle, bestScore := from, -1.0
	for a := from; a <= to+step/2; a += step {
		if s := profileScore(m, a); s > bestScore {
			bestAngle, bestScore = a, s
		}
	}
	return bestAngle
}

// profileScore shears the mask by the candidate angle and sums squared row
// counts. Text lines snapping onto single rows maximize the sum.
func profileScore(m inkMask, degrees float64) float64 {
	shear := math.Tan(degrees * math.Pi / 180)
	offset := 0
	if shear < 0 {
		offset = int(math.Ceil(-shear * float64(m.width)))
	}
	rows := make([]int, m.height+offset+int(math.Abs(shear)*float64(m.width))+2)
	for _, p := range m.points {
		row := p[1] + int(math.Round(shear*float64(p[0]))) + offset
		if row >= 0 && row < len(rows) {
			rows[row]++
		}
	}
	score := 0.0
	for _, n := range rows {
		score += float64(n) * float64(n)
	}
	return score
}

// rotate turns the image by the given angle around its center, nearest
// neighbor onto a white background. A horizontal feature in the source
// acquires slope tan(degrees) in the output.
func rotate(img image.Image, degrees float64) image.Image {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)

	sin, cos := math.Sincos(degrees * math.Pi / 180)
	cx, cy := float64(bounds.Dx())/2, float64(bounds.Dy())/2
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			sx := int(math.Round(cx + dx*cos + dy*sin))
			sy := int(math.Round(cy - dx*sin + dy*cos))
			if sx >= 0 && sx < bounds.Dx() && sy >= 0 && sy < bounds.Dy() {
				out.Set(x, y, img.At(bounds.Min.X+sx, bounds.Min.Y+sy))
			}
		}
	}
	return out
}
