package localocr

import (
	"hash/fnv"
	"math"
	"strings"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/ocr/layout"
)

const (
	// minAccuracy discards only extremely poor detections.
	minAccuracy = 15.0

	// borderedGap is the cell-break threshold for the strict pass, which
	// also demands column alignment across rows.
	borderedGap = 0.06
	// borderlessGap is the looser threshold for tables without ruling.
	borderlessGap  = 0.03
	alignTolerance = 0.02

	methodBordered   = "bordered"
	methodBorderless = "borderless"
)

type cell struct {
	text       string
	left       float64
	confidence float64
}

type candidate struct {
	rows       [][]cell
	method     string
	confidence float64
}

// detectTables runs both passes over the page's lines. The strict pass
// catches well-aligned grids; the loose pass catches ragged column layouts
// the strict pass refuses. Duplicates across passes are resolved later by
// content hash.
func detectTables(lines []layout.Line) []candidate {
	out := detectPass(lines, borderedGap, methodBordered, true)
	return append(out, detectPass(lines, borderlessGap, methodBorderless, false)...)
}

func detectPass(lines []layout.Line, gap float64, method string, requireAlignment bool) []candidate {
	cellRows := make([][]cell, len(lines))
	for i, line := range lines {
		cellRows[i] = splitCells(line, gap)
	}

	var found []candidate
	var run [][]cell
	flush := func() {
		if len(run) >= 2 {
			found = append(found, candidate{
				rows:       run,
				method:     method,
				confidence: meanConfidence(run),
			})
		}
		run = nil
	}

	for _, row := range cellRows {
		if len(row) < 2 {
			flush()
			continue
		}
		if len(run) > 0 && requireAlignment && !columnsAligned(run[len(run)-1], row) {
			flush()
		}
		run = append(run, row)
	}
	flush()
	return found
}

// splitCells breaks a line into cells at horizontal gaps wider than gap.
func splitCells(line layout.Line, gap float64) []cell {
	var cells []cell
	var words []string
	var confSum float64
	var left, prevRight float64

	flush := func() {
		if len(words) == 0 {
			return
		}
		cells = append(cells, cell{
			text:       strings.Join(words, " "),
			left:       left,
			confidence: confSum / float64(len(words)),
		})
		words = nil
		confSum = 0
	}

	for _, span := range line.Spans {
		if len(words) > 0 && span.Box.Left-prevRight > gap {
			flush()
		}
		if len(words) == 0 {
			left = span.Box.Left
		}
		words = append(words, span.Text)
		confSum += span.Confidence
		if right := span.Box.Left + span.Box.Width; right > prevRight {
			prevRight = right
		}
	}
	flush()
	return cells
}

func columnsAligned(prev, row []cell) bool {
	if len(prev) != len(row) {
		return false
	}
	for i := range row {
		if math.Abs(prev[i].left-row[i].left) > alignTolerance {
			return false
		}
	}
	return true
}

func meanConfidence(rows [][]cell) float64 {
	var sum float64
	var n int
	for _, row := range rows {
		for _, c := range row {
			sum += c.confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n) * 100
}

// finalizeTables filters, cleans, de-duplicates and numbers candidates in
// detection order. Numbering happens after filtering so downstream artifact
// names stay dense.
func finalizeTables(candidates []candidate) []domain.Table {
	seen := make(map[uint64]struct{})
	var tables []domain.Table

	for _, cand := range candidates {
		if cand.confidence < minAccuracy {
			continue
		}
		rows := stripBlank(cellTexts(cand.rows))
		if len(rows) == 0 || len(rows[0]) == 0 {
			continue
		}
		h := contentHash(rows)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}

		tables = append(tables, domain.Table{
			Number:     len(tables) + 1,
			Rows:       rows,
			RowCount:   len(rows),
			ColCount:   len(rows[0]),
			Confidence: cand.confidence,
			Method:     cand.method,
		})
	}
	return tables
}

// cellTexts pads ragged rows to a rectangle.
func cellTexts(rows [][]cell) [][]string {
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = make([]string, cols)
		for j, c := range row {
			out[i][j] = c.text
		}
	}
	return out
}

// stripBlank drops rows and columns that are entirely empty.
func stripBlank(rows [][]string) [][]string {
	var kept [][]string
	for _, row := range rows {
		empty := true
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				empty = false
				break
			}
		}
		if !empty {
			kept = append(kept, row)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	cols := len(kept[0])
	keepCol := make([]bool, cols)
	for _, row := range kept {
		for j, c := range row {
			if j < cols && strings.TrimSpace(c) != "" {
				keepCol[j] = true
			}
		}
	}

	out := make([][]string, len(kept))
	for i, row := range kept {
		for j := 0; j < cols; j++ {
			if keepCol[j] {
				out[i] = append(out[i], row[j])
			}
		}
	}
	if len(out[0]) == 0 {
		return nil
	}
	return out
}

func contentHash(rows [][]string) uint64 {
	h := fnv.New64a()
	for _, row := range rows {
		for _, c := range row {
			h.Write([]byte(c))
			h.Write([]byte{0x1f})
		}
		h.Write([]byte{0x1e})
	}
	return h.Sum64()
}
