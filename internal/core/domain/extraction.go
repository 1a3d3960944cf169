package domain

// BoundingBox is a text location normalized to [0,1] relative to the
// rendered page image, origin in the upper-left corner.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Clamp forces the box into the unit square. Vendor OCR output is noisy;
// out-of-range boxes are tolerated, not rejected.
func (b BoundingBox) Clamp() BoundingBox {
	out := b
	if out.Left < 0 {
		out.Left = 0
	}
	if out.Top < 0 {
		out.Top = 0
	}
	if out.Width < 0 {
		out.Width = 0
	}
	if out.Height < 0 {
		out.Height = 0
	}
	if out.Left > 1 {
		out.Left = 1
	}
	if out.Top > 1 {
		out.Top = 1
	}
	if out.Left+out.Width > 1 {
		out.Width = 1 - out.Left
	}
	if out.Top+out.Height > 1 {
		out.Height = 1 - out.Top
	}
	return out
}

// TextSpan is a recognized text fragment with its normalized position.
type TextSpan struct {
	Text       string      `json:"text"`
	Page       int         `json:"page"` // 1-based
	Box        BoundingBox `json:"bounding_box"`
	Confidence float64     `json:"confidence,omitempty"`
}

// Table is one detected table after filtering and de-duplication.
type Table struct {
	Number     int        `json:"table_num"`
	Rows       [][]string `json:"-"`
	RowCount   int        `json:"rows"`
	ColCount   int        `json:"columns"`
	Confidence float64    `json:"accuracy"`
	Method     string     `json:"extraction_method"`
	CSVFile    string     `json:"csv_file,omitempty"`
	ExcelFile  string     `json:"excel_file,omitempty"`
}

// OutcomeStatus tags a backend outcome.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomePartial OutcomeStatus = "partial"
	OutcomeError   OutcomeStatus = "error"
)

// Outcome is the tagged result variant produced by a backend adapter.
// A vendor 200 with an embedded per-item error arrives here as Partial or
// Error, never Success.
type Outcome struct {
	Status   OutcomeStatus
	Result   *JobResult
	Warnings []string
	// VendorDetail is the remote service's failure detail for Error outcomes.
	VendorDetail string
}
