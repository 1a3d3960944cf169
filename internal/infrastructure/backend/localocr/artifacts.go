package localocr

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
)

// saveTableArtifacts writes one CSV and one XLSX per table under the job's
// output prefix and records the artifact names on the table.
func saveTableArtifacts(ctx context.Context, storage ports.ObjectStorage, jobID string, tables []domain.Table) error {
	for i := range tables {
		table := &tables[i]

		csvName := fmt.Sprintf("table_%d.csv", table.Number)
		csvData, err := encodeCSV(table.Rows)
		if err != nil {
			return fmt.Errorf("encode %s: %w", csvName, err)
		}
		csvKey := fmt.Sprintf("outputs/%s/tables/%s", jobID, csvName)
		if err := storage.Save(ctx, csvKey, bytes.NewReader(csvData)); err != nil {
			return fmt.Errorf("save %s: %w", csvKey, err)
		}

		excelName := fmt.Sprintf("table_%d.xlsx", table.Number)
		excelData, err := encodeXLSX(table.Rows)
		if err != nil {
			return fmt.Errorf("encode %s: %w", excelName, err)
		}
		excelKey := fmt.Sprintf("outputs/%s/tables/%s", jobID, excelName)
		if err := storage.Save(ctx, excelKey, bytes.NewReader(excelData)); err != nil {
			return fmt.Errorf("save %s: %w", excelKey, err)
		}

		table.CSVFile = csvName
		table.ExcelFile = excelName
	}
	return nil
}

func encodeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeXLSX(rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	const sheet = "Sheet1"
	for i, row := range rows {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, err
			}
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
