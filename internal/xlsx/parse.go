package xlsx

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/fieldops/meterwatch/internal/core"
)

// ParseBatch reads a filled reading template into batch rows. Cell
// values are passed through raw; validation belongs to the engine, not
// the parser. Fully empty rows are skipped, and each returned row keeps
// its spreadsheet row number so errors point back at the right line.
func ParseBatch(r io.Reader) ([]core.ReadingRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := SheetName
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		// Renamed sheet: fall back to the first one.
		sheet = f.GetSheetName(0)
	}

	cells, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheet)
	}

	var rows []core.ReadingRow
	for i, cols := range cells[1:] {
		row := core.ReadingRow{
			Line:      i + 2,
			GovNumber: cell(cols, 1),
			InvNumber: cell(cols, 2),
			MeterType: cell(cols, 3),
			Reading:   cell(cols, 4),
			Comment:   cell(cols, 5),
		}
		if row.GovNumber == "" && row.InvNumber == "" && row.MeterType == "" &&
			row.Reading == "" && row.Comment == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// cell returns the trimmed value at index i, tolerating the trailing
// truncation GetRows applies to empty cells.
func cell(cols []string, i int) string {
	if i >= len(cols) {
		return ""
	}
	return strings.TrimSpace(cols[i])
}
