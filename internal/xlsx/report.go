package xlsx

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/fieldops/meterwatch/internal/core"
)

// ReportSheetName is the worksheet of the final report export.
const ReportSheetName = "Final Report"

var reportHeaders = []string{
	"Location", "Division", "Gov Number", "Inventory Number", "Meter",
	"Reading", "Comment", "Submitted By", "Role", "Date",
}

// Report renders final report records into a workbook, one row per
// record. Records with no reading (confirmed departures, faulty
// equipment) get an empty reading cell.
func Report(recs []core.FinalReportRecord) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(ReportSheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDDDDD"}},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	for col, header := range reportHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(ReportSheetName, cell, header); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	if err := f.SetCellStyle(ReportSheetName, "A1", "J1", headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, rec := range recs {
		row := i + 2
		values := []interface{}{
			rec.Key.Location, rec.Key.Division, rec.Key.GovNumber,
			rec.Key.InvNumber, rec.Key.MeterType, nil, rec.Comment,
			rec.Submitter.Name, rec.SenderRole,
			rec.EffectiveDate.Format("2006-01-02"),
		}
		if rec.Reading != nil {
			values[5] = *rec.Reading
		}
		for col, v := range values {
			if v == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(ReportSheetName, cell, v); err != nil {
				return nil, fmt.Errorf("write row %d: %w", row, err)
			}
		}
	}

	if err := f.SetColWidth(ReportSheetName, "A", "E", 18); err != nil {
		return nil, fmt.Errorf("set widths: %w", err)
	}
	if err := f.SetColWidth(ReportSheetName, "F", "J", 15); err != nil {
		return nil, fmt.Errorf("set widths: %w", err)
	}
	return f, nil
}
