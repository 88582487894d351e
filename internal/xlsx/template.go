// Package xlsx generates and parses the spreadsheet surfaces of the
// engine: the per-submitter reading template, batch imports of filled
// templates, and the final report export.
package xlsx

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/fieldops/meterwatch/internal/core"
)

// SheetName is the worksheet both the template writer and the batch
// parser operate on.
const SheetName = "Readings"

var templateHeaders = []string{"No.", "Gov Number", "Inventory Number", "Meter", "Reading", "Comment"}

// Template builds a reading template prefilled with the submitter's
// equipment. Reading and comment columns are left empty for filling.
func Template(keys []core.EquipmentKey) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(SheetName)
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

	for col, header := range templateHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(SheetName, cell, header); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	if err := f.SetCellStyle(SheetName, "A1", "F1", headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, key := range keys {
		row := i + 2
		values := []interface{}{i + 1, key.GovNumber, key.InvNumber, key.MeterType}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return nil, fmt.Errorf("write row %d: %w", row, err)
			}
		}
	}

	if err := f.SetColWidth(SheetName, "B", "D", 18); err != nil {
		return nil, fmt.Errorf("set widths: %w", err)
	}
	if err := f.SetColWidth(SheetName, "E", "F", 14); err != nil {
		return nil, fmt.Errorf("set widths: %w", err)
	}
	return f, nil
}
