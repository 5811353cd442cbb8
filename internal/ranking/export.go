package ranking

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Ranking"

// WriteXLSX writes snap as a workbook with one sheet
func WriteXLSX(w io.Writer, snap Snapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := Header
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetCellStyle(exportSheet, "A1", "C1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, en := range snap.Entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{en.Rank, en.Application, en.Total}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if !snap.RefreshedAt.IsZero() {
		if err := f.SetCellValue(exportSheet, "E1", "Refreshed At"); err != nil {
			return err
		}
		if err := f.SetCellValue(exportSheet, "F1", snap.RefreshedAt.UTC().Format("2006-01-02 15:04:05")); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(exportSheet, "B", "B", 32); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteCSV writes snap as CSV with a UTF-8 BOM so spreadsheet tools detect
// the encoding.
func WriteCSV(w io.Writer, snap Snapshot) error {
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Rank", "Application", "Total Revenue"}); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	for i, en := range snap.Entries {
		record := []string{
			strconv.Itoa(en.Rank),
			en.Application,
			strconv.FormatFloat(en.Total, 'f', 2, 64),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
