// Package audit renders appointment reports as Excel workbooks.
package audit

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

// Workbook appends sheets and rows to an excelize file.
type Workbook struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func NewWorkbook() *Workbook {
	return &Workbook{file: excelize.NewFile()}
}

// AddSheet starts a new sheet. The first call renames the default sheet.
func (w *Workbook) AddSheet(name string) error {
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

// WriteHeader writes bold column headers.
func (w *Workbook) WriteHeader(columns []string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.WriteRow(row); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		start, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
		end, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
		_ = w.file.SetCellStyle(w.currentSheet, start, end, style)
	}
	return nil
}

// WriteRow writes values into the next row of the current sheet.
func (w *Workbook) WriteRow(row []any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}

	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &row); err != nil {
		return fmt.Errorf("write row %d: %w", w.currentRow, err)
	}

	w.currentRow++
	return nil
}

// Save writes the workbook to wr.
func (w *Workbook) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

func (w *Workbook) Close() error {
	return w.file.Close()
}
