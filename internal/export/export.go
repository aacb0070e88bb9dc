// Package export writes report tables to CSV and XLSX files.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/emoscan/internal/report"
	"github.com/xuri/excelize/v2"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	// SheetName is the worksheet every XLSX file is written to.
	SheetName = "analysis"

	videoSuffix  = "_emotional_analysis"
	combinedBase = "combined_emotional_analysis"
)

// Formats lists the supported output formats.
var Formats = []string{FormatCSV, FormatXLSX}

// Known reports whether format is supported.
func Known(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Exporter writes tables into Dir in each of Formats.
type Exporter struct {
	Dir     string
	Formats []string
}

// WriteVideo writes <person>_emotional_analysis.<ext> and returns the paths written.
func (e *Exporter) WriteVideo(t *report.Table) ([]string, error) {
	return e.write(t.Person+videoSuffix, t)
}

// WriteCombined writes combined_emotional_analysis.<ext> and returns the paths written.
func (e *Exporter) WriteCombined(t *report.Table) ([]string, error) {
	return e.write(combinedBase, t)
}

func (e *Exporter) write(base string, t *report.Table) ([]string, error) {
	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var written []string
	for _, format := range e.Formats {
		path := filepath.Join(e.Dir, base+"."+format)
		var err error
		switch format {
		case FormatCSV:
			err = WriteCSV(path, t)
		case FormatXLSX:
			err = WriteXLSX(path, t)
		default:
			err = fmt.Errorf("unknown export format %q", format)
		}
		if err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// WriteCSV writes the header row followed by every record. An existing file is replaced.
func WriteCSV(path string, t *report.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Header()); err != nil {
		return err
	}
	if err := w.WriteAll(t.Records()); err != nil {
		return err
	}
	return f.Close()
}

// WriteXLSX writes the table to a single sheet, keeping numbers numeric.
func WriteXLSX(path string, t *report.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return err
	}

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for i, r := range t.Rows {
		cells := make([]interface{}, len(t.Columns))
		for j, c := range t.Columns {
			cells[j] = r.Value(c)
		}
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(axis, cells); err != nil {
			return err
		}
	}

	if err := sw.Flush(); err != nil {
		return err
	}
	return f.SaveAs(path)
}
