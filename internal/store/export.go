package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Analyses"

var exportHeaders = []string{
	"Job ID",
	"File",
	"Status",
	"Products",
	"Sentiment",
	"Category",
	"Summary",
	"Detail",
	"Source",
	"Analyzed At",
}

// ExportXLSX writes every analysis with its job to a workbook and returns the
// encoded bytes.
func (s *Store) ExportXLSX(ctx context.Context) ([]byte, int, error) {
	rows, err := s.ListAnalyses(ctx)
	if err != nil {
		return nil, 0, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, 0, err
	}
	active, _ := f.GetSheetIndex(exportSheet)
	f.SetActiveSheet(active)

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(exportSheet, cell, h)
	}
	for n, r := range rows {
		line := n + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, line)
			_ = f.SetCellValue(exportSheet, cell, v)
		}
		write(1, r.Job.ID)
		write(2, r.Job.FilePath)
		write(3, string(r.Job.Status))
		write(4, strings.Join(r.Analysis.ProductNames, "、"))
		write(5, string(r.Analysis.Sentiment))
		write(6, r.Analysis.Category)
		write(7, r.Analysis.Summary)
		write(8, r.Analysis.Detail)
		write(9, r.Analysis.Source)
		write(10, r.Analysis.UpdatedAt.UTC().Format(time.RFC3339))
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 38)
	_ = f.SetColWidth(exportSheet, "B", "B", 40)
	_ = f.SetColWidth(exportSheet, "D", "F", 22)
	_ = f.SetColWidth(exportSheet, "G", "H", 60)
	_ = f.SetColWidth(exportSheet, "J", "J", 22)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), len(rows), nil
}
