package export

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ExcelExporter writes tables into an XLSX workbook, one sheet per table.
type ExcelExporter struct {
	file    *excelize.File
	options ExcelOptions
	styles  map[string]int
	sheets  int
}

// ExcelOptions configures Excel export behavior
type ExcelOptions struct {
	FreezeHeader    bool    `json:"freeze_header"`
	AutoFilter      bool    `json:"auto_filter"`
	AutoWidth       bool    `json:"auto_width"`
	TimestampFormat string  `json:"timestamp_format"`
	HeaderFill      string  `json:"header_fill"`
	HeaderFont      string  `json:"header_font"`
	MinColumnWidth  float64 `json:"min_column_width"`
	MaxColumnWidth  float64 `json:"max_column_width"`
}

func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		FreezeHeader:    true,
		AutoFilter:      true,
		AutoWidth:       true,
		TimestampFormat: "yyyy-mm-dd hh:mm:ss",
		HeaderFill:      "2E7D32",
		HeaderFont:      "FFFFFF",
		MinColumnWidth:  10,
		MaxColumnWidth:  50,
	}
}

func NewExcelExporter(options ExcelOptions) *ExcelExporter {
	return &ExcelExporter{
		file:    excelize.NewFile(),
		options: options,
		styles:  make(map[string]int),
	}
}

// AddTable writes a table to its own sheet. The first table reuses the
// workbook's default sheet.
func (e *ExcelExporter) AddTable(t *Table) error {
	sheet := t.Name
	if sheet == "" {
		sheet = fmt.Sprintf("Sheet%d", e.sheets+1)
	}
	if e.sheets == 0 {
		if err := e.file.SetSheetName("Sheet1", sheet); err != nil {
			return fmt.Errorf("failed to rename sheet: %w", err)
		}
	} else if _, err := e.file.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	e.sheets++

	if err := e.writeHeader(sheet, t.Columns); err != nil {
		return err
	}

	widths := make([]float64, len(t.Columns))
	for i, col := range t.Columns {
		widths[i] = estimateWidth(col)
	}
	for r, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, expected %d", r, len(row), len(t.Columns))
		}
		for c, val := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := e.setCellValue(sheet, cell, val); err != nil {
				return fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
			if w := estimateWidth(val); w > widths[c] {
				widths[c] = w
			}
		}
	}

	if e.options.AutoFilter && len(t.Rows) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(t.Columns), len(t.Rows)+1)
		if err := e.file.AutoFilter(sheet, "A1:"+last, nil); err != nil {
			return fmt.Errorf("failed to set auto filter: %w", err)
		}
	}
	if e.options.AutoWidth {
		for i, w := range widths {
			col, _ := excelize.ColumnNumberToName(i + 1)
			if err := e.file.SetColWidth(sheet, col, col, e.clampWidth(w)); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteTo writes the workbook to w
func (e *ExcelExporter) WriteTo(w io.Writer) (int64, error) {
	return e.file.WriteTo(w)
}

func (e *ExcelExporter) Close() error {
	return e.file.Close()
}

func (e *ExcelExporter) writeHeader(sheet string, columns []string) error {
	style, err := e.style("header", &excelize.Style{
		Font: &excelize.Font{Bold: true, Color: e.options.HeaderFont},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{e.options.HeaderFill}},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := e.file.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
		if err := e.file.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}

	if e.options.FreezeHeader {
		return e.file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}
	return nil
}

// setCellValue keeps integers numeric and decimals exact as text
func (e *ExcelExporter) setCellValue(sheet, cell string, val interface{}) error {
	switch v := val.(type) {
	case nil:
		return e.file.SetCellValue(sheet, cell, "")
	case decimal.Decimal:
		return e.file.SetCellValue(sheet, cell, v.String())
	case uuid.UUID:
		return e.file.SetCellValue(sheet, cell, v.String())
	case *uuid.UUID:
		if v == nil {
			return e.file.SetCellValue(sheet, cell, "")
		}
		return e.file.SetCellValue(sheet, cell, v.String())
	case time.Time:
		if v.IsZero() {
			return e.file.SetCellValue(sheet, cell, "")
		}
		if err := e.file.SetCellValue(sheet, cell, v.UTC()); err != nil {
			return err
		}
		style, err := e.style("timestamp", &excelize.Style{CustomNumFmt: &e.options.TimestampFormat})
		if err != nil {
			return err
		}
		return e.file.SetCellStyle(sheet, cell, cell, style)
	default:
		return e.file.SetCellValue(sheet, cell, v)
	}
}

func (e *ExcelExporter) style(name string, s *excelize.Style) (int, error) {
	if id, ok := e.styles[name]; ok {
		return id, nil
	}
	id, err := e.file.NewStyle(s)
	if err != nil {
		return 0, err
	}
	e.styles[name] = id
	return id, nil
}

func (e *ExcelExporter) clampWidth(w float64) float64 {
	if w < e.options.MinColumnWidth {
		return e.options.MinColumnWidth
	}
	if w > e.options.MaxColumnWidth {
		return e.options.MaxColumnWidth
	}
	return w
}

// estimateWidth is a rough display width: one unit per character plus padding
func estimateWidth(val interface{}) float64 {
	if val == nil {
		return 0
	}
	return float64(len(fmt.Sprintf("%v", val))) * 1.2
}
