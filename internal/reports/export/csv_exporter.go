package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Table is a rectangular export: one header row plus data rows whose cells
// line up with Columns.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]interface{}
}

// CSVOptions controls delimiters and how empty or time cells render.
type CSVOptions struct {
	Delimiter       rune   `json:"delimiter"`
	UseCRLF         bool   `json:"use_crlf"`
	IncludeHeader   bool   `json:"include_header"`
	TimestampFormat string `json:"timestamp_format"`
	NullValue       string `json:"null_value"`
}

func DefaultCSVOptions() CSVOptions {
	return CSVOptions{Delimiter: ',', IncludeHeader: true, TimestampFormat: time.RFC3339}
}

// CSVExporter renders tables to a single CSV stream.
type CSVExporter struct {
	out  *csv.Writer
	opts CSVOptions
}

func NewCSVExporter(w io.Writer, opts CSVOptions) *CSVExporter {
	out := csv.NewWriter(w)
	out.Comma, out.UseCRLF = opts.Delimiter, opts.UseCRLF
	return &CSVExporter{out: out, opts: opts}
}

// WriteTable writes the header and all rows, then flushes.
func (e *CSVExporter) WriteTable(t *Table) error {
	if e.opts.IncludeHeader {
		if err := e.out.Write(t.Columns); err != nil {
			return fmt.Errorf("csv header: %w", err)
		}
	}

	record := make([]string, len(t.Columns))
	for n, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, expected %d", n, len(row), len(t.Columns))
		}
		for i := range row {
			record[i] = e.text(row[i])
		}
		if err := e.out.Write(record); err != nil {
			return fmt.Errorf("csv row %d: %w", n, err)
		}
	}

	e.out.Flush()
	return e.out.Error()
}

// text renders one cell. Decimals keep their exact digits and times are UTC.
func (e *CSVExporter) text(cell interface{}) string {
	switch v := cell.(type) {
	case nil:
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case decimal.Decimal:
		return v.String()
	case *uuid.UUID:
		if v != nil {
			return v.String()
		}
	case *time.Time:
		if v != nil {
			return e.text(*v)
		}
	case time.Time:
		if !v.IsZero() {
			return v.UTC().Format(e.opts.TimestampFormat)
		}
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
	return e.opts.NullValue
}
