// Package chainage matches digging and leak events that occur near the same
// position along a pipeline.
package chainage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var (
	ErrMissingColumns = errors.New("missing required columns")
	ErrInvalidRow     = errors.New("invalid row")
	ErrUnsupported    = errors.New("unsupported file type")
)

// Columns names the timestamp and position columns of an input table.
type Columns struct {
	Timestamp string
	Chainage  string
}

// DefaultColumns are the column names expected by convention.
var DefaultColumns = Columns{Timestamp: "timestamp", Chainage: "chainage"}

// Row is one input record: raw cells plus the parsed time and position.
type Row struct {
	Cells     []string
	Timestamp time.Time
	Chainage  float64
}

// Table is a loaded dataset. Rows keep their input order.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

// Index returns the position of a column, case-insensitively, or -1.
func (t *Table) Index(name string) int {
	for i, col := range t.Columns {
		if strings.EqualFold(strings.TrimSpace(col), strings.TrimSpace(name)) {
			return i
		}
	}
	return -1
}

// Value returns a row's cell for the named column.
func (t *Table) Value(row Row, name string) string {
	idx := t.Index(name)
	if idx < 0 || idx >= len(row.Cells) {
		return ""
	}
	return row.Cells[idx]
}

// Record maps a row's cells by column name.
func (t *Table) Record(row Row) map[string]string {
	out := make(map[string]string, len(t.Columns))
	for i, col := range t.Columns {
		if i < len(row.Cells) {
			out[col] = row.Cells[i]
		}
	}
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Load reads a .csv or .xlsx table. The file name selects the format.
func Load(name string, r io.Reader, cols Columns) (*Table, error) {
	var records [][]string
	var err error

	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", "":
		records, err = readCSV(r)
	case ".xlsx", ".xlsm":
		records, err = readSpreadsheet(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnsupported, name, err)
	}
	return build(name, records, cols)
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return reader.ReadAll()
}

func readSpreadsheet(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func build(name string, records [][]string, cols Columns) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w in %s: expected %q and %q", ErrMissingColumns, name, cols.Timestamp, cols.Chainage)
	}

	t := &Table{Name: name, Columns: trimAll(records[0])}
	tsIdx, chIdx := t.Index(cols.Timestamp), t.Index(cols.Chainage)
	if tsIdx < 0 || chIdx < 0 {
		return nil, fmt.Errorf("%w in %s: expected %q and %q", ErrMissingColumns, name, cols.Timestamp, cols.Chainage)
	}

	t.Rows = make([]Row, 0, len(records)-1)
	for i, record := range records[1:] {
		if isBlank(record) {
			continue
		}
		cells := padTo(record, len(t.Columns))

		ts, err := ParseTimestamp(cells[tsIdx])
		if err != nil {
			return nil, fmt.Errorf("%w %d in %s: %v", ErrInvalidRow, i+2, name, err)
		}
		ch, err := strconv.ParseFloat(strings.TrimSpace(cells[chIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w %d in %s: chainage %q is not a number", ErrInvalidRow, i+2, name, cells[chIdx])
		}
		t.Rows = append(t.Rows, Row{Cells: cells, Timestamp: ts, Chainage: ch})
	}
	return t, nil
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"1/2/06 15:04",
	"01-02-06",
}

// ParseTimestamp accepts the common text layouts and spreadsheet serial dates.
func ParseTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		return excelize.ExcelDateToTime(serial, false)
	}
	return time.Time{}, fmt.Errorf("timestamp %q has an unknown format", raw)
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(strings.TrimPrefix(c, "\uFEFF"))
	}
	return out
}

func padTo(cells []string, n int) []string {
	out := make([]string, n)
	copy(out, cells)
	return out
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
