package chainage

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	SourceColumn = "source"
	TargetColumn = "target_chainage"

	SourceDigging = "digging"
	SourceLeak    = "leak"
)

// ExportRow is one row of an exported match file.
type ExportRow struct {
	Source string
	Target float64
	Values map[string]string
}

// Export writes the union of all windows as one CSV. Columns are the union
// of both input schemas followed by the source and target columns; cells a
// table does not have are left empty.
func Export(w io.Writer, windows []Window) error {
	header := exportHeader(windows)

	writer := csv.NewWriter(w)
	if err := writer.Write(append(append([]string(nil), header...), SourceColumn, TargetColumn)); err != nil {
		return err
	}

	for _, win := range windows {
		target := strconv.FormatFloat(win.Target, 'f', -1, 64)
		for _, part := range []struct {
			source string
			table  *Table
		}{{SourceDigging, win.Digging}, {SourceLeak, win.Leaks}} {
			if part.table == nil {
				continue
			}
			for _, row := range part.table.Rows {
				record := make([]string, 0, len(header)+2)
				for _, col := range header {
					record = append(record, part.table.Value(row, col))
				}
				record = append(record, part.source, target)
				if err := writer.Write(record); err != nil {
					return err
				}
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func exportHeader(windows []Window) []string {
	var header []string
	seen := map[string]bool{}
	add := func(t *Table) {
		if t == nil {
			return
		}
		for _, col := range t.Columns {
			key := strings.ToLower(col)
			if seen[key] || key == SourceColumn || key == TargetColumn {
				continue
			}
			seen[key] = true
			header = append(header, col)
		}
	}
	for _, win := range windows {
		add(win.Digging)
		add(win.Leaks)
	}
	return header
}

// ReadExport parses a file written by Export.
func ReadExport(r io.Reader) ([]ExportRow, error) {
	records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty export", ErrMissingColumns)
	}

	header := records[0]
	srcIdx, tgtIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(col) {
		case SourceColumn:
			srcIdx = i
		case TargetColumn:
			tgtIdx = i
		}
	}
	if srcIdx < 0 || tgtIdx < 0 {
		return nil, fmt.Errorf("%w: expected %q and %q", ErrMissingColumns, SourceColumn, TargetColumn)
	}

	rows := make([]ExportRow, 0, len(records)-1)
	for i, record := range records[1:] {
		record = padTo(record, len(header))
		target, err := strconv.ParseFloat(record[tgtIdx], 64)
		if err != nil {
			return nil, fmt.Errorf("%w %d: target %q is not a number", ErrInvalidRow, i+2, record[tgtIdx])
		}
		values := make(map[string]string, len(header))
		for j, col := range header {
			if j != srcIdx && j != tgtIdx {
				values[col] = record[j]
			}
		}
		rows = append(rows, ExportRow{Source: record[srcIdx], Target: target, Values: values})
	}
	return rows, nil
}
