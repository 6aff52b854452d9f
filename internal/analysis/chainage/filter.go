package chainage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tolerance is the fixed proximity window, in chainage units.
const Tolerance = 1.0

// Filter keeps the rows whose column value lies within tolerance of target.
// The bound is inclusive and input order is preserved.
func Filter(t *Table, column string, target, tolerance float64) (*Table, error) {
	idx := t.Index(column)
	if idx < 0 {
		return nil, fmt.Errorf("%w in %s: expected %q", ErrMissingColumns, t.Name, column)
	}

	out := &Table{Name: t.Name, Columns: t.Columns, Rows: make([]Row, 0)}
	for _, row := range t.Rows {
		if idx >= len(row.Cells) {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(row.Cells[idx]), 64)
		if err != nil {
			continue
		}
		if math.Abs(value-target) <= tolerance {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// Window holds the events matched against one target chainage.
type Window struct {
	Target  float64 `json:"target"`
	Digging *Table  `json:"-"`
	Leaks   *Table  `json:"-"`
}

// Match filters both tables once per target with the fixed tolerance.
func Match(digging, leaks *Table, column string, targets []float64) ([]Window, error) {
	windows := make([]Window, 0, len(targets))
	for _, target := range targets {
		d, err := Filter(digging, column, target, Tolerance)
		if err != nil {
			return nil, err
		}
		l, err := Filter(leaks, column, target, Tolerance)
		if err != nil {
			return nil, err
		}
		windows = append(windows, Window{Target: target, Digging: d, Leaks: l})
	}
	return windows, nil
}

// ParseTargets reads a comma or whitespace separated list of chainages.
func ParseTargets(raw string) ([]float64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	targets := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid target chainage %q", f)
		}
		targets = append(targets, v)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("at least one target chainage is required")
	}
	return targets, nil
}

// Targets lists the distinct chainages of a table in first-seen order.
func Targets(t *Table) []float64 {
	seen := make(map[float64]bool, len(t.Rows))
	out := make([]float64, 0)
	for _, row := range t.Rows {
		if !seen[row.Chainage] {
			seen[row.Chainage] = true
			out = append(out, row.Chainage)
		}
	}
	return out
}
