package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/louisbranch/officecollab/internal/services/editor/document"
)

// buildTable turns raw sheet rows into a table. The first row holds column
// labels; every following row is data. Trailing blank rows are dropped and
// short rows are padded with nulls to the widest row.
func buildTable(rows [][]document.Cell) document.Table {
	for len(rows) > 0 && blankRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	if len(rows) == 0 {
		return document.Table{Columns: []string{}, Index: []document.Cell{}, Data: [][]document.Cell{}}
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}

	columns := columnLabels(rows[0], width)
	table := document.Table{
		Columns: columns,
		Index:   make([]document.Cell, 0, len(rows)-1),
		Data:    make([][]document.Cell, 0, len(rows)-1),
	}
	for i, row := range rows[1:] {
		table.Index = append(table.Index, document.NumberCell(float64(i)))
		table.Data = append(table.Data, fitRow(row, width))
	}
	return table
}

func blankRow(row []document.Cell) bool {
	for _, cell := range row {
		if cell.Kind() != document.CellNull {
			return false
		}
	}
	return true
}

// columnLabels names header cells, filling blanks as "Unnamed: i" and
// suffixing repeats with ".n".
func columnLabels(header []document.Cell, width int) []string {
	labels := make([]string, width)
	seen := make(map[string]int, width)
	for i := range labels {
		label := ""
		if i < len(header) {
			label = header[i].Label()
		}
		if strings.TrimSpace(label) == "" {
			label = fmt.Sprintf("Unnamed: %d", i)
		}
		if seen[label] > 0 {
			base := label
			for n := seen[base]; ; n++ {
				candidate := fmt.Sprintf("%s.%d", base, n)
				if seen[candidate] == 0 {
					seen[base] = n + 1
					label = candidate
					break
				}
			}
		}
		seen[label]++
		labels[i] = label
	}
	return labels
}

// inferCell types an untyped cell value: empty is null, numerals are
// numbers, everything else is text.
func inferCell(raw string) document.Cell {
	if raw == "" {
		return document.NullCell()
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return document.NumberCell(v)
	}
	return document.StringCell(raw)
}

// fitRow pads or truncates a data row to width.
func fitRow(row []document.Cell, width int) []document.Cell {
	out := make([]document.Cell, width)
	copy(out, row)
	return out
}
