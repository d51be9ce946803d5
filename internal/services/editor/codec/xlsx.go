package codec

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/louisbranch/officecollab/internal/platform/errors"
	"github.com/louisbranch/officecollab/internal/services/editor/document"
)

func decodeXlsx(data []byte) (document.Content, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return document.Content{}, corrupt("open xlsx workbook", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return document.Content{}, corrupt("open xlsx workbook", fmt.Errorf("workbook has no sheets"))
	}
	sheet := sheets[0]
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return document.Content{}, corrupt("read xlsx rows", err)
	}

	cells := make([][]document.Cell, len(rows))
	for r, row := range rows {
		cells[r] = make([]document.Cell, len(row))
		for c, raw := range row {
			cell, err := typedCell(f, sheet, c+1, r+1, raw)
			if err != nil {
				return document.Content{}, corrupt("read xlsx cell", err)
			}
			cells[r][c] = cell
		}
	}
	return document.SpreadsheetContent(buildTable(cells)), nil
}

// typedCell restores the cell's scalar type from the stored cell type.
func typedCell(f *excelize.File, sheet string, col, row int, raw string) (document.Cell, error) {
	if raw == "" {
		return document.NullCell(), nil
	}
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return document.Cell{}, err
	}
	cellType, err := f.GetCellType(sheet, name)
	if err != nil {
		return document.Cell{}, err
	}
	switch cellType {
	case excelize.CellTypeBool:
		return document.BoolCell(raw == "1" || raw == "TRUE" || raw == "true"), nil
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeDate, excelize.CellTypeError:
		return document.StringCell(raw), nil
	default:
		return inferCell(raw), nil
	}
}

func encodeXlsx(table document.Table) ([]byte, error) {
	width := len(table.Columns)
	if width == 0 && len(table.Data) > 0 {
		return nil, apperrors.New(apperrors.CodeCorruptDocument, "spreadsheet rows have no columns")
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	header := make([]interface{}, width)
	for i, label := range table.Columns {
		header[i] = label
	}
	if width > 0 {
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return nil, fmt.Errorf("write xlsx header: %w", err)
		}
	}
	for r, row := range table.Data {
		for c, cell := range fitRow(row, width) {
			value := cell.Value()
			if value == nil {
				continue
			}
			name, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, fmt.Errorf("address xlsx cell: %w", err)
			}
			if err := f.SetCellValue(sheet, name, value); err != nil {
				return nil, fmt.Errorf("write xlsx cell %s: %w", name, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx workbook: %w", err)
	}
	return buf.Bytes(), nil
}
