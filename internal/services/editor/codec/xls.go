package codec

import (
	"bytes"
	"fmt"

	"github.com/extrame/xls"

	"github.com/louisbranch/officecollab/internal/services/editor/document"
)

// decodeXls reads the first sheet of a legacy BIFF workbook. The reader only
// exposes formatted text, so cell types are inferred from it.
func decodeXls(data []byte) (document.Content, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return document.Content{}, corrupt("open xls workbook", err)
	}
	if wb == nil {
		return document.Content{}, corrupt("open xls workbook", fmt.Errorf("no workbook stream"))
	}
	if wb.NumSheets() == 0 {
		return document.Content{}, corrupt("open xls workbook", fmt.Errorf("workbook has no sheets"))
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return document.Content{}, corrupt("open xls workbook", fmt.Errorf("first sheet is unreadable"))
	}

	var rows [][]document.Cell
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := xlsRow(sheet, i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		last := row.LastCol()
		cells := make([]document.Cell, 0, max(last, 0))
		for c := 0; c < last; c++ {
			cells = append(cells, inferCell(row.Col(c)))
		}
		rows = append(rows, cells)
	}
	return document.SpreadsheetContent(buildTable(rows)), nil
}

// xlsRow returns row i, or nil when the sheet has no record for it. The
// reader dereferences missing rows, so the lookup recovers from that.
func xlsRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}
