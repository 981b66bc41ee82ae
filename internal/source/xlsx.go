package source

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/tabimport/internal/core"
)

// readWorkbook reads one sheet of an .xlsx workbook, the first sheet unless
// sheet names another. Cells come back as Excel displays them, so dates and
// amounts go through the same text parsers as CSV cells.
func readWorkbook(ctx context.Context, data []byte, sheet string) (*core.RowSet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: no sheets", ErrInvalidWorkbook)
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q: %v", ErrInvalidWorkbook, sheet, err)
	}
	defer rows.Close()

	var records [][]string
	for n := 0; rows.Next(); n++ {
		if n%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cols, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidWorkbook, n+1, err)
		}
		records = append(records, cols)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}

	return buildRowSet(records)
}
