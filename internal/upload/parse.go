package upload

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// Sheet is the first worksheet of an upload: a header row and data rows.
// Lines holds the 1-based worksheet line of each data row.
type Sheet struct {
	Headers []string
	Rows    [][]string
	Lines   []int
}

// Line returns the worksheet line of data row i.
func (s *Sheet) Line(i int) int {
	if i < len(s.Lines) {
		return s.Lines[i]
	}
	return i + 2
}

// ParseWorkbook reads the first worksheet. Blank rows are skipped and the
// first non-blank row is the header. More than maxRows data rows is an error.
func ParseWorkbook(content []byte, f Format, maxRows int) (*Sheet, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	var (
		sheet *Sheet
		err   error
	)
	switch f {
	case FormatXLSX:
		sheet, err = parseXLSX(content, maxRows)
	case FormatXLS:
		sheet, err = parseXLS(content, maxRows)
	default:
		return nil, fmt.Errorf("%w: format %q", ErrUnsupportedType, f)
	}
	if err != nil {
		return nil, err
	}
	if len(sheet.Headers) == 0 || len(sheet.Rows) == 0 {
		return nil, ErrEmptyFile
	}
	return sheet, nil
}

type sheetBuilder struct {
	sheet   Sheet
	maxRows int
}

func (b *sheetBuilder) add(line int, cells []string) error {
	if blank(cells) {
		return nil
	}
	if b.sheet.Headers == nil {
		b.sheet.Headers = cells
		return nil
	}
	if len(b.sheet.Rows) >= b.maxRows {
		return fmt.Errorf("%w: more than %d rows", ErrTooManyRows, b.maxRows)
	}
	b.sheet.Rows = append(b.sheet.Rows, cells)
	b.sheet.Lines = append(b.sheet.Lines, line)
	return nil
}

func parseXLSX(content []byte, maxRows int) (*Sheet, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: open xlsx: %v", ErrUnsupportedType, err)
	}
	defer wb.Close()
	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := wb.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("upload: read sheet %s: %w", sheets[0], err)
	}
	defer rows.Close()
	b := sheetBuilder{maxRows: maxRows}
	line := 0
	for rows.Next() {
		line++
		cells, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("upload: read row: %w", err)
		}
		if err := b.add(line, cells); err != nil {
			return nil, err
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("upload: read rows: %w", err)
	}
	return &b.sheet, nil
}

func parseXLS(content []byte, maxRows int) (*Sheet, error) {
	wb, err := xls.OpenReader(bytes.NewReader(content), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("%w: open xls: %v", ErrUnsupportedType, err)
	}
	if wb.NumSheets() == 0 {
		return nil, ErrEmptyFile
	}
	ws := wb.GetSheet(0)
	if ws == nil {
		return nil, ErrEmptyFile
	}
	b := sheetBuilder{maxRows: maxRows}
	for i := 0; i <= int(ws.MaxRow); i++ {
		row := ws.Row(i)
		if row == nil {
			continue
		}
		cells := make([]string, 0, row.LastCol()+1)
		for j := 0; j <= row.LastCol(); j++ {
			cells = append(cells, row.Col(j))
		}
		if err := b.add(i+1, cells); err != nil {
			return nil, err
		}
	}
	return &b.sheet, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
