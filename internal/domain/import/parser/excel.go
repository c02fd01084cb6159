package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// xlsx files start with the ZIP magic bytes.
var xlsxMagic = []byte{0x50, 0x4B, 0x03, 0x04}

// IsExcel reports whether the payload looks like an xlsx workbook.
func IsExcel(data []byte) bool {
	return bytes.HasPrefix(data, xlsxMagic)
}

// ExcelToCSV converts the first sheet of an xlsx workbook into tab-separated
// text so the regular detection and parsing pipeline applies. Banks ship the
// same statement layout as both .csv and .xlsx; normalizing here keeps the
// rest of the engine format-agnostic.
func ExcelToCSV(data []byte) ([]byte, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	var buf bytes.Buffer
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			// Tabs and newlines inside cells would corrupt the row grid.
			cell = strings.ReplaceAll(cell, "\t", " ")
			cell = strings.ReplaceAll(cell, "\n", " ")
			cells[i] = cell
		}
		buf.WriteString(strings.Join(cells, "\t"))
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
