package render

import (
	"fmt"

	"github.com/warp/report-engine/analytics"
	"github.com/xuri/excelize/v2"
)

// maxSheetName is Excel's worksheet name limit.
const maxSheetName = 31

// XLSXEncoder writes one worksheet per section.
type XLSXEncoder struct{}

func (XLSXEncoder) Extension() string { return "xlsx" }
func (XLSXEncoder) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (XLSXEncoder) Encode(payload analytics.Payload) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sections := payload.Sections()
	for i, s := range sections {
		sheet := sheetName(s.Name)
		if i == 0 {
			// NewFile starts with one sheet; rename it instead of leaving it empty.
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}

		if err := writeRow(f, sheet, 1, s.Header); err != nil {
			return nil, err
		}
		for r, row := range s.Rows {
			if err := writeRow(f, sheet, r+2, row); err != nil {
				return nil, err
			}
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []string) error {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func sheetName(name string) string {
	if len(name) > maxSheetName {
		return name[:maxSheetName]
	}
	return name
}
