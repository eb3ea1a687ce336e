package render

import (
	"bytes"
	"encoding/csv"

	"github.com/warp/report-engine/analytics"
)

// CSVEncoder writes each section as a title row, a header row and its data
// rows, with a blank row between sections.
type CSVEncoder struct{}

func (CSVEncoder) Extension() string   { return "csv" }
func (CSVEncoder) ContentType() string { return "text/csv" }

func (CSVEncoder) Encode(payload analytics.Payload) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for i, s := range payload.Sections() {
		if i > 0 {
			if err := w.Write([]string{}); err != nil {
				return nil, err
			}
		}
		if err := w.Write([]string{s.Name}); err != nil {
			return nil, err
		}
		if err := w.Write(s.Header); err != nil {
			return nil, err
		}
		if err := w.WriteAll(s.Rows); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
