/*
Package render turns analytics payloads into stored report artifacts.

PURPOSE:
  A Renderer encodes a payload in one format and hands the bytes to a Sink,
  which stores them and returns a locator. The pipeline only keeps the
  locator.

FORMATS:
  csv  - every section as a block of rows (encoding/csv)
  xlsx - one worksheet per section (excelize)
  json - the payload itself
  pdf  - accepted in job settings, no encoder registered by default

SINKS:
  LocalSink - files under a directory
  GCSSink   - objects in a Google Cloud Storage bucket

SEE ALSO:
  - analytics/sections.go: Tabular view of a payload
  - reports/pipeline.go: Calls Render for each requested format
*/
package render

import (
	"context"
	"fmt"

	"github.com/warp/report-engine/analytics"
	"github.com/warp/report-engine/reports"
)

// Encoder serializes a payload.
type Encoder interface {
	Encode(payload analytics.Payload) ([]byte, error)
	Extension() string
	ContentType() string
}

// Sink stores an encoded artifact and returns where it lives.
type Sink interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Renderer implements reports.Renderer over a set of encoders and one sink.
type Renderer struct {
	encoders map[reports.Format]Encoder
	sink     Sink
}

// New returns a Renderer with the csv, xlsx and json encoders registered.
func New(sink Sink) *Renderer {
	return &Renderer{
		encoders: map[reports.Format]Encoder{
			reports.FormatCSV:  CSVEncoder{},
			reports.FormatXLSX: XLSXEncoder{},
			reports.FormatJSON: JSONEncoder{},
		},
		sink: sink,
	}
}

// Register adds or replaces the encoder for format.
func (r *Renderer) Register(format reports.Format, enc Encoder) {
	r.encoders[format] = enc
}

func (r *Renderer) Render(ctx context.Context, payload analytics.Payload, format reports.Format, name string) (reports.Artifact, error) {
	enc, ok := r.encoders[format]
	if !ok {
		return reports.Artifact{}, fmt.Errorf("unsupported format %q", format)
	}
	data, err := enc.Encode(payload)
	if err != nil {
		return reports.Artifact{}, fmt.Errorf("encode %s: %w", format, err)
	}
	if err := ctx.Err(); err != nil {
		return reports.Artifact{}, err
	}
	locator, err := r.sink.Put(ctx, name+"."+enc.Extension(), enc.ContentType(), data)
	if err != nil {
		return reports.Artifact{}, fmt.Errorf("store %s artifact: %w", format, err)
	}
	return reports.Artifact{Format: format, Locator: locator, Size: int64(len(data))}, nil
}
