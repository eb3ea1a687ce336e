package render

import (
	"encoding/json"

	"github.com/warp/report-engine/analytics"
)

// JSONEncoder writes the payload as indented JSON.
type JSONEncoder struct{}

func (JSONEncoder) Extension() string   { return "json" }
func (JSONEncoder) ContentType() string { return "application/json" }

func (JSONEncoder) Encode(payload analytics.Payload) ([]byte, error) {
	return json.MarshalIndent(payload, "", "  ")
}
