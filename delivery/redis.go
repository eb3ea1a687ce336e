package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/warp/report-engine/reports"
)

// DefaultStream is the stream deliveries are appended to.
const DefaultStream = "reports:deliveries"

// RedisDispatcher appends each delivery to a Redis stream.
type RedisDispatcher struct {
	client goredis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisDispatcher trims the stream to roughly maxLen entries when
// maxLen > 0.
func NewRedisDispatcher(client goredis.UniversalClient, stream string, maxLen int64) *RedisDispatcher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisDispatcher{client: client, stream: stream, maxLen: maxLen}
}

func (d *RedisDispatcher) Send(ctx context.Context, del reports.Delivery) error {
	values, err := Message(del)
	if err != nil {
		return err
	}
	args := &goredis.XAddArgs{
		Stream: d.stream,
		Values: values,
	}
	if d.maxLen > 0 {
		args.MaxLen = d.maxLen
		args.Approx = true
	}
	if err := d.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("delivery/redis: xadd %s: %w", d.stream, err)
	}
	return nil
}

// Message flattens a delivery into stream field values. Lists are JSON
// encoded.
func Message(del reports.Delivery) (map[string]interface{}, error) {
	artifacts, err := json.Marshal(del.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("encode artifacts: %w", err)
	}
	recipients, err := json.Marshal(del.Recipients)
	if err != nil {
		return nil, fmt.Errorf("encode recipients: %w", err)
	}
	return map[string]interface{}{
		"run_id":      string(del.RunID),
		"job_id":      string(del.JobID),
		"report_type": string(del.ReportType),
		"start":       del.DateRange.Start.Format(time.RFC3339),
		"end":         del.DateRange.End.Format(time.RFC3339),
		"artifacts":   string(artifacts),
		"recipients":  string(recipients),
	}, nil
}
