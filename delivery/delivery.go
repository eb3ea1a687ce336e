/*
Package delivery implements reports.Dispatcher.

PURPOSE:
  Once a run has artifacts and recipients, a Dispatcher hands them off.
  Actual email/webhook sending lives outside this service: the Redis
  dispatcher publishes one stream entry per delivery for a mailer to consume,
  and the log dispatcher records the hand-off for local runs.

SEE ALSO:
  - reports/pipeline.go: Dispatch stage, wrapped in a timeout
*/
package delivery

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/warp/report-engine/reports"
)

// LogDispatcher logs each delivery and succeeds.
type LogDispatcher struct {
	log logrus.FieldLogger
}

func NewLogDispatcher(log logrus.FieldLogger) *LogDispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Send(ctx context.Context, del reports.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, a := range del.Artifacts {
		d.log.WithFields(logrus.Fields{
			"run_id":      del.RunID,
			"job_id":      del.JobID,
			"report_type": del.ReportType,
			"format":      a.Format,
			"locator":     a.Locator,
			"recipients":  len(del.Recipients),
		}).Info("report delivered")
	}
	return nil
}

// Multi sends to every dispatcher in order and joins the errors.
type Multi []reports.Dispatcher

func (m Multi) Send(ctx context.Context, del reports.Delivery) error {
	var errs []error
	for _, d := range m {
		if err := d.Send(ctx, del); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
