package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/warp/report-engine/analytics"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/reports"
)

// =============================================================================
// SCHEDULED REPORTS (reports.JobStore)
// =============================================================================

const jobColumns = `id, name, owner_id, report_type, schedule_json, settings_json, recipients_json,
	is_active, last_run, next_run, version, created_at, updated_at`

type jobRow struct {
	schedule, settings, recipients string
}

func encodeJob(job reports.ScheduledReportJob) (jobRow, error) {
	var (
		row jobRow
		err error
	)
	if row.schedule, err = encodeJSON(job.Schedule); err != nil {
		return row, fmt.Errorf("encode schedule: %w", err)
	}
	if row.settings, err = encodeJSON(job.Settings); err != nil {
		return row, fmt.Errorf("encode settings: %w", err)
	}
	recipients := job.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	if row.recipients, err = encodeJSON(recipients); err != nil {
		return row, fmt.Errorf("encode recipients: %w", err)
	}
	return row, nil
}

func (s *Store) CreateJob(ctx context.Context, job reports.ScheduledReportJob) error {
	row, err := encodeJob(job)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `INSERT INTO scheduled_reports (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, nullString(job.OwnerID), job.ReportType,
		row.schedule, row.settings, row.recipients,
		boolInt(job.IsActive), formatTimePtr(job.LastRun), formatTime(job.NextRun),
		job.Version, formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: scheduled report %s already exists", generic.ErrConflict, job.ID)
		}
		return fmt.Errorf("failed to create scheduled report: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id reports.JobID) (reports.ScheduledReportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM scheduled_reports WHERE id = ?`, id)
	if err != nil {
		return reports.ScheduledReportJob{}, fmt.Errorf("failed to query scheduled report: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return reports.ScheduledReportJob{}, err
		}
		return reports.ScheduledReportJob{}, generic.NewNotFound("scheduled report", string(id))
	}
	return scanJob(rows)
}

func (s *Store) ListJobs(ctx context.Context, f reports.JobFilter) ([]reports.ScheduledReportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var clauses []string
	var args []any
	if f.ActiveOnly || f.DueBy != nil {
		clauses = append(clauses, "is_active = 1")
	}
	if f.DueBy != nil {
		clauses = append(clauses, "next_run <= ?")
		args = append(args, formatTime(*f.DueBy))
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	query := `SELECT ` + jobColumns + ` FROM scheduled_reports`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY next_run ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled reports: %w", err)
	}
	defer rows.Close()

	var out []reports.ScheduledReportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) UpdateJobIfVersion(ctx context.Context, job reports.ScheduledReportJob, expected int) error {
	row, err := encodeJob(job)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_reports SET
			name = ?, owner_id = ?, report_type = ?, schedule_json = ?, settings_json = ?,
			recipients_json = ?, is_active = ?, last_run = ?, next_run = ?, version = ?,
			created_at = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		job.Name, nullString(job.OwnerID), job.ReportType, row.schedule, row.settings,
		row.recipients, boolInt(job.IsActive), formatTimePtr(job.LastRun), formatTime(job.NextRun), expected+1,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
		job.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled report: %w", err)
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.casFailure(ctx, "scheduled_reports", "scheduled report", string(job.ID))
}

func (s *Store) DeleteJob(ctx context.Context, id reports.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM scheduled_reports WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled report: %w", err)
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if !ok {
		return generic.NewNotFound("scheduled report", string(id))
	}
	return nil
}

// casFailure tells a missing row apart from a version mismatch. Caller
// holds s.mu.
func (s *Store) casFailure(ctx context.Context, table, kind, id string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&n); err != nil {
		return fmt.Errorf("failed to check %s: %w", kind, err)
	}
	if n == 0 {
		return generic.NewNotFound(kind, id)
	}
	return generic.ErrConcurrentModification
}

func scanJob(rows *sql.Rows) (reports.ScheduledReportJob, error) {
	var (
		job                            reports.ScheduledReportJob
		ownerID, lastRun               sql.NullString
		schedule, settings, recipients string
		isActive                       int
		nextRun, createdAt, updatedAt  string
	)
	if err := rows.Scan(&job.ID, &job.Name, &ownerID, &job.ReportType,
		&schedule, &settings, &recipients, &isActive, &lastRun, &nextRun,
		&job.Version, &createdAt, &updatedAt); err != nil {
		return job, fmt.Errorf("failed to scan scheduled report: %w", err)
	}

	job.OwnerID = ownerID.String
	job.IsActive = isActive != 0
	if err := decodeJSON(schedule, &job.Schedule); err != nil {
		return job, fmt.Errorf("decode schedule of %s: %w", job.ID, err)
	}
	if err := decodeJSON(settings, &job.Settings); err != nil {
		return job, fmt.Errorf("decode settings of %s: %w", job.ID, err)
	}
	if err := decodeJSON(recipients, &job.Recipients); err != nil {
		return job, fmt.Errorf("decode recipients of %s: %w", job.ID, err)
	}

	var err error
	if job.LastRun, err = parseTimePtr(lastRun); err != nil {
		return job, err
	}
	if job.NextRun, err = parseTime(nextRun); err != nil {
		return job, err
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return job, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return job, err
	}
	return job, nil
}

// =============================================================================
// REPORT RUNS (reports.RunStore)
// =============================================================================

const runColumns = `id, scheduled_report_id, report_type, range_start, range_end, status, data_json,
	artifacts_json, recipients_json, error, record_count, byte_size, processing_time_ms,
	started_at, finished_at`

func runArgs(run reports.GeneratedReportRun) ([]any, error) {
	var data sql.NullString
	if run.Data != nil {
		s, err := encodeJSON(run.Data)
		if err != nil {
			return nil, fmt.Errorf("encode run data: %w", err)
		}
		data = sql.NullString{String: s, Valid: true}
	}
	artifacts := run.Artifacts
	if artifacts == nil {
		artifacts = map[reports.Format]string{}
	}
	artifactsJSON, err := encodeJSON(artifacts)
	if err != nil {
		return nil, fmt.Errorf("encode artifacts: %w", err)
	}
	recipients := run.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	recipientsJSON, err := encodeJSON(recipients)
	if err != nil {
		return nil, fmt.Errorf("encode recipients: %w", err)
	}

	return []any{
		run.ID, nullString(string(run.ScheduledReportID)), run.ReportType,
		formatTime(run.DateRange.Start), formatTime(run.DateRange.End), run.Status, data,
		artifactsJSON, recipientsJSON, nullString(run.Error),
		run.Metadata.RecordCount, run.Metadata.ByteSize, run.Metadata.ProcessingTimeMs,
		formatTime(run.StartedAt), formatTimePtr(run.FinishedAt),
	}, nil
}

func (s *Store) CreateRun(ctx context.Context, run reports.GeneratedReportRun) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `INSERT INTO report_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: report run %s already exists", generic.ErrConflict, run.ID)
		}
		return fmt.Errorf("failed to create report run: %w", err)
	}
	return nil
}

func (s *Store) UpdateRun(ctx context.Context, run reports.GeneratedReportRun) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Same column order as runArgs, id moved to the end.
	res, err := s.db.ExecContext(ctx, `
		UPDATE report_runs SET
			scheduled_report_id = ?, report_type = ?, range_start = ?, range_end = ?, status = ?,
			data_json = ?, artifacts_json = ?, recipients_json = ?, error = ?, record_count = ?,
			byte_size = ?, processing_time_ms = ?, started_at = ?, finished_at = ?
		WHERE id = ?`, append(args[1:], args[0])...)
	if err != nil {
		return fmt.Errorf("failed to update report run: %w", err)
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if !ok {
		return generic.NewNotFound("report run", string(run.ID))
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id reports.RunID) (reports.GeneratedReportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM report_runs WHERE id = ?`, id)
	if err != nil {
		return reports.GeneratedReportRun{}, fmt.Errorf("failed to query report run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return reports.GeneratedReportRun{}, err
		}
		return reports.GeneratedReportRun{}, generic.NewNotFound("report run", string(id))
	}
	return scanRun(rows)
}

func (s *Store) ListRuns(ctx context.Context, f reports.RunFilter) ([]reports.GeneratedReportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var clauses []string
	var args []any
	if f.JobID != "" {
		clauses = append(clauses, "scheduled_report_id = ?")
		args = append(args, string(f.JobID))
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + runColumns + ` FROM report_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query report runs: %w", err)
	}
	defer rows.Close()

	var out []reports.GeneratedReportRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(rows *sql.Rows) (reports.GeneratedReportRun, error) {
	var (
		run                             reports.GeneratedReportRun
		jobID, data, errMsg, finishedAt sql.NullString
		rangeStart, rangeEnd, startedAt string
		artifacts, recipients           string
	)
	if err := rows.Scan(&run.ID, &jobID, &run.ReportType, &rangeStart, &rangeEnd, &run.Status, &data,
		&artifacts, &recipients, &errMsg, &run.Metadata.RecordCount, &run.Metadata.ByteSize,
		&run.Metadata.ProcessingTimeMs, &startedAt, &finishedAt); err != nil {
		return run, fmt.Errorf("failed to scan report run: %w", err)
	}

	run.ScheduledReportID = reports.JobID(jobID.String)
	run.Error = errMsg.String
	if data.Valid {
		var payload analytics.Payload
		if err := decodeJSON(data.String, &payload); err != nil {
			return run, fmt.Errorf("decode data of run %s: %w", run.ID, err)
		}
		run.Data = &payload
	}
	if err := decodeJSON(artifacts, &run.Artifacts); err != nil {
		return run, fmt.Errorf("decode artifacts of run %s: %w", run.ID, err)
	}
	if err := decodeJSON(recipients, &run.Recipients); err != nil {
		return run, fmt.Errorf("decode recipients of run %s: %w", run.ID, err)
	}

	var err error
	if run.DateRange.Start, err = parseTime(rangeStart); err != nil {
		return run, err
	}
	if run.DateRange.End, err = parseTime(rangeEnd); err != nil {
		return run, err
	}
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return run, err
	}
	if run.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return run, err
	}
	return run, nil
}
