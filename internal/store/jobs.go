package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"montage/internal/state"
)

const jobColumns = "id, project_id, pipeline, job_type, status, input_params, " +
	"remote_task_id, last_remote_status, artifact_backups, error_message, " +
	"submitted_at, created_at, updated_at"

// CreateJob inserts a new job. A missing status defaults to pending.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ProjectID == "" {
		return errors.New("job project id is required")
	}
	if job.JobType == "" {
		return errors.New("job type is required")
	}
	if job.Pipeline == "" {
		job.Pipeline = state.PipelineCreative
	}
	if job.Status == "" {
		job.Status = state.JobPending
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            project_id, pipeline, job_type, status, input_params,
            remote_task_id, last_remote_status, artifact_backups, error_message,
            submitted_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ProjectID,
		string(job.Pipeline),
		job.JobType,
		string(job.Status),
		job.InputParams,
		job.RemoteTaskID,
		job.LastRemoteStatus,
		job.ArtifactBackups,
		job.ErrorMessage,
		nullableTime(job.SubmittedAt),
		timestamp(now),
		timestamp(now),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	job.ID = id
	return nil
}

// GetJob fetches a job by identifier. Returns nil when absent.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()

	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET
            status = ?, input_params = ?, remote_task_id = ?, last_remote_status = ?,
            artifact_backups = ?, error_message = ?, submitted_at = ?, updated_at = ?
        WHERE id = ?`,
		string(job.Status),
		job.InputParams,
		job.RemoteTaskID,
		job.LastRemoteStatus,
		job.ArtifactBackups,
		job.ErrorMessage,
		nullableTime(job.SubmittedAt),
		timestamp(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %d not found", job.ID)
	}
	return nil
}

// ListJobs returns all jobs for a project, oldest first.
func (s *Store) ListJobs(ctx context.Context, projectID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE project_id = ? ORDER BY id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// LatestJob returns the most recent job of the given type for a project,
// or nil when none exists.
func (s *Store) LatestJob(ctx context.Context, projectID, jobType string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE project_id = ? AND job_type = ? ORDER BY id DESC LIMIT 1`,
		projectID,
		jobType,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest job: %w", err)
	}
	return job, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job                Job
		pipeline           string
		status             string
		submittedAt        sql.NullString
		createdAt, updated string
	)
	if err := scanner.Scan(
		&job.ID,
		&job.ProjectID,
		&pipeline,
		&job.JobType,
		&status,
		&job.InputParams,
		&job.RemoteTaskID,
		&job.LastRemoteStatus,
		&job.ArtifactBackups,
		&job.ErrorMessage,
		&submittedAt,
		&createdAt,
		&updated,
	); err != nil {
		return nil, err
	}

	job.Pipeline = state.Pipeline(pipeline)
	parsedStatus, ok := state.ParseJobStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown job status %q", status)
	}
	job.Status = parsedStatus

	var err error
	if submittedAt.Valid && submittedAt.String != "" {
		parsed, perr := parseTimestamp(submittedAt.String)
		if perr != nil {
			return nil, perr
		}
		job.SubmittedAt = &parsed
	}
	if job.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTimestamp(updated); err != nil {
		return nil, err
	}
	return &job, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timestamp(*t)
}
