package store

import (
	"context"
	"fmt"
	"time"

	"montage/internal/state"
)

// Health aggregates project, job, and poll counts for the status surface.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	var summary HealthSummary

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM projects GROUP BY status`)
	if err != nil {
		return summary, fmt.Errorf("project counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			raw   string
			count int
		)
		if err := rows.Scan(&raw, &count); err != nil {
			return summary, fmt.Errorf("scan project count: %w", err)
		}
		summary.TotalProjects += count
		status, ok := state.ParseProjectStatus(raw)
		if !ok {
			continue
		}
		switch {
		case status == state.ProjectPending:
			summary.PendingProjects += count
		case status == state.ProjectCompleted:
			summary.CompletedProjects += count
		case status == state.ProjectFailed:
			summary.FailedProjects += count
		case status.IsRunning():
			summary.RunningProjects += count
		}
	}
	if err := rows.Err(); err != nil {
		return summary, fmt.Errorf("iterate project counts: %w", err)
	}

	if err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM jobs WHERE status IN (?, ?)`,
		string(state.JobPending),
		string(state.JobProcessing),
	).Scan(&summary.ActiveJobs); err != nil {
		return summary, fmt.Errorf("active job count: %w", err)
	}

	if err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM poll_messages WHERE claimed = 0 AND due_at <= ?`,
		timestamp(time.Now().UTC()),
	).Scan(&summary.DuePolls); err != nil {
		return summary, fmt.Errorf("due poll count: %w", err)
	}

	return summary, nil
}
