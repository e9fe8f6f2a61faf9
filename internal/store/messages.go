package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"montage/internal/state"
)

const pollColumns = "id, pipeline, job_id, job_type, remote_task_id, due_at, " +
	"poll_attempts, failure_attempts, claimed, created_at"

// EnqueuePoll schedules a poll message for a submitted task.
func (s *Store) EnqueuePoll(ctx context.Context, msg *PollMessage) error {
	if msg == nil {
		return errors.New("poll message is nil")
	}
	if msg.JobID == 0 {
		return errors.New("poll message job id is required")
	}
	now := time.Now().UTC()
	if msg.DueAt.IsZero() {
		msg.DueAt = now
	}
	msg.CreatedAt = now
	msg.Claimed = false

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO poll_messages (
            pipeline, job_id, job_type, remote_task_id, due_at,
            poll_attempts, failure_attempts, claimed, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		string(msg.Pipeline),
		msg.JobID,
		msg.JobType,
		msg.RemoteTaskID,
		timestamp(msg.DueAt),
		msg.PollAttempts,
		msg.FailureAttempts,
		timestamp(now),
	)
	if err != nil {
		return fmt.Errorf("insert poll message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	msg.ID = id
	return nil
}

// ClaimDuePolls atomically marks up to limit due messages as claimed and
// returns them. Claimed messages are invisible to other workers until
// rescheduled or deleted.
func (s *Store) ClaimDuePolls(ctx context.Context, now time.Time, limit int) ([]*PollMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)

	var messages []*PollMessage
	err := retryOnBusy(ctx, func() error {
		messages = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(
			ctx,
			`SELECT `+pollColumns+` FROM poll_messages
             WHERE claimed = 0 AND due_at <= ?
             ORDER BY due_at, id LIMIT ?`,
			timestamp(now),
			limit,
		)
		if err != nil {
			return fmt.Errorf("select due polls: %w", err)
		}
		claimed, err := collectPolls(rows)
		rows.Close()
		if err != nil {
			return err
		}

		for _, msg := range claimed {
			if _, err := tx.ExecContext(ctx, `UPDATE poll_messages SET claimed = 1 WHERE id = ?`, msg.ID); err != nil {
				return fmt.Errorf("claim poll %d: %w", msg.ID, err)
			}
			msg.Claimed = true
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim: %w", err)
		}
		messages = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ReschedulePoll releases a claimed message with updated counters and a new
// due time.
func (s *Store) ReschedulePoll(ctx context.Context, msg *PollMessage, dueAt time.Time) error {
	if msg == nil {
		return errors.New("poll message is nil")
	}
	_, err := s.execWithRetry(
		ctx,
		`UPDATE poll_messages SET due_at = ?, poll_attempts = ?, failure_attempts = ?, claimed = 0 WHERE id = ?`,
		timestamp(dueAt),
		msg.PollAttempts,
		msg.FailureAttempts,
		msg.ID,
	)
	if err != nil {
		return fmt.Errorf("reschedule poll: %w", err)
	}
	msg.DueAt = dueAt
	msg.Claimed = false
	return nil
}

// DeletePoll removes a finished message.
func (s *Store) DeletePoll(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM poll_messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete poll: %w", err)
	}
	return nil
}

// ReleaseClaimedPolls resets claim flags left over from a previous run.
// Called once at daemon startup so interrupted polls become due again.
func (s *Store) ReleaseClaimedPolls(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `UPDATE poll_messages SET claimed = 0 WHERE claimed = 1`)
	if err != nil {
		return 0, fmt.Errorf("release claimed polls: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// PendingPolls returns unclaimed messages for a job, for inspection.
func (s *Store) PendingPolls(ctx context.Context, jobID int64) ([]*PollMessage, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+pollColumns+` FROM poll_messages WHERE job_id = ? AND claimed = 0 ORDER BY due_at, id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("pending polls: %w", err)
	}
	defer rows.Close()
	return collectPolls(rows)
}

func collectPolls(rows *sql.Rows) ([]*PollMessage, error) {
	var messages []*PollMessage
	for rows.Next() {
		msg, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("scan poll message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate poll messages: %w", err)
	}
	return messages, nil
}

func scanPoll(scanner interface{ Scan(dest ...any) error }) (*PollMessage, error) {
	var (
		msg       PollMessage
		pipeline  string
		dueAt     string
		claimed   int64
		createdAt string
	)
	if err := scanner.Scan(
		&msg.ID,
		&pipeline,
		&msg.JobID,
		&msg.JobType,
		&msg.RemoteTaskID,
		&dueAt,
		&msg.PollAttempts,
		&msg.FailureAttempts,
		&claimed,
		&createdAt,
	); err != nil {
		return nil, err
	}

	msg.Pipeline = state.Pipeline(pipeline)
	msg.Claimed = claimed != 0

	var err error
	if msg.DueAt, err = parseTimestamp(dueAt); err != nil {
		return nil, err
	}
	if msg.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	return &msg, nil
}
