package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"montage/internal/state"
)

const batchColumns = "id, pipeline, source_project_id, total_count, strategy, created_at"

// CreateBatch records an orchestrator run.
func (s *Store) CreateBatch(ctx context.Context, batch *Batch) error {
	if batch == nil {
		return errors.New("batch is nil")
	}
	if batch.TotalCount <= 0 {
		return errors.New("batch total count must be positive")
	}
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Pipeline == "" {
		batch.Pipeline = state.PipelineCreative
	}
	now := time.Now().UTC()
	batch.CreatedAt = now

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO batches (`+batchColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		batch.ID,
		string(batch.Pipeline),
		batch.SourceProjectID,
		batch.TotalCount,
		batch.Strategy,
		timestamp(now),
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// GetBatch fetches a batch by identifier. Returns nil when absent.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// ListBatches returns all batches, newest first.
func (s *Store) ListBatches(ctx context.Context) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM batches ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

func scanBatch(scanner interface{ Scan(dest ...any) error }) (*Batch, error) {
	var (
		batch     Batch
		pipeline  string
		createdAt string
	)
	if err := scanner.Scan(
		&batch.ID,
		&pipeline,
		&batch.SourceProjectID,
		&batch.TotalCount,
		&batch.Strategy,
		&createdAt,
	); err != nil {
		return nil, err
	}
	batch.Pipeline = state.Pipeline(pipeline)
	var err error
	if batch.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	return &batch, nil
}
