package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"montage/internal/state"
)

const projectColumns = "id, pipeline, asset_id, name, description, status, auto_config, " +
	"narration_script, localized_script, dubbing_script, edit_script, final_video, " +
	"facts_result, rag_report, batch_id, version, created_at, updated_at"

// CreateProject inserts a new project. A missing ID is assigned a UUID and a
// missing status defaults to pending.
func (s *Store) CreateProject(ctx context.Context, project *Project) error {
	if project == nil {
		return errors.New("project is nil")
	}
	if strings.TrimSpace(project.Name) == "" {
		return errors.New("project name is required")
	}
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if project.Pipeline == "" {
		project.Pipeline = state.PipelineCreative
	}
	if project.Status == "" {
		project.Status = state.ProjectPending
	}
	now := time.Now().UTC()
	project.Version = 1
	project.CreatedAt = now
	project.UpdatedAt = now

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		project.ID,
		string(project.Pipeline),
		project.AssetID,
		project.Name,
		project.Description,
		string(project.Status),
		project.AutoConfig,
		project.NarrationScript,
		project.LocalizedScript,
		project.DubbingScript,
		project.EditScript,
		project.FinalVideo,
		project.FactsResult,
		project.RAGReport,
		project.BatchID,
		project.Version,
		timestamp(now),
		timestamp(now),
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject fetches a project by identifier. Returns nil when absent.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

// ListProjects returns projects, optionally filtered by status.
func (s *Store) ListProjects(ctx context.Context, statuses ...state.ProjectStatus) ([]*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	return collectProjects(rows)
}

// ListProjectsByBatch returns all projects spawned by a batch.
func (s *Store) ListProjectsByBatch(ctx context.Context, batchID string) ([]*Project, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+projectColumns+` FROM projects WHERE batch_id = ? ORDER BY created_at, id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list batch projects: %w", err)
	}
	defer rows.Close()

	return collectProjects(rows)
}

// SetProjectStatus performs a version-checked status write. The project's
// in-memory version and status are updated on success; a lost race returns
// ErrVersionConflict and leaves the row untouched.
func (s *Store) SetProjectStatus(ctx context.Context, project *Project, status state.ProjectStatus) error {
	if project == nil {
		return errors.New("project is nil")
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE projects SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		string(status),
		timestamp(now),
		project.ID,
		project.Version,
	)
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: project %s at version %d", ErrVersionConflict, project.ID, project.Version)
	}
	project.Status = status
	project.Version++
	project.UpdatedAt = now
	return nil
}

// SetProjectArtifact stores an artifact reference in the named slot.
func (s *Store) SetProjectArtifact(ctx context.Context, project *Project, slot, value string) error {
	if project == nil {
		return errors.New("project is nil")
	}
	if !ValidSlot(slot) {
		return fmt.Errorf("unknown artifact slot %q", slot)
	}
	now := time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE projects SET `+slot+` = ?, updated_at = ? WHERE id = ?`,
		value,
		timestamp(now),
		project.ID,
	)
	if err != nil {
		return fmt.Errorf("update project artifact %s: %w", slot, err)
	}
	project.setArtifact(slot, value)
	project.UpdatedAt = now
	return nil
}

// SetProjectAutoConfig stores the auto-pilot configuration snapshot.
func (s *Store) SetProjectAutoConfig(ctx context.Context, project *Project, autoConfig string) error {
	if project == nil {
		return errors.New("project is nil")
	}
	now := time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE projects SET auto_config = ?, updated_at = ? WHERE id = ?`,
		autoConfig,
		timestamp(now),
		project.ID,
	)
	if err != nil {
		return fmt.Errorf("update project auto config: %w", err)
	}
	project.AutoConfig = autoConfig
	project.UpdatedAt = now
	return nil
}

func collectProjects(rows *sql.Rows) ([]*Project, error) {
	var projects []*Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

func scanProject(scanner interface{ Scan(dest ...any) error }) (*Project, error) {
	var (
		project            Project
		pipeline           string
		status             string
		createdAt, updated string
	)
	if err := scanner.Scan(
		&project.ID,
		&pipeline,
		&project.AssetID,
		&project.Name,
		&project.Description,
		&status,
		&project.AutoConfig,
		&project.NarrationScript,
		&project.LocalizedScript,
		&project.DubbingScript,
		&project.EditScript,
		&project.FinalVideo,
		&project.FactsResult,
		&project.RAGReport,
		&project.BatchID,
		&project.Version,
		&createdAt,
		&updated,
	); err != nil {
		return nil, err
	}

	project.Pipeline = state.Pipeline(pipeline)
	parsedStatus, ok := state.ParseProjectStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown project status %q", status)
	}
	project.Status = parsedStatus

	var err error
	if project.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if project.UpdatedAt, err = parseTimestamp(updated); err != nil {
		return nil, err
	}
	return &project, nil
}
