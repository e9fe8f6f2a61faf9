package api

import (
	"encoding/json"
	"time"

	"montage/internal/store"
)

// ProjectView is the wire representation of a project.
type ProjectView struct {
	ID          string            `json:"id"`
	Pipeline    string            `json:"pipeline"`
	AssetID     string            `json:"asset_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status"`
	BatchID     string            `json:"batch_id,omitempty"`
	AutoConfig  json.RawMessage   `json:"auto_config,omitempty"`
	Artifacts   map[string]string `json:"artifacts,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// JobView is the wire representation of a job.
type JobView struct {
	ID               int64      `json:"id"`
	ProjectID        string     `json:"project_id"`
	Pipeline         string     `json:"pipeline"`
	Type             string     `json:"type"`
	Status           string     `json:"status"`
	RemoteTaskID     string     `json:"remote_task_id,omitempty"`
	LastRemoteStatus string     `json:"last_remote_status,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// BatchView is the wire representation of an orchestrator batch.
type BatchView struct {
	ID              string    `json:"id"`
	Pipeline        string    `json:"pipeline"`
	SourceProjectID string    `json:"source_project_id"`
	TotalCount      int64     `json:"total_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// HealthView summarizes project and dispatch counts for the status surface.
type HealthView struct {
	TotalProjects     int `json:"total_projects"`
	PendingProjects   int `json:"pending_projects"`
	RunningProjects   int `json:"running_projects"`
	CompletedProjects int `json:"completed_projects"`
	FailedProjects    int `json:"failed_projects"`
	ActiveJobs        int `json:"active_jobs"`
	DuePolls          int `json:"due_polls"`
}

// CheckView reports one preflight check result.
type CheckView struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Running      bool        `json:"running"`
	DatabasePath string      `json:"database_path"`
	LockFilePath string      `json:"lock_file_path"`
	Health       HealthView  `json:"health"`
	Checks       []CheckView `json:"checks,omitempty"`
}

// CreateProjectRequest is accepted by POST /api/projects.
type CreateProjectRequest struct {
	Pipeline    string `json:"pipeline"`
	AssetID     string `json:"asset_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// TriggerStageRequest is accepted by POST /api/projects/{id}/stages/{stage}.
// Config carries the stage's JSON configuration verbatim.
type TriggerStageRequest struct {
	Config json.RawMessage `json:"config,omitempty"`
}

// ReviseResponse is returned by POST /api/jobs/{id}/revise.
type ReviseResponse struct {
	JobID      int64  `json:"job_id"`
	BackupPath string `json:"backup_path"`
}

// InferenceRequest is accepted by POST /api/projects/{id}/inference.
type InferenceRequest struct {
	Characters []string `json:"characters"`
	Lang       string   `json:"lang,omitempty"`
}

// CreateBatchRequest is accepted by POST /api/batches. Strategy is the
// per-stage mode and parameter-space document, passed through verbatim.
type CreateBatchRequest struct {
	SourceProjectID string          `json:"source_project_id"`
	Count           int             `json:"count"`
	Strategy        json.RawMessage `json:"strategy,omitempty"`
}

// CreateBatchResponse is returned by POST /api/batches.
type CreateBatchResponse struct {
	Batch    BatchView     `json:"batch"`
	Projects []ProjectView `json:"projects"`
}

// ProjectListResponse is returned by GET /api/projects.
type ProjectListResponse struct {
	Projects []ProjectView `json:"projects"`
}

// JobListResponse is returned by GET /api/projects/{id}/jobs.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// ErrorResponse is the body of every non-2xx daemon reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromProject converts a stored project into its wire form.
func FromProject(project *store.Project) ProjectView {
	if project == nil {
		return ProjectView{}
	}
	view := ProjectView{
		ID:          project.ID,
		Pipeline:    string(project.Pipeline),
		AssetID:     project.AssetID,
		Name:        project.Name,
		Description: project.Description,
		Status:      string(project.Status),
		BatchID:     project.BatchID,
		CreatedAt:   project.CreatedAt,
		UpdatedAt:   project.UpdatedAt,
	}
	if project.AutoConfig != "" {
		view.AutoConfig = json.RawMessage(project.AutoConfig)
	}
	artifacts := map[string]string{}
	for _, slot := range []string{
		store.SlotNarrationScript,
		store.SlotLocalizedScript,
		store.SlotDubbingScript,
		store.SlotEditScript,
		store.SlotFinalVideo,
		store.SlotFactsResult,
		store.SlotRAGReport,
	} {
		if value := project.Artifact(slot); value != "" {
			artifacts[slot] = value
		}
	}
	if len(artifacts) > 0 {
		view.Artifacts = artifacts
	}
	return view
}

// FromJob converts a stored job into its wire form.
func FromJob(job *store.Job) JobView {
	if job == nil {
		return JobView{}
	}
	return JobView{
		ID:               job.ID,
		ProjectID:        job.ProjectID,
		Pipeline:         string(job.Pipeline),
		Type:             job.JobType,
		Status:           string(job.Status),
		RemoteTaskID:     job.RemoteTaskID,
		LastRemoteStatus: job.LastRemoteStatus,
		ErrorMessage:     job.ErrorMessage,
		SubmittedAt:      job.SubmittedAt,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
	}
}

// FromBatch converts a stored batch into its wire form.
func FromBatch(batch *store.Batch) BatchView {
	if batch == nil {
		return BatchView{}
	}
	return BatchView{
		ID:              batch.ID,
		Pipeline:        string(batch.Pipeline),
		SourceProjectID: batch.SourceProjectID,
		TotalCount:      batch.TotalCount,
		CreatedAt:       batch.CreatedAt,
	}
}

// FromHealth converts a store health summary into its wire form.
func FromHealth(summary store.HealthSummary) HealthView {
	return HealthView{
		TotalProjects:     summary.TotalProjects,
		PendingProjects:   summary.PendingProjects,
		RunningProjects:   summary.RunningProjects,
		CompletedProjects: summary.CompletedProjects,
		FailedProjects:    summary.FailedProjects,
		ActiveJobs:        summary.ActiveJobs,
		DuePolls:          summary.DuePolls,
	}
}
