package store

import (
	"time"

	"montage/internal/state"
)

// Artifact slot names used by the creative and inference pipelines. Each
// maps to a dedicated column on the projects table.
const (
	SlotNarrationScript = "narration_script"
	SlotLocalizedScript = "localized_script"
	SlotDubbingScript   = "dubbing_script"
	SlotEditScript      = "edit_script"
	SlotFinalVideo      = "final_video"
	SlotFactsResult     = "facts_result"
	SlotRAGReport       = "rag_report"
)

var artifactSlots = map[string]struct{}{
	SlotNarrationScript: {},
	SlotLocalizedScript: {},
	SlotDubbingScript:   {},
	SlotEditScript:      {},
	SlotFinalVideo:      {},
	SlotFactsResult:     {},
	SlotRAGReport:       {},
}

// ValidSlot reports whether name is a known artifact slot.
func ValidSlot(name string) bool {
	_, ok := artifactSlots[name]
	return ok
}

// Project represents a production project persisted in SQLite.
type Project struct {
	ID          string
	Pipeline    state.Pipeline
	AssetID     string
	Name        string
	Description string
	Status      state.ProjectStatus
	AutoConfig  string
	BatchID     string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	NarrationScript string
	LocalizedScript string
	DubbingScript   string
	EditScript      string
	FinalVideo      string
	FactsResult     string
	RAGReport       string
}

// Artifact returns the artifact reference stored in the named slot.
func (p *Project) Artifact(slot string) string {
	switch slot {
	case SlotNarrationScript:
		return p.NarrationScript
	case SlotLocalizedScript:
		return p.LocalizedScript
	case SlotDubbingScript:
		return p.DubbingScript
	case SlotEditScript:
		return p.EditScript
	case SlotFinalVideo:
		return p.FinalVideo
	case SlotFactsResult:
		return p.FactsResult
	case SlotRAGReport:
		return p.RAGReport
	}
	return ""
}

func (p *Project) setArtifact(slot, value string) {
	switch slot {
	case SlotNarrationScript:
		p.NarrationScript = value
	case SlotLocalizedScript:
		p.LocalizedScript = value
	case SlotDubbingScript:
		p.DubbingScript = value
	case SlotEditScript:
		p.EditScript = value
	case SlotFinalVideo:
		p.FinalVideo = value
	case SlotFactsResult:
		p.FactsResult = value
	case SlotRAGReport:
		p.RAGReport = value
	}
}

// Job represents one unit of remote or local work for a project. Jobs are
// never deleted; they are the audit trail of everything a project ran.
type Job struct {
	ID               int64
	ProjectID        string
	Pipeline         state.Pipeline
	JobType          string
	Status           state.JobStatus
	InputParams      string
	RemoteTaskID     string
	LastRemoteStatus string
	ArtifactBackups  int64
	ErrorMessage     string
	SubmittedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PollMessage schedules one status poll for a submitted remote task.
type PollMessage struct {
	ID              int64
	Pipeline        state.Pipeline
	JobID           int64
	JobType         string
	RemoteTaskID    string
	DueAt           time.Time
	PollAttempts    int64
	FailureAttempts int64
	Claimed         bool
	CreatedAt       time.Time
}

// Batch records one orchestrator run that spawned a group of projects.
type Batch struct {
	ID              string
	Pipeline        state.Pipeline
	SourceProjectID string
	TotalCount      int64
	Strategy        string
	CreatedAt       time.Time
}

// HealthSummary describes aggregated project and job counts.
type HealthSummary struct {
	TotalProjects     int
	PendingProjects   int
	RunningProjects   int
	CompletedProjects int
	FailedProjects    int
	ActiveJobs        int
	DuePolls          int
}
