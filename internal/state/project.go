package state

import (
	"fmt"
	"strings"
)

// Pipeline identifies which stage ladder and job table partition an entity
// belongs to. Job ids are not unique across pipelines, so every lookup that
// starts from a job id must carry the pipeline alongside it.
type Pipeline string

const (
	PipelineCreative  Pipeline = "creative"
	PipelineInference Pipeline = "inference"
)

// ParsePipeline converts a string into a known Pipeline.
func ParsePipeline(value string) (Pipeline, bool) {
	switch Pipeline(strings.ToLower(strings.TrimSpace(value))) {
	case PipelineCreative:
		return PipelineCreative, true
	case PipelineInference:
		return PipelineInference, true
	default:
		return "", false
	}
}

// ProjectStatus represents pipeline progress on a project.
type ProjectStatus string

const (
	ProjectPending ProjectStatus = "pending"

	// Creative ladder.
	ProjectNarrationRunning      ProjectStatus = "narration_running"
	ProjectNarrationCompleted    ProjectStatus = "narration_completed"
	ProjectLocalizationRunning   ProjectStatus = "localization_running"
	ProjectLocalizationCompleted ProjectStatus = "localization_completed"
	ProjectAudioRunning          ProjectStatus = "audio_running"
	ProjectAudioCompleted        ProjectStatus = "audio_completed"
	ProjectEditRunning           ProjectStatus = "edit_running"
	ProjectEditCompleted         ProjectStatus = "edit_completed"
	ProjectSynthesisRunning      ProjectStatus = "synthesis_running"

	// Inference ladder.
	ProjectFactsRunning   ProjectStatus = "facts_running"
	ProjectFactsCompleted ProjectStatus = "facts_completed"
	ProjectRAGDeploying   ProjectStatus = "rag_deploying"

	ProjectCompleted ProjectStatus = "completed"
	ProjectFailed    ProjectStatus = "failed"
)

var creativeOrder = []ProjectStatus{
	ProjectPending,
	ProjectNarrationRunning,
	ProjectNarrationCompleted,
	ProjectLocalizationRunning,
	ProjectLocalizationCompleted,
	ProjectAudioRunning,
	ProjectAudioCompleted,
	ProjectEditRunning,
	ProjectEditCompleted,
	ProjectSynthesisRunning,
	ProjectCompleted,
}

var inferenceOrder = []ProjectStatus{
	ProjectPending,
	ProjectFactsRunning,
	ProjectFactsCompleted,
	ProjectRAGDeploying,
	ProjectCompleted,
}

var runningStatuses = map[ProjectStatus]struct{}{
	ProjectNarrationRunning:    {},
	ProjectLocalizationRunning: {},
	ProjectAudioRunning:        {},
	ProjectEditRunning:         {},
	ProjectSynthesisRunning:    {},
	ProjectFactsRunning:        {},
	ProjectRAGDeploying:        {},
}

// StatusOrder returns the ordered ladder for a pipeline.
func StatusOrder(pipeline Pipeline) []ProjectStatus {
	var order []ProjectStatus
	switch pipeline {
	case PipelineInference:
		order = inferenceOrder
	default:
		order = creativeOrder
	}
	cp := make([]ProjectStatus, len(order))
	copy(cp, order)
	return cp
}

func statusIndex(pipeline Pipeline, status ProjectStatus) (int, bool) {
	for i, candidate := range StatusOrder(pipeline) {
		if candidate == status {
			return i, true
		}
	}
	return 0, false
}

// ParseProjectStatus maps a stored string onto a known project status.
func ParseProjectStatus(value string) (ProjectStatus, bool) {
	status := ProjectStatus(value)
	if status == ProjectFailed {
		return status, true
	}
	for _, pipeline := range []Pipeline{PipelineCreative, PipelineInference} {
		if _, ok := statusIndex(pipeline, status); ok {
			return status, true
		}
	}
	return "", false
}

// IsRunning reports whether a stage is currently in flight for the status.
func (s ProjectStatus) IsRunning() bool {
	_, ok := runningStatuses[s]
	return ok
}

// AdvanceProject validates a forward move along the pipeline ladder.
// ProjectFailed is reachable from any running state. Skipped optional stages
// (localization) are covered by the ordering check: any strictly later rung
// is a legal target.
func AdvanceProject(pipeline Pipeline, from, to ProjectStatus) error {
	if to == ProjectFailed {
		if from.IsRunning() || from == ProjectPending {
			return nil
		}
		return fmt.Errorf("%w: project fail from %s", ErrIllegalTransition, from)
	}
	fromIdx, ok := statusIndex(pipeline, from)
	if !ok {
		return fmt.Errorf("%w: unknown project status %q for %s pipeline", ErrIllegalTransition, from, pipeline)
	}
	toIdx, ok := statusIndex(pipeline, to)
	if !ok {
		return fmt.Errorf("%w: unknown project status %q for %s pipeline", ErrIllegalTransition, to, pipeline)
	}
	if toIdx <= fromIdx {
		return fmt.Errorf("%w: project %s -> %s moves backward", ErrIllegalTransition, from, to)
	}
	return nil
}

// RegressProject validates the audited regression used by the revise
// operation: the only legal backward move is onto an earlier running rung.
func RegressProject(pipeline Pipeline, from, to ProjectStatus) error {
	if !to.IsRunning() {
		return fmt.Errorf("%w: revise must target a running status, got %s", ErrIllegalTransition, to)
	}
	fromIdx, ok := statusIndex(pipeline, from)
	if !ok {
		return fmt.Errorf("%w: unknown project status %q for %s pipeline", ErrIllegalTransition, from, pipeline)
	}
	toIdx, ok := statusIndex(pipeline, to)
	if !ok {
		return fmt.Errorf("%w: unknown project status %q for %s pipeline", ErrIllegalTransition, to, pipeline)
	}
	if toIdx > fromIdx {
		return fmt.Errorf("%w: %s -> %s is not a regression", ErrIllegalTransition, from, to)
	}
	return nil
}
