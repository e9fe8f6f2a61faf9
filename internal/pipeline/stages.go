package pipeline

import (
	"fmt"
	"strings"

	"montage/internal/services"
	"montage/internal/state"
	"montage/internal/store"
)

// Stage names one step of the creative pipeline.
type Stage string

const (
	StageNarration    Stage = "narration"
	StageLocalization Stage = "localization"
	StageAudio        Stage = "audio"
	StageEdit         Stage = "edit"
	StageSynthesis    Stage = "synthesis"
)

// Job type discriminators. These are stable identifiers persisted on jobs
// and used as registry keys; the remote task type is a separate field
// because the two drifted apart historically (edit jobs submit
// GENERATE_EDITING_SCRIPT tasks).
const (
	JobTypeNarration    = "GENERATE_NARRATION"
	JobTypeLocalization = "LOCALIZE_NARRATION"
	JobTypeAudio        = "GENERATE_AUDIO"
	JobTypeEdit         = "GENERATE_EDIT_SCRIPT"
	JobTypeSynthesis    = "SYNTHESIS"

	JobTypeFacts = "FACTS"
	JobTypeRAG   = "RAG_DEPLOYMENT"
)

type stageSpec struct {
	// ready lists every project status the stage may start from.
	ready    []state.ProjectStatus
	running  state.ProjectStatus
	done     state.ProjectStatus
	jobType  string
	taskType string
	slot     string
}

// Localization is optional, so audio accepts both the narration-completed
// and localization-completed rungs.
var creativeStages = map[Stage]stageSpec{
	StageNarration: {
		ready:    []state.ProjectStatus{state.ProjectPending},
		running:  state.ProjectNarrationRunning,
		done:     state.ProjectNarrationCompleted,
		jobType:  JobTypeNarration,
		taskType: "GENERATE_NARRATION",
		slot:     store.SlotNarrationScript,
	},
	StageLocalization: {
		ready:    []state.ProjectStatus{state.ProjectNarrationCompleted},
		running:  state.ProjectLocalizationRunning,
		done:     state.ProjectLocalizationCompleted,
		jobType:  JobTypeLocalization,
		taskType: "LOCALIZE_NARRATION",
		slot:     store.SlotLocalizedScript,
	},
	StageAudio: {
		ready:    []state.ProjectStatus{state.ProjectNarrationCompleted, state.ProjectLocalizationCompleted},
		running:  state.ProjectAudioRunning,
		done:     state.ProjectAudioCompleted,
		jobType:  JobTypeAudio,
		taskType: "GENERATE_DUBBING",
		slot:     store.SlotDubbingScript,
	},
	StageEdit: {
		ready:    []state.ProjectStatus{state.ProjectAudioCompleted},
		running:  state.ProjectEditRunning,
		done:     state.ProjectEditCompleted,
		jobType:  JobTypeEdit,
		taskType: "GENERATE_EDITING_SCRIPT",
		slot:     store.SlotEditScript,
	},
	StageSynthesis: {
		ready:    []state.ProjectStatus{state.ProjectEditCompleted},
		running:  state.ProjectSynthesisRunning,
		done:     state.ProjectCompleted,
		jobType:  JobTypeSynthesis,
		slot:     store.SlotFinalVideo,
	},
}

// ParseStage converts user input into a known creative stage.
func ParseStage(value string) (Stage, bool) {
	stage := Stage(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := creativeStages[stage]; ok {
		return stage, true
	}
	return "", false
}

// Stages returns the creative stages in pipeline order.
func Stages() []Stage {
	return []Stage{StageNarration, StageLocalization, StageAudio, StageEdit, StageSynthesis}
}

// stageForJobType maps a job type back to its creative stage.
func stageForJobType(jobType string) (Stage, bool) {
	for stage, spec := range creativeStages {
		if spec.jobType == jobType {
			return stage, true
		}
	}
	return "", false
}

// checkReady validates that a project may start the given stage.
func checkReady(stage Stage, status state.ProjectStatus) error {
	spec := creativeStages[stage]
	for _, ready := range spec.ready {
		if status == ready {
			return nil
		}
	}
	return services.Wrap(services.ErrStageNotReady, string(stage), "trigger",
		fmt.Sprintf("stage %s requires project status %s, have %s", stage, readyList(spec.ready), status), nil)
}

func readyList(statuses []state.ProjectStatus) string {
	parts := make([]string, len(statuses))
	for i, status := range statuses {
		parts[i] = string(status)
	}
	return strings.Join(parts, " or ")
}
