package state_test

import (
	"errors"
	"testing"

	"montage/internal/state"
)

func TestAdvanceProjectForwardOnly(t *testing.T) {
	order := state.StatusOrder(state.PipelineCreative)
	for i := 1; i < len(order); i++ {
		if err := state.AdvanceProject(state.PipelineCreative, order[i-1], order[i]); err != nil {
			t.Fatalf("advance %s -> %s: %v", order[i-1], order[i], err)
		}
		if err := state.AdvanceProject(state.PipelineCreative, order[i], order[i-1]); !errors.Is(err, state.ErrIllegalTransition) {
			t.Fatalf("backward %s -> %s: expected ErrIllegalTransition, got %v", order[i], order[i-1], err)
		}
	}
}

func TestAdvanceProjectSkipsLocalization(t *testing.T) {
	err := state.AdvanceProject(state.PipelineCreative, state.ProjectNarrationCompleted, state.ProjectAudioRunning)
	if err != nil {
		t.Fatalf("narration_completed -> audio_running should be legal: %v", err)
	}
}

func TestAdvanceProjectToFailed(t *testing.T) {
	if err := state.AdvanceProject(state.PipelineCreative, state.ProjectEditRunning, state.ProjectFailed); err != nil {
		t.Fatalf("running -> failed: %v", err)
	}
	if err := state.AdvanceProject(state.PipelineCreative, state.ProjectCompleted, state.ProjectFailed); !errors.Is(err, state.ErrIllegalTransition) {
		t.Fatalf("completed -> failed should be rejected, got %v", err)
	}
}

func TestRegressProject(t *testing.T) {
	err := state.RegressProject(state.PipelineCreative, state.ProjectEditCompleted, state.ProjectAudioRunning)
	if err != nil {
		t.Fatalf("regress to earlier running rung: %v", err)
	}
	err = state.RegressProject(state.PipelineCreative, state.ProjectAudioCompleted, state.ProjectEditCompleted)
	if !errors.Is(err, state.ErrIllegalTransition) {
		t.Fatalf("regress must target a running status, got %v", err)
	}
}

func TestInferenceLadder(t *testing.T) {
	order := state.StatusOrder(state.PipelineInference)
	want := []state.ProjectStatus{
		state.ProjectPending,
		state.ProjectFactsRunning,
		state.ProjectFactsCompleted,
		state.ProjectRAGDeploying,
		state.ProjectCompleted,
	}
	if len(order) != len(want) {
		t.Fatalf("inference ladder length = %d, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("inference ladder[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestParsePipeline(t *testing.T) {
	if p, ok := state.ParsePipeline("Creative"); !ok || p != state.PipelineCreative {
		t.Fatalf("ParsePipeline: got %q %v", p, ok)
	}
	if _, ok := state.ParsePipeline("transcoding"); ok {
		t.Fatal("expected unknown pipeline to be rejected")
	}
}
