package state_test

import (
	"errors"
	"testing"

	"montage/internal/state"
)

func TestApplyJobLifecycle(t *testing.T) {
	status := state.JobPending

	steps := []struct {
		trigger state.Trigger
		want    state.JobStatus
	}{
		{state.TriggerStart, state.JobProcessing},
		{state.TriggerComplete, state.JobCompleted},
		{state.TriggerRevise, state.JobRevising},
		{state.TriggerComplete, state.JobCompleted},
	}
	for _, step := range steps {
		next, err := state.ApplyJob(status, step.trigger)
		if err != nil {
			t.Fatalf("ApplyJob(%s, %s): %v", status, step.trigger, err)
		}
		if next != step.want {
			t.Fatalf("ApplyJob(%s, %s) = %s, want %s", status, step.trigger, next, step.want)
		}
		status = next
	}
}

func TestApplyJobRejectsIllegalSources(t *testing.T) {
	cases := []struct {
		name    string
		current state.JobStatus
		trigger state.Trigger
	}{
		{"complete from pending", state.JobPending, state.TriggerComplete},
		{"complete from qa_pending", state.JobQAPending, state.TriggerComplete},
		{"revise from processing", state.JobProcessing, state.TriggerRevise},
		{"revise from error", state.JobError, state.TriggerRevise},
		{"queue_for_qa from completed", state.JobCompleted, state.TriggerQueueForQA},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := state.ApplyJob(tc.current, tc.trigger)
			if !errors.Is(err, state.ErrIllegalTransition) {
				t.Fatalf("expected ErrIllegalTransition, got %v", err)
			}
			if next != tc.current {
				t.Fatalf("state changed on illegal transition: %s -> %s", tc.current, next)
			}
		})
	}
}

func TestApplyJobWildcardTriggers(t *testing.T) {
	for _, current := range state.JobStatuses() {
		next, err := state.ApplyJob(current, state.TriggerFail)
		if err != nil {
			t.Fatalf("fail from %s: %v", current, err)
		}
		if next != state.JobError {
			t.Fatalf("fail from %s = %s, want %s", current, next, state.JobError)
		}

		next, err = state.ApplyJob(current, state.TriggerStart)
		if err != nil {
			t.Fatalf("start from %s: %v", current, err)
		}
		if next != state.JobProcessing {
			t.Fatalf("start from %s = %s, want %s", current, next, state.JobProcessing)
		}
	}
}

func TestApplyJobCompleteFromError(t *testing.T) {
	next, err := state.ApplyJob(state.JobError, state.TriggerComplete)
	if err != nil {
		t.Fatalf("complete from error: %v", err)
	}
	if next != state.JobCompleted {
		t.Fatalf("complete from error = %s, want %s", next, state.JobCompleted)
	}
}

func TestQueueForQA(t *testing.T) {
	next, err := state.ApplyJob(state.JobProcessing, state.TriggerQueueForQA)
	if err != nil {
		t.Fatalf("queue_for_qa from processing: %v", err)
	}
	if next != state.JobQAPending {
		t.Fatalf("queue_for_qa = %s, want %s", next, state.JobQAPending)
	}
}

func TestParseJobStatus(t *testing.T) {
	if status, ok := state.ParseJobStatus(" Processing "); !ok || status != state.JobProcessing {
		t.Fatalf("ParseJobStatus: got %q %v", status, ok)
	}
	if _, ok := state.ParseJobStatus("bogus"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}
