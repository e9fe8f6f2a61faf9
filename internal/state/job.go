package state

import (
	"errors"
	"fmt"
	"strings"
)

// JobStatus represents the lifecycle of an atomic job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobRevising   JobStatus = "revising"
	JobError      JobStatus = "error"
	JobQAPending  JobStatus = "qa_pending"
)

// ErrIllegalTransition reports a transition attempted from a state outside
// the trigger's allowed sources. It is always a caller bug and never retried.
var ErrIllegalTransition = errors.New("illegal transition")

var allJobStatuses = []JobStatus{
	JobPending,
	JobProcessing,
	JobCompleted,
	JobRevising,
	JobError,
	JobQAPending,
}

var jobStatusSet = func() map[JobStatus]struct{} {
	set := make(map[JobStatus]struct{}, len(allJobStatuses))
	for _, status := range allJobStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Trigger names a job transition.
type Trigger string

const (
	TriggerStart      Trigger = "start"
	TriggerComplete   Trigger = "complete"
	TriggerRevise     Trigger = "revise"
	TriggerFail       Trigger = "fail"
	TriggerQueueForQA Trigger = "queue_for_qa"
)

type jobRule struct {
	sources []JobStatus // nil means any source
	target  JobStatus
}

var jobRules = map[Trigger]jobRule{
	TriggerStart:      {sources: nil, target: JobProcessing},
	TriggerComplete:   {sources: []JobStatus{JobProcessing, JobRevising, JobError}, target: JobCompleted},
	TriggerRevise:     {sources: []JobStatus{JobCompleted}, target: JobRevising},
	TriggerFail:       {sources: nil, target: JobError},
	TriggerQueueForQA: {sources: []JobStatus{JobProcessing}, target: JobQAPending},
}

// Transition validates current against the allowed sources and returns the
// target. A nil or empty sources slice acts as the wildcard. The input status
// is never mutated; on failure the caller keeps its current state.
func Transition(current JobStatus, trigger Trigger, sources []JobStatus, target JobStatus) (JobStatus, error) {
	if len(sources) == 0 {
		return target, nil
	}
	for _, source := range sources {
		if source == current {
			return target, nil
		}
	}
	return current, fmt.Errorf("%w: %s from %s", ErrIllegalTransition, trigger, current)
}

// ApplyJob resolves the canonical rule for trigger and applies it to current.
func ApplyJob(current JobStatus, trigger Trigger) (JobStatus, error) {
	rule, ok := jobRules[trigger]
	if !ok {
		return current, fmt.Errorf("%w: unknown trigger %q", ErrIllegalTransition, trigger)
	}
	return Transition(current, trigger, rule.sources, rule.target)
}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := jobStatusSet[normalized]
	return normalized, ok
}

// JobStatuses returns the ordered list of known job statuses.
func JobStatuses() []JobStatus {
	cp := make([]JobStatus, len(allJobStatuses))
	copy(cp, allJobStatuses)
	return cp
}

// IsActive reports whether a job still occupies its type's single active
// slot within a project.
func (s JobStatus) IsActive() bool {
	return s == JobPending || s == JobProcessing
}

// IsTerminal reports whether the job reached a resting state.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobError
}
