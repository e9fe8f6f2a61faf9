package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSubmission marks a failed remote upload or task creation. Submission
	// failures surface immediately to the caller and are never retried.
	ErrSubmission = errors.New("submission error")
	// ErrTransientPoll marks a failed remote status query. Retried up to the
	// dispatch engine's failure budget.
	ErrTransientPoll = errors.New("transient poll error")
	// ErrRemoteFailed marks a remote task that reported FAILED or an
	// unrecognized status. Terminal.
	ErrRemoteFailed = errors.New("remote task failed")
	// ErrArtifactDownload marks a finalize-time download failure. Terminal:
	// the job goes to error and the project to failed.
	ErrArtifactDownload = errors.New("artifact download error")
	// ErrSynthesisStep marks a non-zero exit from the external transcoder.
	// Carries the captured diagnostic stream.
	ErrSynthesisStep = errors.New("synthesis step error")
	// ErrStageNotReady marks a stage trigger against a project whose status
	// is not the stage's ready state.
	ErrStageNotReady = errors.New("stage not ready")

	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransientPoll
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTerminal reports whether an error must stop polling and fail the job.
func IsTerminal(err error) bool {
	switch {
	case errors.Is(err, ErrRemoteFailed),
		errors.Is(err, ErrArtifactDownload),
		errors.Is(err, ErrSynthesisStep),
		errors.Is(err, ErrSubmission),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound):
		return true
	default:
		return false
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
