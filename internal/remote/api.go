package remote

import "context"

// TaskState is the remote lifecycle of a submitted task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskUnknown   TaskState = "unknown"
)

// Incomplete reports whether the task is still in flight.
func (s TaskState) Incomplete() bool {
	return s == TaskPending || s == TaskRunning
}

// TaskStatus is one status snapshot for a remote task.
type TaskStatus struct {
	State      TaskState
	Message    string
	ResultPath string
}

// CreateTaskRequest describes a remote task submission.
type CreateTaskRequest struct {
	Type   string
	Params map[string]any
}

// API is the remote surface the dispatch engine and finalize handlers use.
// The production implementation is Client; tests substitute fakes.
type API interface {
	// Upload pushes a local file and returns its remote reference.
	Upload(ctx context.Context, localPath string) (string, error)
	// CreateTask submits a task and returns the remote task id.
	CreateTask(ctx context.Context, req CreateTaskRequest) (string, error)
	// TaskStatus queries one status snapshot for a task.
	TaskStatus(ctx context.Context, taskID string) (TaskStatus, error)
	// Download fetches a remote reference into destPath, creating parent
	// directories as needed.
	Download(ctx context.Context, ref, destPath string) error
	// DownloadBytes fetches a remote reference into memory.
	DownloadBytes(ctx context.Context, ref string) ([]byte, error)
}
