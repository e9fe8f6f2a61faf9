package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"montage/internal/remote"
)

// RemoteStub is an in-memory remote.API for tests. Every uploaded file is
// recorded; created tasks receive sequential ids and complete immediately
// with a per-task result reference unless a hook overrides the behavior.
type RemoteStub struct {
	mu sync.Mutex

	Uploads     []string
	Created     []remote.CreateTaskRequest
	Downloads   []string
	nextTask    int
	uploadErr   error
	createErr   error
	downloadErr error

	// Documents maps a remote reference to the bytes Download writes.
	// Missing references fall back to an empty JSON object.
	Documents map[string][]byte

	// StatusFn, when set, replaces the default immediately-completed
	// status behavior.
	StatusFn func(taskID string) (remote.TaskStatus, error)
}

// NewRemoteStub returns a stub with empty recording state.
func NewRemoteStub() *RemoteStub {
	return &RemoteStub{Documents: make(map[string][]byte)}
}

// FailUploads makes every Upload call return err.
func (r *RemoteStub) FailUploads(err error) { r.uploadErr = err }

// FailCreates makes every CreateTask call return err.
func (r *RemoteStub) FailCreates(err error) { r.createErr = err }

// FailDownloads makes every Download call return err.
func (r *RemoteStub) FailDownloads(err error) { r.downloadErr = err }

func (r *RemoteStub) Upload(ctx context.Context, localPath string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.uploadErr != nil {
		return "", r.uploadErr
	}
	ref := "uploads/" + filepath.Base(localPath)
	r.Uploads = append(r.Uploads, localPath)
	return ref, nil
}

func (r *RemoteStub) CreateTask(ctx context.Context, req remote.CreateTaskRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return "", r.createErr
	}
	r.nextTask++
	r.Created = append(r.Created, req)
	return fmt.Sprintf("task-%d", r.nextTask), nil
}

func (r *RemoteStub) TaskStatus(ctx context.Context, taskID string) (remote.TaskStatus, error) {
	r.mu.Lock()
	statusFn := r.StatusFn
	r.mu.Unlock()
	if statusFn != nil {
		return statusFn(taskID)
	}
	return remote.TaskStatus{State: remote.TaskCompleted, ResultPath: "results/" + taskID + ".json"}, nil
}

func (r *RemoteStub) Download(ctx context.Context, ref, destPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.downloadErr != nil {
		return r.downloadErr
	}
	r.Downloads = append(r.Downloads, ref)
	content, ok := r.Documents[ref]
	if !ok {
		content = []byte("{}")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, content, 0o644)
}

func (r *RemoteStub) DownloadBytes(ctx context.Context, ref string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.downloadErr != nil {
		return nil, r.downloadErr
	}
	r.Downloads = append(r.Downloads, ref)
	if content, ok := r.Documents[ref]; ok {
		return content, nil
	}
	return []byte("{}"), nil
}

// DownloadCount returns how many times ref was fetched.
func (r *RemoteStub) DownloadCount(ref string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, d := range r.Downloads {
		if d == ref {
			count++
		}
	}
	return count
}
