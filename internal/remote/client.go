package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"montage/internal/config"
)

const (
	headerInstanceID = "X-Instance-ID"
	headerAPIKey     = "X-Api-Key"

	servicePathPrefix = "/api/v1/"
)

// Client talks to the cloud task service over HTTP.
type Client struct {
	baseURL    *url.URL
	instanceID string
	apiKey     string
	http       *http.Client
	download   *http.Client
	upload     *http.Client
}

// NewClient builds a Client from the remote configuration section.
func NewClient(cfg config.Remote) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("remote: base url is required")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("remote: base url %q is incomplete", base)
	}
	if strings.TrimSpace(cfg.InstanceID) == "" {
		return nil, errors.New("remote: instance id is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("remote: api key is required")
	}
	return &Client{
		baseURL:    baseURL,
		instanceID: strings.TrimSpace(cfg.InstanceID),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		http:       &http.Client{Timeout: time.Duration(cfg.RequestTimeout) * time.Second},
		download:   &http.Client{Timeout: time.Duration(cfg.DownloadTimeout) * time.Second},
		upload:     &http.Client{Timeout: time.Duration(cfg.UploadTimeout) * time.Second},
	}, nil
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set(headerInstanceID, c.instanceID)
	req.Header.Set(headerAPIKey, c.apiKey)
}

// Upload pushes a local file as a multipart form and returns the remote
// reference the service assigned.
func (c *Client) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("remote: open upload source: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return "", fmt.Errorf("remote: build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("remote: read upload source: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("remote: finish upload form: %w", err)
	}

	endpoint := c.baseURL.JoinPath("api", "v1", "files", "upload")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), &body)
	if err != nil {
		return "", fmt.Errorf("remote: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.applyHeaders(req)

	resp, err := c.upload.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote: upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", responseError("upload", resp)
	}

	var payload struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("remote: decode upload response: %w", err)
	}
	if strings.TrimSpace(payload.Path) == "" {
		return "", errors.New("remote: upload response missing path")
	}
	return payload.Path, nil
}

// CreateTask submits a task and returns the remote task id.
func (c *Client) CreateTask(ctx context.Context, taskReq CreateTaskRequest) (string, error) {
	if strings.TrimSpace(taskReq.Type) == "" {
		return "", errors.New("remote: task type is required")
	}
	payload, err := json.Marshal(map[string]any{
		"type":   taskReq.Type,
		"params": taskReq.Params,
	})
	if err != nil {
		return "", fmt.Errorf("remote: encode task request: %w", err)
	}

	endpoint := c.baseURL.JoinPath("api", "v1", "tasks")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("remote: build task request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote: create task failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", responseError("create task", resp)
	}

	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("remote: decode task response: %w", err)
	}
	if strings.TrimSpace(result.TaskID) == "" {
		return "", errors.New("remote: task response missing task_id")
	}
	return result.TaskID, nil
}

// TaskStatus queries the current remote state of a task.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	if strings.TrimSpace(taskID) == "" {
		return TaskStatus{}, errors.New("remote: task id is required")
	}
	endpoint := c.baseURL.JoinPath("api", "v1", "tasks", taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("remote: build status request: %w", err)
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("remote: status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return TaskStatus{}, responseError("task status", resp)
	}

	var payload struct {
		Status     string `json:"status"`
		Message    string `json:"message"`
		ResultPath string `json:"result_path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return TaskStatus{}, fmt.Errorf("remote: decode status response: %w", err)
	}

	return TaskStatus{
		State:      parseTaskState(payload.Status),
		Message:    payload.Message,
		ResultPath: payload.ResultPath,
	}, nil
}

// Download fetches a remote reference into destPath.
func (c *Client) Download(ctx context.Context, ref, destPath string) error {
	body, err := c.open(ctx, ref)
	if err != nil {
		return err
	}
	defer body.Close()

	if dir := filepath.Dir(destPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("remote: create download directory: %w", err)
		}
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("remote: create download target: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, body); err != nil {
		return fmt.Errorf("remote: write download: %w", err)
	}
	return nil
}

// DownloadBytes fetches a remote reference into memory.
func (c *Client) DownloadBytes(ctx context.Context, ref string) ([]byte, error) {
	body, err := c.open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("remote: read download: %w", err)
	}
	return data, nil
}

func (c *Client) open(ctx context.Context, ref string) (io.ReadCloser, error) {
	target, err := c.resolveRef(ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: build download request: %w", err)
	}
	c.applyHeaders(req)

	resp, err := c.download.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: download request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, responseError("download", resp)
	}
	return resp.Body, nil
}

// resolveRef turns a remote reference into an absolute URL. Absolute URLs
// carrying the service path are rebased onto the configured base URL, which
// may differ from the host the service reports internally. Bare paths are
// treated as stored file references.
func (c *Client) resolveRef(ref string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return "", errors.New("remote: download reference is empty")
	}

	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", fmt.Errorf("remote: parse download reference: %w", err)
		}
		if idx := strings.Index(parsed.Path, servicePathPrefix); idx >= 0 {
			rebased := *c.baseURL
			rebased.Path = strings.TrimRight(c.baseURL.Path, "/") + parsed.Path[idx:]
			rebased.RawQuery = parsed.RawQuery
			return rebased.String(), nil
		}
		return trimmed, nil
	}

	if strings.HasPrefix(trimmed, servicePathPrefix) {
		rebased := *c.baseURL
		rebased.Path = strings.TrimRight(c.baseURL.Path, "/") + trimmed
		return rebased.String(), nil
	}

	endpoint := c.baseURL.JoinPath("api", "v1", "files")
	query := url.Values{}
	query.Set("path", trimmed)
	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}

func parseTaskState(value string) TaskState {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "pending", "queued", "received":
		return TaskPending
	case "running", "started", "processing":
		return TaskRunning
	case "completed", "success", "succeeded":
		return TaskCompleted
	case "failed", "failure", "error":
		return TaskFailed
	default:
		return TaskUnknown
	}
}

func responseError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		return fmt.Errorf("remote: %s failed (%s)", operation, resp.Status)
	}
	return fmt.Errorf("remote: %s failed (%s): %s", operation, resp.Status, detail)
}
