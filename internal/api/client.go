package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a running montage daemon over its HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for the daemon at baseURL. token may be empty
// when the daemon runs without authentication.
func NewClient(baseURL, token string) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("daemon address is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("parse daemon address: %w", err)
	}
	return &Client{
		baseURL: trimmed,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Status fetches daemon runtime and health information.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// ListProjects returns all projects, optionally filtered by status.
func (c *Client) ListProjects(ctx context.Context, statuses ...string) ([]ProjectView, error) {
	path := "/api/projects"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var out ProjectListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

// CreateProject registers a new project.
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (ProjectView, error) {
	var out ProjectView
	err := c.do(ctx, http.MethodPost, "/api/projects", req, &out)
	return out, err
}

// GetProject fetches one project by id.
func (c *Client) GetProject(ctx context.Context, id string) (ProjectView, error) {
	var out ProjectView
	err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(id), nil, &out)
	return out, err
}

// ListJobs returns the job history of a project, newest first.
func (c *Client) ListJobs(ctx context.Context, projectID string) ([]JobView, error) {
	var out JobListResponse
	err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(projectID)+"/jobs", nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// TriggerStage starts a creative stage on a project.
func (c *Client) TriggerStage(ctx context.Context, projectID, stage string, config json.RawMessage) (JobView, error) {
	var out JobView
	path := "/api/projects/" + url.PathEscape(projectID) + "/stages/" + url.PathEscape(stage)
	err := c.do(ctx, http.MethodPost, path, TriggerStageRequest{Config: config}, &out)
	return out, err
}

// Revise reopens a completed job for revision, backing up its artifact.
func (c *Client) Revise(ctx context.Context, jobID int64) (ReviseResponse, error) {
	var out ReviseResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+strconv.FormatInt(jobID, 10)+"/revise", nil, &out)
	return out, err
}

// StartInference starts the facts extraction chain on an inference project.
func (c *Client) StartInference(ctx context.Context, projectID string, req InferenceRequest) (JobView, error) {
	var out JobView
	err := c.do(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/inference", req, &out)
	return out, err
}

// CreateBatch spawns a batch of derived projects from a source project.
func (c *Client) CreateBatch(ctx context.Context, req CreateBatchRequest) (CreateBatchResponse, error) {
	var out CreateBatchResponse
	err := c.do(ctx, http.MethodPost, "/api/batches", req, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure ErrorResponse
		if json.Unmarshal(payload, &failure) == nil && failure.Error != "" {
			return fmt.Errorf("daemon: %s", failure.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
