package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"montage/internal/api"
	"montage/internal/config"
	"montage/internal/logging"
	"montage/internal/pipeline"
	"montage/internal/preflight"
	"montage/internal/services"
	"montage/internal/state"
	"montage/internal/store"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  strings.TrimSpace(cfg.Paths.APIToken),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.auth(srv.handleStatus))
	mux.HandleFunc("/api/projects", srv.auth(srv.handleProjects))
	mux.HandleFunc("/api/projects/", srv.auth(srv.handleProjectSubtree))
	mux.HandleFunc("/api/jobs/", srv.auth(srv.handleJobSubtree))
	mux.HandleFunc("/api/batches", srv.auth(srv.handleBatches))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// auth validates bearer tokens when one is configured; otherwise requests
// pass through.
func (s *apiServer) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.token {
			s.writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next(w, r)
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	health, err := s.daemon.store.Health(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	checks := preflight.RunAll(r.Context(), s.daemon.cfg)
	views := make([]api.CheckView, 0, len(checks))
	for _, check := range checks {
		views = append(views, api.CheckView{Name: check.Name, Passed: check.Passed, Detail: check.Detail})
	}

	s.writeJSON(w, http.StatusOK, api.StatusResponse{
		Running:      s.daemon.running.Load(),
		DatabasePath: s.daemon.store.Path(),
		LockFilePath: s.daemon.lockPath,
		Health:       api.FromHealth(health),
		Checks:       views,
	})
}

func (s *apiServer) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var statuses []state.ProjectStatus
		for _, value := range r.URL.Query()["status"] {
			status, ok := state.ParseProjectStatus(strings.TrimSpace(value))
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown project status %q", value))
				return
			}
			statuses = append(statuses, status)
		}
		projects, err := s.daemon.store.ListProjects(r.Context(), statuses...)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		views := make([]api.ProjectView, 0, len(projects))
		for _, project := range projects {
			views = append(views, api.FromProject(project))
		}
		s.writeJSON(w, http.StatusOK, api.ProjectListResponse{Projects: views})

	case http.MethodPost:
		var req api.CreateProjectRequest
		if !s.decode(w, r, &req) {
			return
		}
		pipelineKind, ok := state.ParsePipeline(req.Pipeline)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown pipeline %q", req.Pipeline))
			return
		}
		if strings.TrimSpace(req.AssetID) == "" {
			s.writeError(w, http.StatusBadRequest, errors.New("asset_id is required"))
			return
		}
		project := &store.Project{
			Pipeline:    pipelineKind,
			AssetID:     strings.TrimSpace(req.AssetID),
			Name:        strings.TrimSpace(req.Name),
			Description: req.Description,
		}
		if err := s.daemon.store.CreateProject(r.Context(), project); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, api.FromProject(project))

	default:
		s.methodNotAllowed(w)
	}
}

// handleProjectSubtree routes /api/projects/{id}[/jobs|/stages/{stage}|/inference].
func (s *apiServer) handleProjectSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, errors.New("project not found"))
		return
	}
	projectID := parts[0]

	switch {
	case len(parts) == 1:
		s.handleProjectGet(w, r, projectID)
	case len(parts) == 2 && parts[1] == "jobs":
		s.handleProjectJobs(w, r, projectID)
	case len(parts) == 3 && parts[1] == "stages":
		s.handleStageTrigger(w, r, projectID, parts[2])
	case len(parts) == 2 && parts[1] == "inference":
		s.handleInference(w, r, projectID)
	default:
		s.writeError(w, http.StatusNotFound, errors.New("unknown route"))
	}
}

func (s *apiServer) handleProjectGet(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	project, err := s.daemon.store.GetProject(r.Context(), projectID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if project == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("project %s not found", projectID))
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromProject(project))
}

func (s *apiServer) handleProjectJobs(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	jobs, err := s.daemon.store.ListJobs(r.Context(), projectID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]api.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, api.FromJob(job))
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: views})
}

func (s *apiServer) handleStageTrigger(w http.ResponseWriter, r *http.Request, projectID, stageName string) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	stage, ok := pipeline.ParseStage(stageName)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown stage %q", stageName))
		return
	}
	var req api.TriggerStageRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.daemon.controller.TriggerStage(r.Context(), projectID, stage, req.Config)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.FromJob(job))
}

func (s *apiServer) handleInference(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	var req api.InferenceRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.daemon.controller.StartInference(r.Context(), projectID, req.Characters, req.Lang)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.FromJob(job))
}

// handleJobSubtree routes /api/jobs/{id}/revise.
func (s *apiServer) handleJobSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "revise" {
		s.writeError(w, http.StatusNotFound, errors.New("unknown route"))
		return
	}
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	jobID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid job id"))
		return
	}
	backup, err := s.daemon.controller.Revise(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ReviseResponse{JobID: jobID, BackupPath: backup})
}

func (s *apiServer) handleBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	var req api.CreateBatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	var strategy pipeline.Strategy
	if len(req.Strategy) > 0 {
		if err := json.Unmarshal(req.Strategy, &strategy); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse strategy: %w", err))
			return
		}
	}
	batch, projects, err := s.daemon.orchestrator.CreateBatch(r.Context(), req.SourceProjectID, req.Count, strategy)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]api.ProjectView, 0, len(projects))
	for _, project := range projects {
		views = append(views, api.FromProject(project))
	}
	s.writeJSON(w, http.StatusCreated, api.CreateBatchResponse{
		Batch:    api.FromBatch(batch),
		Projects: views,
	})
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, out); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse body: %w", err))
		return false
	}
	return true
}

// writeServiceError maps sentinel errors from the service layer onto HTTP
// status codes.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrConfiguration):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, services.ErrStageNotReady), errors.Is(err, state.ErrIllegalTransition):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, err error) {
	message := "internal error"
	if err != nil {
		message = err.Error()
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) methodNotAllowed(w http.ResponseWriter) {
	s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}
