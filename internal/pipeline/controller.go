package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"montage/internal/config"
	"montage/internal/dispatch"
	"montage/internal/logging"
	"montage/internal/remote"
	"montage/internal/services"
	"montage/internal/state"
	"montage/internal/store"
	"montage/internal/synthesis"
)

// Controller gates stage starts, snapshots stage configuration, and owns
// the finalize handlers for both pipelines.
type Controller struct {
	store  *store.Store
	api    remote.API
	engine *dispatch.Engine
	synth  *synthesis.Engine
	cfg    *config.Config
	logger *slog.Logger
}

// New builds a Controller. Call Register before the dispatch engine starts
// so completed tasks always find their handler.
func New(st *store.Store, api remote.API, engine *dispatch.Engine, synth *synthesis.Engine, cfg *config.Config, logger *slog.Logger) *Controller {
	return &Controller{
		store:  st,
		api:    api,
		engine: engine,
		synth:  synth,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Register binds every finalize handler into the dispatch registry.
func (c *Controller) Register(registry *dispatch.Registry) {
	registry.Register(state.PipelineCreative, JobTypeNarration, c.finalizeScriptStage(StageNarration))
	registry.Register(state.PipelineCreative, JobTypeLocalization, c.finalizeScriptStage(StageLocalization))
	registry.Register(state.PipelineCreative, JobTypeAudio, c.finalizeScriptStage(StageAudio))
	registry.Register(state.PipelineCreative, JobTypeEdit, c.finalizeScriptStage(StageEdit))
	registry.Register(state.PipelineInference, JobTypeFacts, c.finalizeFacts)
	registry.Register(state.PipelineInference, JobTypeRAG, c.finalizeRAG)
}

// Workspace layout. Blueprints and source media live per asset; downloads
// and intermediates live per project.
func (c *Controller) projectDir(projectID string) string {
	return filepath.Join(c.cfg.Paths.WorkspaceDir, "projects", projectID)
}

func (c *Controller) outputsDir(projectID string) string {
	return filepath.Join(c.projectDir(projectID), "outputs")
}

func (c *Controller) blueprintPath(assetID string) string {
	return filepath.Join(c.cfg.Paths.WorkspaceDir, "assets", assetID, "blueprint.json")
}

func (c *Controller) sourceMediaDir(assetID string) string {
	return filepath.Join(c.cfg.Paths.WorkspaceDir, "assets", assetID, "media")
}

// TriggerStage starts one creative stage for a project. conf, when present,
// is the stage's JSON configuration; it is merged into the project's
// auto_config snapshot before the job is created so a re-trigger or batch
// run reproduces the same settings. The created job is returned.
func (c *Controller) TriggerStage(ctx context.Context, projectID string, stage Stage, conf json.RawMessage) (*store.Job, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, services.Wrap(services.ErrNotFound, string(stage), "trigger", fmt.Sprintf("project %s not found", projectID), nil)
	}
	if project.Pipeline != state.PipelineCreative {
		return nil, services.Wrap(services.ErrValidation, string(stage), "trigger",
			fmt.Sprintf("project %s belongs to the %s pipeline", projectID, project.Pipeline), nil)
	}
	if err := checkReady(stage, project.Status); err != nil {
		return nil, err
	}
	if err := c.checkNoActiveJob(ctx, project.ID, creativeStages[stage].jobType); err != nil {
		return nil, err
	}

	autoConf, err := c.snapshotConfig(ctx, project, stage, conf)
	if err != nil {
		return nil, err
	}
	if stage == StageSynthesis {
		return c.startSynthesis(ctx, project)
	}
	return c.startRemoteStage(ctx, project, stage, autoConf)
}

// checkNoActiveJob enforces the one-active-job-per-type invariant.
func (c *Controller) checkNoActiveJob(ctx context.Context, projectID, jobType string) error {
	job, err := c.store.LatestJob(ctx, projectID, jobType)
	if err != nil {
		return err
	}
	if job != nil && job.Status.IsActive() {
		return services.Wrap(services.ErrValidation, jobType, "trigger",
			fmt.Sprintf("job %d of type %s is still %s", job.ID, jobType, job.Status), nil)
	}
	return nil
}

// snapshotConfig merges the incoming stage configuration into the
// project's auto_config and persists it.
func (c *Controller) snapshotConfig(ctx context.Context, project *store.Project, stage Stage, conf json.RawMessage) (*AutoConfig, error) {
	autoConf, err := ParseAutoConfig(project.AutoConfig)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, string(stage), "trigger", "stored auto config is corrupt", err)
	}
	if len(conf) > 0 {
		var decodeErr error
		switch stage {
		case StageNarration:
			cfg := &NarrationConfig{}
			decodeErr = json.Unmarshal(conf, cfg)
			autoConf.Narration = cfg
		case StageLocalization:
			cfg := &LocalizeConfig{}
			decodeErr = json.Unmarshal(conf, cfg)
			autoConf.Localization = cfg
		case StageAudio:
			cfg := &DubbingConfig{}
			decodeErr = json.Unmarshal(conf, cfg)
			autoConf.Audio = cfg
		case StageEdit:
			autoConf.Edit = &struct{}{}
		case StageSynthesis:
			autoConf.Synthesis = &struct{}{}
		}
		if decodeErr != nil {
			return nil, services.Wrap(services.ErrValidation, string(stage), "trigger", "invalid stage configuration", decodeErr)
		}
		encoded, err := autoConf.Encode()
		if err != nil {
			return nil, err
		}
		if err := c.store.SetProjectAutoConfig(ctx, project, encoded); err != nil {
			return nil, err
		}
	}
	return autoConf, nil
}

// startRemoteStage creates the job, moves the project to the stage's
// running status, uploads the stage inputs, and submits the remote task.
// Failures after job creation fail both the job and the project, matching
// the submission-is-terminal contract.
func (c *Controller) startRemoteStage(ctx context.Context, project *store.Project, stage Stage, autoConf *AutoConfig) (*store.Job, error) {
	spec := creativeStages[stage]
	log := logging.WithContext(services.WithProjectID(ctx, project.ID), c.logger)

	job := &store.Job{
		ProjectID:   project.ID,
		Pipeline:    state.PipelineCreative,
		JobType:     spec.jobType,
		InputParams: c.stageParams(autoConf, stage),
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := c.setStatus(ctx, project.ID, spec.running); err != nil {
		return nil, err
	}

	params, err := c.buildStagePayload(ctx, project, stage, autoConf)
	if err != nil {
		c.failStageStart(ctx, job, err)
		return job, err
	}

	log.Info("stage triggered", logging.String("stage", string(stage)), logging.Int64("job_id", job.ID))
	if err := c.engine.Submit(ctx, job, remote.CreateTaskRequest{Type: spec.taskType, Params: params}); err != nil {
		return job, err
	}
	return job, nil
}

// stageParams returns the JSON persisted as the job's input_params.
func (c *Controller) stageParams(autoConf *AutoConfig, stage Stage) string {
	var v any
	switch stage {
	case StageNarration:
		v = autoConf.Narration
	case StageLocalization:
		v = autoConf.Localization
	case StageAudio:
		v = autoConf.Audio
	default:
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return "{}"
	}
	return string(data)
}

// buildStagePayload uploads the stage's input documents and assembles the
// task parameters.
func (c *Controller) buildStagePayload(ctx context.Context, project *store.Project, stage Stage, autoConf *AutoConfig) (map[string]any, error) {
	switch stage {
	case StageNarration:
		blueprintRef, err := c.uploadBlueprint(ctx, project)
		if err != nil {
			return nil, err
		}
		return BuildNarrationPayload(project.Name, project.AssetID, blueprintRef, autoConf.Narration)

	case StageLocalization:
		if project.NarrationScript == "" {
			return nil, services.Wrap(services.ErrValidation, string(stage), "trigger", "narration script artifact is missing", nil)
		}
		blueprintRef, err := c.uploadBlueprint(ctx, project)
		if err != nil {
			return nil, err
		}
		masterRef, err := c.uploadArtifact(ctx, stage, project.NarrationScript)
		if err != nil {
			return nil, err
		}
		return BuildLocalizePayload(masterRef, blueprintRef, autoConf.Localization)

	case StageAudio:
		source := project.NarrationScript
		if autoConf.Audio != nil && autoConf.Audio.SourceScriptType == "localized" {
			source = project.LocalizedScript
		}
		if source == "" {
			return nil, services.Wrap(services.ErrValidation, string(stage), "trigger", "selected narration source artifact is missing", nil)
		}
		inputRef, err := c.uploadArtifact(ctx, stage, source)
		if err != nil {
			return nil, err
		}
		return BuildDubbingPayload(inputRef, autoConf.Audio)

	case StageEdit:
		if project.DubbingScript == "" {
			return nil, services.Wrap(services.ErrValidation, string(stage), "trigger", "dubbing script artifact is missing", nil)
		}
		blueprintRef, err := c.uploadBlueprint(ctx, project)
		if err != nil {
			return nil, err
		}
		dubbingRef, err := c.uploadArtifact(ctx, stage, project.DubbingScript)
		if err != nil {
			return nil, err
		}
		return BuildEditPayload(dubbingRef, blueprintRef), nil
	}
	return nil, services.Wrap(services.ErrValidation, string(stage), "trigger", "stage has no remote payload", nil)
}

func (c *Controller) uploadBlueprint(ctx context.Context, project *store.Project) (string, error) {
	path := c.blueprintPath(project.AssetID)
	if _, err := os.Stat(path); err != nil {
		return "", services.Wrap(services.ErrValidation, "blueprint", "upload",
			fmt.Sprintf("blueprint for asset %s not found at %s", project.AssetID, path), err)
	}
	ref, err := c.api.Upload(ctx, path)
	if err != nil {
		return "", services.Wrap(services.ErrSubmission, "blueprint", "upload", "blueprint upload failed", err)
	}
	return ref, nil
}

func (c *Controller) uploadArtifact(ctx context.Context, stage Stage, localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", services.Wrap(services.ErrValidation, string(stage), "upload",
			fmt.Sprintf("artifact file %s not found", localPath), err)
	}
	ref, err := c.api.Upload(ctx, localPath)
	if err != nil {
		return "", services.Wrap(services.ErrSubmission, string(stage), "upload",
			fmt.Sprintf("upload of %s failed", filepath.Base(localPath)), err)
	}
	return ref, nil
}

// failStageStart marks the freshly created job failed and the project
// failed after a pre-submission error.
func (c *Controller) failStageStart(ctx context.Context, job *store.Job, cause error) {
	log := logging.WithContext(ctx, c.logger)
	if next, err := state.ApplyJob(job.Status, state.TriggerFail); err == nil {
		job.Status = next
	}
	job.ErrorMessage = cause.Error()
	if err := c.store.UpdateJob(ctx, job); err != nil {
		log.Error("persist failed job", logging.Error(err))
	}
	if err := c.setStatus(ctx, job.ProjectID, state.ProjectFailed); err != nil {
		log.Error("persist failed project", logging.Error(err))
	}
}

// setStatus performs the version-checked status write, refreshing the
// project on conflict. Writes that the ladder forbids are surfaced, except
// when the project already carries the target status (a lost race with an
// identical writer).
func (c *Controller) setStatus(ctx context.Context, projectID string, target state.ProjectStatus) error {
	for attempt := 0; attempt < 3; attempt++ {
		project, err := c.store.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if project == nil {
			return services.Wrap(services.ErrNotFound, "project", "set status", fmt.Sprintf("project %s not found", projectID), nil)
		}
		if project.Status == target {
			return nil
		}
		if target == state.ProjectFailed {
			if project.Status == state.ProjectCompleted {
				return nil
			}
		} else if err := state.AdvanceProject(project.Pipeline, project.Status, target); err != nil {
			return err
		}
		err = c.store.SetProjectStatus(ctx, project, target)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		return err
	}
	return services.Wrap(services.ErrValidation, "project", "set status",
		fmt.Sprintf("gave up writing status %s for project %s after repeated version conflicts", target, projectID), nil)
}

// Revise moves a completed job back to revising, backing up the stage's
// current artifact under a versioned name first, and regresses the project
// onto the stage's running rung. The backup path is returned.
func (c *Controller) Revise(ctx context.Context, jobID int64) (string, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", services.Wrap(services.ErrNotFound, "revise", "load job", fmt.Sprintf("job %d not found", jobID), nil)
	}
	stage, ok := stageForJobType(job.JobType)
	if !ok {
		return "", services.Wrap(services.ErrValidation, "revise", "load job",
			fmt.Sprintf("job type %s has no revisable stage", job.JobType), nil)
	}
	project, err := c.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		return "", err
	}
	if project == nil {
		return "", services.Wrap(services.ErrNotFound, "revise", "load project", fmt.Sprintf("project %s not found", job.ProjectID), nil)
	}

	next, err := state.ApplyJob(job.Status, state.TriggerRevise)
	if err != nil {
		return "", err
	}

	spec := creativeStages[stage]
	var backup string
	if artifact := project.Artifact(spec.slot); artifact != "" {
		backup = fmt.Sprintf("%s.v%d", artifact, job.ArtifactBackups+1)
		if err := copyFile(artifact, backup); err != nil {
			return "", services.Wrap(services.ErrValidation, "revise", "backup artifact",
				fmt.Sprintf("backing up %s", artifact), err)
		}
	}

	job.Status = next
	job.ArtifactBackups++
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return "", err
	}

	if err := state.RegressProject(project.Pipeline, project.Status, spec.running); err != nil {
		return "", err
	}
	if err := c.store.SetProjectStatus(ctx, project, spec.running); err != nil {
		return "", err
	}

	logging.WithContext(ctx, c.logger).Info("job moved to revising",
		logging.Int64("job_id", job.ID),
		logging.String("stage", string(stage)),
		logging.String("backup", backup))
	return backup, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
