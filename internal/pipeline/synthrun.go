package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"montage/internal/blueprint"
	"montage/internal/logging"
	"montage/internal/services"
	"montage/internal/state"
	"montage/internal/store"
	"montage/internal/synthesis"
)

// startSynthesis runs the final stage. Unlike the other stages it never
// talks to the remote service: the job is created, the project moves to
// synthesis_running, and the assembly runs locally in the background.
func (c *Controller) startSynthesis(ctx context.Context, project *store.Project) (*store.Job, error) {
	job := &store.Job{
		ProjectID:   project.ID,
		Pipeline:    state.PipelineCreative,
		JobType:     JobTypeSynthesis,
		InputParams: "{}",
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	next, err := state.ApplyJob(job.Status, state.TriggerStart)
	if err != nil {
		return nil, err
	}
	job.Status = next
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := c.setStatus(ctx, project.ID, state.ProjectSynthesisRunning); err != nil {
		return nil, err
	}

	go c.runSynthesis(context.WithoutCancel(ctx), project.ID, job.ID)
	return job, nil
}

// runSynthesis assembles the deliverable and settles both entity states.
func (c *Controller) runSynthesis(ctx context.Context, projectID string, jobID int64) {
	ctx = services.WithProjectID(services.WithStage(ctx, string(StageSynthesis)), projectID)
	log := logging.WithContext(ctx, c.logger)

	project, err := c.store.GetProject(ctx, projectID)
	if err != nil || project == nil {
		log.Error("load project for synthesis", logging.Error(err))
		return
	}
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil || job == nil {
		log.Error("load synthesis job", logging.Error(err))
		return
	}

	inputs, err := c.synthesisInputs(ctx, project)
	if err != nil {
		c.failStageStart(ctx, job, err)
		return
	}

	output, err := c.synth.Synthesize(ctx, inputs)
	if err != nil {
		log.Error("synthesis failed", logging.Error(err))
		c.failStageStart(ctx, job, err)
		return
	}

	if err := c.store.SetProjectArtifact(ctx, project, store.SlotFinalVideo, output); err != nil {
		log.Error("persist final video artifact", logging.Error(err))
		c.failStageStart(ctx, job, err)
		return
	}
	if next, err := state.ApplyJob(job.Status, state.TriggerComplete); err == nil {
		job.Status = next
	}
	if err := c.store.UpdateJob(ctx, job); err != nil {
		log.Error("persist completed synthesis job", logging.Error(err))
	}
	if err := c.setStatus(ctx, project.ID, state.ProjectCompleted); err != nil {
		log.Error("persist completed project", logging.Error(err))
		return
	}
	log.Info("project completed", logging.String("deliverable", output))
}

// synthesisInputs loads the edit script and blueprint documents and
// locates the audio fragments downloaded by the latest audio job.
func (c *Controller) synthesisInputs(ctx context.Context, project *store.Project) (synthesis.Inputs, error) {
	if project.EditScript == "" {
		return synthesis.Inputs{}, services.Wrap(services.ErrValidation, string(StageSynthesis), "load inputs", "edit script artifact is missing", nil)
	}
	scriptData, err := os.ReadFile(project.EditScript)
	if err != nil {
		return synthesis.Inputs{}, services.Wrap(services.ErrValidation, string(StageSynthesis), "load inputs", "read edit script", err)
	}
	script, err := blueprint.ParseEditScript(scriptData)
	if err != nil {
		return synthesis.Inputs{}, services.Wrap(services.ErrValidation, string(StageSynthesis), "load inputs", "parse edit script", err)
	}

	blueprintData, err := os.ReadFile(c.blueprintPath(project.AssetID))
	if err != nil {
		return synthesis.Inputs{}, services.Wrap(services.ErrValidation, string(StageSynthesis), "load inputs", "read blueprint", err)
	}
	bp, err := blueprint.ParseBlueprint(blueprintData)
	if err != nil {
		return synthesis.Inputs{}, services.Wrap(services.ErrValidation, string(StageSynthesis), "load inputs", "parse blueprint", err)
	}

	audioDir := c.outputsDir(project.ID)
	if audioJob, err := c.store.LatestJob(ctx, project.ID, JobTypeAudio); err == nil && audioJob != nil {
		candidate := filepath.Join(audioDir, fmt.Sprintf("audio_%d", audioJob.ID))
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			audioDir = candidate
		}
	}

	return synthesis.Inputs{
		ProjectID:  project.ID,
		EditScript: script,
		Blueprint:  bp,
		AudioDir:   audioDir,
		SourceDir:  c.sourceMediaDir(project.AssetID),
		OutputDir:  c.cfg.Paths.OutputDir,
	}, nil
}
