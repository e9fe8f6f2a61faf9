package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"

	"montage/internal/logging"
	"montage/internal/remote"
	"montage/internal/services"
	"montage/internal/state"
	"montage/internal/store"
)

// Remote task types for the inference pipeline.
const (
	taskTypeFacts = "CHARACTER_IDENTIFIER"
	taskTypeRAG   = "DEPLOY_RAG_CORPUS"
)

// factsParams is persisted as the facts job's input and reused when the
// RAG deployment is chained.
type factsParams struct {
	Characters   []string `json:"characters_to_analyze"`
	Lang         string   `json:"lang"`
	BlueprintRef string   `json:"blueprint_ref"`
}

// ragParams records what the RAG deployment was started with.
type ragParams struct {
	BlueprintRef string `json:"blueprint_input_path"`
	FactsRef     string `json:"facts_input_path"`
	SeriesID     string `json:"series_id"`
}

// StartInference runs the facts stage of an inference project: character
// fact extraction over the blueprint, chained into a RAG corpus deployment
// when the facts task completes.
func (c *Controller) StartInference(ctx context.Context, projectID string, characters []string, lang string) (*store.Job, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, services.Wrap(services.ErrNotFound, JobTypeFacts, "trigger", fmt.Sprintf("project %s not found", projectID), nil)
	}
	if project.Pipeline != state.PipelineInference {
		return nil, services.Wrap(services.ErrValidation, JobTypeFacts, "trigger",
			fmt.Sprintf("project %s belongs to the %s pipeline", projectID, project.Pipeline), nil)
	}
	if project.Status != state.ProjectPending {
		return nil, services.Wrap(services.ErrStageNotReady, JobTypeFacts, "trigger",
			fmt.Sprintf("facts stage requires project status pending, have %s", project.Status), nil)
	}
	if len(characters) == 0 {
		return nil, services.Wrap(services.ErrValidation, JobTypeFacts, "trigger", "no characters selected for analysis", nil)
	}
	if lang == "" {
		lang = "zh"
	} else {
		if _, err := language.Parse(lang); err != nil {
			return nil, services.Wrap(services.ErrValidation, JobTypeFacts, "trigger", fmt.Sprintf("invalid language %q", lang), err)
		}
		// The remote expects the primary subtag only.
		lang = strings.SplitN(lang, "-", 2)[0]
	}
	if err := c.checkNoActiveJob(ctx, project.ID, JobTypeFacts); err != nil {
		return nil, err
	}

	blueprintRef, err := c.uploadBlueprint(ctx, project)
	if err != nil {
		return nil, err
	}

	params := factsParams{Characters: characters, Lang: lang, BlueprintRef: blueprintRef}
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	job := &store.Job{
		ProjectID:   project.ID,
		Pipeline:    state.PipelineInference,
		JobType:     JobTypeFacts,
		InputParams: string(encoded),
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := c.setStatus(ctx, project.ID, state.ProjectFactsRunning); err != nil {
		return nil, err
	}

	req := remote.CreateTaskRequest{
		Type: taskTypeFacts,
		Params: map[string]any{
			"input_file_path": blueprintRef,
			"service_params": map[string]any{
				"characters_to_analyze": characters,
				"lang":                  lang,
				"model":                 "gemini-2.5-flash",
				"temp":                  0.1,
			},
		},
	}
	if err := c.engine.Submit(ctx, job, req); err != nil {
		return job, err
	}
	return job, nil
}

// finalizeFacts stores the facts result and chains the RAG deployment.
func (c *Controller) finalizeFacts(ctx context.Context, job *store.Job, status remote.TaskStatus) error {
	if job.Status == state.JobCompleted {
		return nil
	}
	ctx = services.WithProjectID(ctx, job.ProjectID)
	log := logging.WithContext(ctx, c.logger)

	project, err := c.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	if project == nil {
		return services.Wrap(services.ErrNotFound, JobTypeFacts, "finalize", fmt.Sprintf("project %s not found", job.ProjectID), nil)
	}
	if status.ResultPath == "" {
		return services.Wrap(services.ErrArtifactDownload, JobTypeFacts, "finalize", "facts task reported no result", nil)
	}

	dest := filepath.Join(c.outputsDir(project.ID), fmt.Sprintf("facts_result_%d.json", job.ID))
	if err := c.api.Download(ctx, status.ResultPath, dest); err != nil {
		return services.Wrap(services.ErrArtifactDownload, JobTypeFacts, "finalize",
			fmt.Sprintf("download of %s failed", status.ResultPath), err)
	}
	if err := c.store.SetProjectArtifact(ctx, project, store.SlotFactsResult, dest); err != nil {
		return err
	}
	next, err := state.ApplyJob(job.Status, state.TriggerComplete)
	if err != nil {
		return err
	}
	job.Status = next
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	if err := c.setStatus(ctx, project.ID, state.ProjectFactsCompleted); err != nil {
		return err
	}
	log.Info("facts stage completed", logging.String("artifact", dest))

	var params factsParams
	if err := json.Unmarshal([]byte(job.InputParams), &params); err != nil || params.BlueprintRef == "" {
		return services.Wrap(services.ErrValidation, JobTypeRAG, "trigger",
			"cannot deploy RAG corpus: blueprint reference missing from facts job", err)
	}
	return c.startRAGDeployment(context.WithoutCancel(ctx), project, params.BlueprintRef, status.ResultPath)
}

// startRAGDeployment submits the corpus deployment against the remote
// facts result and blueprint references.
func (c *Controller) startRAGDeployment(ctx context.Context, project *store.Project, blueprintRef, factsRef string) error {
	params := ragParams{BlueprintRef: blueprintRef, FactsRef: factsRef, SeriesID: project.ID}
	encoded, err := json.Marshal(params)
	if err != nil {
		return err
	}
	job := &store.Job{
		ProjectID:   project.ID,
		Pipeline:    state.PipelineInference,
		JobType:     JobTypeRAG,
		InputParams: string(encoded),
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return err
	}
	if err := c.setStatus(ctx, project.ID, state.ProjectRAGDeploying); err != nil {
		return err
	}

	req := remote.CreateTaskRequest{
		Type: taskTypeRAG,
		Params: map[string]any{
			"blueprint_input_path": blueprintRef,
			"facts_input_path":     factsRef,
			"series_id":            project.ID,
		},
	}
	return c.engine.Submit(ctx, job, req)
}

// finalizeRAG stores the deployment report and completes the project.
func (c *Controller) finalizeRAG(ctx context.Context, job *store.Job, status remote.TaskStatus) error {
	if job.Status == state.JobCompleted {
		return nil
	}
	ctx = services.WithProjectID(ctx, job.ProjectID)
	log := logging.WithContext(ctx, c.logger)

	project, err := c.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	if project == nil {
		return services.Wrap(services.ErrNotFound, JobTypeRAG, "finalize", fmt.Sprintf("project %s not found", job.ProjectID), nil)
	}

	if status.ResultPath != "" {
		dest := filepath.Join(c.outputsDir(project.ID), fmt.Sprintf("rag_report_%d.json", job.ID))
		if err := c.api.Download(ctx, status.ResultPath, dest); err != nil {
			// The deployment itself succeeded; a missing report is not fatal.
			log.Warn("RAG report download failed", logging.String("ref", status.ResultPath), logging.Error(err))
		} else if err := c.store.SetProjectArtifact(ctx, project, store.SlotRAGReport, dest); err != nil {
			return err
		}
	}

	next, err := state.ApplyJob(job.Status, state.TriggerComplete)
	if err != nil {
		return err
	}
	job.Status = next
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	if err := c.setStatus(ctx, project.ID, state.ProjectCompleted); err != nil {
		return err
	}
	log.Info("inference pipeline completed")
	return nil
}
