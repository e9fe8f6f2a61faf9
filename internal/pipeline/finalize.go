package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"montage/internal/blueprint"
	"montage/internal/logging"
	"montage/internal/remote"
	"montage/internal/services"
	"montage/internal/state"
	"montage/internal/store"
)

// finalizeScriptStage returns the handler for a script-producing creative
// stage. The handler downloads the task's result document, persists it in
// the stage's artifact slot, completes the job, advances the project, and
// hands off to auto-pilot. It is idempotent: a job already completed means
// the work was done on an earlier delivery.
func (c *Controller) finalizeScriptStage(stage Stage) func(ctx context.Context, job *store.Job, status remote.TaskStatus) error {
	return func(ctx context.Context, job *store.Job, status remote.TaskStatus) error {
		if job.Status == state.JobCompleted {
			return nil
		}
		spec := creativeStages[stage]
		ctx = services.WithProjectID(services.WithStage(ctx, string(stage)), job.ProjectID)
		log := logging.WithContext(ctx, c.logger)

		project, err := c.store.GetProject(ctx, job.ProjectID)
		if err != nil {
			return err
		}
		if project == nil {
			return services.Wrap(services.ErrNotFound, string(stage), "finalize", fmt.Sprintf("project %s not found", job.ProjectID), nil)
		}

		if status.ResultPath == "" {
			return services.Wrap(services.ErrArtifactDownload, string(stage), "finalize", "remote task reported no result document", nil)
		}

		dest := filepath.Join(c.outputsDir(project.ID), c.artifactFilename(stage, job))
		if err := c.api.Download(ctx, status.ResultPath, dest); err != nil {
			return services.Wrap(services.ErrArtifactDownload, string(stage), "finalize",
				fmt.Sprintf("download of %s failed", status.ResultPath), err)
		}

		if stage == StageAudio {
			if err := c.downloadDubbingAssets(ctx, project, job, dest); err != nil {
				return err
			}
		}

		if err := c.store.SetProjectArtifact(ctx, project, spec.slot, dest); err != nil {
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
		if err := c.setStatus(ctx, project.ID, spec.done); err != nil {
			return err
		}
		log.Info("stage completed", logging.String("artifact", dest))

		c.autoPilot(ctx, project.ID, stage)
		return nil
	}
}

// artifactFilename builds the stored document name. Localized scripts
// carry the target language so multiple localizations stay apart.
func (c *Controller) artifactFilename(stage Stage, job *store.Job) string {
	prefix := map[Stage]string{
		StageNarration:    "narration_script",
		StageLocalization: "localized_script",
		StageAudio:        "dubbing_script",
		StageEdit:         "editing_script",
	}[stage]
	if stage == StageLocalization {
		lang := "xx"
		var cfg LocalizeConfig
		if err := json.Unmarshal([]byte(job.InputParams), &cfg); err == nil && cfg.TargetLang != "" {
			lang = cfg.TargetLang
		}
		return fmt.Sprintf("%s_%s_%d.json", prefix, lang, job.ID)
	}
	return fmt.Sprintf("%s_%d.json", prefix, job.ID)
}

// downloadDubbingAssets fetches every audio fragment the dubbing script
// references into a per-job directory and rewrites the local paths back
// into the script. The job fails unless every fragment downloads and is
// non-empty; failed entries are annotated in the saved script so the
// failure is diagnosable.
func (c *Controller) downloadDubbingAssets(ctx context.Context, project *store.Project, job *store.Job, scriptPath string) error {
	log := logging.WithContext(ctx, c.logger)

	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return services.Wrap(services.ErrArtifactDownload, string(StageAudio), "finalize", "read dubbing script", err)
	}
	script, err := blueprint.ParseDubbingScript(data)
	if err != nil {
		return services.Wrap(services.ErrArtifactDownload, string(StageAudio), "finalize", "parse dubbing script", err)
	}
	if len(script.Fragments) == 0 {
		log.Warn("dubbing script lists no fragments")
		return nil
	}

	audioDir := filepath.Join(c.outputsDir(project.ID), fmt.Sprintf("audio_%d", job.ID))
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return services.Wrap(services.ErrArtifactDownload, string(StageAudio), "finalize", "create audio directory", err)
	}

	expected := len(script.Fragments)
	downloaded := 0
	var failed []string
	for i := range script.Fragments {
		fragment := &script.Fragments[i]
		if fragment.AudioFilePath == "" {
			continue
		}
		name := filepath.Base(fragment.AudioFilePath)
		dest := filepath.Join(audioDir, name)
		if err := c.api.Download(ctx, fragment.AudioFilePath, dest); err != nil {
			log.Error("audio fragment download failed",
				logging.String("fragment", fragment.AudioFilePath),
				logging.Error(err))
			fragment.Error = "download failed or empty file"
			failed = append(failed, fragment.AudioFilePath)
			continue
		}
		if info, err := os.Stat(dest); err != nil || info.Size() == 0 {
			log.Error("audio fragment empty after download", logging.String("fragment", fragment.AudioFilePath))
			fragment.Error = "download failed or empty file"
			failed = append(failed, fragment.AudioFilePath)
			continue
		}
		fragment.LocalAudioPath = dest
		downloaded++
	}

	// Persist the annotated script even on failure so the error fields
	// are visible alongside the artifact.
	if encoded, err := script.Encode(); err == nil {
		if err := os.WriteFile(scriptPath, encoded, 0o644); err != nil {
			return services.Wrap(services.ErrArtifactDownload, string(StageAudio), "finalize", "rewrite dubbing script", err)
		}
	}

	if downloaded != expected {
		return services.Wrap(services.ErrArtifactDownload, string(StageAudio), "finalize",
			fmt.Sprintf("dubbing assets incomplete: expected %d fragments, downloaded %d (failed: %v)", expected, downloaded, failed), nil)
	}
	log.Info("dubbing assets downloaded", logging.Int("count", downloaded), logging.String("dir", audioDir))
	return nil
}

// autoPilot chains the next creative stage when the project's snapshot
// configures it. Chain failures are logged, never propagated: the
// completed stage stays completed and the operator re-triggers manually.
func (c *Controller) autoPilot(ctx context.Context, projectID string, completed Stage) {
	if !c.cfg.Workflow.AutoPilot {
		return
	}
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil || project == nil {
		return
	}
	autoConf, err := ParseAutoConfig(project.AutoConfig)
	if err != nil {
		return
	}

	var next Stage
	switch completed {
	case StageNarration:
		switch {
		case autoConf.Localization != nil:
			next = StageLocalization
		case autoConf.Audio != nil:
			next = StageAudio
		default:
			return
		}
	case StageLocalization:
		if autoConf.Audio == nil {
			return
		}
		next = StageAudio
	case StageAudio:
		next = StageEdit
	case StageEdit:
		next = StageSynthesis
	default:
		return
	}

	log := logging.WithContext(ctx, c.logger)
	log.Info("auto-pilot chaining next stage",
		logging.String("completed", string(completed)),
		logging.String("next", string(next)))
	if _, err := c.TriggerStage(context.WithoutCancel(ctx), projectID, next, nil); err != nil {
		log.Error("auto-pilot trigger failed", logging.String("stage", string(next)), logging.Error(err))
	}
}
