package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"montage/internal/blueprint"
	"montage/internal/logging"
	"montage/internal/media/ffmpeg"
	"montage/internal/media/ffprobe"
	"montage/internal/services"
)

const stageName = "synthesis"

// Inputs collects everything one synthesis run needs.
type Inputs struct {
	ProjectID  string
	EditScript *blueprint.EditScript
	Blueprint  *blueprint.Blueprint
	// AudioDir holds the already-downloaded narration fragments.
	AudioDir string
	// SourceDir holds the chapter source videos.
	SourceDir string
	// OutputDir receives the final deliverable.
	OutputDir string
}

// Engine runs the three-step assembly.
type Engine struct {
	ffmpeg  *ffmpeg.Client
	prober  *ffprobe.Prober
	workDir string
	logger  *slog.Logger
}

// New builds an Engine. workDir receives per-project intermediates.
func New(ffmpegClient *ffmpeg.Client, prober *ffprobe.Prober, workDir string, logger *slog.Logger) *Engine {
	return &Engine{
		ffmpeg:  ffmpegClient,
		prober:  prober,
		workDir: workDir,
		logger:  logging.NewComponentLogger(logger, stageName),
	}
}

// Synthesize produces the final video and returns its path. Step failures
// abort the run and surface the transcoder's diagnostics; unresolvable
// b-roll clips are skipped so partial video assembly still completes.
func (e *Engine) Synthesize(ctx context.Context, in Inputs) (string, error) {
	if in.EditScript == nil || len(in.EditScript.Entries) == 0 {
		return "", services.Wrap(services.ErrSynthesisStep, stageName, "load inputs", "edit script is empty", nil)
	}
	if in.Blueprint == nil {
		return "", services.Wrap(services.ErrSynthesisStep, stageName, "load inputs", "blueprint is missing", nil)
	}

	projectDir := filepath.Join(e.workDir, in.ProjectID)
	tempDir := filepath.Join(projectDir, "temp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrSynthesisStep, stageName, "prepare workspace", "create temp directory", err)
	}

	log := logging.WithContext(ctx, e.logger)

	audioTrack, err := e.assembleAudio(ctx, in, projectDir, tempDir, log)
	if err != nil {
		return "", err
	}
	log.Info("narration track assembled", logging.String("path", audioTrack))

	videoTrack, err := e.assembleVideo(ctx, in, projectDir, tempDir, log)
	if err != nil {
		return "", err
	}
	log.Info("b-roll track assembled", logging.String("path", videoTrack))

	output, err := e.mux(ctx, in, videoTrack, audioTrack)
	if err != nil {
		return "", err
	}

	if err := e.validate(ctx, output); err != nil {
		return "", err
	}
	log.Info("synthesis complete", logging.String("output", output))
	return output, nil
}

// assembleAudio concatenates narration fragments in edit-script order.
// Fragment references are resolved by file name inside AudioDir.
func (e *Engine) assembleAudio(ctx context.Context, in Inputs, projectDir, tempDir string, log *slog.Logger) (string, error) {
	var fragments []string
	for _, entry := range in.EditScript.Entries {
		name := filepath.Base(entry.NarrationAudioPath)
		if name == "" || name == "." {
			continue
		}
		local := filepath.Join(in.AudioDir, name)
		if info, err := os.Stat(local); err != nil || info.IsDir() {
			log.Warn("narration fragment not found, skipping", logging.String("fragment", local))
			continue
		}
		fragments = append(fragments, local)
	}
	if len(fragments) == 0 {
		return "", services.Wrap(services.ErrSynthesisStep, stageName, "audio concat", "no narration fragments found locally", nil)
	}

	extension := filepath.Ext(fragments[0])
	listPath := filepath.Join(tempDir, "audio_concat_list.txt")
	if err := ffmpeg.WriteConcatList(listPath, fragments); err != nil {
		return "", services.Wrap(services.ErrSynthesisStep, stageName, "audio concat", "write concat list", err)
	}

	output := filepath.Join(projectDir, "final_audio"+extension)
	if err := e.ffmpeg.ConcatCopy(ctx, listPath, output); err != nil {
		return "", services.Wrap(services.ErrSynthesisStep, stageName, "audio concat", "concatenate narration fragments", err)
	}
	return output, nil
}

// assembleVideo slices every resolvable b-roll clip and concatenates them
// in script order. Clips whose scene cannot be resolved to an existing
// source file are skipped with a logged error.
func (e *Engine) assembleVideo(ctx context.Context, in Inputs, projectDir, tempDir string, log *slog.Logger) (string, error) {
	var clips []string
	for i, entry := range in.EditScript.Entries {
		for j, clip := range entry.BRollClips {
			source, err := in.Blueprint.SourceForScene(clip.SceneID)
			if err != nil {
				log.Error("b-roll source unresolved, skipping clip",
					logging.String("scene_id", clip.SceneID.String()),
					logging.Error(err))
				continue
			}
			sourcePath := filepath.Join(in.SourceDir, source)
			if info, err := os.Stat(sourcePath); err != nil || info.IsDir() {
				log.Error("b-roll source file missing, skipping clip",
					logging.String("scene_id", clip.SceneID.String()),
					logging.String("source", sourcePath))
				continue
			}
			if clip.StartTime.IsZero() || clip.Duration.IsZero() {
				log.Warn("b-roll clip missing start or duration, skipping",
					logging.String("scene_id", clip.SceneID.String()))
				continue
			}

			clipPath := filepath.Join(tempDir, fmt.Sprintf("clip_%03d_%03d.mp4", i, j))
			if err := e.ffmpeg.SliceClip(ctx, sourcePath, clip.StartTime.String(), clip.Duration.String(), clipPath); err != nil {
				return "", services.Wrap(services.ErrSynthesisStep, stageName, "video slice",
					fmt.Sprintf("slice clip %d-%d", i, j), err)
			}
			clips = append(clips, clipPath)
		}
	}
	if len(clips) == 0 {
		return "", services.Wrap(services.ErrSynthesisStep, stageName, "video concat", "no b-roll clips could be sliced", nil)
	}

	listPath := filepath.Join(tempDir, "video_concat_list.txt")
	if err := ffmpeg.WriteConcatList(listPath, clips); err != nil {
		return "", services.Wrap(services.ErrSynthesisStep, stageName, "video concat", "write concat list", err)
	}

	output := filepath.Join(projectDir, "final_video_no_audio.mp4")
	if err := e.ffmpeg.ConcatCopy(ctx, listPath, output); err != nil {
		return "", services.Wrap(services.ErrSynthesisStep, stageName, "video concat", "concatenate b-roll clips", err)
	}
	return output, nil
}

func (e *Engine) mux(ctx context.Context, in Inputs, videoTrack, audioTrack string) (string, error) {
	if err := os.MkdirAll(in.OutputDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrSynthesisStep, stageName, "mux", "create output directory", err)
	}
	name := fmt.Sprintf("final_%s_%s.mp4", in.ProjectID, time.Now().UTC().Format("20060102_150405"))
	output := filepath.Join(in.OutputDir, name)
	if err := e.ffmpeg.Mux(ctx, videoTrack, audioTrack, output); err != nil {
		return "", services.Wrap(services.ErrSynthesisStep, stageName, "mux", "combine audio and video", err)
	}
	return output, nil
}

func (e *Engine) validate(ctx context.Context, output string) error {
	if e.prober == nil {
		return nil
	}
	result, err := e.prober.Inspect(ctx, output)
	if err != nil {
		return services.Wrap(services.ErrSynthesisStep, stageName, "validate", "inspect deliverable", err)
	}
	if !result.HasVideo() || !result.HasAudio() {
		return services.Wrap(services.ErrSynthesisStep, stageName, "validate",
			fmt.Sprintf("deliverable %s is missing a video or audio stream", output), nil)
	}
	return nil
}
