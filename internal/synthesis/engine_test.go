package synthesis_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"montage/internal/blueprint"
	"montage/internal/config"
	"montage/internal/logging"
	"montage/internal/media/ffmpeg"
	"montage/internal/media/ffprobe"
	"montage/internal/services"
	"montage/internal/synthesis"
)

const validProbe = `{
  "streams": [
    {"index": 0, "codec_type": "video"},
    {"index": 1, "codec_type": "audio"}
  ],
  "format": {"duration": "10"}
}`

type call struct {
	args []string
}

func fixtureInputs(t *testing.T) synthesis.Inputs {
	t.Helper()
	audioDir := t.TempDir()
	sourceDir := t.TempDir()
	for _, name := range []string{"frag_000.wav", "frag_001.wav"} {
		if err := os.WriteFile(filepath.Join(audioDir, name), []byte("wav"), 0o644); err != nil {
			t.Fatalf("write fragment: %v", err)
		}
	}
	for _, name := range []string{"ch01.mp4", "ch03.mp4"} {
		if err := os.WriteFile(filepath.Join(sourceDir, name), []byte("mp4"), 0o644); err != nil {
			t.Fatalf("write source: %v", err)
		}
	}

	bp, err := blueprint.ParseBlueprint([]byte(`{
      "chapters": {
        "1": {"source_file": "ch01.mp4"},
        "3": {"source_file": "ch03.mp4"}
      },
      "scenes": {
        "s1": {"id": "s1", "chapter_id": "1"},
        "s3": {"id": "s3", "chapter_id": "3"}
      }
    }`))
	if err != nil {
		t.Fatalf("parse blueprint: %v", err)
	}

	script, err := blueprint.ParseEditScript([]byte(`{
      "editing_script": [
        {
          "narration_audio_path": "uploads/frag_000.wav",
          "b_roll_clips": [
            {"scene_id": "s1", "start_time": "0", "duration": "4"},
            {"scene_id": "s2", "start_time": "1", "duration": "2"},
            {"scene_id": "s3", "start_time": "5", "duration": "3"}
          ]
        },
        {"narration_audio_path": "uploads/frag_001.wav"}
      ]
    }`))
	if err != nil {
		t.Fatalf("parse edit script: %v", err)
	}

	return synthesis.Inputs{
		ProjectID:  "proj-1",
		EditScript: script,
		Blueprint:  bp,
		AudioDir:   audioDir,
		SourceDir:  sourceDir,
		OutputDir:  t.TempDir(),
	}
}

func newEngine(t *testing.T) (*synthesis.Engine, *[]call) {
	t.Helper()
	client := ffmpeg.New(config.Default().FFmpeg)
	var calls []call
	client.WithRunner(func(ctx context.Context, binary string, args []string) error {
		calls = append(calls, call{args: args})
		return nil
	})

	prober := ffprobe.New("ffprobe")
	prober.WithRunner(func(ctx context.Context, binary string, args []string) ([]byte, error) {
		return []byte(validProbe), nil
	})

	engine := synthesis.New(client, prober, t.TempDir(), logging.NewNop())
	return engine, &calls
}

// A clip whose scene has no chapter mapping is skipped; the remaining clips
// still produce a deliverable.
func TestSynthesizeSkipsUnresolvableClips(t *testing.T) {
	engine, calls := newEngine(t)
	in := fixtureInputs(t)

	output, err := engine.Synthesize(context.Background(), in)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if output == "" || !strings.HasPrefix(filepath.Base(output), "final_proj-1_") {
		t.Fatalf("unexpected output path %q", output)
	}

	var slices, concats, muxes int
	for _, c := range *calls {
		joined := strings.Join(c.args, " ")
		switch {
		case strings.Contains(joined, "-vcodec libx264"):
			slices++
		case strings.Contains(joined, "-f concat"):
			concats++
		case strings.Contains(joined, "-shortest"):
			muxes++
		}
	}
	if slices != 2 {
		t.Fatalf("slice invocations = %d, want 2 (clip s2 skipped)", slices)
	}
	if concats != 2 {
		t.Fatalf("concat invocations = %d, want audio + video", concats)
	}
	if muxes != 1 {
		t.Fatalf("mux invocations = %d, want 1", muxes)
	}
}

func TestSynthesizeMuxTruncatesToShorter(t *testing.T) {
	engine, calls := newEngine(t)
	in := fixtureInputs(t)

	if _, err := engine.Synthesize(context.Background(), in); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	last := (*calls)[len(*calls)-1]
	joined := strings.Join(last.args, " ")
	if !strings.Contains(joined, "-shortest") {
		t.Fatalf("mux args missing -shortest: %q", joined)
	}
	if !strings.Contains(joined, "-c:v libx264 -preset veryfast -crf 23") {
		t.Fatalf("mux encode settings wrong: %q", joined)
	}
}

func TestSynthesizeFailsWhenNoClipsResolve(t *testing.T) {
	engine, _ := newEngine(t)
	in := fixtureInputs(t)
	// Drop every source file so all clips fail resolution.
	entries, err := os.ReadDir(in.SourceDir)
	if err != nil {
		t.Fatalf("read source dir: %v", err)
	}
	for _, entry := range entries {
		if err := os.Remove(filepath.Join(in.SourceDir, entry.Name())); err != nil {
			t.Fatalf("remove source: %v", err)
		}
	}

	_, err = engine.Synthesize(context.Background(), in)
	if !errors.Is(err, services.ErrSynthesisStep) {
		t.Fatalf("error = %v, want ErrSynthesisStep", err)
	}
}

func TestSynthesizeSurfacesTranscoderStderr(t *testing.T) {
	client := ffmpeg.New(config.Default().FFmpeg)
	client.WithRunner(func(ctx context.Context, binary string, args []string) error {
		return &ffmpeg.CommandError{Args: args, Stderr: "invalid data found", Err: errors.New("exit status 1")}
	})
	engine := synthesis.New(client, nil, t.TempDir(), logging.NewNop())

	_, err := engine.Synthesize(context.Background(), fixtureInputs(t))
	if err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, services.ErrSynthesisStep) {
		t.Fatalf("error = %v, want ErrSynthesisStep", err)
	}
	if !strings.Contains(err.Error(), "invalid data found") {
		t.Fatalf("stderr not surfaced: %v", err)
	}
}

func TestSynthesizeValidatesDeliverable(t *testing.T) {
	client := ffmpeg.New(config.Default().FFmpeg)
	client.WithRunner(func(ctx context.Context, binary string, args []string) error { return nil })
	prober := ffprobe.New("ffprobe")
	prober.WithRunner(func(ctx context.Context, binary string, args []string) ([]byte, error) {
		return []byte(`{"streams": [{"index": 0, "codec_type": "video"}], "format": {}}`), nil
	})
	engine := synthesis.New(client, prober, t.TempDir(), logging.NewNop())

	_, err := engine.Synthesize(context.Background(), fixtureInputs(t))
	if err == nil || !strings.Contains(err.Error(), "missing a video or audio stream") {
		t.Fatalf("expected validation failure, got %v", err)
	}
}
