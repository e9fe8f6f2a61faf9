package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"montage/internal/config"
	"montage/internal/dispatch"
	"montage/internal/logging"
	"montage/internal/media/ffmpeg"
	"montage/internal/pipeline"
	"montage/internal/remote"
	"montage/internal/services"
	"montage/internal/state"
	"montage/internal/store"
	"montage/internal/synthesis"
	"montage/internal/testsupport"
)

type env struct {
	cfg      *config.Config
	store    *store.Store
	stub     *testsupport.RemoteStub
	engine   *dispatch.Engine
	registry *dispatch.Registry
	ctrl     *pipeline.Controller
}

func newEnv(t *testing.T, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	stub := testsupport.NewRemoteStub()

	registry := dispatch.NewRegistry()
	engine := dispatch.New(st, stub, registry, cfg.Dispatch, logging.NewNop())

	ffmpegClient := ffmpeg.New(cfg.FFmpeg)
	ffmpegClient.WithRunner(func(ctx context.Context, binary string, args []string) error { return nil })
	synth := synthesis.New(ffmpegClient, nil, filepath.Join(cfg.Paths.WorkspaceDir, "synthesis"), logging.NewNop())

	ctrl := pipeline.New(st, stub, engine, synth, cfg, logging.NewNop())
	ctrl.Register(registry)
	return &env{cfg: cfg, store: st, stub: stub, engine: engine, registry: registry, ctrl: ctrl}
}

func (e *env) newCreativeProject(t *testing.T) *store.Project {
	t.Helper()
	project := testsupport.NewProject(t, e.store, "demo", state.PipelineCreative)
	blueprint := filepath.Join(e.cfg.Paths.WorkspaceDir, "assets", project.AssetID, "blueprint.json")
	testsupport.WriteFile(t, blueprint, []byte(`{"chapters":{"1":{"source_file":"ch01.mp4"}},"scenes":{"s1":{"id":"s1","chapter_id":"1"}}}`))
	return project
}

func (e *env) tick(t *testing.T) int {
	t.Helper()
	n, err := e.engine.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	return n
}

func (e *env) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 20; i++ {
		if e.tick(t) == 0 {
			return
		}
	}
	t.Fatal("poll queue never drained")
}

func (e *env) project(t *testing.T, id string) *store.Project {
	t.Helper()
	project, err := e.store.GetProject(context.Background(), id)
	if err != nil || project == nil {
		t.Fatalf("get project: %v", err)
	}
	return project
}

func (e *env) job(t *testing.T, id int64) *store.Job {
	t.Helper()
	job, err := e.store.GetJob(context.Background(), id)
	if err != nil || job == nil {
		t.Fatalf("get job: %v", err)
	}
	return job
}

func TestTriggerStageRejectsNotReady(t *testing.T) {
	e := newEnv(t)
	project := e.newCreativeProject(t)
	ctx := context.Background()

	if err := e.store.SetProjectStatus(ctx, project, state.ProjectNarrationRunning); err != nil {
		t.Fatalf("set status: %v", err)
	}

	_, err := e.ctrl.TriggerStage(ctx, project.ID, pipeline.StageAudio, nil)
	if !errors.Is(err, services.ErrStageNotReady) {
		t.Fatalf("error = %v, want ErrStageNotReady", err)
	}
	jobs, err := e.store.ListJobs(ctx, project.ID)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("gating failure created %d jobs", len(jobs))
	}
}

func TestTriggerNarrationSubmitsTaskAndSnapshotsConfig(t *testing.T) {
	e := newEnv(t)
	project := e.newCreativeProject(t)
	ctx := context.Background()

	conf := json.RawMessage(`{"style":"humorous","character_focus":"Ash， Misty"}`)
	job, err := e.ctrl.TriggerStage(ctx, project.ID, pipeline.StageNarration, conf)
	if err != nil {
		t.Fatalf("trigger narration: %v", err)
	}

	if got := e.job(t, job.ID); got.Status != state.JobProcessing || got.RemoteTaskID == "" {
		t.Fatalf("job = %s/%q, want processing with task id", got.Status, got.RemoteTaskID)
	}
	if got := e.project(t, project.ID); got.Status != state.ProjectNarrationRunning {
		t.Fatalf("project status = %s, want narration_running", got.Status)
	}

	if len(e.stub.Created) != 1 || e.stub.Created[0].Type != "GENERATE_NARRATION" {
		t.Fatalf("created tasks = %+v", e.stub.Created)
	}
	params := e.stub.Created[0].Params
	if params["blueprint_path"] != "uploads/blueprint.json" {
		t.Fatalf("blueprint ref = %v", params["blueprint_path"])
	}
	service := params["service_params"].(map[string]any)
	control := service["control_params"].(map[string]any)
	if control["style"] != "humorous" {
		t.Fatalf("style = %v", control["style"])
	}
	focus := control["character_focus"].(map[string]any)
	if focus["mode"] != "specific" {
		t.Fatalf("character focus = %v", focus)
	}

	snapshot, err := pipeline.ParseAutoConfig(e.project(t, project.ID).AutoConfig)
	if err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	if snapshot.Narration == nil || snapshot.Narration.Style != "humorous" {
		t.Fatalf("snapshot = %+v", snapshot.Narration)
	}
}

// A narration task that reports running twice and then completes yields
// exactly one artifact download and one completed transition.
func TestNarrationPollsUntilCompleteThenFinalizes(t *testing.T) {
	e := newEnv(t, testsupport.WithAutoPilot(false))
	project := e.newCreativeProject(t)
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	e.stub.StatusFn = func(taskID string) (remote.TaskStatus, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 2 {
			return remote.TaskStatus{State: remote.TaskRunning}, nil
		}
		return remote.TaskStatus{State: remote.TaskCompleted, ResultPath: "results/narration.json"}, nil
	}
	e.stub.Documents["results/narration.json"] = []byte(`{"narration":"text"}`)

	job, err := e.ctrl.TriggerStage(ctx, project.ID, pipeline.StageNarration, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("trigger narration: %v", err)
	}
	e.drain(t)

	if got := e.job(t, job.ID); got.Status != state.JobCompleted {
		t.Fatalf("job status = %s, want completed", got.Status)
	}
	got := e.project(t, project.ID)
	if got.Status != state.ProjectNarrationCompleted {
		t.Fatalf("project status = %s, want narration_completed", got.Status)
	}
	if got.NarrationScript == "" {
		t.Fatal("narration artifact not persisted")
	}
	data, err := os.ReadFile(got.NarrationScript)
	if err != nil || string(data) != `{"narration":"text"}` {
		t.Fatalf("artifact content = %q, err %v", data, err)
	}
	if n := e.stub.DownloadCount("results/narration.json"); n != 1 {
		t.Fatalf("downloads = %d, want 1", n)
	}
}

func TestFinalizeHandlerIsIdempotent(t *testing.T) {
	e := newEnv(t, testsupport.WithAutoPilot(false))
	project := e.newCreativeProject(t)
	ctx := context.Background()

	job, err := e.ctrl.TriggerStage(ctx, project.ID, pipeline.StageNarration, nil)
	if err != nil {
		t.Fatalf("trigger narration: %v", err)
	}
	e.drain(t)

	handler, ok := e.registry.Lookup(state.PipelineCreative, pipeline.JobTypeNarration)
	if !ok {
		t.Fatal("narration handler not registered")
	}
	completed := e.job(t, job.ID)
	status := remote.TaskStatus{State: remote.TaskCompleted, ResultPath: "results/task-1.json"}
	before := e.stub.DownloadCount("results/task-1.json")
	if err := handler(ctx, completed, status); err != nil {
		t.Fatalf("redelivered finalize: %v", err)
	}
	if after := e.stub.DownloadCount("results/task-1.json"); after != before {
		t.Fatalf("redelivery downloaded again (%d -> %d)", before, after)
	}
}

func TestAutoPilotChainsAudioAfterNarration(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	project := e.newCreativeProject(t)

	snapshot := &pipeline.AutoConfig{Narration: &pipeline.NarrationConfig{}, Audio: &pipeline.DubbingConfig{}}
	encoded, err := snapshot.Encode()
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	if err := e.store.SetProjectAutoConfig(ctx, project, encoded); err != nil {
		t.Fatalf("set auto config: %v", err)
	}

	if _, err := e.ctrl.TriggerStage(ctx, project.ID, pipeline.StageNarration, nil); err != nil {
		t.Fatalf("trigger narration: %v", err)
	}
	// One tick: narration completes and auto-pilot submits the audio task.
	if n := e.tick(t); n != 1 {
		t.Fatalf("tick processed %d messages, want 1", n)
	}

	if len(e.stub.Created) != 2 || e.stub.Created[1].Type != "GENERATE_DUBBING" {
		t.Fatalf("created tasks = %+v", e.stub.Created)
	}
	if got := e.project(t, project.ID); got.Status != state.ProjectAudioRunning {
		t.Fatalf("project status = %s, want audio_running", got.Status)
	}
}

func TestAudioFinalizeDownloadsFragmentsAndRewritesScript(t *testing.T) {
	e := newEnv(t, testsupport.WithAutoPilot(false))
	ctx := context.Background()
	project := e.newCreativeProject(t)

	narration := filepath.Join(e.cfg.Paths.WorkspaceDir, "projects", project.ID, "outputs", "narration_script_1.json")
	testsupport.WriteFile(t, narration, []byte(`{"narration":"text"}`))
	if err := e.store.SetProjectArtifact(ctx, project, store.SlotNarrationScript, narration); err != nil {
		t.Fatalf("set artifact: %v", err)
	}
	if err := e.store.SetProjectStatus(ctx, project, state.ProjectNarrationCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}

	e.stub.Documents["results/task-1.json"] = []byte(`{"dubbing_script":[
        {"audio_file_path":"uploads/frag_000.wav"},
        {"audio_file_path":"uploads/frag_001.wav"}
    ]}`)
	e.stub.Documents["uploads/frag_000.wav"] = []byte("RIFF0")
	e.stub.Documents["uploads/frag_001.wav"] = []byte("RIFF1")

	job, err := e.ctrl.TriggerStage(ctx, project.ID, pipeline.StageAudio, nil)
	if err != nil {
		t.Fatalf("trigger audio: %v", err)
	}
	e.drain(t)

	got := e.project(t, project.ID)
	if got.Status != state.ProjectAudioCompleted {
		t.Fatalf("project status = %s, want audio_completed", got.Status)
	}
	data, err := os.ReadFile(got.DubbingScript)
	if err != nil {
		t.Fatalf("read dubbing script: %v", err)
	}
	if !strings.Contains(string(data), "local_audio_path") {
		t.Fatalf("local paths not rewritten: %s", data)
	}
	audioDir := filepath.Join(e.cfg.Paths.WorkspaceDir, "projects", project.ID, "outputs", "audio_"+itoa(job.ID))
	for _, name := range []string{"frag_000.wav", "frag_001.wav"} {
		if _, err := os.Stat(filepath.Join(audioDir, name)); err != nil {
			t.Fatalf("fragment %s not downloaded: %v", name, err)
		}
	}
}

func TestAudioFinalizeFailsOnEmptyFragment(t *testing.T) {
	e := newEnv(t, testsupport.WithAutoPilot(false))
	ctx := context.Background()
	project := e.newCreativeProject(t)

	narration := filepath.Join(t.TempDir(), "narration_script.json")
	testsupport.WriteFile(t, narration, []byte(`{}`))
	if err := e.store.SetProjectArtifact(ctx, project, store.SlotNarrationScript, narration); err != nil {
		t.Fatalf("set artifact: %v", err)
	}
	if err := e.store.SetProjectStatus(ctx, project, state.ProjectNarrationCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}

	e.stub.Documents["results/task-1.json"] = []byte(`{"dubbing_script":[
        {"audio_file_path":"uploads/good.wav"},
        {"audio_file_path":"uploads/empty.wav"}
    ]}`)
	e.stub.Documents["uploads/good.wav"] = []byte("RIFF")
	e.stub.Documents["uploads/empty.wav"] = []byte{}

	job, err := e.ctrl.TriggerStage(ctx, project.ID, pipeline.StageAudio, nil)
	if err != nil {
		t.Fatalf("trigger audio: %v", err)
	}
	e.drain(t)

	if got := e.job(t, job.ID); got.Status != state.JobError {
		t.Fatalf("job status = %s, want error", got.Status)
	}
	got := e.project(t, project.ID)
	if got.Status != state.ProjectFailed {
		t.Fatalf("project status = %s, want failed", got.Status)
	}
	// The annotated script still records which fragment failed.
	data, err := os.ReadFile(filepath.Join(e.cfg.Paths.WorkspaceDir, "projects", project.ID, "outputs", "dubbing_script_"+itoa(job.ID)+".json"))
	if err != nil {
		t.Fatalf("read annotated script: %v", err)
	}
	if !strings.Contains(string(data), "download failed or empty file") {
		t.Fatalf("missing error annotation: %s", data)
	}
}

func TestReviseBacksUpArtifactAndRegresses(t *testing.T) {
	e := newEnv(t, testsupport.WithAutoPilot(false))
	ctx := context.Background()
	project := e.newCreativeProject(t)

	job, err := e.ctrl.TriggerStage(ctx, project.ID, pipeline.StageNarration, nil)
	if err != nil {
		t.Fatalf("trigger narration: %v", err)
	}
	e.drain(t)

	backup, err := e.ctrl.Revise(ctx, job.ID)
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if backup == "" {
		t.Fatal("no backup path returned")
	}
	if _, err := os.Stat(backup); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}
	if got := e.job(t, job.ID); got.Status != state.JobRevising || got.ArtifactBackups != 1 {
		t.Fatalf("job = %s/backups %d, want revising/1", got.Status, got.ArtifactBackups)
	}
	if got := e.project(t, project.ID); got.Status != state.ProjectNarrationRunning {
		t.Fatalf("project status = %s, want narration_running", got.Status)
	}

	// Completing from revising is legal and closes the loop.
	if _, err := state.ApplyJob(state.JobRevising, state.TriggerComplete); err != nil {
		t.Fatalf("complete from revising: %v", err)
	}
}

func TestReviseRejectsActiveJob(t *testing.T) {
	e := newEnv(t, testsupport.WithAutoPilot(false))
	ctx := context.Background()
	project := e.newCreativeProject(t)

	job, err := e.ctrl.TriggerStage(ctx, project.ID, pipeline.StageNarration, nil)
	if err != nil {
		t.Fatalf("trigger narration: %v", err)
	}
	// Still processing: revise must refuse.
	if _, err := e.ctrl.Revise(ctx, job.ID); !errors.Is(err, state.ErrIllegalTransition) {
		t.Fatalf("revise on processing job: %v, want ErrIllegalTransition", err)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
