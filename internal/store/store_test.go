package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"montage/internal/state"
	"montage/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenPath(filepath.Join(t.TempDir(), "montage.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newProject(t *testing.T, s *store.Store, name string) *store.Project {
	t.Helper()
	project := &store.Project{Name: name, AssetID: "asset-1"}
	if err := s.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return project
}

func TestCreateProjectDefaults(t *testing.T) {
	s := openStore(t)
	project := newProject(t, s, "demo")

	if project.ID == "" {
		t.Fatal("expected generated project id")
	}
	if project.Status != state.ProjectPending {
		t.Fatalf("status = %s, want pending", project.Status)
	}
	if project.Version != 1 {
		t.Fatalf("version = %d, want 1", project.Version)
	}

	loaded, err := s.GetProject(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if loaded == nil || loaded.Name != "demo" || loaded.Pipeline != state.PipelineCreative {
		t.Fatalf("unexpected loaded project: %+v", loaded)
	}
}

func TestSetProjectStatusVersionCheck(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	project := newProject(t, s, "demo")

	stale, err := s.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}

	if err := s.SetProjectStatus(ctx, project, state.ProjectNarrationRunning); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if project.Version != 2 {
		t.Fatalf("version after write = %d, want 2", project.Version)
	}

	err = s.SetProjectStatus(ctx, stale, state.ProjectFailed)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("stale write error = %v, want ErrVersionConflict", err)
	}

	loaded, err := s.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if loaded.Status != state.ProjectNarrationRunning {
		t.Fatalf("status = %s, stale write must not apply", loaded.Status)
	}
}

func TestSetProjectArtifact(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	project := newProject(t, s, "demo")

	if err := s.SetProjectArtifact(ctx, project, store.SlotNarrationScript, "remote/narration.json"); err != nil {
		t.Fatalf("set artifact: %v", err)
	}
	loaded, err := s.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if loaded.Artifact(store.SlotNarrationScript) != "remote/narration.json" {
		t.Fatalf("artifact not persisted: %+v", loaded)
	}

	if err := s.SetProjectArtifact(ctx, project, "status", "x"); err == nil {
		t.Fatal("expected unknown slot to be rejected")
	}
}

func TestJobRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	project := newProject(t, s, "demo")

	job := &store.Job{ProjectID: project.ID, JobType: "narration", InputParams: `{"asset":"a"}`}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.ID == 0 || job.Status != state.JobPending {
		t.Fatalf("unexpected new job: %+v", job)
	}

	now := time.Now().UTC()
	job.Status = state.JobProcessing
	job.RemoteTaskID = "task-9"
	job.SubmittedAt = &now
	if err := s.UpdateJob(ctx, job); err != nil {
		t.Fatalf("update job: %v", err)
	}

	loaded, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if loaded.Status != state.JobProcessing || loaded.RemoteTaskID != "task-9" {
		t.Fatalf("unexpected job after update: %+v", loaded)
	}
	if loaded.SubmittedAt == nil {
		t.Fatal("submitted_at not persisted")
	}

	latest, err := s.LatestJob(ctx, project.ID, "narration")
	if err != nil {
		t.Fatalf("latest job: %v", err)
	}
	if latest == nil || latest.ID != job.ID {
		t.Fatalf("latest job mismatch: %+v", latest)
	}

	jobs, err := s.ListJobs(ctx, project.ID)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("job count = %d, want 1", len(jobs))
	}
}

func TestPollClaiming(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	project := newProject(t, s, "demo")
	job := &store.Job{ProjectID: project.ID, JobType: "narration"}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	now := time.Now().UTC()
	due := &store.PollMessage{JobID: job.ID, JobType: "narration", RemoteTaskID: "t-1", DueAt: now.Add(-time.Second)}
	future := &store.PollMessage{JobID: job.ID, JobType: "narration", RemoteTaskID: "t-2", DueAt: now.Add(time.Hour)}
	for _, msg := range []*store.PollMessage{due, future} {
		if err := s.EnqueuePoll(ctx, msg); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	claimed, err := s.ClaimDuePolls(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].RemoteTaskID != "t-1" {
		t.Fatalf("claimed = %+v, want only the due message", claimed)
	}

	// A second scan must not see the claimed message.
	again, err := s.ClaimDuePolls(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("claimed twice: %+v", again)
	}

	claimed[0].PollAttempts = 3
	if err := s.ReschedulePoll(ctx, claimed[0], now.Add(-time.Millisecond)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	rescheduled, err := s.ClaimDuePolls(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim rescheduled: %v", err)
	}
	if len(rescheduled) != 1 || rescheduled[0].PollAttempts != 3 {
		t.Fatalf("rescheduled = %+v", rescheduled)
	}

	if err := s.DeletePoll(ctx, rescheduled[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	pending, err := s.PendingPolls(ctx, job.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].RemoteTaskID != "t-2" {
		t.Fatalf("pending = %+v, want only the future message", pending)
	}
}

func TestReleaseClaimedPolls(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	project := newProject(t, s, "demo")
	job := &store.Job{ProjectID: project.ID, JobType: "narration"}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	now := time.Now().UTC()
	msg := &store.PollMessage{JobID: job.ID, JobType: "narration", DueAt: now.Add(-time.Second)}
	if err := s.EnqueuePoll(ctx, msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.ClaimDuePolls(ctx, now, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	released, err := s.ReleaseClaimedPolls(ctx)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}

	claimed, err := s.ClaimDuePolls(ctx, now, 1)
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatal("released message should be claimable again")
	}
}

func TestBatchRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	batch := &store.Batch{TotalCount: 3, Strategy: `{"mode":"new"}`}
	if err := s.CreateBatch(ctx, batch); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if batch.ID == "" {
		t.Fatal("expected generated batch id")
	}

	loaded, err := s.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if loaded == nil || loaded.TotalCount != 3 {
		t.Fatalf("unexpected batch: %+v", loaded)
	}

	batches, err := s.ListBatches(ctx)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("batch count = %d, want 1", len(batches))
	}
}

func TestHealthCounts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	running := newProject(t, s, "running")
	if err := s.SetProjectStatus(ctx, running, state.ProjectNarrationRunning); err != nil {
		t.Fatalf("set status: %v", err)
	}
	newProject(t, s, "idle")

	job := &store.Job{ProjectID: running.ID, JobType: "narration"}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	health, err := s.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.TotalProjects != 2 || health.RunningProjects != 1 || health.PendingProjects != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.ActiveJobs != 1 {
		t.Fatalf("active jobs = %d, want 1", health.ActiveJobs)
	}
}
