package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"montage/internal/services"
	"montage/internal/state"
	"montage/internal/testsupport"
)

func TestInferenceChainsFactsIntoRAGDeployment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, e.store, "inference", state.PipelineInference)
	blueprint := e.cfg.Paths.WorkspaceDir + "/assets/" + project.AssetID + "/blueprint.json"
	testsupport.WriteFile(t, blueprint, []byte(`{"chapters":{},"scenes":{}}`))

	e.stub.Documents["results/task-1.json"] = []byte(`{"facts":[]}`)
	e.stub.Documents["results/task-2.json"] = []byte(`{"report":"ok"}`)

	job, err := e.ctrl.StartInference(ctx, project.ID, []string{"Ash", "Misty"}, "zh-CN")
	if err != nil {
		t.Fatalf("start inference: %v", err)
	}
	if got := e.project(t, project.ID); got.Status != state.ProjectFactsRunning {
		t.Fatalf("project status = %s, want facts_running", got.Status)
	}
	if e.stub.Created[0].Type != "CHARACTER_IDENTIFIER" {
		t.Fatalf("first task = %s", e.stub.Created[0].Type)
	}
	service := e.stub.Created[0].Params["service_params"].(map[string]any)
	if service["lang"] != "zh" {
		t.Fatalf("lang = %v, want primary subtag", service["lang"])
	}

	// Facts completes, chaining the RAG deployment; then RAG completes.
	e.drain(t)

	if got := e.job(t, job.ID); got.Status != state.JobCompleted {
		t.Fatalf("facts job status = %s, want completed", got.Status)
	}
	got := e.project(t, project.ID)
	if got.Status != state.ProjectCompleted {
		t.Fatalf("project status = %s, want completed", got.Status)
	}
	if got.FactsResult == "" || got.RAGReport == "" {
		t.Fatalf("artifacts = %q / %q", got.FactsResult, got.RAGReport)
	}

	if len(e.stub.Created) != 2 || e.stub.Created[1].Type != "DEPLOY_RAG_CORPUS" {
		t.Fatalf("created tasks = %+v", e.stub.Created)
	}
	params := e.stub.Created[1].Params
	if params["facts_input_path"] != "results/task-1.json" {
		t.Fatalf("facts ref = %v", params["facts_input_path"])
	}
	if params["blueprint_input_path"] != "uploads/blueprint.json" {
		t.Fatalf("blueprint ref = %v", params["blueprint_input_path"])
	}
	if params["series_id"] != project.ID {
		t.Fatalf("series id = %v", params["series_id"])
	}
}

func TestInferenceRequiresCharacters(t *testing.T) {
	e := newEnv(t)
	project := testsupport.NewProject(t, e.store, "inference", state.PipelineInference)

	_, err := e.ctrl.StartInference(context.Background(), project.ID, nil, "zh")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestInferenceRejectsCreativeProject(t *testing.T) {
	e := newEnv(t)
	project := e.newCreativeProject(t)

	_, err := e.ctrl.StartInference(context.Background(), project.ID, []string{"Ash"}, "zh")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestInferenceGatesOnPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, e.store, "inference", state.PipelineInference)
	if err := e.store.SetProjectStatus(ctx, project, state.ProjectFactsRunning); err != nil {
		t.Fatalf("set status: %v", err)
	}

	_, err := e.ctrl.StartInference(ctx, project.ID, []string{"Ash"}, "zh")
	if !errors.Is(err, services.ErrStageNotReady) {
		t.Fatalf("error = %v, want ErrStageNotReady", err)
	}
}
