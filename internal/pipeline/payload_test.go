package pipeline_test

import (
	"errors"
	"testing"

	"montage/internal/pipeline"
	"montage/internal/services"
)

func TestNarrationPayloadDefaults(t *testing.T) {
	payload, err := pipeline.BuildNarrationPayload("Show", "asset-1", "uploads/bp.json", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	service := payload["service_params"].(map[string]any)
	if service["lang"] != "zh" || service["rag_top_k"] != 50 {
		t.Fatalf("service params = %v", service)
	}
	control := service["control_params"].(map[string]any)
	if control["narrative_focus"] != "general" || control["style"] != "objective" {
		t.Fatalf("control params = %v", control)
	}
	focus := control["character_focus"].(map[string]any)
	if focus["mode"] != "all" {
		t.Fatalf("character focus = %v", focus)
	}
}

func TestNarrationPayloadCustomPromptRequired(t *testing.T) {
	_, err := pipeline.BuildNarrationPayload("Show", "asset-1", "uploads/bp.json", &pipeline.NarrationConfig{
		NarrativeFocus: "custom",
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}

	_, err = pipeline.BuildNarrationPayload("Show", "asset-1", "uploads/bp.json", &pipeline.NarrationConfig{
		Style: "custom",
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}

	payload, err := pipeline.BuildNarrationPayload("Show", "asset-1", "uploads/bp.json", &pipeline.NarrationConfig{
		NarrativeFocus:        "custom",
		CustomNarrativePrompt: "focus on the rivalry",
	})
	if err != nil {
		t.Fatalf("build with prompt: %v", err)
	}
	control := payload["service_params"].(map[string]any)["control_params"].(map[string]any)
	prompts := control["custom_prompts"].(map[string]any)
	if prompts["narrative_focus"] != "focus on the rivalry" {
		t.Fatalf("prompts = %v", prompts)
	}
}

func TestNarrationPayloadFirstPersonNeedsCharacter(t *testing.T) {
	_, err := pipeline.BuildNarrationPayload("Show", "asset-1", "uploads/bp.json", &pipeline.NarrationConfig{
		Perspective: "first_person",
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestNarrationPayloadEpisodeRangeScope(t *testing.T) {
	payload, err := pipeline.BuildNarrationPayload("Show", "asset-1", "uploads/bp.json", &pipeline.NarrationConfig{
		Scope:      "episode_range",
		ScopeStart: 2,
		ScopeEnd:   6,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	control := payload["service_params"].(map[string]any)["control_params"].(map[string]any)
	scope := control["scope"].(map[string]any)
	value := scope["value"].([]int)
	if scope["type"] != "episode_range" || value[0] != 2 || value[1] != 6 {
		t.Fatalf("scope = %v", scope)
	}
}

func TestLocalizePayloadRejectsBadLanguage(t *testing.T) {
	_, err := pipeline.BuildLocalizePayload("uploads/master.json", "uploads/bp.json", &pipeline.LocalizeConfig{
		TargetLang: "!!nope",
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestDubbingPayloadTemplateBranches(t *testing.T) {
	payload, err := pipeline.BuildDubbingPayload("uploads/script.json", nil)
	if err != nil {
		t.Fatalf("build default: %v", err)
	}
	service := payload["service_params"].(map[string]any)
	if service["template_name"] != "chinese_gemini_emotional" || service["voice_name"] != "Puck" {
		t.Fatalf("gemini params = %v", service)
	}
	if service["model_name"] != "gemini-2.5-pro-tts" {
		t.Fatalf("gemini model missing: %v", service)
	}

	payload, err = pipeline.BuildDubbingPayload("uploads/script.json", &pipeline.DubbingConfig{
		TemplateName: "classic_tts",
		Speed:        1.2,
	})
	if err != nil {
		t.Fatalf("build classic: %v", err)
	}
	service = payload["service_params"].(map[string]any)
	if _, ok := service["voice_name"]; ok {
		t.Fatalf("non-gemini template carries voice fields: %v", service)
	}
	if service["speed"] != 1.2 {
		t.Fatalf("speed = %v", service["speed"])
	}
}

func TestParseStage(t *testing.T) {
	if stage, ok := pipeline.ParseStage(" Audio "); !ok || stage != pipeline.StageAudio {
		t.Fatalf("parse audio = %v/%v", stage, ok)
	}
	if _, ok := pipeline.ParseStage("mixing"); ok {
		t.Fatal("unknown stage accepted")
	}
}
