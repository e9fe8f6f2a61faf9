package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"montage/internal/services"
)

// NarrationConfig drives the narration generation task.
type NarrationConfig struct {
	NarrativeFocus        string  `json:"narrative_focus,omitempty"`
	CustomNarrativePrompt string  `json:"custom_narrative_prompt,omitempty"`
	Style                 string  `json:"style,omitempty"`
	CustomStylePrompt     string  `json:"custom_style_prompt,omitempty"`
	Perspective           string  `json:"perspective,omitempty"`
	PerspectiveCharacter  string  `json:"perspective_character,omitempty"`
	Scope                 string  `json:"scope,omitempty"`
	ScopeStart            int     `json:"scope_start,omitempty"`
	ScopeEnd              int     `json:"scope_end,omitempty"`
	CharacterFocus        string  `json:"character_focus,omitempty"`
	TargetDurationMinutes int     `json:"target_duration_minutes,omitempty"`
	OverflowTolerance     float64 `json:"overflow_tolerance,omitempty"`
	SpeakingRate          float64 `json:"speaking_rate,omitempty"`
	RAGTopK               int     `json:"rag_top_k,omitempty"`
	Lang                  string  `json:"lang,omitempty"`
	Model                 string  `json:"model,omitempty"`
}

// LocalizeConfig drives the narration localization task.
type LocalizeConfig struct {
	TargetLang        string  `json:"target_lang,omitempty"`
	SpeakingRate      float64 `json:"speaking_rate,omitempty"`
	OverflowTolerance float64 `json:"overflow_tolerance,omitempty"`
}

// DubbingConfig drives the voice synthesis task.
type DubbingConfig struct {
	// SourceScriptType selects the narration source: master or localized.
	SourceScriptType string  `json:"source_script_type,omitempty"`
	TemplateName     string  `json:"template_name,omitempty"`
	VoiceName        string  `json:"voice_name,omitempty"`
	LanguageCode     string  `json:"language_code,omitempty"`
	Speed            float64 `json:"speed,omitempty"`
}

// AutoConfig is the per-stage configuration snapshot persisted on a project.
// A non-nil entry for a stage means auto-pilot may chain that stage.
type AutoConfig struct {
	Narration    *NarrationConfig `json:"narration,omitempty"`
	Localization *LocalizeConfig  `json:"localization,omitempty"`
	Audio        *DubbingConfig   `json:"audio,omitempty"`
	Edit         *struct{}        `json:"edit,omitempty"`
	Synthesis    *struct{}        `json:"synthesis,omitempty"`
}

// ParseAutoConfig decodes a stored snapshot. Empty input yields an empty
// snapshot, not an error.
func ParseAutoConfig(raw string) (*AutoConfig, error) {
	cfg := &AutoConfig{}
	if strings.TrimSpace(raw) == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), cfg); err != nil {
		return nil, fmt.Errorf("parse auto config: %w", err)
	}
	return cfg, nil
}

// Encode serializes the snapshot for storage.
func (a *AutoConfig) Encode() (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode auto config: %w", err)
	}
	return string(data), nil
}

func (c *NarrationConfig) withDefaults() NarrationConfig {
	out := NarrationConfig{}
	if c != nil {
		out = *c
	}
	if out.NarrativeFocus == "" {
		out.NarrativeFocus = "general"
	}
	if out.Style == "" {
		out.Style = "objective"
	}
	if out.Perspective == "" {
		out.Perspective = "third_person"
	}
	if out.Scope == "" {
		out.Scope = "full"
	}
	if out.TargetDurationMinutes == 0 {
		out.TargetDurationMinutes = 3
	}
	if out.SpeakingRate == 0 {
		out.SpeakingRate = 4.2
	}
	if out.RAGTopK == 0 {
		out.RAGTopK = 50
	}
	if out.Lang == "" {
		out.Lang = "zh"
	}
	if out.Model == "" {
		out.Model = "gemini-2.5-pro"
	}
	return out
}

// BuildNarrationPayload assembles the narration task parameters. Selecting
// a custom focus or style without the matching prompt text is rejected
// here so the remote service never sees an empty prompt.
func BuildNarrationPayload(assetName, assetID, blueprintRef string, conf *NarrationConfig) (map[string]any, error) {
	cfg := conf.withDefaults()

	prompts := map[string]any{}
	if cfg.NarrativeFocus == "custom" {
		if strings.TrimSpace(cfg.CustomNarrativePrompt) == "" {
			return nil, services.Wrap(services.ErrValidation, string(StageNarration), "build payload",
				"narrative focus is custom but no custom focus prompt was provided", nil)
		}
		prompts["narrative_focus"] = strings.TrimSpace(cfg.CustomNarrativePrompt)
	}
	if cfg.Style == "custom" {
		if strings.TrimSpace(cfg.CustomStylePrompt) == "" {
			return nil, services.Wrap(services.ErrValidation, string(StageNarration), "build payload",
				"style is custom but no custom style prompt was provided", nil)
		}
		prompts["style"] = strings.TrimSpace(cfg.CustomStylePrompt)
	}
	if cfg.Perspective == "first_person" && strings.TrimSpace(cfg.PerspectiveCharacter) == "" {
		return nil, services.Wrap(services.ErrValidation, string(StageNarration), "build payload",
			"first person perspective requires a perspective character", nil)
	}

	scope := map[string]any{"type": cfg.Scope}
	if cfg.Scope == "episode_range" {
		start, end := cfg.ScopeStart, cfg.ScopeEnd
		if start == 0 {
			start = 1
		}
		if end == 0 {
			end = start
		}
		scope["value"] = []int{start, end}
	}

	characters := splitList(cfg.CharacterFocus)
	characterFocus := map[string]any{"mode": "all", "characters": []string{}}
	if len(characters) > 0 {
		characterFocus = map[string]any{"mode": "specific", "characters": characters}
	}

	control := map[string]any{
		"narrative_focus":         cfg.NarrativeFocus,
		"scope":                   scope,
		"character_focus":         characterFocus,
		"style":                   cfg.Style,
		"perspective":             cfg.Perspective,
		"target_duration_minutes": cfg.TargetDurationMinutes,
	}
	if cfg.PerspectiveCharacter != "" {
		control["perspective_character"] = cfg.PerspectiveCharacter
	}
	if len(prompts) > 0 {
		control["custom_prompts"] = prompts
	}

	return map[string]any{
		"asset_name":     assetName,
		"asset_id":       assetID,
		"blueprint_path": blueprintRef,
		"service_params": map[string]any{
			"lang":               cfg.Lang,
			"model":              cfg.Model,
			"rag_top_k":          cfg.RAGTopK,
			"speaking_rate":      cfg.SpeakingRate,
			"overflow_tolerance": cfg.OverflowTolerance,
			"control_params":     control,
		},
	}, nil
}

// BuildLocalizePayload assembles the localization task parameters. The
// target language must be a well-formed BCP 47 tag.
func BuildLocalizePayload(masterRef, blueprintRef string, conf *LocalizeConfig) (map[string]any, error) {
	cfg := LocalizeConfig{TargetLang: "en", SpeakingRate: 2.5, OverflowTolerance: -0.15}
	if conf != nil {
		cfg = *conf
		if cfg.TargetLang == "" {
			cfg.TargetLang = "en"
		}
		if cfg.SpeakingRate == 0 {
			cfg.SpeakingRate = 2.5
		}
	}
	if _, err := language.Parse(cfg.TargetLang); err != nil {
		return nil, services.Wrap(services.ErrValidation, string(StageLocalization), "build payload",
			fmt.Sprintf("invalid target language %q", cfg.TargetLang), err)
	}
	return map[string]any{
		"master_script_path": masterRef,
		"blueprint_path":     blueprintRef,
		"service_params": map[string]any{
			"lang":               "zh",
			"target_lang":        cfg.TargetLang,
			"model":              "gemini-2.5-pro",
			"speaking_rate":      cfg.SpeakingRate,
			"overflow_tolerance": cfg.OverflowTolerance,
		},
	}, nil
}

// BuildDubbingPayload assembles the voice synthesis task parameters. Gemini
// templates carry voice and language fields; other templates only take a
// speed factor.
func BuildDubbingPayload(inputRef string, conf *DubbingConfig) (map[string]any, error) {
	cfg := DubbingConfig{TemplateName: "chinese_gemini_emotional", VoiceName: "Puck", LanguageCode: "cmn-CN", Speed: 1.0}
	if conf != nil {
		cfg = *conf
		if cfg.TemplateName == "" {
			cfg.TemplateName = "chinese_gemini_emotional"
		}
		if cfg.VoiceName == "" {
			cfg.VoiceName = "Puck"
		}
		if cfg.LanguageCode == "" {
			cfg.LanguageCode = "cmn-CN"
		}
		if cfg.Speed == 0 {
			cfg.Speed = 1.0
		}
	}
	if _, err := language.Parse(cfg.LanguageCode); err != nil {
		return nil, services.Wrap(services.ErrValidation, string(StageAudio), "build payload",
			fmt.Sprintf("invalid language code %q", cfg.LanguageCode), err)
	}

	serviceParams := map[string]any{"template_name": cfg.TemplateName}
	if strings.Contains(cfg.TemplateName, "gemini") {
		serviceParams["voice_name"] = cfg.VoiceName
		serviceParams["language_code"] = cfg.LanguageCode
		serviceParams["speaking_rate"] = cfg.Speed
		serviceParams["model_name"] = "gemini-2.5-pro-tts"
	} else {
		serviceParams["speed"] = cfg.Speed
	}
	return map[string]any{
		"input_narration_path": inputRef,
		"service_params":       serviceParams,
	}, nil
}

// BuildEditPayload assembles the edit-script task parameters.
func BuildEditPayload(dubbingRef, blueprintRef string) map[string]any {
	return map[string]any{
		"dubbing_script_path": dubbingRef,
		"blueprint_path":      blueprintRef,
		"service_params":      map[string]any{"lang": "zh"},
	}
}

func splitList(value string) []string {
	value = strings.ReplaceAll(value, "，", ",")
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
