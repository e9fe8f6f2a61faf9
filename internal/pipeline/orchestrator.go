package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"montage/internal/logging"
	"montage/internal/services"
	"montage/internal/state"
	"montage/internal/store"
)

// StageMode controls how the orchestrator treats one stage for a batch
// member: NEW runs it with freshly resolved configuration, LOCKED copies
// the source project's artifact and marks the stage done, SKIP leaves the
// stage out entirely.
type StageMode string

const (
	ModeNew    StageMode = "NEW"
	ModeLocked StageMode = "LOCKED"
	ModeSkip   StageMode = "SKIP"
)

// StageStrategy is one stage's entry in a batch strategy document. Config
// values are either plain values or resolver objects ({"type": "enum",
// "values_str": "a, b"} or {"type": "range", "min": …, "max": …,
// "step": …}) that are sampled independently per batch member.
type StageStrategy struct {
	Mode   StageMode      `json:"mode"`
	Config map[string]any `json:"config"`
}

// Strategy maps stage names to their batch strategy. Keys beginning with
// an underscore are metadata and ignored.
type Strategy map[string]StageStrategy

// Orchestrator fans a strategy document out into independent projects.
type Orchestrator struct {
	ctrl   *Controller
	rand   *rand.Rand
	logger *slog.Logger
}

// NewOrchestrator builds an Orchestrator using its own random source.
func NewOrchestrator(ctrl *Controller, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		ctrl:   ctrl,
		rand:   rand.New(rand.NewSource(rand.Int63())),
		logger: logging.NewComponentLogger(logger, "orchestrator"),
	}
}

// WithRand replaces the random source. Tests use a fixed seed.
func (o *Orchestrator) WithRand(r *rand.Rand) *Orchestrator {
	o.rand = r
	return o
}

// CreateBatch creates count independent projects from the strategy, each
// with its own resolved configuration snapshot, and starts the first NEW
// stage of each. The source project supplies artifacts for LOCKED stages.
func (o *Orchestrator) CreateBatch(ctx context.Context, sourceProjectID string, count int, strategy Strategy) (*store.Batch, []*store.Project, error) {
	if count <= 0 {
		return nil, nil, services.Wrap(services.ErrValidation, "batch", "create", "batch count must be positive", nil)
	}
	source, err := o.ctrl.store.GetProject(ctx, sourceProjectID)
	if err != nil {
		return nil, nil, err
	}
	if source == nil {
		return nil, nil, services.Wrap(services.ErrNotFound, "batch", "create", fmt.Sprintf("source project %s not found", sourceProjectID), nil)
	}
	if source.Pipeline != state.PipelineCreative {
		return nil, nil, services.Wrap(services.ErrValidation, "batch", "create", "batch creation requires a creative source project", nil)
	}

	strategyJSON, err := json.Marshal(strategy)
	if err != nil {
		return nil, nil, fmt.Errorf("encode strategy: %w", err)
	}
	batch := &store.Batch{
		Pipeline:        state.PipelineCreative,
		SourceProjectID: source.ID,
		TotalCount:      int64(count),
		Strategy:        string(strategyJSON),
	}
	if err := o.ctrl.store.CreateBatch(ctx, batch); err != nil {
		return nil, nil, err
	}

	log := logging.WithContext(ctx, o.logger)
	log.Info("batch started",
		logging.String("batch_id", batch.ID),
		logging.Int("count", count),
		logging.String("source_project", source.ID))

	projects := make([]*store.Project, 0, count)
	for i := 0; i < count; i++ {
		project, err := o.spawnMember(ctx, source, batch, strategy, i)
		if err != nil {
			log.Error("batch member failed", logging.Int("index", i+1), logging.Error(err))
			continue
		}
		projects = append(projects, project)
	}
	return batch, projects, nil
}

// spawnMember creates one batch project and walks its stage modes until
// the first NEW stage hands off to the dispatch chain.
func (o *Orchestrator) spawnMember(ctx context.Context, source *store.Project, batch *store.Batch, strategy Strategy, index int) (*store.Project, error) {
	modes, autoConf := o.resolveMember(strategy)
	encoded, err := autoConf.Encode()
	if err != nil {
		return nil, err
	}

	project := &store.Project{
		Pipeline:    state.PipelineCreative,
		AssetID:     source.AssetID,
		Name:        fmt.Sprintf("%s - batch %s #%d", source.Name, shortID(batch.ID), index+1),
		Description: fmt.Sprintf("batch member, narration=%s localization=%s audio=%s", modes[StageNarration], modes[StageLocalization], modes[StageAudio]),
		BatchID:     batch.ID,
		AutoConfig:  encoded,
	}
	if err := o.ctrl.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}

	walk := []struct {
		stage Stage
		slot  string
		done  state.ProjectStatus
	}{
		{StageNarration, store.SlotNarrationScript, state.ProjectNarrationCompleted},
		{StageLocalization, store.SlotLocalizedScript, state.ProjectLocalizationCompleted},
		{StageAudio, store.SlotDubbingScript, state.ProjectAudioCompleted},
	}
	for _, step := range walk {
		switch modes[step.stage] {
		case ModeLocked:
			if err := o.replicateArtifact(ctx, source, project, step.slot); err != nil {
				return project, err
			}
			if err := o.ctrl.setStatus(ctx, project.ID, step.done); err != nil {
				return project, err
			}
		case ModeSkip:
			// Stage left out; the ladder allows jumping past it.
		default:
			if _, err := o.ctrl.TriggerStage(ctx, project.ID, step.stage, nil); err != nil {
				return project, err
			}
			// The dispatch chain owns the rest of this member's pipeline.
			return project, nil
		}
	}
	return project, nil
}

// resolveMember samples every resolver in the strategy into concrete
// values for one batch member.
func (o *Orchestrator) resolveMember(strategy Strategy) (map[Stage]StageMode, *AutoConfig) {
	modes := map[Stage]StageMode{
		StageNarration:    ModeNew,
		StageLocalization: ModeSkip,
		StageAudio:        ModeNew,
	}
	autoConf := &AutoConfig{}

	for name, entry := range strategy {
		if strings.HasPrefix(name, "_") {
			continue
		}
		stage, ok := ParseStage(name)
		if !ok {
			continue
		}
		if entry.Mode != "" {
			modes[stage] = entry.Mode
		}
		if modes[stage] != ModeNew {
			continue
		}
		resolved := o.flatten(entry.Config)
		switch stage {
		case StageNarration:
			autoConf.Narration = decodeInto[NarrationConfig](resolved)
		case StageLocalization:
			autoConf.Localization = decodeInto[LocalizeConfig](resolved)
		case StageAudio:
			autoConf.Audio = decodeInto[DubbingConfig](resolved)
		}
	}

	// A new localization feeds the dubbing stage: switch the audio source
	// to the localized script and infer a matching speech language code.
	if modes[StageLocalization] == ModeNew && autoConf.Localization != nil && modes[StageAudio] == ModeNew {
		if autoConf.Audio == nil {
			autoConf.Audio = &DubbingConfig{}
		}
		autoConf.Audio.SourceScriptType = "localized"
		if autoConf.Audio.LanguageCode == "" {
			autoConf.Audio.LanguageCode = speechLangCode(autoConf.Localization.TargetLang)
		}
	}
	if modes[StageNarration] == ModeNew && autoConf.Narration == nil {
		autoConf.Narration = &NarrationConfig{}
	}
	if modes[StageAudio] == ModeNew && autoConf.Audio == nil {
		autoConf.Audio = &DubbingConfig{}
	}
	return modes, autoConf
}

// flatten resolves every field of one stage's config.
func (o *Orchestrator) flatten(config map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for key, value := range config {
		out[key] = o.resolveValue(value)
	}
	return out
}

// resolveValue turns a resolver object into a concrete value. Anything
// that is not a resolver object passes through unchanged.
func (o *Orchestrator) resolveValue(value any) any {
	field, ok := value.(map[string]any)
	if !ok {
		return value
	}
	switch field["type"] {
	case "single", "text", "fixed", "custom":
		return field["value"]
	case "enum":
		raw, _ := field["values_str"].(string)
		raw = strings.ReplaceAll(raw, "，", ",")
		options := splitList(raw)
		if len(options) == 0 {
			return nil
		}
		return options[o.rand.Intn(len(options))]
	case "range":
		return o.resolveRange(field)
	}
	return field["value"]
}

// resolveRange samples one value from a stepped numeric range. Integer
// bounds with an integer step yield an int; anything else is rounded to
// two decimals.
func (o *Orchestrator) resolveRange(field map[string]any) any {
	min := toFloat(field["min"])
	max := toFloat(field["max"])
	step := toFloat(field["step"])
	if step <= 0 {
		step = 1
	}
	var options []float64
	for curr := min; curr <= max+1e-5; curr += step {
		options = append(options, curr)
	}
	if len(options) == 0 {
		return min
	}
	val := options[o.rand.Intn(len(options))]
	if step == math.Trunc(step) && min == math.Trunc(min) {
		return int(val)
	}
	return math.Round(val*100) / 100
}

// replicateArtifact copies the source project's artifact reference onto
// the new member. Reference copy only: the file itself is shared.
func (o *Orchestrator) replicateArtifact(ctx context.Context, source, target *store.Project, slot string) error {
	artifact := source.Artifact(slot)
	if artifact == "" {
		return services.Wrap(services.ErrValidation, "batch", "lock stage",
			fmt.Sprintf("source project %s has no %s artifact to lock", source.ID, slot), nil)
	}
	return o.ctrl.store.SetProjectArtifact(ctx, target, slot, artifact)
}

// decodeInto round-trips a resolved map through JSON into a typed config.
func decodeInto[T any](resolved map[string]any) *T {
	out := new(T)
	if len(resolved) == 0 {
		return out
	}
	data, err := json.Marshal(resolved)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, out)
	return out
}

func toFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func speechLangCode(targetLang string) string {
	switch strings.ToLower(strings.SplitN(targetLang, "-", 2)[0]) {
	case "en":
		return "en-US"
	case "ja":
		return "ja-JP"
	case "ko":
		return "ko-KR"
	case "zh", "cmn", "":
		return "cmn-CN"
	}
	return targetLang
}
