package blueprint

import (
	"encoding/json"
	"fmt"
)

// Clip is one b-roll slice request inside an edit script entry.
type Clip struct {
	SceneID   ID      `json:"scene_id"`
	StartTime Seconds `json:"start_time"`
	Duration  Seconds `json:"duration"`
}

// Entry pairs one narration fragment with its b-roll clips.
type Entry struct {
	NarrationAudioPath string `json:"narration_audio_path"`
	BRollClips         []Clip `json:"b_roll_clips"`
}

// EditScript is the ordered assembly plan produced by the edit stage.
type EditScript struct {
	Entries []Entry `json:"editing_script"`
}

// ParseEditScript decodes an edit script document and rejects an empty plan.
func ParseEditScript(data []byte) (*EditScript, error) {
	var script EditScript
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse edit script: %w", err)
	}
	if len(script.Entries) == 0 {
		return nil, fmt.Errorf("edit script is empty")
	}
	return &script, nil
}
