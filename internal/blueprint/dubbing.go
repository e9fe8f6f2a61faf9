package blueprint

import (
	"encoding/json"
	"fmt"
)

// Fragment is one narration audio asset listed by the dubbing script.
// LocalAudioPath is written back after the asset download step; Error
// records a failed download so operators can inspect the persisted script.
type Fragment struct {
	AudioFilePath  string `json:"audio_file_path"`
	LocalAudioPath string `json:"local_audio_path,omitempty"`
	Text           string `json:"text,omitempty"`
	Error          string `json:"error,omitempty"`
}

// DubbingScript lists the narration audio produced by the audio stage.
type DubbingScript struct {
	Fragments []Fragment `json:"dubbing_script"`
}

// ParseDubbingScript decodes a dubbing script document.
func ParseDubbingScript(data []byte) (*DubbingScript, error) {
	var script DubbingScript
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse dubbing script: %w", err)
	}
	return &script, nil
}

// Encode renders the script back to JSON, preserving written-back local
// paths and error annotations.
func (d *DubbingScript) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode dubbing script: %w", err)
	}
	return data, nil
}
