package blueprint

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is a scene or chapter identifier. Upstream generators emit these
// inconsistently as JSON strings or numbers, so it decodes both.
type ID string

// UnmarshalJSON accepts a string or numeric identifier.
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*id = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier as stored.
func (id ID) String() string { return string(id) }

// Chapter maps a chapter onto its source media file.
type Chapter struct {
	SourceFile string `json:"source_file"`
}

// Scene places a narrative scene inside a chapter.
type Scene struct {
	ID        ID      `json:"id"`
	ChapterID ID      `json:"chapter_id"`
	StartTime Seconds `json:"start_time"`
	EndTime   Seconds `json:"end_time"`
}

// Blueprint is the scene/chapter map the synthesis engine resolves b-roll
// sources against.
type Blueprint struct {
	Chapters map[string]Chapter `json:"chapters"`
	Scenes   map[string]Scene   `json:"scenes"`
}

// ParseBlueprint decodes and sanity checks a blueprint document.
func ParseBlueprint(data []byte) (*Blueprint, error) {
	var bp Blueprint
	if err := json.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("parse blueprint: %w", err)
	}
	if len(bp.Chapters) == 0 {
		return nil, fmt.Errorf("blueprint has no chapters")
	}
	return &bp, nil
}

// ChapterForScene resolves a scene identifier to its chapter identifier.
// Scene map keys are not trusted; the scene's own id field wins.
func (b *Blueprint) ChapterForScene(sceneID ID) (ID, bool) {
	for key, scene := range b.Scenes {
		id := scene.ID
		if id == "" {
			id = ID(key)
		}
		if id == sceneID {
			return scene.ChapterID, scene.ChapterID != ""
		}
	}
	return "", false
}

// SourceForScene resolves scene -> chapter -> source media file name.
func (b *Blueprint) SourceForScene(sceneID ID) (string, error) {
	chapterID, ok := b.ChapterForScene(sceneID)
	if !ok {
		return "", fmt.Errorf("scene %s has no chapter mapping", sceneID)
	}
	chapter, ok := b.Chapters[chapterID.String()]
	if !ok {
		return "", fmt.Errorf("chapter %s not present in blueprint", chapterID)
	}
	if strings.TrimSpace(chapter.SourceFile) == "" {
		return "", fmt.Errorf("chapter %s has no source file", chapterID)
	}
	return chapter.SourceFile, nil
}

// Seconds is a time offset or duration expressed in seconds. Upstream
// documents carry these as strings ("12.5") or bare numbers.
type Seconds string

// UnmarshalJSON accepts a string or numeric seconds value.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Seconds(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("seconds must be string or number: %w", err)
	}
	*s = Seconds(n.String())
	return nil
}

// String returns the value as it will be passed to the transcoder.
func (s Seconds) String() string { return string(s) }

// IsZero reports whether the value is absent.
func (s Seconds) IsZero() bool { return strings.TrimSpace(string(s)) == "" }

// Float parses the value for arithmetic use.
func (s Seconds) Float() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
}
