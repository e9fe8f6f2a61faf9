package blueprint_test

import (
	"strings"
	"testing"

	"montage/internal/blueprint"
)

const sampleBlueprint = `{
  "chapters": {
    "1": {"source_file": "ch01.mp4"},
    "2": {"source_file": "ch02.mp4"},
    "3": {"source_file": ""}
  },
  "scenes": {
    "s1": {"id": "s1", "chapter_id": 1, "start_time": "0", "end_time": 12.5},
    "s2": {"id": "s2", "chapter_id": "2"},
    "s3": {"id": "s3", "chapter_id": "9"},
    "s4": {"id": "s4", "chapter_id": "3"}
  }
}`

func TestParseBlueprint(t *testing.T) {
	bp, err := blueprint.ParseBlueprint([]byte(sampleBlueprint))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(bp.Chapters) != 3 || len(bp.Scenes) != 4 {
		t.Fatalf("unexpected sizes: %d chapters, %d scenes", len(bp.Chapters), len(bp.Scenes))
	}
}

func TestSourceForScene(t *testing.T) {
	bp, err := blueprint.ParseBlueprint([]byte(sampleBlueprint))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// Numeric chapter_id must resolve against string chapter keys.
	source, err := bp.SourceForScene("s1")
	if err != nil {
		t.Fatalf("resolve s1: %v", err)
	}
	if source != "ch01.mp4" {
		t.Fatalf("s1 source = %q", source)
	}

	if _, err := bp.SourceForScene("s3"); err == nil {
		t.Fatal("expected missing chapter to fail")
	}
	if _, err := bp.SourceForScene("s4"); err == nil {
		t.Fatal("expected empty source file to fail")
	}
	if _, err := bp.SourceForScene("ghost"); err == nil {
		t.Fatal("expected unknown scene to fail")
	}
}

func TestParseBlueprintRejectsEmpty(t *testing.T) {
	if _, err := blueprint.ParseBlueprint([]byte(`{"chapters": {}, "scenes": {}}`)); err == nil {
		t.Fatal("expected empty blueprint to be rejected")
	}
}

func TestParseEditScript(t *testing.T) {
	data := `{
      "editing_script": [
        {
          "narration_audio_path": "frag_000.wav",
          "b_roll_clips": [
            {"scene_id": "s1", "start_time": "3.5", "duration": 4},
            {"scene_id": 2, "start_time": 0, "duration": "2.25"}
          ]
        },
        {"narration_audio_path": "frag_001.wav"}
      ]
    }`
	script, err := blueprint.ParseEditScript([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(script.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(script.Entries))
	}
	clips := script.Entries[0].BRollClips
	if clips[0].StartTime.String() != "3.5" || clips[0].Duration.String() != "4" {
		t.Fatalf("clip 0 times: %+v", clips[0])
	}
	if clips[1].SceneID.String() != "2" {
		t.Fatalf("numeric scene id = %q", clips[1].SceneID)
	}
	if value, err := clips[1].Duration.Float(); err != nil || value != 2.25 {
		t.Fatalf("duration float = %v, %v", value, err)
	}
}

func TestParseEditScriptRejectsEmpty(t *testing.T) {
	if _, err := blueprint.ParseEditScript([]byte(`{"editing_script": []}`)); err == nil {
		t.Fatal("expected empty edit script to be rejected")
	}
}

func TestDubbingScriptRoundTrip(t *testing.T) {
	data := `{
      "dubbing_script": [
        {"audio_file_path": "uploads/a0.wav", "text": "hello"},
        {"audio_file_path": "uploads/a1.wav"}
      ]
    }`
	script, err := blueprint.ParseDubbingScript([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(script.Fragments) != 2 {
		t.Fatalf("fragments = %d", len(script.Fragments))
	}

	script.Fragments[0].LocalAudioPath = "audio_7/a0.wav"
	script.Fragments[1].Error = "download failed"
	encoded, err := script.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	text := string(encoded)
	if !strings.Contains(text, "audio_7/a0.wav") || !strings.Contains(text, "download failed") {
		t.Fatalf("written-back fields missing: %s", text)
	}

	reparsed, err := blueprint.ParseDubbingScript(encoded)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if reparsed.Fragments[0].LocalAudioPath != "audio_7/a0.wav" {
		t.Fatalf("local path lost: %+v", reparsed.Fragments[0])
	}
}
