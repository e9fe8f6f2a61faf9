// Package pipeline is the stage chain controller. It encodes the ordered
// creative pipeline (narration, localization, audio, edit, synthesis) and
// the two-step inference pipeline, gates every stage start on the project
// reaching the stage's ready status, snapshots per-stage configuration for
// deterministic re-runs, and registers the finalize handlers the dispatch
// engine invokes when remote tasks complete. Auto-pilot chains the next
// stage from a finalize handler when the snapshot holds its configuration.
package pipeline
