// Package synthesis assembles the final deliverable locally: narration
// audio concat, b-roll slicing and concatenation, then the mux. It is the
// only pipeline stage that never touches the remote task service.
package synthesis
