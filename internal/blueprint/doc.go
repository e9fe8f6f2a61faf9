// Package blueprint defines the structured documents flowing between
// pipeline stages: the scene/chapter blueprint, the edit script, and the
// dubbing script. All three arrive as JSON artifacts from remote stages and
// feed the local synthesis engine.
package blueprint
