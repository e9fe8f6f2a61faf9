// Package services defines shared utilities consumed by the pipeline
// controllers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp pipeline, project, job, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures carry
//     stage/operation context and classify consistently (transient vs
//     terminal) across the dispatch engine and stage controllers.
package services
