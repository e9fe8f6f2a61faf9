// Package state defines the job and project status vocabularies and the
// transition rules shared by every pipeline.
package state
