package testsupport

import (
	"context"
	"testing"

	"montage/internal/config"
	"montage/internal/state"
	"montage/internal/store"
)

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// NewProject creates a project for tests using the provided store.
func NewProject(t testing.TB, st *store.Store, name string, pipeline state.Pipeline) *store.Project {
	t.Helper()

	project := &store.Project{
		Pipeline: pipeline,
		AssetID:  "asset-1",
		Name:     name,
	}
	if err := st.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("store.CreateProject: %v", err)
	}
	return project
}
