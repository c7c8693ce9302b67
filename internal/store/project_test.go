package store

import (
	"path/filepath"
	"testing"
)

func TestProjectStore_CreateAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")

	store, err := NewProjectStore(path)
	if err != nil {
		t.Fatalf("NewProjectStore: %v", err)
	}

	p, err := store.Create("demo", "/tmp/demo", "claude-sonnet")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == "" {
		t.Error("project ID should not be empty")
	}

	// A fresh store must see the manifest written by the first.
	reloaded, err := NewProjectStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := reloaded.Get(p.ID)
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if got.Name != "demo" || got.Path != "/tmp/demo" || got.Model != "claude-sonnet" {
		t.Errorf("project mangled after reload: %+v", got)
	}
}

func TestProjectStore_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	store, _ := NewProjectStore(path)

	p, _ := store.Create("gone", "/tmp/gone", "m")
	if err := store.Delete(p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(p.ID); err == nil {
		t.Error("expected project to be gone")
	}
	if err := store.Delete(p.ID); err == nil {
		t.Error("expected error deleting missing project")
	}
}

func TestProjectStore_MissingManifest(t *testing.T) {
	store, err := NewProjectStore(filepath.Join(t.TempDir(), "projects.json"))
	if err != nil {
		t.Fatalf("missing manifest should not error: %v", err)
	}
	if len(store.List()) != 0 {
		t.Error("expected empty project list")
	}
}
