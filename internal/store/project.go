package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barelyworkingcode/eve/internal/model"
)

// ProjectStore owns the projects.json manifest. The whole file is
// rewritten atomically on every mutation.
type ProjectStore struct {
	path string

	mu       sync.RWMutex
	projects []model.Project
}

// NewProjectStore loads the manifest from path; a missing manifest
// yields an empty store.
func NewProjectStore(path string) (*ProjectStore, error) {
	s := &ProjectStore{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read project manifest: %w", err)
	}

	var manifest model.ProjectManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse project manifest: %w", err)
	}
	s.projects = manifest.Projects
	return s, nil
}

// List returns a copy of all projects.
func (s *ProjectStore) List() []model.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Project, len(s.projects))
	copy(out, s.projects)
	return out
}

// Get returns the project with the given id.
func (s *ProjectStore) Get(id string) (model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Project{}, model.ErrProjectNotFound
}

// Create adds a project and rewrites the manifest.
func (s *ProjectStore) Create(name, path, defaultModel string) (model.Project, error) {
	project := model.Project{
		ID:        uuid.New().String(),
		Name:      name,
		Path:      path,
		Model:     defaultModel,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects = append(s.projects, project)
	if err := s.writeLocked(); err != nil {
		s.projects = s.projects[:len(s.projects)-1]
		return model.Project{}, err
	}
	return project, nil
}

// Delete removes a project and rewrites the manifest.
func (s *ProjectStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.projects {
		if p.ID == id {
			s.projects = append(s.projects[:i], s.projects[i+1:]...)
			return s.writeLocked()
		}
	}
	return model.ErrProjectNotFound
}

func (s *ProjectStore) writeLocked() error {
	data, err := json.MarshalIndent(model.ProjectManifest{Projects: s.projects}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal project manifest: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write project manifest: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit project manifest: %w", err)
	}
	return nil
}
