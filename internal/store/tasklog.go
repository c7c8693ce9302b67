package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/barelyworkingcode/eve/internal/model"
)

// maxTaskLogEntries caps each task's execution log.
const maxTaskLogEntries = 100

// TaskLogStore persists task execution records, newest first, one file
// per (project, task) pair.
type TaskLogStore struct {
	dir string
	mu  sync.Mutex
}

// NewTaskLogStore creates the log directory if needed.
func NewTaskLogStore(dir string) (*TaskLogStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task log directory: %w", err)
	}
	return &TaskLogStore{dir: dir}, nil
}

func (s *TaskLogStore) path(projectID, taskID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.json", projectID, taskID))
}

// Append prepends one execution record, trimming the log to its cap.
func (s *TaskLogStore) Append(projectID, taskID string, exec model.TaskExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked(projectID, taskID)
	if err != nil {
		return err
	}

	records = append([]model.TaskExecution{exec}, records...)
	if len(records) > maxTaskLogEntries {
		records = records[:maxTaskLogEntries]
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task log: %w", err)
	}

	path := s.path(projectID, taskID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write task log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit task log: %w", err)
	}
	return nil
}

// List returns the execution records for a task, newest first.
func (s *TaskLogStore) List(projectID, taskID string) ([]model.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(projectID, taskID)
}

func (s *TaskLogStore) readLocked(projectID, taskID string) ([]model.TaskExecution, error) {
	data, err := os.ReadFile(s.path(projectID, taskID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task log: %w", err)
	}

	var records []model.TaskExecution
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse task log: %w", err)
	}
	return records, nil
}
