// Package sched arms timers from each project's .tasks.json manifest
// and hands fired tasks to the session manager for headless execution.
package sched

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/barelyworkingcode/eve/internal/model"
	"github.com/barelyworkingcode/eve/internal/store"
)

const (
	// ManifestName is the per-project task manifest file.
	ManifestName = ".tasks.json"

	reloadDebounce = 100 * time.Millisecond

	// runTimeout is the hard cap on one headless execution.
	runTimeout = 5 * time.Minute
)

// RunResult is the outcome of one headless execution.
type RunResult struct {
	Response string
	Stats    *model.Stats
	Err      error
}

// RunRequest asks the session manager to execute a task headlessly.
type RunRequest struct {
	ProjectID string
	Directory string
	Task      model.Task
	Reply     chan RunResult
}

// Events receives scheduler progress notifications for broadcast.
type Events interface {
	TaskStarted(projectID string, task model.Task)
	TaskCompleted(projectID string, task model.Task, exec model.TaskExecution)
	TaskFailed(projectID string, task model.Task, exec model.TaskExecution)
	TasksUpdated(projectID string, tasks []model.Task)
}

type taskState struct {
	task    model.Task
	timer   *time.Timer
	running bool
}

type projectState struct {
	project  model.Project
	tasks    map[string]*taskState
	debounce *time.Timer
}

// Scheduler owns the timers. Fired tasks are pushed to Runs and
// serviced elsewhere; the scheduler records the outcome and re-arms.
type Scheduler struct {
	Runs   chan RunRequest
	logs   *store.TaskLogStore
	events Events

	mu       sync.Mutex
	projects map[string]*projectState // project id -> state
	byPath   map[string]string        // watched dir -> project id
	watcher  *fsnotify.Watcher
	closed   bool
}

// New creates the scheduler. events may be nil.
func New(logs *store.TaskLogStore, events Events) (*Scheduler, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	s := &Scheduler{
		Runs:     make(chan RunRequest),
		logs:     logs,
		events:   events,
		projects: make(map[string]*projectState),
		byPath:   make(map[string]string),
		watcher:  watcher,
	}
	go s.watchLoop()
	return s, nil
}

// AddProject loads the project's manifest, arms its tasks, and begins
// watching the project directory for manifest edits.
func (s *Scheduler) AddProject(p model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("scheduler closed")
	}
	if _, ok := s.projects[p.ID]; ok {
		return nil
	}

	s.projects[p.ID] = &projectState{project: p, tasks: make(map[string]*taskState)}
	s.byPath[p.Path] = p.ID

	if err := s.watcher.Add(p.Path); err != nil {
		log.Printf("scheduler: watch %s: %v", p.Path, err)
	}

	s.reloadLocked(p.ID)
	return nil
}

// RemoveProject cancels the project's timers and stops watching it.
func (s *Scheduler) RemoveProject(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.projects[projectID]
	if !ok {
		return
	}
	for _, ts := range ps.tasks {
		if ts.timer != nil {
			ts.timer.Stop()
		}
	}
	if ps.debounce != nil {
		ps.debounce.Stop()
	}
	s.watcher.Remove(ps.project.Path)
	delete(s.byPath, ps.project.Path)
	delete(s.projects, projectID)
}

// Close stops all timers and the filesystem watcher.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, ps := range s.projects {
		for _, ts := range ps.tasks {
			if ts.timer != nil {
				ts.timer.Stop()
			}
		}
		if ps.debounce != nil {
			ps.debounce.Stop()
		}
	}
	s.mu.Unlock()

	s.watcher.Close()
}

func (s *Scheduler) watchLoop() {
	for {
		select {
		case evt, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != ManifestName {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.scheduleReload(filepath.Dir(evt.Name))

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("scheduler: watcher error: %v", err)
		}
	}
}

// scheduleReload debounces manifest edits per project.
func (s *Scheduler) scheduleReload(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	projectID, ok := s.byPath[dir]
	if !ok || s.closed {
		return
	}
	ps := s.projects[projectID]
	if ps.debounce != nil {
		ps.debounce.Stop()
	}
	ps.debounce = time.AfterFunc(reloadDebounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.closed {
			s.reloadLocked(projectID)
		}
	})
}

// reloadLocked re-reads the manifest and re-arms every enabled task.
// Callers hold s.mu.
func (s *Scheduler) reloadLocked(projectID string) {
	ps, ok := s.projects[projectID]
	if !ok {
		return
	}

	tasks, err := LoadManifest(filepath.Join(ps.project.Path, ManifestName))
	if err != nil {
		log.Printf("scheduler: load manifest for %s: %v", ps.project.Name, err)
		tasks = nil
	}

	// Cancel everything; timers for removed or edited tasks must not
	// fire with stale definitions. The running flag survives the
	// rebuild so a task mid-execution cannot re-enter on its next fire.
	running := make(map[string]bool)
	for id, ts := range ps.tasks {
		if ts.timer != nil {
			ts.timer.Stop()
		}
		if ts.running {
			running[id] = true
		}
	}
	ps.tasks = make(map[string]*taskState)

	for _, task := range tasks {
		if !task.IsEnabled() {
			continue
		}
		ts := &taskState{task: task, running: running[task.ID]}
		ps.tasks[task.ID] = ts
		s.armLocked(projectID, ts)
	}

	if s.events != nil {
		go s.events.TasksUpdated(projectID, tasks)
	}
}

// armLocked schedules the task's next fire. Callers hold s.mu.
func (s *Scheduler) armLocked(projectID string, ts *taskState) {
	next, fellBack := NextFire(ts.task.Schedule, time.Now())
	if fellBack {
		log.Printf("scheduler: task %s has unsupported schedule %q, firing in one hour",
			ts.task.Name, ts.task.Schedule.Expression)
	}
	taskID := ts.task.ID
	ts.timer = time.AfterFunc(time.Until(next), func() {
		s.fire(projectID, taskID)
	})
}

// fire executes one task run and re-arms. A task that is still running
// from a previous fire skips this occurrence.
func (s *Scheduler) fire(projectID, taskID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ps, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return
	}
	ts, ok := ps.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if ts.running {
		s.armLocked(projectID, ts)
		s.mu.Unlock()
		return
	}
	ts.running = true
	task := ts.task
	dir := ps.project.Path
	s.armLocked(projectID, ts)
	s.mu.Unlock()

	s.run(projectID, dir, task)

	s.mu.Lock()
	if ps, ok := s.projects[projectID]; ok {
		if ts, ok := ps.tasks[taskID]; ok {
			ts.running = false
		}
	}
	s.mu.Unlock()
}

// run performs one headless execution and records the outcome.
func (s *Scheduler) run(projectID, dir string, task model.Task) {
	if s.events != nil {
		s.events.TaskStarted(projectID, task)
	}

	exec := model.TaskExecution{
		StartedAt: time.Now(),
		Status:    model.ExecutionRunning,
	}

	reply := make(chan RunResult, 1)
	req := RunRequest{ProjectID: projectID, Directory: dir, Task: task, Reply: reply}

	var result RunResult
	select {
	case s.Runs <- req:
		select {
		case result = <-reply:
		case <-time.After(runTimeout):
			result = RunResult{Err: fmt.Errorf("task %q timed out after %s", task.Name, runTimeout)}
		}
	case <-time.After(runTimeout):
		result = RunResult{Err: fmt.Errorf("no task runner available for %q", task.Name)}
	}

	now := time.Now()
	exec.CompletedAt = &now
	exec.Stats = result.Stats
	if result.Err != nil {
		exec.Status = model.ExecutionError
		exec.Error = result.Err.Error()
	} else {
		exec.Status = model.ExecutionSuccess
		exec.Response = result.Response
	}

	if err := s.logs.Append(projectID, task.ID, exec); err != nil {
		log.Printf("scheduler: record task %s: %v", task.Name, err)
	}

	if s.events != nil {
		if result.Err != nil {
			s.events.TaskFailed(projectID, task, exec)
		} else {
			s.events.TaskCompleted(projectID, task, exec)
		}
	}
}

// LoadManifest reads a .tasks.json file. A missing file is an empty
// task list.
func LoadManifest(path string) ([]model.Task, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest model.TaskManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return manifest.Tasks, nil
}
