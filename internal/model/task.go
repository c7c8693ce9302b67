package model

import (
	"fmt"
	"time"
)

// ScheduleKind tags the schedule variants a task may carry.
type ScheduleKind string

const (
	ScheduleDaily    ScheduleKind = "daily"
	ScheduleHourly   ScheduleKind = "hourly"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleWeekly   ScheduleKind = "weekly"
	ScheduleCron     ScheduleKind = "cron"
)

// Schedule describes when a task fires. Exactly the fields for the
// tagged kind are meaningful: Time for daily/weekly (HH:MM local),
// Minute for hourly, Minutes for interval, Weekday for weekly,
// Expression for cron.
type Schedule struct {
	Kind       ScheduleKind `json:"type"`
	Time       string       `json:"time,omitempty"`
	Minute     int          `json:"minute,omitempty"`
	Minutes    int          `json:"minutes,omitempty"`
	Weekday    time.Weekday `json:"weekday,omitempty"`
	Expression string       `json:"expression,omitempty"`
}

// ParseClock splits an "HH:MM" value into hour and minute.
func (s Schedule) ParseClock() (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s.Time, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("bad schedule time %q: %w", s.Time, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("schedule time %q out of range", s.Time)
	}
	return hour, minute, nil
}

// Task is one entry in a project's .tasks.json manifest.
type Task struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Prompt   string   `json:"prompt"`
	Schedule Schedule `json:"schedule"`
	Enabled  *bool    `json:"enabled,omitempty"`
	Model    string   `json:"model,omitempty"`
}

// IsEnabled treats a missing enabled field as true.
func (t *Task) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// TaskManifest is the on-disk shape of .tasks.json.
type TaskManifest struct {
	Tasks []Task `json:"tasks"`
}

// ExecutionStatus is the terminal (or running) state of one task run.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
)

// TaskExecution is one record in a task's append-only run log.
type TaskExecution struct {
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Response    string          `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	Stats       *Stats          `json:"stats,omitempty"`
}
