package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/barelyworkingcode/eve/internal/model"
)

func TestTaskLogStore_AppendPrepends(t *testing.T) {
	store, err := NewTaskLogStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewTaskLogStore: %v", err)
	}

	for i := 0; i < 3; i++ {
		err := store.Append("proj", "task", model.TaskExecution{
			StartedAt: time.Now(),
			Status:    model.ExecutionSuccess,
			Response:  fmt.Sprintf("run-%d", i),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	records, err := store.List("proj", "task")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	// Newest first.
	if records[0].Response != "run-2" || records[2].Response != "run-0" {
		t.Errorf("records not newest-first: %v, %v", records[0].Response, records[2].Response)
	}
}

func TestTaskLogStore_Cap(t *testing.T) {
	store, _ := NewTaskLogStore(t.TempDir())

	for i := 0; i < maxTaskLogEntries+20; i++ {
		store.Append("p", "t", model.TaskExecution{
			StartedAt: time.Now(),
			Status:    model.ExecutionSuccess,
			Response:  fmt.Sprintf("run-%d", i),
		})
	}

	records, _ := store.List("p", "t")
	if len(records) != maxTaskLogEntries {
		t.Errorf("expected %d records, got %d", maxTaskLogEntries, len(records))
	}
	if records[0].Response != fmt.Sprintf("run-%d", maxTaskLogEntries+19) {
		t.Errorf("newest record missing, got %s", records[0].Response)
	}
}

func TestTaskLogStore_EmptyLog(t *testing.T) {
	store, _ := NewTaskLogStore(t.TempDir())
	records, err := store.List("p", "missing")
	if err != nil {
		t.Fatalf("List on missing log: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty log, got %d records", len(records))
	}
}
