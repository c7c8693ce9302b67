package ws

import (
	"sync"

	"github.com/barelyworkingcode/eve/internal/model"
	"github.com/barelyworkingcode/eve/internal/session"
)

// Hub tracks every connected client by ID.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.id] = client
}

// Unregister removes a client from the hub and closes it.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.id)
	h.mu.Unlock()
	client.Close()
}

// Get returns the client with the given ID, or nil.
func (h *Hub) Get(id string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a frame to every authenticated client.
func (h *Hub) Broadcast(frame interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Authed() {
			client.Enqueue(frame)
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

// SchedulerEvents broadcasts scheduler lifecycle events to every
// connected client.
type SchedulerEvents struct {
	Hub *Hub
}

func (e *SchedulerEvents) TaskStarted(projectID string, task model.Task) {
	e.Hub.Broadcast(session.F{
		"type":      "task_started",
		"projectId": projectID,
		"task":      task.Name,
	})
}

func (e *SchedulerEvents) TaskCompleted(projectID string, task model.Task, exec model.TaskExecution) {
	e.Hub.Broadcast(session.F{
		"type":      "task_completed",
		"projectId": projectID,
		"task":      task.Name,
		"response":  exec.Response,
		"stats":     exec.Stats,
	})
}

func (e *SchedulerEvents) TaskFailed(projectID string, task model.Task, exec model.TaskExecution) {
	e.Hub.Broadcast(session.F{
		"type":      "task_failed",
		"projectId": projectID,
		"task":      task.Name,
		"error":     exec.Error,
	})
}

func (e *SchedulerEvents) TasksUpdated(projectID string, tasks []model.Task) {
	e.Hub.Broadcast(session.F{
		"type":      "tasks_updated",
		"projectId": projectID,
		"tasks":     tasks,
	})
}
