package handlers

import (
	"net/http"

	"github.com/kimhsiao/tasksync/internal/sync/scheduler"
)

// Register mounts every API route on mux.
func Register(mux *http.ServeMux, health *HealthHandler, sync *SyncHandler, tasks *TaskHandler) {
	mux.HandleFunc("GET /api/health", health.Health)

	mux.HandleFunc("POST /api/sync/sync-tasks", sync.SyncTasks)
	mux.HandleFunc("GET /api/sync/status", sync.Status)
	mux.HandleFunc("GET /api/sync/entries/{id}", sync.GetEntry)
	mux.HandleFunc("POST /api/sync/entries/{id}/retry", sync.RetryEntry)
	mux.HandleFunc("POST /api/sync/retry-failed", sync.RetryFailed)

	mux.HandleFunc("GET /api/tasks", tasks.ListTasks)
	mux.HandleFunc("POST /api/tasks", tasks.CreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", tasks.GetTask)
	mux.HandleFunc("PUT /api/tasks/{id}", tasks.UpdateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", tasks.DeleteTask)
	mux.HandleFunc("GET /api/tasks/{id}/conflicts", tasks.ListConflicts)
}

// SweeperStatus reports the state of the resume sweeper.
type SweeperStatus interface {
	GetStatus() scheduler.SchedulerStatus
}

// ClientCounter reports how many push clients are connected.
type ClientCounter interface {
	ClientCount() int
}

// HealthHandler serves the liveness report.
type HealthHandler struct {
	sweeper SweeperStatus
	clients ClientCounter
}

// NewHealthHandler creates a HealthHandler. Either source may be nil, in
// which case its section is left out of the report.
func NewHealthHandler(sweeper SweeperStatus, clients ClientCounter) *HealthHandler {
	return &HealthHandler{sweeper: sweeper, clients: clients}
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status           string                     `json:"status"`
	Service          string                     `json:"service"`
	WebSocketClients *int                       `json:"websocketClients,omitempty"`
	Sweeper          *scheduler.SchedulerStatus `json:"sweeper,omitempty"`
}

// Health handles GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Service: "tasksync"}
	if h.clients != nil {
		n := h.clients.ClientCount()
		resp.WebSocketClients = &n
	}
	if h.sweeper != nil {
		status := h.sweeper.GetStatus()
		resp.Sweeper = &status
	}
	writeJSON(w, http.StatusOK, resp)
}
