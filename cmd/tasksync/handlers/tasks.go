package handlers

import (
	"context"
	"net/http"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/services"
	"github.com/kimhsiao/tasksync/internal/uuid"
)

// TaskService is the CRUD boundary exposed over HTTP.
type TaskService interface {
	Create(ctx context.Context, in services.TaskInput) (*models.Task, error)
	Get(ctx context.Context, id string) (*models.Task, error)
	ListActive(ctx context.Context) ([]*models.Task, error)
	Update(ctx context.Context, id string, patch services.TaskPatch) (*models.Task, error)
	SoftDelete(ctx context.Context, id string) error
}

// ConflictLister reads the conflict log of a task.
type ConflictLister interface {
	ListConflictLogs(ctx context.Context, recordID string) ([]*models.ConflictLog, error)
}

// TaskHandler handles task operations.
type TaskHandler struct {
	tasks     TaskService
	conflicts ConflictLister
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(tasks TaskService, conflicts ConflictLister) *TaskHandler {
	return &TaskHandler{tasks: tasks, conflicts: conflicts}
}

// ListTasks handles GET /api/tasks
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.ListActive(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// CreateTask handles POST /api/tasks
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var in services.TaskInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	task, err := h.tasks.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// GetTask handles GET /api/tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// UpdateTask handles PUT /api/tasks/{id}
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch services.TaskPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}

	task, err := h.tasks.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// DeleteTask handles DELETE /api/tasks/{id}
// Soft-deletes the task. Deleting twice is not an error.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.tasks.SoftDelete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListConflicts handles GET /api/tasks/{id}/conflicts
func (h *TaskHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, apperrors.Wrap(apperrors.ErrInvalid, "invalid task id", err))
		return
	}

	logs, err := h.conflicts.ListConflictLogs(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*models.ConflictLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}
