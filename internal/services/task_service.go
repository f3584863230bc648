// Package services provides the plain CRUD boundary over tasks. Writes made
// here bypass the outbox and the conflict resolver: the caller is online and
// its edit is the latest one by definition.
package services

import (
	"context"
	"strings"

	"github.com/kimhsiao/tasksync/internal/clock"
	"github.com/kimhsiao/tasksync/internal/db"
	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/uuid"
)

// TaskService provides direct task operations.
type TaskService struct {
	repo  db.TaskRepository
	clock clock.Clock
}

// TaskInput is the body accepted by Create. Client-supplied ids and
// timestamps are not part of it.
type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// TaskPatch is the body accepted by Update. A nil Title leaves the title as is.
type TaskPatch struct {
	Title       *string `json:"title"`
	Description string  `json:"description"`
	Completed   bool    `json:"completed"`
}

// NewTaskService creates a new TaskService.
func NewTaskService(repo db.TaskRepository, clk clock.Clock) *TaskService {
	if clk == nil {
		clk = clock.System{}
	}
	return &TaskService{repo: repo, clock: clk}
}

// Create stores a new task with a server-assigned id and timestamps.
func (s *TaskService) Create(ctx context.Context, in TaskInput) (*models.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "title is required")
	}

	now := s.clock.Now()
	task := &models.Task{
		ID:          models.UUID(uuid.New()),
		Title:       title,
		Description: in.Description,
		Completed:   in.Completed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.SaveTask(ctx, task); err != nil {
		return nil, err
	}

	logging.Debug("Task created", map[string]interface{}{"task_id": string(task.ID)})
	return task, nil
}

// Get returns a task by id, including soft-deleted tasks.
func (s *TaskService) Get(ctx context.Context, id string) (*models.Task, error) {
	canonical, err := uuid.Parse(id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid task id", err)
	}
	return s.repo.GetTask(ctx, canonical)
}

// ListActive returns every task that is not soft-deleted.
func (s *TaskService) ListActive(ctx context.Context) ([]*models.Task, error) {
	return s.repo.ListActiveTasks(ctx)
}

// Update applies patch to the task and bumps its updatedAt.
func (s *TaskService) Update(ctx context.Context, id string, patch TaskPatch) (*models.Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, apperrors.New(apperrors.ErrInvalid, "title cannot be empty")
		}
		task.Title = title
	}
	task.Description = patch.Description
	task.Completed = patch.Completed
	task.Touch(s.clock.Now())

	if err := s.repo.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// SoftDelete flags the task as deleted. Deleting an already deleted task
// leaves it untouched.
func (s *TaskService) SoftDelete(ctx context.Context, id string) error {
	task, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if task.Deleted {
		return nil
	}

	task.Deleted = true
	task.Touch(s.clock.Now())
	if err := s.repo.SaveTask(ctx, task); err != nil {
		return err
	}

	logging.Debug("Task soft-deleted", map[string]interface{}{"task_id": string(task.ID)})
	return nil
}
